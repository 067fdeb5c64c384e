package transfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/telvos/ferry/internal/utils"
)

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "file.bin"))

	ranges := []Range{
		{Index: 0, Start: 0, End: 99, Completed: 100, Done: true},
		{Index: 1, Start: 100, End: 199, Completed: 42},
		{Index: 2, Start: 200, End: 299},
	}
	require.NoError(t, store.Save(ranges))

	got := store.Load()
	require.Equal(t, map[int]int64{0: 100, 1: 42, 2: 0}, got)
}

func TestStoreDonePersistsFullLength(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "file.bin"))

	// A done range with a stale counter still records its full length.
	require.NoError(t, store.Save([]Range{{Index: 0, Start: 0, End: 99, Completed: 60, Done: true}}))
	require.Equal(t, map[int]int64{0: 100}, store.Load())
}

func TestStoreLoadMissing(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "never-written.bin"))
	require.Empty(t, store.Load())
}

func TestStoreLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "file.bin"))
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0755))
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not yaml: ["), 0644))

	require.Empty(t, store.Load())
}

func TestStoreClear(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "file.bin"))
	require.NoError(t, store.Save([]Range{{Index: 0, Start: 0, End: 9, Completed: 5}}))
	require.NoError(t, store.Clear())

	_, err := os.Stat(store.Path())
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, utils.TempDirName))
	require.True(t, os.IsNotExist(err), "empty temp dir should be removed")

	// A checkpoint racing with completion must not resurrect the record.
	require.NoError(t, store.Save([]Range{{Index: 0, Start: 0, End: 9, Completed: 5}}))
	_, err = os.Stat(store.Path())
	require.True(t, os.IsNotExist(err))
}

func TestUploadStorePath(t *testing.T) {
	dir := t.TempDir()
	down := NewStore(filepath.Join(dir, "file.bin"))
	up := NewUploadStore(filepath.Join(dir, "file.bin"))
	require.NotEqual(t, down.Path(), up.Path())
	require.Contains(t, up.Path(), ".up.progress")
}
