package transfer

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/telvos/ferry/internal/utils"
)

// rangeServer serves a byte payload with full range-request support and
// optional fault injection: the first abortFirst data requests, or any
// request starting inside [abortFrom, abortTo], get half their span and
// a severed connection; any request starting inside [renegeFrom,
// renegeTo] gets a plain 200 with the whole payload, as if range
// support vanished after the capability probe. The 0-0 probe is never
// counted and never faulted.
type rangeServer struct {
	srv  *httptest.Server
	data []byte

	chunkSize  int
	chunkDelay time.Duration

	mu         sync.Mutex
	starts     []int64
	abortFirst int
	abortFrom  int64
	abortTo    int64
	renegeFrom int64
	renegeTo   int64
}

func newRangeServer(t *testing.T, data []byte) *rangeServer {
	rs := &rangeServer{data: data, chunkSize: len(data), abortFrom: -1, abortTo: -1, renegeFrom: -1, renegeTo: -1}
	rs.srv = httptest.NewServer(http.HandlerFunc(rs.handle))
	t.Cleanup(rs.srv.Close)
	return rs
}

func (rs *rangeServer) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Accept-Ranges", "bytes")
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.Itoa(len(rs.data)))
		return
	}
	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Write(rs.data)
		return
	}
	var start, end int64
	fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end)
	body := rs.data[start : end+1]

	if !(start == 0 && end == 0) && start >= rs.renegeFrom && start <= rs.renegeTo {
		rs.mu.Lock()
		rs.starts = append(rs.starts, start)
		rs.mu.Unlock()
		w.Header().Set("Content-Length", strconv.Itoa(len(rs.data)))
		w.Write(rs.data)
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(rs.data)))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	if start == 0 && end == 0 {
		w.Write(body)
		return
	}

	rs.mu.Lock()
	rs.starts = append(rs.starts, start)
	abort := rs.abortFirst > 0 || (start >= rs.abortFrom && start <= rs.abortTo)
	if rs.abortFirst > 0 {
		rs.abortFirst--
	}
	rs.mu.Unlock()

	if abort {
		w.Write(body[:len(body)/2])
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}
	for len(body) > 0 {
		n := min(rs.chunkSize, len(body))
		w.Write(body[:n])
		body = body[n:]
		if rs.chunkDelay > 0 {
			w.(http.Flusher).Flush()
			time.Sleep(rs.chunkDelay)
		}
	}
}

func (rs *rangeServer) requestStarts() []int64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]int64(nil), rs.starts...)
}

func randomPayload(t *testing.T, n int) []byte {
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func testConfig(url, outputPath string) Config {
	return Config{
		URL:                url,
		OutputPath:         outputPath,
		Connections:        4,
		BlockSize:          4096,
		MinRangeSize:       4096,
		WorkerRetries:      5,
		CheckpointInterval: 50 * time.Millisecond,
		ProgressInterval:   20 * time.Millisecond,
	}
}

func TestDownloadMultiRange(t *testing.T) {
	data := randomPayload(t, 1_000_000)
	rs := newRangeServer(t, data)
	outputPath := filepath.Join(t.TempDir(), "payload.bin")

	c := New(testConfig(rs.srv.URL, outputPath), utils.NewClient(utils.HTTPClientConfig{}))
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, ModeMultiRange, c.Mode())

	result := c.Wait()
	require.NoError(t, result.Err)
	require.Equal(t, StatusCompleted, result.Status)
	require.Equal(t, int64(len(data)), result.Transferred)

	got, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Equal(t, data, got)

	// Record is gone once every byte is verified on disk.
	_, err = os.Stat(NewStore(outputPath).Path())
	require.True(t, os.IsNotExist(err))

	require.ElementsMatch(t, []int64{0, 250_000, 500_000, 750_000}, rs.requestStarts())
}

func TestDownloadFallbackWholeStream(t *testing.T) {
	data := randomPayload(t, 100_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Range support is never advertised or honored.
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		if r.Method == http.MethodHead {
			return
		}
		w.Write(data)
	}))
	defer srv.Close()
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "payload.bin")

	c := New(testConfig(srv.URL, outputPath), utils.NewClient(utils.HTTPClientConfig{}))
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, ModeSingleStream, c.Mode())

	result := c.Wait()
	require.Equal(t, StatusCompleted, result.Status)

	got, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Equal(t, data, got)

	// Whole-stream mode never persists range state.
	_, err = os.Stat(filepath.Join(dir, utils.TempDirName))
	require.True(t, os.IsNotExist(err))
}

func TestDownloadTransientFailuresRecover(t *testing.T) {
	data := randomPayload(t, 1_000_000)
	rs := newRangeServer(t, data)
	rs.abortFirst = 2

	outputPath := filepath.Join(t.TempDir(), "payload.bin")
	c := New(testConfig(rs.srv.URL, outputPath), utils.NewClient(utils.HTTPClientConfig{}))
	require.NoError(t, c.Start(context.Background()))

	result := c.Wait()
	require.Equal(t, StatusCompleted, result.Status)

	got, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.Greater(t, len(rs.requestStarts()), 4, "interrupted ranges must retry")
}

func TestDownloadRetryExhaustion(t *testing.T) {
	data := randomPayload(t, 1_000_000)
	rs := newRangeServer(t, data)
	// Every request for the third range dies mid-body.
	rs.abortFrom, rs.abortTo = 500_000, 749_999

	outputPath := filepath.Join(t.TempDir(), "payload.bin")
	cfg := testConfig(rs.srv.URL, outputPath)
	cfg.WorkerRetries = 2
	c := New(cfg, utils.NewClient(utils.HTTPClientConfig{}))
	require.NoError(t, c.Start(context.Background()))

	result := c.Wait()
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, []int{2}, result.FailedRanges)

	var terr *Error
	require.ErrorAs(t, result.Err, &terr)
	require.Equal(t, []int{2}, terr.FailedRanges)

	// The record survives so the transfer can be retried later.
	_, err := os.Stat(NewStore(outputPath).Path())
	require.NoError(t, err)
}

func TestDownloadRangeWithdrawnMidTransfer(t *testing.T) {
	data := randomPayload(t, 1_000_000)
	rs := newRangeServer(t, data)
	// The capability probe sees range support, but data requests for the
	// third range get a plain 200.
	rs.renegeFrom, rs.renegeTo = 500_000, 749_999

	outputPath := filepath.Join(t.TempDir(), "payload.bin")
	c := New(testConfig(rs.srv.URL, outputPath), utils.NewClient(utils.HTTPClientConfig{}))
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, ModeMultiRange, c.Mode())

	result := c.Wait()
	require.Equal(t, StatusFailed, result.Status)
	require.Equal(t, []int{2}, result.FailedRanges)
	require.ErrorIs(t, result.Err, ErrRangeNotHonored)

	// A withdrawn range fails on first sight, no retries.
	var withdrawnRequests int
	for _, start := range rs.requestStarts() {
		if start == 500_000 {
			withdrawnRequests++
		}
	}
	require.Equal(t, 1, withdrawnRequests)

	// Sibling ranges finish and land their bytes at the right offsets.
	got, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Len(t, got, len(data))
	require.Equal(t, data[:500_000], got[:500_000])
	require.Equal(t, data[750_000:], got[750_000:])
}

func TestPauseResume(t *testing.T) {
	data := randomPayload(t, 262_144)
	rs := newRangeServer(t, data)
	rs.chunkSize = 2048
	rs.chunkDelay = 5 * time.Millisecond

	outputPath := filepath.Join(t.TempDir(), "payload.bin")
	cfg := testConfig(rs.srv.URL, outputPath)
	cfg.BlockSize = 2048
	cfg.MinRangeSize = 2048
	c := New(cfg, utils.NewClient(utils.HTTPClientConfig{}))
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool {
		transferred, _ := c.Progress()
		return transferred > 0
	}, 5*time.Second, 5*time.Millisecond)

	c.Pause()
	require.Equal(t, StatusPaused, c.Status())

	// Pausing a paused transfer is a no-op.
	c.Pause()
	require.Equal(t, StatusPaused, c.Status())

	frozen, _ := c.Progress()
	time.Sleep(50 * time.Millisecond)
	after, _ := c.Progress()
	require.Equal(t, frozen, after, "no bytes may move while paused")

	// Paused state is checkpointed.
	_, err := os.Stat(NewStore(outputPath).Path())
	require.NoError(t, err)

	c.Resume()
	c.Resume()

	result := c.Wait()
	require.Equal(t, StatusCompleted, result.Status)

	got, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestResumeSkipsCompletedRanges(t *testing.T) {
	data := randomPayload(t, 1_000_000)
	rs := newRangeServer(t, data)
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "payload.bin")

	// Simulate an earlier run that finished range 0 and half of range 1.
	out, err := os.OpenFile(outputPath, os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)
	require.NoError(t, out.Truncate(int64(len(data))))
	_, err = out.WriteAt(data[:375_000], 0)
	require.NoError(t, err)
	require.NoError(t, out.Close())
	require.NoError(t, NewStore(outputPath).Save([]Range{
		{Index: 0, Start: 0, End: 249_999, Completed: 250_000, Done: true},
		{Index: 1, Start: 250_000, End: 499_999, Completed: 125_000},
	}))

	c := New(testConfig(rs.srv.URL, outputPath), utils.NewClient(utils.HTTPClientConfig{}))
	require.NoError(t, c.Start(context.Background()))

	result := c.Wait()
	require.Equal(t, StatusCompleted, result.Status)

	got, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Equal(t, data, got)

	// Completed bytes were never re-requested: range 0 saw no request at
	// all and range 1 resumed from its checkpointed offset.
	starts := rs.requestStarts()
	require.NotContains(t, starts, int64(0))
	require.Contains(t, starts, int64(375_000))
}

func TestResumeDiscardsOversizedEntries(t *testing.T) {
	data := randomPayload(t, 1_000_000)
	rs := newRangeServer(t, data)
	outputPath := filepath.Join(t.TempDir(), "payload.bin")

	// A record claiming more bytes than the range holds is corrupt and
	// must restart that range from zero.
	require.NoError(t, NewStore(outputPath).Save([]Range{
		{Index: 0, Start: 0, End: 249_999, Completed: 999_999_999},
	}))

	c := New(testConfig(rs.srv.URL, outputPath), utils.NewClient(utils.HTTPClientConfig{}))
	require.NoError(t, c.Start(context.Background()))

	result := c.Wait()
	require.Equal(t, StatusCompleted, result.Status)
	require.Contains(t, rs.requestStarts(), int64(0))

	got, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestCancel(t *testing.T) {
	data := randomPayload(t, 262_144)
	rs := newRangeServer(t, data)
	rs.chunkSize = 2048
	rs.chunkDelay = 5 * time.Millisecond

	outputPath := filepath.Join(t.TempDir(), "payload.bin")
	cfg := testConfig(rs.srv.URL, outputPath)
	cfg.BlockSize = 2048
	cfg.MinRangeSize = 2048
	c := New(cfg, utils.NewClient(utils.HTTPClientConfig{}))
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool {
		transferred, _ := c.Progress()
		return transferred > 0
	}, 5*time.Second, 5*time.Millisecond)

	c.Cancel()
	result := c.Wait()
	require.Equal(t, StatusCancelled, result.Status)

	// Partial artifact and record both stay for a later resume.
	_, err := os.Stat(outputPath)
	require.NoError(t, err)
	_, err = os.Stat(NewStore(outputPath).Path())
	require.NoError(t, err)
}

func TestProgressCallbackFires(t *testing.T) {
	data := randomPayload(t, 500_000)
	rs := newRangeServer(t, data)
	outputPath := filepath.Join(t.TempDir(), "payload.bin")

	var mu sync.Mutex
	var lastPercent float64
	cfg := testConfig(rs.srv.URL, outputPath)
	cfg.ProgressFunc = func(percent, speed float64) {
		mu.Lock()
		lastPercent = percent
		mu.Unlock()
	}
	c := New(cfg, utils.NewClient(utils.HTTPClientConfig{}))
	require.NoError(t, c.Start(context.Background()))

	result := c.Wait()
	require.Equal(t, StatusCompleted, result.Status)
	mu.Lock()
	defer mu.Unlock()
	require.InDelta(t, 100.0, lastPercent, 0.01)
}

func TestModeString(t *testing.T) {
	require.Equal(t, "multi-range", ModeMultiRange.String())
	require.Equal(t, "single-stream", ModeSingleStream.String())
}
