package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/telvos/ferry/internal/utils"
	"gopkg.in/yaml.v3"
)

// Store persists per-range completed byte counts so an interrupted
// transfer can resume. One record exists per output path, kept in the
// temp directory alongside the artifact and removed on success.
type Store struct {
	path string

	mu      sync.Mutex
	cleared bool
}

// NewStore returns the progress store for a download writing to
// outputPath.
func NewStore(outputPath string) *Store {
	tempDir := filepath.Join(filepath.Dir(outputPath), utils.TempDirName)
	return &Store{path: filepath.Join(tempDir, filepath.Base(outputPath)+".progress")}
}

// NewUploadStore returns the progress store for an upload reading from
// sourcePath. Uploads get their own suffix so a download of the same
// file name next to the source cannot collide.
func NewUploadStore(sourcePath string) *Store {
	tempDir := filepath.Join(filepath.Dir(sourcePath), utils.TempDirName)
	return &Store{path: filepath.Join(tempDir, filepath.Base(sourcePath)+".up.progress")}
}

func (s *Store) Path() string {
	return s.path
}

type progressRecord struct {
	Ranges map[int]int64 `yaml:"ranges"`
}

// Load reads the persisted range-index to bytes-completed mapping. A
// missing or unparseable record degrades to an empty map, never an
// error: corruption means the affected ranges restart from zero.
func (s *Store) Load() map[int]int64 {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return map[int]int64{}
	}
	var record progressRecord
	if err := yaml.Unmarshal(data, &record); err != nil {
		log.Warn().Str("op", "transfer/store").Msgf("Discarding unreadable progress record %s: %v", s.path, err)
		return map[int]int64{}
	}
	if record.Ranges == nil {
		return map[int]int64{}
	}
	return record.Ranges
}

// Save checkpoints the per-range completed counts. The record is
// replaced atomically (write-temp-then-rename) so a crash mid-write
// cannot corrupt the previously flushed state.
func (s *Store) Save(ranges []Range) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleared {
		return nil
	}
	record := progressRecord{Ranges: make(map[int]int64, len(ranges))}
	for _, r := range ranges {
		completed := r.Completed
		if r.Done {
			completed = r.Length()
		}
		record.Ranges[r.Index] = completed
	}
	data, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("error encoding progress record: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("error creating temp directory: %v", err)
	}
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("error writing progress record: %v", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("error replacing progress record: %v", err)
	}
	return nil
}

// Clear deletes the record. Called only once the coordinator confirms
// every byte arrived.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = true
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	// Drop the temp directory too when nothing else lives there.
	dir := filepath.Dir(s.path)
	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		os.Remove(dir)
	}
	return nil
}
