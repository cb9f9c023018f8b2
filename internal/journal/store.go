// Package journal keeps the per-day, per-channel metadata files that describe which
// segment files were recorded and when.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix = "metadata"
	dayLayout  = "20060102"
)

var (
	// ErrCorrupt means the journal file exists but cannot be parsed. The file is left untouched.
	ErrCorrupt = errors.New("journal corrupt")
	// ErrNotFound means no journal exists for the requested day and channel.
	ErrNotFound = errors.New("journal not found")
)

// Entry describes one segment file.
type Entry struct {
	Name  string    `json:"name"`
	Begin time.Time `json:"begin"`
	End   time.Time `json:"end"`
}

// Record is the content of one metadata_<day>_<channel>.json file.
type Record struct {
	Begin   time.Time `json:"begin"`
	End     time.Time `json:"end"`
	Entries []Entry   `json:"entries"`
}

// Store reads and writes journal files under a single folder. Updates to the same
// file are serialized so overlapping open/close events cannot lose each other's writes.
type Store struct {
	folder string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	// last record path touched by an open, per channel; a close always lands on the
	// record that holds the segment even if the day rolled over in between.
	open map[int]string
}

// NewStore creates a journal store rooted at folder.
func NewStore(folder string) *Store {
	return &Store{
		folder: folder,
		locks:  make(map[string]*sync.Mutex),
		open:   make(map[int]string),
	}
}

// FileName returns the journal file name for the given channel and day of ts.
func FileName(channel int, ts time.Time) string {
	return fileNameForDay(channel, ts.Format(dayLayout))
}

func fileNameForDay(channel int, day string) string {
	return filePrefix + "_" + day + "_" + strconv.Itoa(channel) + ".json"
}

// PathFor returns the full journal path for channel and the day of ts.
func (s *Store) PathFor(channel int, ts time.Time) string {
	return filepath.Join(s.folder, FileName(channel, ts))
}

func (s *Store) lock(path string) func() {
	s.mu.Lock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// RecordSegmentOpened creates the day's record with a single entry, or appends a new
// entry to the existing record leaving its top-level begin untouched. The entry is
// named by the segment's file path.
func (s *Store) RecordSegmentOpened(channel int, segmentPath string, ts time.Time) error {
	path := s.PathFor(channel, ts)
	unlock := s.lock(path)
	defer unlock()

	entry := Entry{Name: segmentPath, Begin: ts, End: ts}
	rec, err := readRecord(path)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = &Record{Begin: ts, End: ts, Entries: []Entry{entry}}
	case err != nil:
		return err
	default:
		rec.Entries = append(rec.Entries, entry)
	}
	if err := writeRecord(path, rec); err != nil {
		return err
	}

	s.mu.Lock()
	s.open[channel] = path
	s.mu.Unlock()
	return nil
}

// RecordSegmentClosed sets the end of the last entry and of the record to ts.
func (s *Store) RecordSegmentClosed(channel int, ts time.Time) error {
	s.mu.Lock()
	path, ok := s.open[channel]
	delete(s.open, channel)
	s.mu.Unlock()
	if !ok {
		path = s.PathFor(channel, ts)
	}

	unlock := s.lock(path)
	defer unlock()

	rec, err := readRecord(path)
	if err != nil {
		return err
	}
	if len(rec.Entries) == 0 {
		return fmt.Errorf("%w: %s has no entries", ErrCorrupt, path)
	}
	rec.Entries[len(rec.Entries)-1].End = ts
	rec.End = ts
	return writeRecord(path, rec)
}

// Load returns the record for channel on day (YYYYMMDD).
func (s *Store) Load(channel int, day string) (*Record, error) {
	if _, err := time.Parse(dayLayout, day); err != nil {
		return nil, fmt.Errorf("invalid day %q: %w", day, err)
	}
	path := filepath.Join(s.folder, fileNameForDay(channel, day))
	unlock := s.lock(path)
	defer unlock()
	return readRecord(path)
}

// Days lists the days (YYYYMMDD, ascending) that have a journal for channel.
func (s *Store) Days(channel int) ([]string, error) {
	entries, err := os.ReadDir(s.folder)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read journal folder: %w", err)
	}
	suffix := "_" + strconv.Itoa(channel) + ".json"
	var days []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix+"_") || !strings.HasSuffix(name, suffix) {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix+"_"), suffix)
		if _, err := time.Parse(dayLayout, day); err != nil {
			continue
		}
		days = append(days, day)
	}
	sort.Strings(days)
	return days, nil
}

func readRecord(path string) (*Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read journal %s: %w", path, err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return &rec, nil
}

func writeRecord(path string, rec *Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal journal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write journal %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace journal %s: %w", path, err)
	}
	return nil
}
