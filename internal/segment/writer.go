package segment

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// StampLayout is the sortable, filesystem-safe layout used in segment and journal names.
	StampLayout = "20060102-150405"
	// DayLayout is the date portion of StampLayout.
	DayLayout = "20060102"
	// DefaultExtension is used when no container extension is configured.
	DefaultExtension = "mkv"

	bufferSize = 64 * 1024
	// maxNameAttempts bounds the -N suffixes tried when a segment name is taken.
	maxNameAttempts = 100
)

// ErrIO is returned when a segment file cannot be created, written or flushed.
var ErrIO = errors.New("segment io failure")

// Stamp formats t for use in a segment file name.
func Stamp(t time.Time) string {
	return t.Format(StampLayout)
}

// Path returns folder/<stamp>_<channel>.<ext>.
func Path(folder string, channel int, start time.Time, ext string) string {
	if ext == "" {
		ext = DefaultExtension
	}
	return filepath.Join(folder, Stamp(start)+"_"+strconv.Itoa(channel)+"."+ext)
}

// Handle is one open (or finalized) segment file.
type Handle struct {
	Path string

	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	bytes  int64
	closed bool
}

// Bytes returns the number of bytes accepted by Write so far.
func (h *Handle) Bytes() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bytes
}

// Writer owns segment files from open to close. It is safe for concurrent use;
// each handle serializes its own writes against Close.
type Writer struct{}

// NewWriter creates a segment writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Open creates a new file at path. The parent folder must already exist. A finalized
// segment is never reopened: when path is taken (a reconnect within the same second)
// the file is created as <name>-1.<ext>, <name>-2.<ext> and so on; Handle.Path
// holds the name actually used.
func (w *Writer) Open(path string) (*Handle, error) {
	candidate := path
	for n := 1; ; n++ {
		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			return &Handle{
				Path: candidate,
				file: f,
				buf:  bufio.NewWriterSize(f, bufferSize),
			}, nil
		}
		if !errors.Is(err, fs.ErrExist) || n > maxNameAttempts {
			return nil, fmt.Errorf("%w: open %s: %v", ErrIO, candidate, err)
		}
		candidate = withSuffix(path, n)
	}
}

func withSuffix(path string, n int) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + strconv.Itoa(n) + ext
}

// Write appends b to the segment. Chunk boundaries carry no meaning.
func (w *Writer) Write(h *Handle, b []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("%w: write to closed segment %s", ErrIO, h.Path)
	}
	n, err := h.buf.Write(b)
	h.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrIO, h.Path, err)
	}
	return nil
}

// Close flushes buffered data and releases the file. Closing twice is a no-op.
func (w *Writer) Close(h *Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	flushErr := h.buf.Flush()
	syncErr := h.file.Sync()
	closeErr := h.file.Close()
	if err := errors.Join(flushErr, syncErr, closeErr); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrIO, h.Path, err)
	}
	return nil
}
