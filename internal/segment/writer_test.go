package segment

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPath(t *testing.T) {
	start := time.Date(2024, 3, 9, 7, 5, 1, 0, time.UTC)
	got := Path("/videos", 3, start, "")
	want := filepath.Join("/videos", "20240309-070501_3.mkv")
	if got != want {
		t.Fatalf("Path=%q, want %q", got, want)
	}
	if got := Path("v", 1, start, "ts"); filepath.Base(got) != "20240309-070501_1.ts" {
		t.Fatalf("Path with ext=%q", got)
	}
}

func TestWriter_WriteThenCloseIsObservable(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter()
	h, err := w.Open(filepath.Join(dir, "a.mkv"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	chunks := [][]byte{[]byte("he"), []byte("llo "), {}, []byte("world")}
	var want []byte
	for _, c := range chunks {
		if err := w.Write(h, c); err != nil {
			t.Fatalf("Write: %v", err)
		}
		want = append(want, c...)
	}
	if h.Bytes() != int64(len(want)) {
		t.Fatalf("Bytes=%d, want %d", h.Bytes(), len(want))
	}
	if err := w.Close(h); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := os.ReadFile(h.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("file=%q, want %q", got, want)
	}
}

func TestWriter_LargeWriteExceedsBuffer(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter()
	h, err := w.Open(filepath.Join(dir, "big.mkv"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	payload := bytes.Repeat([]byte{0xAB}, bufferSize*3+17)
	if err := w.Write(h, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(h); err != nil {
		t.Fatalf("Close: %v", err)
	}
	info, err := os.Stat(h.Path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != int64(len(payload)) {
		t.Fatalf("size=%d, want %d", info.Size(), len(payload))
	}
}

func TestWriter_CloseIsIdempotent(t *testing.T) {
	w := NewWriter()
	h, err := w.Open(filepath.Join(t.TempDir(), "a.mkv"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Close(h); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := w.Close(h); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := w.Write(h, []byte("x")); !errors.Is(err, ErrIO) {
		t.Fatalf("Write after close err=%v, want ErrIO", err)
	}
}

func TestWriter_OpenMissingFolder(t *testing.T) {
	w := NewWriter()
	_, err := w.Open(filepath.Join(t.TempDir(), "missing", "a.mkv"))
	if !errors.Is(err, ErrIO) {
		t.Fatalf("err=%v, want ErrIO", err)
	}
}

func TestWriter_OpenNeverTruncatesExistingSegment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "20240301-100000_1.mkv")
	w := NewWriter()

	first, err := w.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Write(first, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(first); err != nil {
		t.Fatal(err)
	}

	var paths []string
	for _, data := range []string{"second", "third"} {
		h, err := w.Open(path)
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		if err := w.Write(h, []byte(data)); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(h); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, h.Path)
	}

	want := []string{
		filepath.Join(dir, "20240301-100000_1-1.mkv"),
		filepath.Join(dir, "20240301-100000_1-2.mkv"),
	}
	if paths[0] != want[0] || paths[1] != want[1] {
		t.Fatalf("paths=%v, want %v", paths, want)
	}
	for p, data := range map[string]string{path: "first", want[0]: "second", want[1]: "third"} {
		b, err := os.ReadFile(p)
		if err != nil || string(b) != data {
			t.Fatalf("%s=%q err=%v, want %q", filepath.Base(p), b, err, data)
		}
	}
}
