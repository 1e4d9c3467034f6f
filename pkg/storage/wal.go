package storage

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
)

// NopWAL discards journal lines.
type NopWAL struct{}

func NewNopWAL() *NopWAL          { return &NopWAL{} }
func (w *NopWAL) Append(_ string) {}

// FileWAL is the event journal: one JSON line per committed fill, cancel or
// direct close, appended beside the pebble state. Append cannot fail the
// engine, so the first write error is kept and reported by Err and Close.
type FileWAL struct {
	mu    sync.Mutex
	f     *os.File
	w     *bufio.Writer
	lines int
	err   error
}

func NewFileWAL(path string) (*FileWAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileWAL{f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes line and flushes it so the journal never trails the store
// by more than the line in flight.
func (w *FileWAL) Append(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	if _, err := w.w.WriteString(line + "\n"); err != nil {
		w.err = err
		return
	}
	if err := w.w.Flush(); err != nil {
		w.err = err
		return
	}
	w.lines++
}

// Lines is the number of lines appended since open.
func (w *FileWAL) Lines() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *FileWAL) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Sync(); err != nil && w.err == nil {
		w.err = err
	}
	if err := w.f.Close(); err != nil && w.err == nil {
		w.err = err
	}
	return w.err
}

// ReadJournal returns the lines of a journal file in append order.
func ReadJournal(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
