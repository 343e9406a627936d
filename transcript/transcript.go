// Package transcript keeps the recognized text of a run: an ordered
// in-memory list shown by the UI, mirrored line by line into an append-only
// sink file on disk.
package transcript

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const TimeLayout = "2006-01-02 15:04:05"

var ErrNothingToSave = errors.New("no transcript to save")

// IOError reports a failed write of the sink file or of a saved copy.
type IOError struct {
	Op   string // "open", "append", "save"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("transcript %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

type Entry struct {
	Time time.Time
	Text string
}

// Line renders the entry as it appears in the sink file, without the newline.
func (e Entry) Line() string {
	return "[" + e.Time.Format(TimeLayout) + "] " + e.Text
}

type Options struct {
	SinkPath       string // empty disables the sink file
	SaveTimestamps bool
}

type Store struct {
	opts Options

	mu      sync.Mutex
	entries []Entry
	sink    *os.File
}

// Open prepares a store. The sink file is created lazily on the first append.
func Open(opts Options) *Store {
	return &Store{opts: opts}
}

func (s *Store) SinkPath() string { return s.opts.SinkPath }

// Append records e in memory and writes it through to the sink file. On a
// sink failure the entry is not kept, so memory never runs ahead of disk.
func (s *Store) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.SinkPath != "" {
		if s.sink == nil {
			f, err := os.OpenFile(s.opts.SinkPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return &IOError{Op: "open", Path: s.opts.SinkPath, Err: err}
			}
			s.sink = f
		}
		if _, err := s.sink.WriteString(e.Line() + "\n"); err != nil {
			return &IOError{Op: "append", Path: s.opts.SinkPath, Err: err}
		}
	}
	s.entries = append(s.entries, e)
	return nil
}

// Save writes the in-memory transcript to path, one entry per line. A path
// without an extension gets ".txt". It returns the path actually written.
func (s *Store) Save(path string) (string, error) {
	s.mu.Lock()
	entries := make([]Entry, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	if len(entries) == 0 {
		return "", ErrNothingToSave
	}
	if filepath.Ext(path) == "" {
		path += ".txt"
	}

	var b strings.Builder
	for _, e := range entries {
		if s.opts.SaveTimestamps {
			b.WriteString(e.Line())
		} else {
			b.WriteString(e.Text)
		}
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", &IOError{Op: "save", Path: path, Err: err}
	}
	return path, nil
}

// Clear empties the in-memory transcript. The sink file keeps its content.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}

func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) Last() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return Entry{}, false
	}
	return s.entries[len(s.entries)-1], true
}

// Text renders the in-memory transcript the way the UI shows it.
func (s *Store) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, e := range s.entries {
		b.WriteString(e.Line())
		b.WriteByte('\n')
	}
	return b.String()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == nil {
		return nil
	}
	err := s.sink.Close()
	s.sink = nil
	return err
}
