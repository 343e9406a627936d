package transcript

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

var linePattern = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] `)

func TestAppendWritesMemoryAndSink(t *testing.T) {
	sink := filepath.Join(t.TempDir(), "transcript.txt")
	s := Open(Options{SinkPath: sink})
	defer s.Close()

	when := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)
	if err := s.Append(Entry{Time: when, Text: "hello world"}); err != nil {
		t.Fatal(err)
	}

	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	data, err := os.ReadFile(sink)
	if err != nil {
		t.Fatal(err)
	}
	want := "[2024-03-09 14:05:07] hello world\n"
	if string(data) != want {
		t.Errorf("sink = %q, want %q", data, want)
	}
	if !linePattern.MatchString(s.Text()) {
		t.Errorf("Text() = %q does not start with a timestamp", s.Text())
	}
}

func TestAppendKeepsExistingSinkContent(t *testing.T) {
	sink := filepath.Join(t.TempDir(), "transcript.txt")
	if err := os.WriteFile(sink, []byte("old line\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := Open(Options{SinkPath: sink})
	defer s.Close()
	s.Append(Entry{Time: time.Now(), Text: "new"})

	data, _ := os.ReadFile(sink)
	if !strings.HasPrefix(string(data), "old line\n") || !strings.HasSuffix(string(data), "] new\n") {
		t.Errorf("sink = %q", data)
	}
}

func TestAppendSinkFailure(t *testing.T) {
	sink := filepath.Join(t.TempDir(), "missing", "transcript.txt")
	s := Open(Options{SinkPath: sink})

	err := s.Append(Entry{Time: time.Now(), Text: "lost"})
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("err = %v, want *IOError", err)
	}
	if s.Len() != 0 {
		t.Error("entry kept in memory although the sink write failed")
	}
}

func TestClearLeavesSinkUntouched(t *testing.T) {
	sink := filepath.Join(t.TempDir(), "transcript.txt")
	s := Open(Options{SinkPath: sink})
	defer s.Close()
	s.Append(Entry{Time: time.Now(), Text: "one"})
	s.Append(Entry{Time: time.Now(), Text: "two"})
	before, _ := os.ReadFile(sink)

	s.Clear()

	if s.Len() != 0 || s.Text() != "" {
		t.Errorf("memory not cleared: %q", s.Text())
	}
	if _, ok := s.Last(); ok {
		t.Error("Last() after Clear should report nothing")
	}
	after, _ := os.ReadFile(sink)
	if string(before) != string(after) {
		t.Errorf("sink changed by Clear: %q -> %q", before, after)
	}
}

func TestSaveEmptyWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	s := Open(Options{})

	if _, err := s.Save(path); !errors.Is(err, ErrNothingToSave) {
		t.Fatalf("err = %v, want ErrNothingToSave", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file was written: %v", err)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)

	for _, tt := range []struct {
		name       string
		path       string
		timestamps bool
		wantPath   string
		want       string
	}{
		{"plain", "notes.txt", false, "notes.txt", "first\nsecond\n"},
		{"adds extension", "notes", false, "notes.txt", "first\nsecond\n"},
		{"keeps other extension", "notes.md", false, "notes.md", "first\nsecond\n"},
		{"timestamps", "stamped.txt", true, "stamped.txt", "[2024-01-02 03:04:05] first\n[2024-01-02 03:04:05] second\n"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			s := Open(Options{SaveTimestamps: tt.timestamps})
			s.Append(Entry{Time: when, Text: "first"})
			s.Append(Entry{Time: when, Text: "second"})

			got, err := s.Save(filepath.Join(dir, tt.path))
			if err != nil {
				t.Fatal(err)
			}
			if want := filepath.Join(dir, tt.wantPath); got != want {
				t.Errorf("path = %q, want %q", got, want)
			}
			data, err := os.ReadFile(got)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != tt.want {
				t.Errorf("content = %q, want %q", data, tt.want)
			}
		})
	}
}

func TestSaveFailure(t *testing.T) {
	s := Open(Options{})
	s.Append(Entry{Time: time.Now(), Text: "x"})

	_, err := s.Save(filepath.Join(t.TempDir(), "no", "such", "dir.txt"))
	var ioErr *IOError
	if !errors.As(err, &ioErr) || ioErr.Op != "save" {
		t.Fatalf("err = %v, want save IOError", err)
	}
}
