package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"scribe/audio"
	"scribe/capture"
	"scribe/listener"
	"scribe/recognizer"
	"scribe/transcript"
)

type sinkRecorder struct {
	mu        sync.Mutex
	statuses  []string
	logs      []string
	devices   []audio.DeviceInfo
	selected  int
	listening []bool
	entries   []transcript.Entry
	cleared   int
	alerts    []string
}

func (r *sinkRecorder) Status(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, msg)
}

func (r *sinkRecorder) Log(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, line)
}

func (r *sinkRecorder) Devices(d []audio.DeviceInfo, selected int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices, r.selected = d, selected
}

func (r *sinkRecorder) Listening(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listening = append(r.listening, on)
}

func (r *sinkRecorder) Entry(e transcript.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *sinkRecorder) Cleared() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
}

func (r *sinkRecorder) Alert(title, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, title+": "+msg)
}

func (r *sinkRecorder) lastStatus() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}

func (r *sinkRecorder) hasStatus(want string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.statuses {
		if s == want {
			return true
		}
	}
	return false
}

// scriptedCapture plays back Listen results; an exhausted script times out.
type scriptedCapture struct {
	mu      sync.Mutex
	results []error
	listens int
}

func (c *scriptedCapture) Calibrate(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func (c *scriptedCapture) Listen(ctx context.Context, _, _ time.Duration) (capture.Utterance, error) {
	c.mu.Lock()
	c.listens++
	var err error = capture.ErrWaitTimeout
	if len(c.results) > 0 {
		err, c.results = c.results[0], c.results[1:]
	}
	c.mu.Unlock()
	select {
	case <-ctx.Done():
		return capture.Utterance{}, ctx.Err()
	case <-time.After(time.Millisecond):
	}
	if err != nil {
		return capture.Utterance{}, err
	}
	return capture.Utterance{PCM: make([]byte, 320), SampleRate: 16000, Channels: 1}, nil
}

func (c *scriptedCapture) DeviceName() string { return "scripted" }
func (c *scriptedCapture) Close()             {}

func (c *scriptedCapture) Listens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listens
}

type fixture struct {
	s     *Session
	sink  *sinkRecorder
	audio *audio.FakeContext
	cap   *scriptedCapture
	store *transcript.Store
}

func newFixture(t *testing.T, rec recognizer.Recognizer, results ...error) *fixture {
	t.Helper()
	actx := audio.NewFakeContextPCM(nil, false)
	actx.SetDevices([]audio.DeviceInfo{{ID: "a", Name: "Mic A", Channels: 1}}, nil)
	src := &scriptedCapture{results: results}
	store := transcript.Open(transcript.Options{SinkPath: filepath.Join(t.TempDir(), "transcript.txt")})
	loopCfg := listener.DefaultConfig()
	loopCfg.Calibration = time.Millisecond

	s := New(Options{
		Audio:      actx,
		Open:       func(*audio.DeviceInfo) (listener.Capturer, error) { return src, nil },
		Recognizer: rec,
		Store:      store,
		Loop:       loopCfg,
	})
	sink := &sinkRecorder{}
	s.Attach(sink)
	t.Cleanup(func() { s.Close() })
	return &fixture{s: s, sink: sink, audio: actx, cap: src, store: store}
}

func TestCanStartTracksDeviceList(t *testing.T) {
	for _, tt := range []struct {
		name    string
		devices []audio.DeviceInfo
		err     error
		want    bool
		status  string
	}{
		{"one device", []audio.DeviceInfo{{ID: "a", Name: "Mic A", Channels: 1}}, nil, true, StatusReady},
		{"outputs only", []audio.DeviceInfo{{ID: "o", Name: "Speakers"}}, nil, false, StatusNoDevices},
		{"empty", nil, nil, false, StatusNoDevices},
		{"enumeration fails", nil, errors.New("no server"), false, StatusEnumFailed},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, recognizer.NewFake())
			f.audio.SetDevices(tt.devices, tt.err)

			f.s.Refresh()

			if got := f.s.CanStart(); got != tt.want {
				t.Errorf("CanStart = %v, want %v", got, tt.want)
			}
			if got := f.sink.lastStatus(); got != tt.status {
				t.Errorf("status = %q, want %q", got, tt.status)
			}
			if tt.err != nil && len(f.sink.alerts) == 0 {
				t.Error("enumeration failure raised no alert")
			}
			if !tt.want {
				if err := f.s.ToggleListening(); !errors.Is(err, listener.ErrNoDevice) {
					t.Errorf("ToggleListening = %v, want ErrNoDevice", err)
				}
			}
		})
	}
}

func TestRefreshPrefersConfiguredDevice(t *testing.T) {
	f := newFixture(t, recognizer.NewFake())
	f.audio.SetDevices([]audio.DeviceInfo{
		{ID: "a", Name: "Mic A", Channels: 1},
		{ID: "b", Name: "Mic B", Channels: 1},
	}, nil)
	f.s.opts.Preferred = "Mic B"

	f.s.Refresh()

	if d := f.s.Selected(); d == nil || d.Name != "Mic B" || d.Index != 1 {
		t.Errorf("Selected = %+v, want Mic B", d)
	}
	if f.sink.selected != 1 || len(f.sink.devices) != 2 {
		t.Errorf("sink got %d devices, selected %d", len(f.sink.devices), f.sink.selected)
	}
}

func TestSelect(t *testing.T) {
	f := newFixture(t, recognizer.NewFake())
	f.s.Refresh()
	if err := f.s.Select(3); err == nil {
		t.Error("Select out of range succeeded")
	}
	if err := f.s.Select(0); err != nil {
		t.Fatal(err)
	}
	if !f.s.CanStart() {
		t.Error("CanStart false with a selected device")
	}
}

func TestListenScenario(t *testing.T) {
	f := newFixture(t, recognizer.NewFake(
		recognizer.FakeStep{Outcome: recognizer.Failed("quota")},
		recognizer.FakeStep{Outcome: recognizer.Ok("hello world")},
	), capture.ErrWaitTimeout, nil, nil)
	f.s.Refresh()
	if err := f.s.ToggleListening(); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.cap.Listens() < 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if got := f.s.State(); got != listener.Listening {
		t.Errorf("State = %v, want listening", got)
	}
	entries := f.store.Entries()
	if len(entries) != 1 || entries[0].Text != "hello world" {
		t.Errorf("entries = %+v", entries)
	}
	if !strings.HasSuffix(f.store.Text(), "hello world\n") {
		t.Errorf("transcript = %q", f.store.Text())
	}
	for _, want := range []string{listener.StatusTimeout, listener.StatusAPIError("quota"), listener.StatusSuccess} {
		if !f.sink.hasStatus(want) {
			t.Errorf("missing status %q", want)
		}
	}
	if err := f.s.ToggleListening(); err != nil {
		t.Fatal(err)
	}
	f.s.Wait()
	if f.s.State() != listener.Idle {
		t.Errorf("State after stop = %v", f.s.State())
	}
	f.sink.mu.Lock()
	listening := f.sink.listening
	f.sink.mu.Unlock()
	if len(listening) != 2 || !listening[0] || listening[1] {
		t.Errorf("listening events = %v, want [true false]", listening)
	}
}

func TestSaveEmptyTranscript(t *testing.T) {
	f := newFixture(t, recognizer.NewFake())
	path := filepath.Join(t.TempDir(), "out.txt")

	if err := f.s.Save(path); err != nil {
		t.Fatalf("Save = %v, want nil", err)
	}
	if got := f.sink.lastStatus(); got != StatusNothingSave {
		t.Errorf("status = %q", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file written: %v", err)
	}
}

func TestSaveAndClear(t *testing.T) {
	f := newFixture(t, recognizer.NewFake())
	f.store.Append(transcript.Entry{Time: time.Now(), Text: "keep me"})
	path := filepath.Join(t.TempDir(), "notes")

	if err := f.s.Save(path); err != nil {
		t.Fatal(err)
	}
	if got := f.sink.lastStatus(); got != "Saved to "+path+".txt" {
		t.Errorf("status = %q", got)
	}
	data, err := os.ReadFile(path + ".txt")
	if err != nil || string(data) != "keep me\n" {
		t.Errorf("saved = %q, %v", data, err)
	}

	sink, _ := os.ReadFile(f.store.SinkPath())
	f.s.Clear()
	if f.store.Len() != 0 || f.sink.cleared != 1 {
		t.Errorf("Clear: len=%d cleared=%d", f.store.Len(), f.sink.cleared)
	}
	after, _ := os.ReadFile(f.store.SinkPath())
	if string(sink) != string(after) {
		t.Error("Clear modified the sink file")
	}
}

func TestSaveFailureAlerts(t *testing.T) {
	f := newFixture(t, recognizer.NewFake())
	f.store.Append(transcript.Entry{Time: time.Now(), Text: "x"})

	err := f.s.Save(filepath.Join(t.TempDir(), "missing", "out.txt"))
	var ioErr *transcript.IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("err = %v, want *IOError", err)
	}
	if len(f.sink.alerts) != 1 {
		t.Errorf("alerts = %v", f.sink.alerts)
	}
}

func TestTestMicrophone(t *testing.T) {
	for _, tt := range []struct {
		name    string
		results []error
		step    recognizer.FakeStep
		status  string
	}{
		{"heard", []error{nil}, recognizer.FakeStep{Outcome: recognizer.Ok("testing")}, "Test successful! Heard: testing"},
		{"silence", []error{capture.ErrWaitTimeout}, recognizer.FakeStep{}, StatusNoSpeech},
		{"unrecognized", []error{nil}, recognizer.FakeStep{Outcome: recognizer.NotRecognized()}, listener.StatusUnknown},
		{"api", []error{nil}, recognizer.FakeStep{Outcome: recognizer.Failed("401")}, StatusAPIError},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, recognizer.NewFake(tt.step), tt.results...)
			f.s.Refresh()

			if _, err := f.s.TestMicrophone(context.Background()); err != nil {
				t.Fatal(err)
			}
			if got := f.sink.lastStatus(); got != tt.status {
				t.Errorf("status = %q, want %q", got, tt.status)
			}
			if f.store.Len() != 0 {
				t.Error("test appended to the transcript")
			}
		})
	}
}

func TestTestMicrophoneWithoutDevice(t *testing.T) {
	f := newFixture(t, recognizer.NewFake())
	f.audio.SetDevices(nil, nil)
	f.s.Refresh()
	if _, err := f.s.TestMicrophone(context.Background()); !errors.Is(err, listener.ErrNoDevice) {
		t.Errorf("err = %v, want ErrNoDevice", err)
	}
}

func TestCopyLast(t *testing.T) {
	f := newFixture(t, recognizer.NewFake())
	var copied string
	f.s.opts.Copy = func(s string) error { copied = s; return nil }

	if err := f.s.CopyLast(); err != nil {
		t.Fatal(err)
	}
	if f.sink.lastStatus() != StatusNothingCopy {
		t.Errorf("status = %q", f.sink.lastStatus())
	}

	f.store.Append(transcript.Entry{Time: time.Now(), Text: "first"})
	f.store.Append(transcript.Entry{Time: time.Now(), Text: "second"})
	if err := f.s.CopyLast(); err != nil {
		t.Fatal(err)
	}
	if copied != "second" {
		t.Errorf("copied %q, want second", copied)
	}
}

func TestHelpWritesGuide(t *testing.T) {
	f := newFixture(t, recognizer.NewFake())
	f.s.Help()
	joined := strings.Join(f.sink.logs, "\n")
	if !strings.Contains(joined, "Troubleshooting") || !strings.Contains(joined, "API error") {
		t.Errorf("help = %q", joined)
	}
}
