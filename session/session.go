// Package session is the application's single controller. It owns the
// device list, the listen loop and the transcript, and turns UI commands
// into operations on them. Shells observe it through an EventSink.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"scribe/audio"
	"scribe/beep"
	"scribe/capture"
	"scribe/listener"
	"scribe/log"
	"scribe/recognizer"
	"scribe/transcript"
)

const (
	StatusReady       = "Ready - Microphone selected"
	StatusNoDevices   = "No microphones detected!"
	StatusEnumFailed  = "Failed to detect microphones"
	StatusNothingSave = "No transcript to save"
	StatusCleared     = "Transcript cleared"
	StatusTesting     = "Testing microphone... Speak now!"
	StatusNoSpeech    = "No speech detected"
	StatusAPIError    = "API Error"
	StatusSelectFirst = "Please select a microphone first"
	StatusCopied      = "Copied latest entry"
	StatusNothingCopy = "Nothing to copy"
)

// EventSink is implemented by each UI shell. Methods may be called from any
// goroutine; the shell is responsible for moving them onto its UI thread.
type EventSink interface {
	Status(msg string)
	Log(line string)
	Devices(devices []audio.DeviceInfo, selected int)
	Listening(on bool)
	Entry(e transcript.Entry)
	Cleared()
	Alert(title, msg string)
}

type Options struct {
	Audio      audio.Context
	Open       listener.OpenFunc
	Recognizer recognizer.Recognizer
	Store      *transcript.Store
	Loop       listener.Config
	Capture    capture.Config
	OnLevel    func(float64) // RMS of each analysed frame while capturing
	Preferred  string        // device name to select after a refresh
	Beep       bool
	Copy       func(string) error
}

type Session struct {
	opts Options
	loop *listener.Loop

	mu       sync.Mutex
	sink     EventSink
	devices  []audio.DeviceInfo
	selected int // -1 when nothing is selected
}

func New(opts Options) *Session {
	s := &Session{opts: opts, selected: -1, sink: nopSink{}}
	if s.opts.Open == nil {
		s.opts.Open = listener.CaptureOpener(opts.Audio, opts.Capture, opts.OnLevel)
	}
	s.loop = listener.New(s.opts.Open, opts.Recognizer, opts.Store, observer{s}, opts.Loop)
	return s
}

// Attach connects the shell. Events before Attach are dropped.
func (s *Session) Attach(sink EventSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

func (s *Session) events() EventSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

func (s *Session) status(msg string) {
	s.events().Status(msg)
}

func (s *Session) logLine(line string) {
	s.events().Log(line)
}

// Refresh re-enumerates the input devices and replaces the list.
func (s *Session) Refresh() {
	devices, err := audio.ListDevices(s.opts.Audio)
	if err != nil {
		log.Errorf("device enumeration: %v", err)
		s.mu.Lock()
		s.devices, s.selected = nil, -1
		s.mu.Unlock()
		s.events().Devices(nil, -1)
		s.events().Alert("Error", fmt.Sprintf("Failed to list microphones: %v", err))
		s.status(StatusEnumFailed)
		return
	}

	selected := -1
	if len(devices) > 0 {
		selected = 0
		s.mu.Lock()
		preferred := s.opts.Preferred
		s.mu.Unlock()
		if d, ok := audio.FindDevice(devices, preferred); ok {
			selected = d.Index
		}
	}
	s.mu.Lock()
	s.devices, s.selected = devices, selected
	s.mu.Unlock()

	s.events().Devices(devices, selected)
	if len(devices) == 0 {
		log.Warn("no input devices found")
		s.status(StatusNoDevices)
		return
	}
	for _, d := range devices {
		line := "Found: " + d.Label()
		if audio.IsBluetooth(d.Name) {
			line += " (Bluetooth, lower audio quality)"
		}
		s.logLine(line)
	}
	s.status(StatusReady)
}

func (s *Session) Devices() []audio.DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.DeviceInfo, len(s.devices))
	copy(out, s.devices)
	return out
}

// Select picks device i of the current list.
func (s *Session) Select(i int) error {
	s.mu.Lock()
	if i < 0 || i >= len(s.devices) {
		s.mu.Unlock()
		return fmt.Errorf("no device at index %d", i)
	}
	s.selected = i
	s.opts.Preferred = s.devices[i].Name
	s.mu.Unlock()
	s.status(StatusReady)
	return nil
}

// Selected returns the chosen device, or nil.
func (s *Session) Selected() *audio.DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected < 0 || s.selected >= len(s.devices) {
		return nil
	}
	d := s.devices[s.selected]
	return &d
}

// CanStart reports whether listening may be started: the device list is
// non-empty and one of its devices is selected.
func (s *Session) CanStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices) > 0 && s.selected >= 0 && s.selected < len(s.devices)
}

func (s *Session) Listening() bool { return s.loop.Active() }

func (s *Session) State() listener.State { return s.loop.State() }

// ToggleListening starts the loop when idle and asks it to stop otherwise.
func (s *Session) ToggleListening() error {
	if s.loop.Active() {
		s.loop.Stop()
		s.logLine("Stopping after the current capture...")
		return nil
	}
	dev := s.Selected()
	if dev == nil || !s.CanStart() {
		s.status(StatusSelectFirst)
		return listener.ErrNoDevice
	}
	if err := s.loop.Start(dev); err != nil {
		s.status(err.Error())
		return err
	}
	s.logLine("Listening on " + dev.Name)
	return nil
}

// Stop asks a running loop to exit. It does not wait.
func (s *Session) Stop() { s.loop.Stop() }

// Wait blocks until the loop worker, if any, has exited.
func (s *Session) Wait() { s.loop.Wait() }

// TestMicrophone runs a one-shot capture and recognition on the selected device.
func (s *Session) TestMicrophone(ctx context.Context) (recognizer.Outcome, error) {
	dev := s.Selected()
	if dev == nil {
		s.status(StatusSelectFirst)
		return recognizer.Outcome{}, listener.ErrNoDevice
	}
	s.status(StatusTesting)
	s.logLine("Testing " + dev.Name)

	out, err := s.loop.TestOnce(ctx, dev)
	if err != nil {
		log.Errorf("microphone test: %v", err)
		s.status("Test failed: " + err.Error())
		s.events().Alert("Microphone test", err.Error())
		return out, err
	}
	switch out.Kind {
	case recognizer.Recognized:
		s.status("Test successful! Heard: " + out.Text)
		s.logLine("Test heard: " + out.Text)
		s.rememberDevice(*dev)
	case recognizer.Timeout:
		s.status(StatusNoSpeech)
	case recognizer.Unrecognized:
		s.status(listener.StatusUnknown)
	case recognizer.ServiceError:
		s.status(StatusAPIError)
		s.logLine("Test failed: " + out.Message)
	}
	return out, nil
}

// rememberDevice keeps dev selected across later refreshes.
func (s *Session) rememberDevice(dev audio.DeviceInfo) {
	s.mu.Lock()
	s.opts.Preferred = dev.Name
	if d, ok := audio.FindDevice(s.devices, dev.Name); ok {
		s.selected = d.Index
	}
	s.mu.Unlock()
}

// Save writes the transcript to path. An empty transcript is reported as a
// status, not an error.
func (s *Session) Save(path string) error {
	written, err := s.opts.Store.Save(path)
	switch {
	case errors.Is(err, transcript.ErrNothingToSave):
		s.status(StatusNothingSave)
		return nil
	case err != nil:
		log.Errorf("save transcript: %v", err)
		s.events().Alert("Save failed", err.Error())
		return err
	}
	s.status("Saved to " + written)
	s.logLine("Saved to " + written)
	return nil
}

// Clear empties the in-memory transcript. The sink file is not touched.
func (s *Session) Clear() {
	s.opts.Store.Clear()
	s.events().Cleared()
	s.status(StatusCleared)
}

// CopyLast puts the latest entry's text on the clipboard.
func (s *Session) CopyLast() error {
	e, ok := s.opts.Store.Last()
	if !ok {
		s.status(StatusNothingCopy)
		return nil
	}
	if s.opts.Copy == nil {
		return errors.New("clipboard unavailable")
	}
	if err := s.opts.Copy(e.Text); err != nil {
		log.Warnf("clipboard: %v", err)
		s.status("Copy failed: " + err.Error())
		return err
	}
	s.status(StatusCopied)
	return nil
}

// Help writes the troubleshooting guide to the log view.
func (s *Session) Help() {
	for _, line := range strings.Split(strings.TrimSpace(helpText), "\n") {
		s.logLine(line)
	}
	s.logLine("Diagnostics: " + log.Path())
}

func (s *Session) Transcript() *transcript.Store { return s.opts.Store }

func (s *Session) Recognizer() recognizer.Recognizer { return s.opts.Recognizer }

// Close stops listening, interrupting any capture in progress, and flushes the transcript.
func (s *Session) Close() error {
	s.loop.Shutdown()
	return s.opts.Store.Close()
}

const helpText = `
Troubleshooting:
1. No microphones listed: check the device is plugged in and not muted, then press refresh.
2. "Timeout - Listening again...": nothing louder than the room noise was heard. Speak closer to the microphone.
3. "Speech not recognized": audio was captured but the service returned no text. Speak more clearly or check the language setting.
4. "API error": check your network connection and API key, or wait if the quota is exhausted.
5. Run with -doctor for a full system report.
`

// observer relays listen loop events to the shell.
type observer struct{ s *Session }

func (o observer) Status(msg string) { o.s.status(msg) }

func (o observer) Entry(e transcript.Entry) { o.s.events().Entry(e) }

func (o observer) StateChanged(st listener.State) {
	switch st {
	case listener.Calibrating:
		o.s.events().Listening(true)
		if o.s.opts.Beep {
			beep.PlayStart()
		}
	case listener.Idle:
		o.s.events().Listening(false)
		if o.s.opts.Beep {
			beep.PlayEnd()
		}
	}
}

func (o observer) Critical(err error) {
	if o.s.opts.Beep {
		beep.PlayError()
	}
	o.s.logLine("Error: " + err.Error())
	o.s.events().Alert("Listening stopped", err.Error())
	o.s.status("Error: " + err.Error())
}

type nopSink struct{}

func (nopSink) Status(string)                   {}
func (nopSink) Log(string)                      {}
func (nopSink) Devices([]audio.DeviceInfo, int) {}
func (nopSink) Listening(bool)                  {}
func (nopSink) Entry(transcript.Entry)          {}
func (nopSink) Cleared()                        {}
func (nopSink) Alert(string, string)            {}
