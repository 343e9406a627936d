package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"scribe/audio"
	"scribe/beep"
	"scribe/config"
	"scribe/listener"
	"scribe/log"
	"scribe/recognizer"
	"scribe/session"
	"scribe/transcript"
)

const (
	defaultFakeText = "test transcript"
	waitLimit       = 30 * time.Second
)

// runTestMode drives a session from stdin over a WAV file instead of a
// microphone. Commands: START, STOP, WAIT, TEST, SAVE <path>, CLEAR,
// SLEEP <ms>, QUIT. Events are printed to stdout one per line.
func runTestMode(wavPath string, cfg config.Config) int {
	beep.Disable()

	actx, err := audio.NewFakeContext(wavPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		return 1
	}

	ctx := context.Background()
	rec, err := testRecognizer(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer recognizer.Close(rec)

	store := transcript.Open(transcript.Options{SinkPath: cfg.TranscriptPath, SaveTimestamps: cfg.SaveTimestamps})
	opts := sessionOptions(cfg, actx, rec, store)
	opts.Beep = false
	opts.Copy = nil
	sess := session.New(opts)
	defer sess.Close()

	drv := newTestDriver(sess, os.Stdout)
	sess.Attach(drv)
	sess.Refresh()
	return drv.run(os.Stdin)
}

// testRecognizer uses the configured provider when credentials exist and a
// scripted one otherwise. SCRIBE_FAKE_TEXT forces the scripted one.
func testRecognizer(ctx context.Context, cfg config.Config) (recognizer.Recognizer, error) {
	if text, ok := os.LookupEnv("SCRIBE_FAKE_TEXT"); ok {
		return recognizer.NewFake(recognizer.FakeStep{Outcome: recognizer.Ok(text)}), nil
	}
	rec, err := newRecognizer(ctx, cfg)
	if errors.Is(err, recognizer.ErrNoCredentials) {
		log.Warn("no credentials, using scripted recognizer")
		return recognizer.NewFake(recognizer.FakeStep{Outcome: recognizer.Ok(defaultFakeText)}), nil
	}
	return rec, err
}

// testDriver is the session's EventSink in test mode.
type testDriver struct {
	sess *session.Session

	mu       sync.Mutex
	out      io.Writer
	outcomes chan string
}

func newTestDriver(sess *session.Session, out io.Writer) *testDriver {
	return &testDriver{sess: sess, out: out, outcomes: make(chan string, 64)}
}

func (d *testDriver) emit(kind, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.out, "%s %s\n", kind, text)
}

func (d *testDriver) Status(msg string) {
	d.emit("STATUS", msg)
	switch {
	case msg == listener.StatusTimeout, msg == listener.StatusUnknown, msg == listener.StatusSuccess,
		strings.HasPrefix(msg, listener.StatusAPIError("")):
		select {
		case d.outcomes <- msg:
		default:
		}
	}
}

func (d *testDriver) Log(line string) { d.emit("LOG", line) }

func (d *testDriver) Devices(devices []audio.DeviceInfo, selected int) {
	d.emit("DEVICES", fmt.Sprintf("%d selected=%d", len(devices), selected))
}

func (d *testDriver) Listening(on bool)        { d.emit("LISTENING", strconv.FormatBool(on)) }
func (d *testDriver) Entry(e transcript.Entry) { d.emit("ENTRY", e.Text) }
func (d *testDriver) Cleared()                 { d.emit("CLEARED", "") }
func (d *testDriver) Alert(title, msg string)  { d.emit("ALERT", title+": "+msg) }

func (d *testDriver) run(in io.Reader) int {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")
		switch strings.ToUpper(cmd) {
		case "":
		case "START":
			if !d.sess.Listening() {
				if err := d.sess.ToggleListening(); err != nil {
					d.emit("ERROR", err.Error())
				}
			}
		case "STOP":
			d.sess.Stop()
			d.sess.Wait()
		case "WAIT":
			select {
			case <-d.outcomes:
			case <-time.After(waitLimit):
				d.emit("ERROR", "wait timed out")
				return 1
			}
		case "TEST":
			if _, err := d.sess.TestMicrophone(context.Background()); err != nil {
				d.emit("ERROR", err.Error())
			}
		case "SAVE":
			if err := d.sess.Save(strings.TrimSpace(arg)); err != nil {
				d.emit("ERROR", err.Error())
			}
		case "CLEAR":
			d.sess.Clear()
		case "SLEEP":
			if ms, err := strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case "QUIT":
			return 0
		default:
			d.emit("ERROR", "unknown command "+cmd)
		}
	}
	return 0
}
