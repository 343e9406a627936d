//go:build gui

// Package gui is the desktop shell: a fyne window with the device picker,
// start/stop control, live transcript and log, plus a tray menu.
package gui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"scribe/audio"
	"scribe/recognizer"
	"scribe/transcript"
)

const (
	appID        = "io.scribe.gui"
	maxLogLines  = 200
	levelEvery   = 50 * time.Millisecond
	levelGain    = 8.0
	defaultSave  = "transcript_saved.txt"
	windowWidth  = 700
	windowHeight = 600
)

// Controller is the part of the session the window drives.
type Controller interface {
	Refresh()
	Select(i int) error
	CanStart() bool
	Listening() bool
	ToggleListening() error
	TestMicrophone(ctx context.Context) (recognizer.Outcome, error)
	Save(path string) error
	Clear()
	CopyLast() error
	Help()
	Transcript() *transcript.Store
}

type Info struct {
	Provider string
	Language string
	Version  string
}

type App struct {
	info Info
	ctrl Controller

	fyneApp fyne.App
	window  fyne.Window

	devices    *widget.Select
	refreshBtn *widget.Button
	testBtn    *widget.Button
	toggleBtn  *widget.Button
	status     *widget.Label
	level      *widget.ProgressBar
	text       *widget.Entry
	logView    *widget.Entry
	trayToggle *fyne.MenuItem
	trayMenu   *fyne.Menu

	mu        sync.Mutex
	listening bool
	entries   []string
	logs      []string
	lastLevel atomic.Int64
	ready     atomic.Bool
}

func New(info Info) *App {
	return &App{info: info}
}

// Run builds the window and blocks in the fyne event loop. It must be
// called from the main goroutine.
func (a *App) Run(ctrl Controller) error {
	a.ctrl = ctrl
	a.fyneApp = app.NewWithID(appID)
	a.fyneApp.Settings().SetTheme(&scribeTheme{})
	a.window = a.fyneApp.NewWindow(fmt.Sprintf("Speech to Text - %s (%s)", a.info.Provider, a.info.Language))
	a.window.SetContent(a.build())
	a.window.Resize(fyne.NewSize(windowWidth, windowHeight))
	a.setupTray()
	a.ready.Store(true)

	go ctrl.Refresh()
	a.window.ShowAndRun()
	return nil
}

func (a *App) build() fyne.CanvasObject {
	a.devices = widget.NewSelect(nil, nil)
	a.devices.PlaceHolder = "Select a microphone"
	a.devices.OnChanged = func(string) {
		if i := a.devices.SelectedIndex(); i >= 0 {
			go a.ctrl.Select(i)
		}
		a.updateControls()
	}
	a.refreshBtn = widget.NewButtonWithIcon("Refresh", theme.ViewRefreshIcon(), func() { go a.ctrl.Refresh() })
	a.testBtn = widget.NewButtonWithIcon("Test", theme.MediaRecordIcon(), func() {
		go a.ctrl.TestMicrophone(context.Background())
	})
	a.toggleBtn = widget.NewButtonWithIcon("Start Listening", theme.MediaPlayIcon(), a.toggle)
	a.toggleBtn.Importance = widget.HighImportance
	a.toggleBtn.Disable()

	a.status = widget.NewLabel("Starting...")
	a.status.Wrapping = fyne.TextWrapWord
	a.status.TextStyle = fyne.TextStyle{Bold: true}
	a.level = widget.NewProgressBar()
	a.level.TextFormatter = func() string { return "" }

	a.text = widget.NewMultiLineEntry()
	a.text.Wrapping = fyne.TextWrapWord
	a.text.SetPlaceHolder("Transcribed text appears here")
	a.logView = widget.NewMultiLineEntry()
	a.logView.Wrapping = fyne.TextWrapWord
	a.logView.TextStyle = fyne.TextStyle{Monospace: true}

	picker := container.NewBorder(nil, nil, widget.NewLabel("Microphone:"),
		container.NewHBox(a.refreshBtn, a.testBtn), a.devices)
	top := container.NewVBox(picker, a.toggleBtn, a.status, a.level)

	actions := container.NewGridWithColumns(4,
		widget.NewButtonWithIcon("Save", theme.DocumentSaveIcon(), a.save),
		widget.NewButtonWithIcon("Clear", theme.ContentClearIcon(), func() { go a.ctrl.Clear() }),
		widget.NewButtonWithIcon("Copy", theme.ContentCopyIcon(), func() { go a.ctrl.CopyLast() }),
		widget.NewButtonWithIcon("Help", theme.HelpIcon(), func() { go a.ctrl.Help() }),
	)

	split := container.NewVSplit(
		container.NewBorder(widget.NewLabel("Transcript"), nil, nil, nil, a.text),
		container.NewBorder(widget.NewLabel("Log"), nil, nil, nil, a.logView),
	)
	split.Offset = 0.7
	return container.NewBorder(top, actions, nil, nil, split)
}

func (a *App) setupTray() {
	desk, ok := a.fyneApp.(desktop.App)
	if !ok {
		return
	}
	a.trayToggle = fyne.NewMenuItem("Start Listening", a.toggle)
	a.trayMenu = fyne.NewMenu("scribe",
		fyne.NewMenuItem("Show", func() { a.window.Show() }),
		a.trayToggle,
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Quit", func() { a.fyneApp.Quit() }),
	)
	desk.SetSystemTrayMenu(a.trayMenu)
	desk.SetSystemTrayIcon(theme.MediaRecordIcon())
}

func (a *App) toggle() {
	go a.ctrl.ToggleListening()
}

// save asks for a destination. An empty transcript goes straight to the
// controller so it can report that nothing was saved.
func (a *App) save() {
	if a.ctrl.Transcript().Len() == 0 {
		go a.ctrl.Save(defaultSave)
		return
	}
	d := dialog.NewFileSave(func(w fyne.URIWriteCloser, err error) {
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		if w == nil {
			return
		}
		path := w.URI().Path()
		w.Close()
		go a.ctrl.Save(path)
	}, a.window)
	d.SetFileName(defaultSave)
	d.Show()
}

// updateControls applies the start rule: the toggle is enabled while
// listening, or when a device from a non-empty list is selected.
func (a *App) updateControls() {
	a.mu.Lock()
	listening := a.listening
	a.mu.Unlock()

	canStart := len(a.devices.Options) > 0 && a.devices.SelectedIndex() >= 0
	if listening {
		a.toggleBtn.SetText("Stop Listening")
		a.toggleBtn.SetIcon(theme.MediaStopIcon())
		a.toggleBtn.Enable()
		a.devices.Disable()
		a.refreshBtn.Disable()
		a.testBtn.Disable()
	} else {
		a.toggleBtn.SetText("Start Listening")
		a.toggleBtn.SetIcon(theme.MediaPlayIcon())
		if canStart {
			a.toggleBtn.Enable()
			a.testBtn.Enable()
		} else {
			a.toggleBtn.Disable()
			a.testBtn.Disable()
		}
		a.devices.Enable()
		a.refreshBtn.Enable()
	}
	if a.trayToggle != nil {
		a.trayToggle.Label = a.toggleBtn.Text
		a.trayToggle.Disabled = a.toggleBtn.Disabled()
		a.trayMenu.Refresh()
	}
}

// do runs fn on the fyne thread once the window exists.
func (a *App) do(fn func()) {
	if !a.ready.Load() {
		return
	}
	fyne.Do(fn)
}

func (a *App) Status(msg string) {
	a.do(func() { a.status.SetText(msg) })
}

func (a *App) Log(line string) {
	a.mu.Lock()
	a.logs = append(a.logs, line)
	if over := len(a.logs) - maxLogLines; over > 0 {
		a.logs = a.logs[over:]
	}
	text := strings.Join(a.logs, "\n")
	a.mu.Unlock()
	a.do(func() {
		a.logView.SetText(text)
		a.logView.CursorRow = strings.Count(text, "\n")
	})
}

func (a *App) Devices(devices []audio.DeviceInfo, selected int) {
	labels := make([]string, len(devices))
	for i, d := range devices {
		labels[i] = d.Label()
		if audio.IsBluetooth(d.Name) {
			labels[i] += " (Bluetooth)"
		}
	}
	a.do(func() {
		onChanged := a.devices.OnChanged
		a.devices.OnChanged = nil
		a.devices.SetOptions(labels)
		if selected >= 0 && selected < len(labels) {
			a.devices.SetSelectedIndex(selected)
		} else {
			a.devices.ClearSelected()
		}
		a.devices.OnChanged = onChanged
		a.updateControls()
	})
}

func (a *App) Listening(on bool) {
	a.mu.Lock()
	a.listening = on
	a.mu.Unlock()
	a.do(func() {
		if !on {
			a.level.SetValue(0)
		}
		a.updateControls()
	})
}

func (a *App) Entry(e transcript.Entry) {
	a.mu.Lock()
	a.entries = append(a.entries, e.Line())
	text := strings.Join(a.entries, "\n")
	a.mu.Unlock()
	a.do(func() { a.text.SetText(text) })
}

func (a *App) Cleared() {
	a.mu.Lock()
	a.entries = nil
	a.mu.Unlock()
	a.do(func() { a.text.SetText("") })
}

func (a *App) Alert(title, msg string) {
	a.do(func() { dialog.ShowInformation(title, msg, a.window) })
}

// Level shows the input level, at most one update per levelEvery.
func (a *App) Level(rms float64) {
	now := time.Now().UnixNano()
	if now-a.lastLevel.Load() < int64(levelEvery) {
		return
	}
	a.lastLevel.Store(now)
	a.do(func() { a.level.SetValue(min(1, rms*levelGain)) })
}

// Quit closes the window and ends Run.
func (a *App) Quit() {
	a.do(func() { a.fyneApp.Quit() })
}
