// Package tui is the terminal shell: a Bubble Tea program that drives a
// session and renders its events.
package tui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"scribe/audio"
	"scribe/recognizer"
	"scribe/transcript"
)

const (
	maxLogLines   = 200
	levelEvery    = 50 * time.Millisecond
	leftWidth     = 46
	defaultSaveAs = "transcript_saved.txt"
)

// Controller is the part of the session the terminal drives.
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
}

// Info is the static header shown under the eye.
type Info struct {
	Provider   string
	Language   string
	Transcript string
	Version    string
}

type statusMsg string
type logMsg string
type devicesMsg struct {
	devices  []audio.DeviceInfo
	selected int
}
type listeningMsg bool
type entryMsg transcript.Entry
type clearedMsg struct{}
type alertMsg struct{ title, text string }
type levelMsg float64
type tickMsg time.Time

var (
	eyeColorsOn  = []string{"", "226", "220", "214", "208", "196", "160", "124", "88", "52", "236", "236", "236", "236", "255", "249"}
	eyeColorsOff = []string{"", "231", "224", "217", "210", "160", "124", "88", "52", "236", "236", "236", "236", "236", "255", "249"}
	eyeOn        [16]lipgloss.Style
	eyeOff       [16]lipgloss.Style
	eyeBgOn      [16][16]lipgloss.Style
	eyeBgOff     [16][16]lipgloss.Style

	dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	faint    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	bold     = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Bold(true)
	recStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	txtStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	curStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
	btStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

func init() {
	fill := func(colors []string, fg *[16]lipgloss.Style, bg *[16][16]lipgloss.Style) {
		for i, c := range colors {
			if c == "" {
				continue
			}
			fg[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
			for j, b := range colors {
				if b != "" {
					bg[i][j] = lipgloss.NewStyle().Foreground(lipgloss.Color(c)).Background(lipgloss.Color(b))
				}
			}
		}
	}
	fill(eyeColorsOn, &eyeOn, &eyeBgOn)
	fill(eyeColorsOff, &eyeOff, &eyeBgOff)
}

type Model struct {
	ctrl Controller
	info Info

	frame         int
	width, height int

	status    string
	alert     string
	devices   []audio.DeviceInfo
	cursor    int
	listening bool
	level     float64
	entries   []transcript.Entry
	logs      []string

	saving bool
	input  string
}

func NewModel(ctrl Controller, info Info) Model {
	return Model{ctrl: ctrl, info: info, status: "Starting...", cursor: -1}
}

func NewProgram(ctrl Controller, info Info) *tea.Program {
	return tea.NewProgram(NewModel(ctrl, info), tea.WithAltScreen())
}

func tick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// run performs fn off the UI goroutine. Results come back as sink events.
func run(fn func()) tea.Cmd {
	return func() tea.Msg {
		fn()
		return nil
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), run(m.ctrl.Refresh))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case tea.KeyMsg:
		return m.key(msg)

	case tickMsg:
		m.frame++
		m.level *= 0.85
		return m, tick()

	case statusMsg:
		m.status = string(msg)

	case logMsg:
		m.logs = append(m.logs, string(msg))
		if over := len(m.logs) - maxLogLines; over > 0 {
			m.logs = m.logs[over:]
		}

	case devicesMsg:
		m.devices = msg.devices
		m.cursor = msg.selected

	case listeningMsg:
		m.listening = bool(msg)
		if !m.listening {
			m.level = 0
		}

	case entryMsg:
		m.entries = append(m.entries, transcript.Entry(msg))

	case clearedMsg:
		m.entries = nil

	case alertMsg:
		m.alert = msg.title + ": " + msg.text

	case levelMsg:
		if m.listening {
			m.level = m.level*0.6 + float64(msg)*0.4
		}
	}
	return m, nil
}

func (m Model) key(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.saving {
		switch msg.Type {
		case tea.KeyEnter:
			m.saving = false
			path := strings.TrimSpace(m.input)
			if path == "" {
				return m, nil
			}
			return m, run(func() { m.ctrl.Save(path) })
		case tea.KeyEsc:
			m.saving = false
		case tea.KeyBackspace:
			if r := []rune(m.input); len(r) > 0 {
				m.input = string(r[:len(r)-1])
			}
		case tea.KeySpace:
			m.input += " "
		case tea.KeyRunes:
			m.input += string(msg.Runes)
		}
		return m, nil
	}

	m.alert = ""
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		return m.move(-1)
	case "down", "j":
		return m.move(1)
	case "r":
		if m.listening {
			return m, nil
		}
		return m, run(m.ctrl.Refresh)
	case " ", "enter":
		if !m.listening && !m.ctrl.CanStart() {
			return m, nil
		}
		return m, run(func() { m.ctrl.ToggleListening() })
	case "t":
		if m.listening {
			return m, nil
		}
		return m, run(func() { m.ctrl.TestMicrophone(context.Background()) })
	case "s":
		m.saving = true
		m.input = defaultSaveAs
	case "c":
		return m, run(m.ctrl.Clear)
	case "y":
		return m, run(func() { m.ctrl.CopyLast() })
	case "h", "?":
		return m, run(m.ctrl.Help)
	}
	return m, nil
}

// move shifts the device selection. The device cannot change while listening.
func (m Model) move(delta int) (tea.Model, tea.Cmd) {
	if m.listening || len(m.devices) == 0 {
		return m, nil
	}
	next := max(0, min(len(m.devices)-1, m.cursor+delta))
	if next == m.cursor {
		return m, nil
	}
	m.cursor = next
	return m, run(func() { m.ctrl.Select(next) })
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var left []string
	left = append(left, strings.Split(strings.TrimRight(renderEye(m.frame, m.level, m.listening), "\n"), "\n")...)
	if m.listening {
		left = append(left, recStyle.Render("● LISTENING"))
	} else {
		left = append(left, dim.Render("○ IDLE"))
	}
	left = append(left, bold.Render(m.status))
	if m.alert != "" {
		left = append(left, errStyle.Render("⚠ "+m.alert))
	}
	left = append(left, "", dim.Render("Microphones:"))
	if len(m.devices) == 0 {
		left = append(left, errStyle.Render("  none found (r to refresh)"))
	}
	for i, d := range m.devices {
		label := d.Label()
		if audio.IsBluetooth(d.Name) {
			label += btStyle.Render(" [bt]")
		}
		if i == m.cursor {
			left = append(left, curStyle.Render("▶ ")+label)
		} else {
			left = append(left, "  "+label)
		}
	}
	left = append(left, "",
		dim.Render(fmt.Sprintf("%s | %s", m.info.Provider, m.info.Language)),
		dim.Render("→ "+m.info.Transcript),
		"")
	if m.saving {
		left = append(left, bold.Render("Save as: ")+m.input+"█", faint.Render("enter to save, esc to cancel"))
	} else {
		left = append(left, helpLines()...)
	}
	left = append(left, faint.Render("scribe "+m.info.Version))

	rightWidth := max(20, m.width-leftWidth-1)
	right := m.renderTranscript(rightWidth - 2)

	leftPanel := lipgloss.NewStyle().Width(leftWidth - 1).Height(m.height).MaxHeight(m.height).Render(strings.Join(left, "\n"))
	rightPanel := lipgloss.NewStyle().Width(rightWidth).Height(m.height).MaxHeight(m.height).PaddingLeft(1).Render(right)
	return lipgloss.JoinHorizontal(lipgloss.Top, leftPanel, rightPanel)
}

func helpLines() []string {
	keys := []struct{ k, what string }{
		{"space", "start/stop"},
		{"↑/↓", "microphone"},
		{"r", "refresh"},
		{"t", "test"},
		{"s", "save"},
		{"c", "clear"},
		{"y", "copy last"},
		{"h", "help"},
		{"q", "quit"},
	}
	var out []string
	for i := 0; i < len(keys); i += 3 {
		var parts []string
		for _, k := range keys[i:min(i+3, len(keys))] {
			parts = append(parts, bold.Render(k.k)+faint.Render(" "+k.what))
		}
		out = append(out, strings.Join(parts, faint.Render("  ")))
	}
	return out
}

// renderTranscript shows the newest entries first-fit from the bottom, with
// the log tail underneath.
func (m Model) renderTranscript(width int) string {
	width = max(10, width)
	logRows := min(len(m.logs), max(3, m.height/4))
	textRows := max(1, m.height-logRows-3)

	var lines []string
	if len(m.entries) == 0 {
		lines = append(lines, dim.Render("No transcriptions yet"))
	}
	for _, e := range m.entries {
		prefix := "[" + e.Time.Format(transcript.TimeLayout) + "] "
		wrapped := wrapText(prefix+e.Text, width)
		for i, l := range wrapped {
			if i == 0 && len(l) >= len(prefix) {
				lines = append(lines, dim.Render(prefix)+txtStyle.Render(l[len(prefix):]))
				continue
			}
			lines = append(lines, txtStyle.Render(l))
		}
	}
	if over := len(lines) - textRows; over > 0 {
		lines = lines[over:]
	}

	var b strings.Builder
	b.WriteString(dim.Render(fmt.Sprintf("Transcript (%d)", len(m.entries))) + "\n")
	b.WriteString(strings.Join(lines, "\n"))
	if logRows > 0 {
		b.WriteString("\n\n")
		for _, l := range m.logs[len(m.logs)-logRows:] {
			b.WriteString(faint.Render(truncate(l, width)) + "\n")
		}
	}
	return b.String()
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}

// renderEye draws the concentric eye in half-block characters. While
// listening the inner rings swell with the input level.
func renderEye(frame int, level float64, on bool) string {
	const charsW = 44
	const charsH = 15
	const pixW = charsW
	const pixH = charsH * 2

	centerX := float64(pixW) / 2
	centerY := float64(pixH) / 2

	var breathe float64
	if on {
		breathe = math.Sin(float64(frame)*0.10)*0.03 + level*10.0 - 0.05
	} else {
		breathe = math.Sin(float64(frame)*0.08)*0.02 - 0.05
	}

	rings := []struct {
		radius, swell float64
		color         int
	}{
		{0.6, 0.10, 1}, {1.3, 0.12, 2}, {2.0, 0.15, 3}, {2.8, 0.35, 4},
		{3.5, 0.40, 5}, {4.2, 0.38, 6}, {5.0, 0.30, 7}, {5.8, 0.15, 8},
		{6.5, 0.03, 9}, {7.2, 0, 10}, {8.0, 0, 11}, {10.0, 0, 12}, {12.0, 0, 13},
	}

	pixels := make([][]int, pixH)
	for y := range pixels {
		pixels[y] = make([]int, pixW)
		for x := range pixels[y] {
			dx := float64(x) - centerX
			dy := float64(y) - centerY
			dist := math.Sqrt(dx*dx + dy*dy)
			for _, r := range rings {
				if dist < math.Min(10.0, r.radius+breathe*r.swell*20) {
					pixels[y][x] = r.color
					break
				}
			}
		}
	}

	// highlights
	for _, s := range []struct{ ox, oy, radius float64 }{
		{-6.4, -6.4, 0.7}, {0, -10, 0.8}, {6.4, -6.4, 0.7}, {0, -2, 0.6},
	} {
		for y := range pixels {
			for x := range pixels[y] {
				dx := float64(x) - centerX - s.ox
				dy := float64(y) - centerY - s.oy
				if dx*dx/9+dy*dy < s.radius*s.radius {
					pixels[y][x] = 14
				}
			}
		}
	}

	styles, bg := &eyeOff, &eyeBgOff
	if on {
		styles, bg = &eyeOn, &eyeBgOn
	}

	var out strings.Builder
	for cy := 0; cy < charsH; cy++ {
		for cx := 0; cx < charsW; cx++ {
			top, bot := pixels[cy*2][cx], pixels[cy*2+1][cx]
			switch {
			case top == 0 && bot == 0:
				out.WriteString(" ")
			case top == bot:
				out.WriteString(styles[top].Render("█"))
			case bot == 0:
				out.WriteString(styles[top].Render("▀"))
			case top == 0:
				out.WriteString(styles[bot].Render("▄"))
			default:
				out.WriteString(bg[top][bot].Render("▀"))
			}
		}
		out.WriteString("\n")
	}
	return out.String()
}

// Sink forwards session events into the running program. Events sent
// before Bind are dropped.
type Sink struct {
	p         atomic.Pointer[tea.Program]
	lastLevel atomic.Int64
}

func NewSink() *Sink { return &Sink{} }

func (s *Sink) Bind(p *tea.Program) { s.p.Store(p) }

func (s *Sink) send(msg tea.Msg) {
	if p := s.p.Load(); p != nil {
		p.Send(msg)
	}
}

func (s *Sink) Status(msg string) { s.send(statusMsg(msg)) }
func (s *Sink) Log(line string)   { s.send(logMsg(line)) }

func (s *Sink) Devices(d []audio.DeviceInfo, selected int) {
	s.send(devicesMsg{devices: d, selected: selected})
}

func (s *Sink) Listening(on bool)        { s.send(listeningMsg(on)) }
func (s *Sink) Entry(e transcript.Entry) { s.send(entryMsg(e)) }
func (s *Sink) Cleared()                 { s.send(clearedMsg{}) }
func (s *Sink) Alert(title, text string) { s.send(alertMsg{title: title, text: text}) }

// Level forwards input levels, at most one per levelEvery.
func (s *Sink) Level(rms float64) {
	now := time.Now().UnixNano()
	if now-s.lastLevel.Load() < int64(levelEvery) {
		return
	}
	s.lastLevel.Store(now)
	s.send(levelMsg(rms))
}
