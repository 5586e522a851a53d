package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"xinchao/conversation"
	"xinchao/session"
)

// TUI message types
type RecordingStartMsg struct{}
type RecordingStopMsg struct{ Cancelled bool }
type RecordingTickMsg struct{ Duration float64 }
type AudioLevelMsg struct{ Level float64 }
type NoVoiceWarningMsg struct{}
type VoiceClearedMsg struct{}
type SilenceAutoCloseMsg struct{}
type LogMsg struct{ Text string }
type TurnMsg struct{ Turn conversation.Turn }
type BusyMsg struct{ Busy bool }
type StatsMsg struct{ Table string }
type MuteMsg struct{ Muted, Enabled bool }
type ModeLineMsg struct{ Text string }   // format, language, voice
type DeviceLineMsg struct{ Text string } // microphone device name
type BluetoothWarningMsg struct{ IsBT bool }
type HelpMsg struct {
	Hotkey string
	Hybrid bool
}
type submitDoneMsg struct{ err error }

// tuiActions are the callbacks the TUI drives. They run off the update loop.
type tuiActions struct {
	submit       func(text string) error
	toggleRecord func()
	toggleMute   func()
	selectDevice func()
}

type tuiModel struct {
	actions tuiActions
	input   textinput.Model
	spin    spinner.Model
	chat    viewport.Model

	turns []conversation.Turn

	recording         bool
	recordingDuration float64
	audioLevel        float64
	noVoice           bool
	busy              bool
	muted             bool
	speechEnabled     bool

	modeLine   string
	deviceLine string
	isBT       bool
	hotkey     string
	hybrid     bool
	status     string // last notice, cleared by the next recording
	stats      string

	width, height int
}

var (
	tuiProgram   *tea.Program
	tuiMu        sync.Mutex
	tuiReady     = make(chan struct{})
	tuiReadyOnce sync.Once
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	fallbackStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	bodyStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	noteStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	correctStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("179"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	recStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	boldHelpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
)

func NewTUIProgram(actions tuiActions) *tea.Program {
	return tea.NewProgram(newTUIModel(actions), tea.WithAltScreen())
}

func newTUIModel(actions tuiActions) tuiModel {
	in := textinput.New()
	in.Placeholder = "Gõ tin nhắn rồi nhấn Enter"
	in.Prompt = "› "
	in.CharLimit = 500
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	return tuiModel{
		actions: actions,
		input:   in,
		spin:    sp,
		chat:    viewport.New(80, 20),
	}
}

// tuiSend delivers msg to the running TUI. It is a no-op without one.
func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func logToTUI(format string, args ...any) {
	tuiSend(LogMsg{Text: fmt.Sprintf(format, args...)})
}

func (m tuiModel) Init() tea.Cmd {
	tuiReadyOnce.Do(func() { close(tuiReady) })
	return tea.Batch(textinput.Blink, m.spin.Tick)
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "ctrl+r":
			return m, m.run(m.actions.toggleRecord)
		case "ctrl+t":
			return m, m.run(m.actions.toggleMute)
		case "ctrl+g":
			return m, m.run(m.actions.selectDevice)
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.chat, cmd = m.chat.Update(msg)
			return m, cmd
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			if m.busy {
				m.status = "still answering, try again in a moment"
				return m, nil
			}
			m.input.SetValue("")
			m.busy = true
			return m, m.submit(text)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case submitDoneMsg:
		if msg.err != nil && !errors.Is(msg.err, session.ErrEmptyText) {
			m.status = msg.err.Error()
		}

	case RecordingStartMsg:
		m.recording = true
		m.recordingDuration = 0
		m.audioLevel = 0
		m.noVoice = false
		m.status = ""

	case RecordingStopMsg:
		m.recording = false
		m.audioLevel = 0
		m.noVoice = false
		if msg.Cancelled {
			m.status = "recording discarded"
		}

	case RecordingTickMsg:
		m.recordingDuration = msg.Duration

	case AudioLevelMsg:
		if m.recording {
			m.audioLevel = m.audioLevel*0.6 + msg.Level*0.4
		}

	case NoVoiceWarningMsg:
		m.noVoice = true

	case VoiceClearedMsg:
		m.noVoice = false

	case SilenceAutoCloseMsg:
		m.status = "no speech for a while, recording closed"

	case LogMsg:
		m.status = msg.Text

	case TurnMsg:
		m.turns = append(m.turns, msg.Turn)
		m.chat.SetContent(renderTurns(m.turns, m.chat.Width))
		m.chat.GotoBottom()

	case BusyMsg:
		m.busy = msg.Busy

	case StatsMsg:
		m.stats = msg.Table
		m.layout()

	case MuteMsg:
		m.muted = msg.Muted
		m.speechEnabled = msg.Enabled

	case ModeLineMsg:
		m.modeLine = msg.Text

	case DeviceLineMsg:
		m.deviceLine = msg.Text

	case BluetoothWarningMsg:
		m.isBT = msg.IsBT

	case HelpMsg:
		m.hotkey = msg.Hotkey
		m.hybrid = msg.Hybrid
	}
	return m, nil
}

func (m tuiModel) run(fn func()) tea.Cmd {
	if fn == nil {
		return nil
	}
	return func() tea.Msg {
		fn()
		return nil
	}
}

func (m tuiModel) submit(text string) tea.Cmd {
	submit := m.actions.submit
	return func() tea.Msg {
		if submit == nil {
			return submitDoneMsg{}
		}
		return submitDoneMsg{err: submit(text)}
	}
}

// footerLines is the height of everything below the chat.
func (m tuiModel) footerLines() int {
	n := 5 // input, blank, help, mode, device
	if m.stats != "" {
		n += strings.Count(m.stats, "\n") + 2
	}
	return n
}

func (m *tuiModel) layout() {
	const header = 2
	w := max(m.width-2, 20)
	h := max(m.height-header-m.footerLines(), 3)
	m.chat.Width = w
	m.chat.Height = h
	m.input.Width = w - 4
	m.chat.SetContent(renderTurns(m.turns, w))
	m.chat.GotoBottom()
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.statusLine() + "\n")
	if m.status != "" {
		b.WriteString(warnStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(m.chat.View() + "\n")
	b.WriteString(m.input.View() + "\n\n")

	hk := m.hotkey
	if hk == "" {
		hk = "ctrl+shift+space"
	}
	help := boldHelpStyle.Render(hk)
	if m.hybrid {
		help += helpStyle.Render(" tap or hold to talk")
	} else {
		help += helpStyle.Render(" hold to talk")
	}
	help += helpStyle.Render(" · ctrl+r record · ctrl+t mute · ctrl+c quit · xinchao " + version)
	b.WriteString(help + "\n")

	if m.modeLine != "" {
		b.WriteString(dimStyle.Render(m.modeLine) + "\n")
	}
	if m.deviceLine != "" {
		line := dimStyle.Render(m.deviceLine)
		if m.isBT {
			line += warnStyle.Render("  bluetooth mics degrade recognition")
		}
		b.WriteString(line + "\n")
	}
	if m.stats != "" {
		b.WriteString("\n")
		for _, line := range strings.Split(m.stats, "\n") {
			b.WriteString(dimStyle.Render(line) + "\n")
		}
	}
	return lipgloss.NewStyle().PaddingLeft(1).Render(b.String())
}

func (m tuiModel) statusLine() string {
	var parts []string
	switch {
	case m.recording:
		parts = append(parts, recStyle.Render(fmt.Sprintf("● REC %.1fs", m.recordingDuration))+" "+levelBar(m.audioLevel, 12))
		if m.noVoice {
			parts = append(parts, warnStyle.Render("⚠ no voice detected"))
		}
	case m.busy:
		parts = append(parts, m.spin.View()+dimStyle.Render(" thinking"))
	default:
		parts = append(parts, dimStyle.Render("○ STANDBY"))
	}
	switch {
	case !m.speechEnabled:
		parts = append(parts, dimStyle.Render("speech off"))
	case m.muted:
		parts = append(parts, warnStyle.Render("muted"))
	default:
		parts = append(parts, dimStyle.Render("speaking on"))
	}
	return strings.Join(parts, dimStyle.Render("  │  "))
}

// levelBar renders an RMS level on a log-ish scale.
func levelBar(level float64, width int) string {
	n := int(min(level*4, 1) * float64(width))
	return recStyle.Render(strings.Repeat("▮", n)) + dimStyle.Render(strings.Repeat("▯", width-n))
}

func renderTurns(turns []conversation.Turn, width int) string {
	if len(turns) == 0 {
		return dimStyle.Render("Chưa có hội thoại. Nhấn phím ghi âm hoặc gõ tin nhắn.")
	}
	wrap := max(width-4, 10)
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(turnHeader(t) + "\n")

		style := bodyStyle
		if t.Fallback {
			style = fallbackStyle
		}
		for _, line := range wrapText(t.Text, wrap) {
			b.WriteString("  " + style.Render(line) + "\n")
		}
		for _, c := range t.Corrections {
			for _, line := range wrapText("✎ "+c, wrap) {
				b.WriteString("  " + correctStyle.Render(line) + "\n")
			}
		}
		if t.CulturalContext != "" {
			for _, line := range wrapText("ⓘ "+t.CulturalContext, wrap) {
				b.WriteString("  " + noteStyle.Render(line) + "\n")
			}
		}
	}
	return b.String()
}

func turnHeader(t conversation.Turn) string {
	var who string
	if t.Speaker == conversation.User {
		who = userStyle.Render("bạn")
	} else {
		who = assistantStyle.Render("xinchao")
	}
	meta := fmt.Sprintf("#%d %s", t.Seq, t.Timestamp.Format(time.Kitchen))
	if t.Accent != "" && t.Accent != "unknown" {
		meta += " · " + t.Accent
	}
	if t.Confidence != nil {
		meta += fmt.Sprintf(" · %.0f%%", *t.Confidence*100)
	}
	return who + " " + noteStyle.Render(meta)
}

// wrapText breaks text at spaces so no line exceeds width runes. Words
// longer than width are split.
func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for _, para := range strings.Split(text, "\n") {
		runes := []rune(para)
		for len(runes) > width {
			splitAt := width
			for i := width; i > 0; i-- {
				if runes[i] == ' ' {
					splitAt = i
					break
				}
			}
			lines = append(lines, string(runes[:splitAt]))
			runes = []rune(strings.TrimLeft(string(runes[splitAt:]), " "))
		}
		lines = append(lines, string(runes))
	}
	return lines
}
