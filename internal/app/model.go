package app

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/foxseedlab/kikitori/internal/ui"
)

const (
	defaultNoticeTimeout = 5 * time.Second
	noticeConnected      = "Connected"
	noticeLost           = "Connection lost"

	buttonStart = "Start Recording"
	buttonStop  = "Stop Recording"
)

// Controller is the part of the session client the view drives.
type Controller interface {
	Connect()
	Disconnect()
	StartRecording()
	StopRecording()
	ResetTranscript()
}

// Model is the bubbletea model for the transcription screen.
type Model struct {
	client Controller
	events <-chan tea.Msg
	label  string

	recording  bool
	connecting bool

	// transcript is the full final text. interim is the latest partial
	// fragment and is dropped when a final result arrives.
	transcript string
	interim    string

	errorMessage  string
	notice        string
	noticeSeq     int
	noticeTimeout time.Duration

	scrollOffset int // lines scrolled up from the bottom
	width        int
	height       int
}

// NewModel creates a Model that drives client and renders the notifications
// delivered on events.
func NewModel(client Controller, events <-chan tea.Msg, label string) Model {
	return Model{
		client:        client,
		events:        events,
		label:         label,
		noticeTimeout: defaultNoticeTimeout,
	}
}

// Init starts listening for session notifications.
func (m Model) Init() tea.Cmd {
	return waitForEventCmd(m.events)
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TextResultMsg:
		if msg.IsFinal {
			m.transcript = msg.Text
			m.interim = ""
		} else {
			m.interim = msg.Text
		}
		return m, waitForEventCmd(m.events)

	case ErrorMsg:
		m.errorMessage = msg.Message
		m.connecting = false
		clearCmd := m.scheduleClear()
		return m, tea.Batch(waitForEventCmd(m.events), clearCmd)

	case ConnectionStatusMsg:
		return m.handleConnectionStatus(msg)

	case ClearNoticeMsg:
		if msg.seq == m.noticeSeq {
			m.notice = ""
			m.errorMessage = ""
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleConnectionStatus(msg ConnectionStatusMsg) (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{waitForEventCmd(m.events)}
	switch {
	case msg.Connected:
		m.connecting = false
		m.recording = true
		m.notice = noticeConnected
		cmds = append(cmds, controlCmd(m.client.StartRecording), m.scheduleClear())
	case m.recording:
		m.notice = noticeLost
		m.recording = false
		m.interim = ""
		cmds = append(cmds, m.stopCmd(), m.scheduleClear())
	default:
		m.connecting = false
	}
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		client := m.client
		return m, func() tea.Msg {
			client.Disconnect()
			return tea.Quit()
		}

	case KeySpace, KeyEnter:
		if m.connecting {
			return m, nil
		}
		if m.recording {
			m.recording = false
			m.interim = ""
			return m, m.stopCmd()
		}
		m.connecting = true
		m.errorMessage = ""
		return m, controlCmd(m.client.Connect)

	case KeyReset, KeyResetUp:
		m.transcript = ""
		m.interim = ""
		m.scrollOffset = 0
		m.client.ResetTranscript()
		return m, nil

	case KeyUp, KeyK:
		if m.scrollOffset < m.maxScroll() {
			m.scrollOffset++
		}
		return m, nil

	case KeyDown, KeyJ:
		if m.scrollOffset > 0 {
			m.scrollOffset--
		}
		return m, nil
	}

	return m, nil
}

func (m Model) stopCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		client.StopRecording()
		client.Disconnect()
		return nil
	}
}

// scheduleClear bumps the notice sequence so that only the latest timer
// clears the bar.
func (m *Model) scheduleClear() tea.Cmd {
	m.noticeSeq++
	seq := m.noticeSeq
	return tea.Tick(m.noticeTimeout, func(time.Time) tea.Msg {
		return ClearNoticeMsg{seq: seq}
	})
}

func controlCmd(fn func()) tea.Cmd {
	return func() tea.Msg {
		fn()
		return nil
	}
}

// View renders the UI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	b.WriteString("\n")
	b.WriteString(m.renderDivider())
	b.WriteString("\n")

	b.WriteString(m.renderTranscript(m.contentHeight()))
	b.WriteString("\n")
	b.WriteString(m.renderDivider())
	b.WriteString("\n")
	b.WriteString(m.renderMessageBar())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("KIKITORI")
	if m.label == "" {
		return title
	}
	return title + "  " + ui.DimStyle.Render(m.label)
}

func (m Model) renderStatusBar() string {
	var status string
	switch {
	case m.recording:
		status = ui.RecordingDotStyle.Render("● REC")
	case m.connecting:
		status = ui.ConnectingStyle.Render("◌ CONNECTING...")
	default:
		status = ui.IdleDotStyle.Render("○ IDLE")
	}

	var badge string
	if offset := min(m.scrollOffset, m.maxScroll()); offset > 0 {
		badge = ui.ScrollBadgeStyle.Render(fmt.Sprintf("↑ %d", offset))
	} else {
		badge = ui.LiveBadgeStyle.Render("LIVE")
	}

	gap := m.width - lipgloss.Width(status) - lipgloss.Width(badge)
	if gap < 1 {
		gap = 1
	}
	return status + strings.Repeat(" ", gap) + badge
}

func (m Model) renderDivider() string {
	return ui.DividerStyle.Render(strings.Repeat("─", m.width))
}

// contentHeight leaves room for header, status bar, two dividers, message
// bar and footer.
func (m Model) contentHeight() int {
	if h := m.height - 6; h > 1 {
		return h
	}
	return 1
}

func (m Model) transcriptLines() []string {
	var lines []string
	for _, l := range wrapText(m.transcript, m.width) {
		lines = append(lines, ui.FinalTextStyle.Render(l))
	}
	if m.interim != "" {
		for _, l := range wrapText(m.interim+" ▌", m.width) {
			lines = append(lines, ui.InterimTextStyle.Render(l))
		}
	}
	return lines
}

// maxScroll is how far the view can scroll up before the first line is at
// the top.
func (m Model) maxScroll() int {
	if n := len(m.transcriptLines()) - m.contentHeight(); n > 0 {
		return n
	}
	return 0
}

func (m Model) renderTranscript(height int) string {
	lines := m.transcriptLines()
	if len(lines) == 0 {
		lines = []string{ui.DimStyle.Render("Press space to start transcribing.")}
	}

	offset := min(m.scrollOffset, m.maxScroll())
	end := len(lines) - offset
	start := end - height
	if start < 0 {
		start = 0
	}
	visible := lines[start:end]
	for len(visible) < height {
		visible = append(visible, "")
	}
	return strings.Join(visible, "\n")
}

func (m Model) renderMessageBar() string {
	if m.errorMessage != "" {
		return ui.ErrorStyle.Render("✗ ") + ui.ErrorTextStyle.Render(truncateToWidth(m.errorMessage, m.width-2))
	}
	if m.notice != "" {
		return ui.NoticeStyle.Render(m.notice)
	}
	return ""
}

func (m Model) renderFooter() string {
	button := buttonStart
	if m.recording {
		button = buttonStop
	}
	items := []struct{ key, desc string }{
		{"space", button},
		{"r", "Reset"},
		{"↑/↓", "Scroll"},
		{"q", "Quit"},
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, ui.FooterKeyStyle.Render(it.key)+" "+ui.FooterDescStyle.Render(it.desc))
	}
	return strings.Join(parts, "  ")
}

func truncateToWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}

// wrapText breaks s into lines of at most width runes, preferring spaces.
func wrapText(s string, width int) []string {
	if s == "" {
		return nil
	}
	if width <= 0 {
		return []string{s}
	}
	var lines []string
	var current []rune
	for _, word := range strings.Fields(s) {
		w := []rune(word)
		for len(w) > width {
			if len(current) > 0 {
				lines = append(lines, string(current))
				current = nil
			}
			lines = append(lines, string(w[:width]))
			w = w[width:]
		}
		switch {
		case len(current) == 0:
			current = w
		case len(current)+1+len(w) <= width:
			current = append(append(current, ' '), w...)
		default:
			lines = append(lines, string(current))
			current = w
		}
	}
	if len(current) > 0 {
		lines = append(lines, string(current))
	}
	return lines
}
