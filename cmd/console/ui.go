package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/jwebster45206/crash-engine/internal/setup"
	"github.com/jwebster45206/crash-engine/pkg/chat"
)

const placeholderText = "What should they do next?"

// phase tracks where the session is in the initialization protocol and the
// turn loop.
type phase int

const (
	phaseTitle phase = iota
	phaseCrash
	phaseWakeup
	phaseIntro
	phaseReplay
	phasePlaying
	phaseGenerating
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	narratorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86"))

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	config *ConsoleConfig
	api    *apiClient

	gameID  uint
	saveKey string
	title   string
	seed    setup.Setup

	// resumed marks a loaded game: replay history instead of initializing.
	resumed bool

	turn       int
	lastAIText string
	crashStory string

	transcript strings.Builder
	current    strings.Builder // response being streamed right now

	phase  phase
	stream <-chan streamEvent

	viewport viewport.Model
	textarea textarea.Model
	ready    bool
	width    int
	height   int
	status   string
	err      error
}

type titleGeneratedMsg struct {
	title string
	err   error
}

type streamOpenedMsg struct {
	phase  phase
	stream <-chan streamEvent
	err    error
}

type streamChunkMsg streamEvent

// NewConsoleUI creates the UI for a fresh game.
func NewConsoleUI(cfg *ConsoleConfig, api *apiClient, gameID uint, saveKey string, seed setup.Setup) *ConsoleUI {
	return &ConsoleUI{
		config:  cfg,
		api:     api,
		gameID:  gameID,
		saveKey: saveKey,
		seed:    seed,
		phase:   phaseTitle,
	}
}

// NewResumedConsoleUI creates the UI for a loaded game.
func NewResumedConsoleUI(cfg *ConsoleConfig, api *apiClient, gameID uint, saveKey, title string, turn int) *ConsoleUI {
	return &ConsoleUI{
		config:  cfg,
		api:     api,
		gameID:  gameID,
		saveKey: saveKey,
		title:   title,
		turn:    turn,
		resumed: true,
		phase:   phaseReplay,
	}
}

func (m *ConsoleUI) Init() tea.Cmd {
	if m.resumed {
		return m.openStream(phaseReplay)
	}
	return m.generateTitle()
}

func (m *ConsoleUI) generateTitle() tea.Cmd {
	return func() tea.Msg {
		title, err := m.api.generateTitle(m.gameID, m.seed)
		return titleGeneratedMsg{title: title, err: err}
	}
}

// openStream starts the SSE call for the given phase.
func (m *ConsoleUI) openStream(p phase) tea.Cmd {
	return func() tea.Msg {
		var (
			ch  <-chan streamEvent
			err error
		)
		switch p {
		case phaseCrash:
			ch, err = m.api.streamCrash(m.gameID)
		case phaseWakeup:
			ch, err = m.api.streamWakeup(m.gameID, m.crashStory)
		case phaseIntro:
			ch, err = m.api.streamIntro(m.gameID)
		case phaseReplay:
			ch, err = m.api.streamHistory(m.gameID)
		default:
			err = fmt.Errorf("no stream for phase %d", p)
		}
		return streamOpenedMsg{phase: p, stream: ch, err: err}
	}
}

func (m *ConsoleUI) submitTurn(input string) tea.Cmd {
	return func() tea.Msg {
		ch, err := m.api.streamTurn(m.gameID, input, m.lastAIText, m.turn)
		return streamOpenedMsg{phase: phaseGenerating, stream: ch, err: err}
	}
}

// waitForChunk blocks on the stream until the next event arrives.
func waitForChunk(ch <-chan streamEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return streamChunkMsg{Done: true}
		}
		return streamChunkMsg(ev)
	}
}

func (m *ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case titleGeneratedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.title = msg.title
		m.appendBlock(titleStyle.Render(msg.title))
		m.phase = phaseCrash
		m.status = "The story begins..."
		return m, m.openStream(phaseCrash)

	case streamOpenedMsg:
		if msg.err != nil {
			m.err = msg.err
			if msg.phase == phaseGenerating {
				// The turn never happened; the server rolled it back.
				m.turn--
				m.phase = phasePlaying
			}
			return m, nil
		}
		m.phase = msg.phase
		m.stream = msg.stream
		m.current.Reset()
		return m, waitForChunk(m.stream)

	case streamChunkMsg:
		return m.handleChunk(streamEvent(msg))
	}

	var cmds []tea.Cmd
	if m.ready {
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		cmds = append(cmds, cmd)
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *ConsoleUI) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height

	inputHeight := 3
	vpHeight := m.height - inputHeight - 4
	if vpHeight < 3 {
		vpHeight = 3
	}

	if !m.ready {
		m.viewport = viewport.New(m.width-2, vpHeight)
		m.textarea = textarea.New()
		m.textarea.Placeholder = placeholderText
		m.textarea.SetHeight(1)
		m.textarea.CharLimit = 500
		m.textarea.ShowLineNumbers = false
		m.textarea.Focus()
		m.ready = true
	} else {
		m.viewport.Width = m.width - 2
		m.viewport.Height = vpHeight
	}
	m.textarea.SetWidth(m.width - 4)
	m.refreshViewport()
	return m, nil
}

func (m *ConsoleUI) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit

	case tea.KeyCtrlS:
		if err := clipboard.WriteAll(m.saveKey); err != nil {
			m.status = "Could not copy save key: " + m.saveKey
		} else {
			m.status = "Save key copied to clipboard"
		}
		return m, nil

	case tea.KeyEnter:
		if m.phase != phasePlaying {
			return m, nil
		}
		input := strings.TrimSpace(m.textarea.Value())
		if input == "" {
			return m, nil
		}
		m.textarea.Reset()
		m.appendBlock(userStyle.Render("> " + input))
		m.turn++
		m.phase = phaseGenerating
		m.status = ""
		m.err = nil
		return m, m.submitTurn(input)
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

func (m *ConsoleUI) handleChunk(ev streamEvent) (tea.Model, tea.Cmd) {
	if ev.Err != nil {
		m.err = ev.Err
		if m.phase == phaseGenerating {
			m.turn--
		}
		m.current.Reset()
		m.phase = phasePlaying
		m.refreshViewport()
		return m, nil
	}

	if ev.Item != nil {
		m.appendEntry(*ev.Item)
		return m, waitForChunk(m.stream)
	}

	if !ev.Done {
		m.current.WriteString(ev.Text)
		m.refreshViewport()
		return m, waitForChunk(m.stream)
	}

	// Terminal event: move the streamed text into the transcript and advance
	// the protocol.
	text := m.current.String()
	if text != "" {
		m.appendBlock(narratorStyle.Render(text))
	}
	m.current.Reset()

	switch m.phase {
	case phaseCrash:
		var done struct {
			CrashStory string `json:"crash_story"`
		}
		if err := json.Unmarshal(ev.Data, &done); err == nil {
			m.crashStory = done.CrashStory
		}
		m.lastAIText = m.crashStory
		return m, m.openStream(phaseWakeup)

	case phaseWakeup:
		m.lastAIText = text
		return m, m.openStream(phaseIntro)

	case phaseIntro:
		m.phase = phasePlaying
		m.status = "Press ctrl+s to copy your save key. You will need it to come back."
		return m, nil

	case phaseReplay:
		m.phase = phasePlaying
		m.status = "Welcome back. Press ctrl+s to copy your save key."
		return m, nil

	case phaseGenerating:
		m.lastAIText = text
		m.phase = phasePlaying
		return m, nil
	}
	return m, nil
}

// appendEntry renders a replayed history entry.
func (m *ConsoleUI) appendEntry(entry chat.Entry) {
	switch entry.Writer {
	case chat.WriterUser:
		m.appendBlock(userStyle.Render("> " + entry.Text))
	default:
		m.appendBlock(narratorStyle.Render(entry.Text))
		if entry.Writer == chat.WriterAI {
			m.lastAIText = entry.Text
		}
	}
	m.refreshViewport()
}

func (m *ConsoleUI) appendBlock(text string) {
	if m.transcript.Len() > 0 {
		m.transcript.WriteString("\n\n")
	}
	m.transcript.WriteString(text)
	m.refreshViewport()
}

func (m *ConsoleUI) refreshViewport() {
	if !m.ready {
		return
	}
	content := m.transcript.String()
	if m.current.Len() > 0 {
		if content != "" {
			content += "\n\n"
		}
		content += narratorStyle.Render(m.current.String())
	}
	m.viewport.SetContent(wordwrap.String(content, m.viewport.Width))
	m.viewport.GotoBottom()
}

func (m *ConsoleUI) View() string {
	if !m.ready {
		return "Loading..."
	}

	var footer string
	switch {
	case m.err != nil:
		footer = errorStyle.Render("Error: " + m.err.Error())
	case m.phase == phaseGenerating:
		footer = statusStyle.Render("The narrator is thinking...")
	case m.phase != phasePlaying:
		footer = statusStyle.Render("Setting the scene...")
	case m.status != "":
		footer = statusStyle.Render(m.status)
	default:
		footer = helpStyle.Render("enter: act | ctrl+s: copy save key | esc: quit")
	}

	header := titleStyle.Render("CRASH")
	if m.title != "" {
		header = titleStyle.Render(m.title)
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s",
		header,
		m.viewport.View(),
		m.textarea.View(),
		footer)
}
