package app

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tabcast/relay/internal/client"
	"github.com/tabcast/relay/internal/theme"
	"github.com/tabcast/relay/internal/views/dashboard"
	"github.com/tabcast/relay/internal/views/debug"
	"github.com/tabcast/relay/internal/views/status"
)

const pollInterval = time.Second

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.WSClient
	http   *client.HTTPClient
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	help   help.Model
	width  int
	height int

	statusBar status.Model
	dashboard dashboard.Model
	events    debug.Model

	prompt     textinput.Model
	prompting  bool
	showEvents bool

	connected bool
}

// Bubble Tea messages produced by the model's own commands.
type (
	pollMsg    time.Time
	statusMsg  struct {
		info *client.ConnectionInfo
		err  error
	}
	processMsg struct {
		report *client.ProcessReport
		err    error
	}
	sentMsg struct {
		cmd client.Command
		err error
	}
)

// New creates the root model. relay is the WebSocket URL, shown in the
// status bar.
func New(ws *client.WSClient, http *client.HTTPClient, relay string) Model {
	ctx, cancel := context.WithCancel(context.Background())

	prompt := textinput.New()
	prompt.Placeholder = "https://example.com"
	prompt.Prompt = "go to: "
	prompt.CharLimit = 2048

	return Model{
		ws:        ws,
		http:      http,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		help:      help.New(),
		statusBar: status.New(relay),
		dashboard: dashboard.New(),
		events:    debug.New(),
		prompt:    prompt,
	}
}

// Init starts the WebSocket connection and the status poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.ws.Listen(m.ctx), m.poll())
}

func (m Model) poll() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return pollMsg(t) })
}

func (m Model) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		info, err := m.http.GetStatus(m.ctx)
		return statusMsg{info: info, err: err}
	}
}

func (m Model) fetchProcess() tea.Cmd {
	return func() tea.Msg {
		report, err := m.http.GetProcess(m.ctx)
		return processMsg{report: report, err: err}
	}
}

func (m Model) send(cmd client.Command) tea.Cmd {
	return func() tea.Msg {
		return sentMsg{cmd: cmd, err: m.ws.Send(cmd)}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.dashboard.Width = msg.Width
		m.prompt.Width = max(msg.Width-12, 10)
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case pollMsg:
		m.dashboard.Now = time.Time(msg)
		return m, tea.Batch(m.fetchStatus(), m.fetchProcess(), m.poll())

	case statusMsg:
		m.dashboard.Status, m.dashboard.StatusErr = msg.info, msg.err
		return m, nil

	case processMsg:
		// /api/process is optional; keep the last report on failure.
		if msg.err == nil {
			m.dashboard.Process = msg.report
		}
		return m, nil

	case sentMsg:
		if msg.err != nil {
			m.events.Addf("err", "send %s: %v", msg.cmd.Action, msg.err)
		} else {
			m.events.Addf("cmd", "%s %s", msg.cmd.Action, msg.cmd.URL)
		}
		return m, nil

	case client.WSConnectedMsg:
		m.connected = true
		m.statusBar.State, m.statusBar.Detail = "live", ""
		m.dashboard.Frames = client.FrameStats{}
		m.events.Add("ws", "connected")
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSDisconnectedMsg:
		m.connected = false
		if m.statusBar.State == "live" {
			m.statusBar.State = "connecting"
		}
		if msg.Err != nil {
			m.events.Addf("ws", "disconnected: %v", msg.Err)
		}
		return m, m.ws.Listen(m.ctx)

	case client.WSURLMsg:
		m.statusBar.URL = msg.URL
		m.events.Add("url", msg.URL)
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSFrameMsg:
		m.dashboard.Frames.Observe(msg.Size, msg.At)
		m.dashboard.Now = msg.At
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSStatusMsg:
		m.statusBar.State, m.statusBar.Detail = msg.Status.State, msg.Status.Error
		kind := "ws"
		if msg.Status.State == "error" {
			kind = "err"
		}
		m.events.Addf(kind, "session %s %s", msg.Status.State, msg.Status.Error)
		return m, m.ws.ReadLoop(m.ctx)
	}

	if m.prompting {
		var cmd tea.Cmd
		m.prompt, cmd = m.prompt.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.prompting {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.prompting = false
			m.prompt.Blur()
			return m, nil
		case key.Matches(msg, m.keys.Submit):
			url := m.prompt.Value()
			m.prompting = false
			m.prompt.Blur()
			m.prompt.Reset()
			if url == "" {
				return m, nil
			}
			return m, m.send(client.NavigateCommand(url))
		}
		var cmd tea.Cmd
		m.prompt, cmd = m.prompt.Update(msg)
		return m, cmd
	}

	if m.showEvents {
		switch {
		case key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Events):
			m.showEvents = false
		case key.Matches(msg, m.keys.Up):
			m.events.ScrollUp(1)
		case key.Matches(msg, m.keys.Down):
			m.events.ScrollDown(1)
		case key.Matches(msg, m.keys.Quit):
			m.cancel()
			return m, tea.Quit
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Navigate):
		m.prompting = true
		m.prompt.SetValue(m.statusBar.URL)
		m.prompt.CursorEnd()
		return m, m.prompt.Focus()

	case key.Matches(msg, m.keys.Reconnect):
		m.events.Add("ws", "reconnect requested")
		m.ws.Reconnect()
		return m, nil

	case key.Matches(msg, m.keys.Events):
		m.showEvents = true
		return m, nil
	}

	return m, nil
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.showEvents {
		return m.events.View(m.width, m.height)
	}

	sections := []string{
		m.statusBar.View(),
		m.dashboard.View(),
	}
	if !m.connected {
		sections = append(sections, m.renderDisconnected())
	}
	if m.prompting {
		sections = append(sections, theme.StyleBorder.Width(max(m.width-2, 20)).Render(m.prompt.View()))
	}
	sections = append(sections, m.help.View(m.keys))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderDisconnected() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorDanger).Render("DISCONNECTED")
	body := theme.StyleDimmed.Render("Reconnecting to the relay...")
	if m.statusBar.State == "closed" || m.statusBar.State == "error" {
		body = theme.StyleDimmed.Render("Session ended. Reconnecting in case the relay restarts...")
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}
