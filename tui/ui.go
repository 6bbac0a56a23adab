// Package tui is the tutorial page: a rendered document the assistant can
// read aloud, with a toggleable chat popup for typed and spoken questions.
package tui

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"chitti/chat"
	"chitti/presence"
)

//go:embed doc.md
var defaultDocument string

type refreshMsg struct{}

type noticeMsg string

type model struct {
	ctx      context.Context
	orch     *chat.Orchestrator
	pres     *presence.Controller
	updates  chan struct{}
	notices  chan string
	document string
	rendered string

	paragraphs []string
	cursor     int

	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model
	notice   string
	ready    bool
	width    int
}

// Run starts the tutorial page. It blocks until the user quits.
func Run(ctx context.Context, orch *chat.Orchestrator, pres *presence.Controller, document string) error {
	if strings.TrimSpace(document) == "" {
		document = defaultDocument
	}

	updates := make(chan struct{}, 8)
	notices := make(chan string, 4)
	orch.SetOnChange(func() {
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	orch.SetNotice(func(msg string) {
		select {
		case notices <- msg:
		default:
		}
	})
	pres.Subscribe(func(presence.Snapshot) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})

	input := textinput.New()
	input.Placeholder = "Ask me anything..."
	input.CharLimit = 500

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	m := model{
		ctx:        ctx,
		orch:       orch,
		pres:       pres,
		updates:    updates,
		notices:    notices,
		document:   document,
		paragraphs: splitParagraphs(document),
		input:      input,
		spin:       spin,
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()

	// Best-effort teardown: stop capture and playback before the page goes.
	orch.Close()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		waitForRefresh(m.updates),
		waitForNotice(m.notices),
		m.spin.Tick,
		func() tea.Msg {
			m.orch.Greet(m.ctx)
			return refreshMsg{}
		},
	)
}

func waitForRefresh(updates chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-updates
		return refreshMsg{}
	}
}

func waitForNotice(notices chan string) tea.Cmd {
	return func() tea.Msg {
		return noticeMsg(<-notices)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.notice != "" {
			// A notice is blocking; any key dismisses it.
			m.notice = ""
			m.viewport.SetContent(m.contentView())
			return m, nil
		}
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.orch.IsOpen() || !m.input.Focused() || msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
		case "tab":
			if m.orch.IsOpen() {
				m.orch.Close()
				m.input.Blur()
			} else {
				m.orch.Open()
				m.input.Focus()
			}
			m.viewport.SetContent(m.contentView())
			return m, nil
		case "ctrl+v":
			cmds = append(cmds, m.toggleVoice())
		case "ctrl+e":
			cmds = append(cmds, m.exportTranscript())
		case "enter":
			if m.orch.IsOpen() {
				text := m.input.Value()
				m.input.Reset()
				cmds = append(cmds, m.sendText(text))
			} else if len(m.paragraphs) > 0 {
				cmds = append(cmds, m.readParagraph(m.paragraphs[m.cursor]))
			}
		case "j", "down":
			if !m.orch.IsOpen() && m.cursor < len(m.paragraphs)-1 {
				m.cursor++
			}
		case "k", "up":
			if !m.orch.IsOpen() && m.cursor > 0 {
				m.cursor--
			}
		case "esc":
			if m.orch.IsOpen() {
				m.orch.Close()
				m.input.Blur()
				m.viewport.SetContent(m.contentView())
				return m, nil
			}
		}

	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		footerHeight := lipgloss.Height(m.footerView())
		verticalMarginHeight := headerHeight + footerHeight

		m.width = msg.Width
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-verticalMarginHeight)
			m.viewport.YPosition = headerHeight
			m.rendered = renderDocument(m.document, msg.Width)
			m.viewport.SetContent(m.contentView())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - verticalMarginHeight
			m.rendered = renderDocument(m.document, msg.Width)
			m.viewport.SetContent(m.contentView())
		}

	case refreshMsg:
		m.viewport.SetContent(m.contentView())
		if m.orch.IsOpen() {
			m.viewport.GotoBottom()
		}
		cmds = append(cmds, waitForRefresh(m.updates))

	case noticeMsg:
		m.notice = string(msg)
		cmds = append(cmds, waitForNotice(m.notices))

	case spinner.TickMsg:
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.orch.IsOpen() && m.notice == "" {
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m model) sendText(text string) tea.Cmd {
	return func() tea.Msg {
		m.orch.SendText(m.ctx, text)
		return refreshMsg{}
	}
}

func (m model) readParagraph(text string) tea.Cmd {
	return func() tea.Msg {
		m.orch.ReadAloud(m.ctx, text)
		return refreshMsg{}
	}
}

func (m model) toggleVoice() tea.Cmd {
	return func() tea.Msg {
		if m.orch.VoiceActive() {
			m.orch.StopVoice()
		} else if err := m.orch.StartVoice(m.ctx); err != nil {
			return noticeMsg(err.Error())
		}
		return refreshMsg{}
	}
}

func (m model) exportTranscript() tea.Cmd {
	return func() tea.Msg {
		path, err := m.orch.Export(".")
		if err != nil {
			return noticeMsg(err.Error())
		}
		return noticeMsg("Conversation saved to " + path)
	}
}

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	if m.notice != "" {
		return fmt.Sprintf(
			"%s\n%s\n%s",
			m.headerView(),
			noticeStyle.Render(m.notice+"\n\nPress any key to continue."),
			m.footerView(),
		)
	}
	return fmt.Sprintf(
		"%s\n%s\n%s",
		m.headerView(),
		m.viewport.View(),
		m.footerView(),
	)
}

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	noticeStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(1, 2).
			Margin(1, 2)
)

func (m model) headerView() string {
	state := m.pres.State().String()
	if anim := m.pres.CurrentAnimation(); anim != presence.None {
		state += " " + string(anim)
	}
	status := state
	if m.orch.Processing() {
		status = m.spin.View() + " thinking"
	}
	title := titleStyle.Render("Chitti " + status)
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(title)))
	return lipgloss.JoinHorizontal(lipgloss.Center, title, line)
}

func (m model) footerView() string {
	var info string
	if m.orch.IsOpen() {
		info = m.input.View() + "  (enter send · ctrl+v voice · tab page · ctrl+e export)"
	} else {
		info = fmt.Sprintf("¶ %d/%d  (enter read aloud · j/k move · tab chat · q quit)",
			m.cursor+1, len(m.paragraphs))
	}
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(info)))
	return lipgloss.JoinHorizontal(lipgloss.Center, line, info)
}

func (m model) contentView() string {
	if m.orch.IsOpen() {
		return m.transcriptView()
	}
	return m.rendered
}

func (m model) transcriptView() string {
	entries := m.orch.Entries()
	if len(entries) == 0 {
		return "\n  Say hello! Type a message or press ctrl+v to talk.\n"
	}
	var b strings.Builder
	for _, e := range entries {
		style := assistantStyle
		if e.Sender == chat.User {
			style = userStyle
		}
		b.WriteString(style.Render(string(e.Sender) + ":"))
		b.WriteString(" ")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func renderDocument(doc string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return doc
	}
	out, err := r.Render(doc)
	if err != nil {
		return doc
	}
	return out
}

// splitParagraphs extracts readable blocks from the markdown source, in
// order. Headings and code fences are not worth reading aloud.
func splitParagraphs(doc string) []string {
	var out []string
	for _, block := range strings.Split(doc, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" || strings.HasPrefix(block, "#") || strings.HasPrefix(block, "```") {
			continue
		}
		out = append(out, strings.Join(strings.Fields(block), " "))
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
