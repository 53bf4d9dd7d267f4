// Package tui renders the chat loop in the terminal: narrative text as
// markdown, dispatched tools as bullets, results fed back inline.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/fatih/color"

	"toolcall/internal/conversation"
	"toolcall/internal/engine"
	"toolcall/internal/logger"
)

type conversationMsg struct {
	err  error
	done bool
}

func waitConversationCmd(subscription <-chan conversation.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-subscription
		if !ok {
			return conversationMsg{done: true}
		}
		switch event := event.(type) {
		case *conversation.ErrorEvent:
			return conversationMsg{err: event.Err}
		default:
			return conversationMsg{}
		}
	}
}

type Model struct {
	logger    logger.Logger
	modelName string

	viewport  viewport.Model
	textinput textinput.Model

	conversation *conversation.Conversation
	subscription <-chan conversation.Event
	unsubscribe  func()

	cancelFunc context.CancelFunc
}

func Initial(logger logger.Logger, conv *conversation.Conversation, modelName string) Model {
	m := Model{
		logger:       logger,
		modelName:    modelName,
		conversation: conv,
	}
	m.subscription, m.unsubscribe = conv.Subscribe()
	// init the viewport
	vp := viewport.New(0, 0)
	vp.KeyMap.Up.SetKeys("up")
	vp.KeyMap.Down.SetKeys("down")
	vp.KeyMap.PageUp.SetEnabled(false)
	vp.KeyMap.PageDown.SetEnabled(false)
	vp.KeyMap.HalfPageUp.SetEnabled(false)
	vp.KeyMap.HalfPageDown.SetEnabled(false)
	m.viewport = vp
	// init the textinput
	ti := textinput.New()
	ti.Prompt = "❯ "
	ti.Placeholder = "ask anything"
	ti.Focus()
	ti.CharLimit = 1024
	m.textinput = ti
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitConversationCmd(m.subscription))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(conversationMsg); ok {
		if msg.done {
			return m, nil
		}
		if msg.err != nil {
			if !errors.Is(msg.err, context.Canceled) {
				m.logger.Error(msg.err.Error())
			}
			return m, waitConversationCmd(m.subscription)
		}
		m.viewport.SetContent(m.renderContent())
		if m.viewport.PastBottom() {
			m.viewport.GotoBottom()
		}
		return m, waitConversationCmd(m.subscription)
	}
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			if m.cancelFunc != nil {
				m.cancelFunc()
			}
			if m.unsubscribe != nil {
				m.unsubscribe()
			}
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEsc {
			if m.conversation.Running() && m.cancelFunc != nil {
				m.cancelFunc()
				m.cancelFunc = nil
				return m, nil
			}
		}
		if msg.Type == tea.KeyEnter {
			if strings.HasPrefix(m.textinput.Value(), "/") {
				m.handleSlashCommand()
				return m, nil
			}
			if strings.TrimSpace(m.textinput.Value()) == "" {
				return m, nil
			}
			ctx, cancel := context.WithCancel(context.Background())
			m.cancelFunc = cancel
			m.conversation.Send(ctx, m.textinput.Value())
			m.textinput.Reset()
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 4
		m.viewport.SetContent(m.renderContent())
		if m.viewport.PastBottom() {
			m.viewport.GotoBottom()
		}
		m.textinput.Width = msg.Width - 3
		return m, nil
	}
	var cmd1, cmd2 tea.Cmd
	m.viewport, cmd1 = m.viewport.Update(msg)
	m.textinput, cmd2 = m.textinput.Update(msg)
	return m, tea.Batch(cmd1, cmd2)
}

func (m Model) View() string {
	var s string
	s += m.viewport.View()
	s += "\n\n" + m.textinput.View()
	s += "\n\n" + color.New(color.Faint).Sprint(m.renderFooter())
	return s
}

func (m Model) renderContent() string {
	var s string
	messages, _ := m.conversation.GetState()
	for i, msg := range messages {
		switch msg.Role {
		case engine.RoleUser:
			if i > 0 {
				s += "\n\n"
			}
			content := wrapWithPrefix("› "+msg.Content, "", m.viewport.Width)
			s += color.New(color.Faint).Sprint(strings.TrimSpace(content))
		case engine.RoleAssistant:
			if msg.Content == "" {
				continue
			}
			if i > 0 {
				s += "\n\n"
			}
			s += m.renderMarkdown(msg.Content)
		case engine.RoleTool:
			if i > 0 {
				s += "\n\n"
			}
			s += m.renderToolResult(msg)
		}
	}
	return s
}

func (m Model) renderToolResult(msg engine.Message) string {
	bullet := color.New(color.FgYellow).Sprint("●")
	name := msg.Tool
	if name == "" {
		name = "tool call"
	}
	if strings.HasPrefix(msg.Content, "Error:") {
		bullet = color.New(color.FgRed).Sprint("●")
	}
	s := bullet + color.New(color.Bold).Sprintf(" %s", name)
	preview := strings.SplitN(strings.TrimSpace(msg.Content), "\n", 2)[0]
	if preview != "" {
		s += "\n" + color.New(color.Faint).Sprint(wrapWithPrefix(preview, "  ", m.viewport.Width))
	}
	return s
}

func (m Model) renderMarkdown(content string) string {
	var margin uint = 0
	dark := styles.DarkStyleConfig
	dark.Document.Color = nil
	dark.Document.Margin = &margin
	dark.H1 = dark.H2
	dark.H1.Prefix = "# "
	dark.Code.Prefix = ""
	dark.Code.Suffix = ""
	renderer, _ := glamour.NewTermRenderer(
		glamour.WithStyles(dark),
		glamour.WithWordWrap(m.viewport.Width),
	)
	markdown, _ := renderer.Render(strings.TrimSpace(content))
	return strings.TrimSpace(markdown)
}

func (m Model) renderFooter() string {
	if value := m.textinput.Value(); strings.HasPrefix(value, "/") {
		return strings.Join(m.listSlashCommands(), ", ")
	}
	_, usage := m.conversation.GetState()
	meta := fmt.Sprintf("%s, tokens: %d", m.modelName, usage.PromptTokens+usage.CompletionTokens)
	if m.conversation.Running() {
		return "working... esc to cancel. (" + meta + ")"
	}
	return "ctrl+c to quit. (" + meta + ")"
}

// slash commands ----------------------------------------------------------------------------------

func (m Model) listSlashCommands() []string {
	return []string{
		"clear",
	}
}

func (m *Model) handleSlashCommand() {
	defer m.textinput.Reset()
	fields := strings.Fields(m.textinput.Value())
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "/clear":
		m.conversation.Reset()
		m.viewport.SetContent(m.renderContent())
	}
}
