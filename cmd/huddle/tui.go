// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sigil-dev/huddle/internal/livequery"
	"github.com/sigil-dev/huddle/internal/model"
)

// --- lipgloss styles ---

var (
	roomStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	selfStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	senderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// roomFeed is the part of a livequery.Pager the room view reads.
type roomFeed interface {
	Snapshot() livequery.PageSnapshot
	LoadMore(ctx context.Context) error
	Changes() <-chan struct{}
}

// roomDeps wires the room view to the outside world.
type roomDeps struct {
	room string
	me   string
	feed roomFeed
	// send posts a message to the room.
	send func(ctx context.Context, text string) error
	// gate reports whether the composer may send, and why not.
	gate func(ctx context.Context) (bool, string)
}

// --- messages ---

type feedChangedMsg struct{}

type feedClosedMsg struct{}

type loadedMsg struct{ err error }

type sentMsg struct{ err error }

type gateMsg struct {
	ok     bool
	reason string
}

type roomModel struct {
	deps roomDeps

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	snap      livequery.PageSnapshot
	composing bool
	canSend   bool
	gateWhy   string
	status    string
	ready     bool
}

func newRoomModel(deps roomDeps) roomModel {
	in := textinput.New()
	in.Placeholder = "message"
	in.CharLimit = 2000
	in.Prompt = "> "

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return roomModel{
		deps:     deps,
		viewport: viewport.New(80, 20),
		input:    in,
		spinner:  sp,
		snap:     deps.feed.Snapshot(),
	}
}

func (m roomModel) Init() tea.Cmd {
	return tea.Batch(waitForFeed(m.deps.feed), m.checkGate(), m.spinner.Tick)
}

func waitForFeed(f roomFeed) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-f.Changes(); !ok {
			return feedClosedMsg{}
		}
		return feedChangedMsg{}
	}
}

func (m roomModel) checkGate() tea.Cmd {
	gate := m.deps.gate
	return func() tea.Msg {
		if gate == nil {
			return gateMsg{ok: true}
		}
		ok, why := gate(context.Background())
		return gateMsg{ok: ok, reason: why}
	}
}

func (m roomModel) loadMore() tea.Cmd {
	feed := m.deps.feed
	return func() tea.Msg {
		return loadedMsg{err: feed.LoadMore(context.Background())}
	}
}

func (m roomModel) sendText(text string) tea.Cmd {
	send := m.deps.send
	return func() tea.Msg {
		return sentMsg{err: send(context.Background(), text)}
	}
}

func (m roomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-4, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.ready = true
		m.render()
		return m, nil
	case feedChangedMsg:
		m.snap = m.deps.feed.Snapshot()
		if m.snap.Err != nil {
			m.status = m.snap.Err.Error()
		}
		m.render()
		return m, waitForFeed(m.deps.feed)
	case feedClosedMsg:
		return m, nil
	case loadedMsg:
		if msg.err != nil {
			m.status = "loading older messages failed: " + msg.err.Error()
		}
		return m, nil
	case sentMsg:
		if msg.err != nil {
			m.status = "send failed: " + msg.err.Error()
		} else {
			m.status = ""
		}
		// Blocks can change while the room is open.
		return m, m.checkGate()
	case gateMsg:
		m.canSend, m.gateWhy = msg.ok, msg.reason
		if !m.canSend && m.composing {
			m.composing = false
			m.input.Blur()
			m.status = m.gateWhy
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m roomModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	if m.composing {
		switch msg.Type {
		case tea.KeyEsc:
			m.composing = false
			m.input.Blur()
			return m, nil
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			if !m.canSend {
				m.status = m.gateWhy
				return m, nil
			}
			m.input.Reset()
			return m, m.sendText(text)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "up", "k":
		if m.snap.Loading || !m.snap.HasMore {
			return m, nil
		}
		m.snap.Loading = true
		return m, m.loadMore()
	case "pgup":
		m.viewport.HalfViewUp()
		return m, nil
	case "pgdown", "down", "j":
		m.viewport.HalfViewDown()
		return m, nil
	case "i", "enter":
		if !m.canSend {
			m.status = m.gateWhy
			return m, nil
		}
		m.composing = true
		m.status = ""
		return m, m.input.Focus()
	}
	return m, nil
}

// render rebuilds the transcript, oldest first, and keeps the newest
// message in view.
func (m *roomModel) render() {
	var b strings.Builder
	if !m.snap.HasMore && m.snap.State == livequery.PageExhausted {
		b.WriteString(dimStyle.Render("start of #"+m.deps.room) + "\n")
	}
	for _, d := range m.snap.Documents {
		msg, err := model.Decode[model.Message](d)
		if err != nil {
			b.WriteString(dimStyle.Render("(unreadable message)") + "\n")
			continue
		}
		b.WriteString(m.line(msg) + "\n")
	}
	m.viewport.SetContent(strings.TrimSuffix(b.String(), "\n"))
	m.viewport.GotoBottom()
}

func (m roomModel) line(msg model.Message) string {
	at := dimStyle.Render(time.UnixMilli(msg.CreatedAt).Format("15:04"))
	if msg.Kind == model.MessageSystem {
		return at + " " + dimStyle.Render(msg.Text)
	}
	who := senderStyle.Render(msg.SenderID)
	if msg.SenderID == m.deps.me {
		who = selfStyle.Render(msg.SenderID)
	}
	return fmt.Sprintf("%s %s %s", at, who, msg.Text)
}

func (m roomModel) View() string {
	var b strings.Builder

	header := roomStyle.Render("#"+m.deps.room) + dimStyle.Render(" as "+m.deps.me)
	if m.snap.Loading {
		header += " " + m.spinner.View()
	}
	b.WriteString(header + "\n")
	b.WriteString(m.viewport.View() + "\n")

	switch {
	case m.status != "":
		b.WriteString(errorStyle.Render(m.status) + "\n")
	default:
		b.WriteString("\n")
	}

	if m.composing {
		b.WriteString(m.input.View())
	} else {
		b.WriteString(dimStyle.Render("i: write  k/↑: older  q: quit"))
	}
	return b.String()
}
