package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/fakeyudi/pocketcode/internal/opencode"
	"github.com/fakeyudi/pocketcode/internal/project"
)

type sessionsLoadedMsg struct {
	projectID string
	sessions  []opencode.Session
	err       error
}

type sessionCreatedMsg struct {
	projectID string
	session   *opencode.Session
	err       error
}

type sessionDeletedMsg struct {
	projectID string
	id        string
	err       error
}

type sessionsModel struct {
	ctx     context.Context
	client  *opencode.Client
	project project.Project

	all           []opencode.Session
	cursor        int
	showChildren  bool
	loading       bool
	confirmDelete string
	alert         string
	spinner       spinner.Model

	width  int
	height int
}

func newSessions(ctx context.Context, client *opencode.Client, p project.Project) *sessionsModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &sessionsModel{ctx: ctx, client: client, project: p, spinner: sp}
}

func (m *sessionsModel) Init() tea.Cmd {
	return tea.Batch(m.load(), m.spinner.Tick)
}

func (m *sessionsModel) load() tea.Cmd {
	m.loading = true
	ctx, client, id := m.ctx, m.client, m.project.ID
	return func() tea.Msg {
		sessions, err := client.ListSessions(ctx)
		return sessionsLoadedMsg{projectID: id, sessions: sessions, err: err}
	}
}

// visible returns the sessions to list, newest first. Child sessions
// spawned by subagents are hidden unless toggled on.
func (m *sessionsModel) visible() []opencode.Session {
	var out []opencode.Session
	for _, s := range m.all {
		if s.ParentID != "" && !m.showChildren {
			continue
		}
		out = append(out, s)
	}
	return out
}

func sortSessions(s []opencode.Session) {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Time.Updated > s[j].Time.Updated
	})
}

func (m *sessionsModel) selected() (opencode.Session, bool) {
	v := m.visible()
	if m.cursor < 0 || m.cursor >= len(v) {
		return opencode.Session{}, false
	}
	return v[m.cursor], true
}

func (m *sessionsModel) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case spinner.TickMsg:
		if !m.loading {
			return nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return cmd

	case sessionsLoadedMsg:
		if msg.projectID != m.project.ID {
			return nil
		}
		m.loading = false
		if msg.err != nil {
			m.alert = fmt.Sprintf("Loading sessions failed: %v", msg.err)
			return nil
		}
		m.all = msg.sessions
		sortSessions(m.all)
		m.cursor = min(m.cursor, max(len(m.visible())-1, 0))

	case sessionCreatedMsg:
		if msg.projectID != m.project.ID {
			return nil
		}
		m.loading = false
		if msg.err != nil {
			m.alert = fmt.Sprintf("Creating session failed: %v", msg.err)
			return nil
		}
		s := *msg.session
		m.all = append([]opencode.Session{s}, m.all...)
		m.cursor = 0
		return func() tea.Msg { return openSessionMsg{session: s} }

	case sessionDeletedMsg:
		if msg.projectID != m.project.ID {
			return nil
		}
		m.loading = false
		if msg.err != nil {
			m.alert = fmt.Sprintf("Deleting session failed: %v", msg.err)
			return nil
		}
		for i, s := range m.all {
			if s.ID == msg.id {
				m.all = append(m.all[:i], m.all[i+1:]...)
				break
			}
		}
		m.cursor = min(m.cursor, max(len(m.visible())-1, 0))

	case tea.KeyMsg:
		m.alert = ""
		if m.confirmDelete != "" {
			return m.handleConfirmKey(msg)
		}
		return m.handleKey(msg)
	}
	return nil
}

func (m *sessionsModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, keys.Quit):
		return tea.Quit
	case key.Matches(msg, keys.Back):
		return func() tea.Msg { return backMsg{} }
	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.visible())-1 {
			m.cursor++
		}
	case key.Matches(msg, keys.Open):
		if s, ok := m.selected(); ok {
			return func() tea.Msg { return openSessionMsg{session: s} }
		}
	case key.Matches(msg, keys.New):
		if m.loading {
			return nil
		}
		m.loading = true
		ctx, client, id := m.ctx, m.client, m.project.ID
		return tea.Batch(m.spinner.Tick, func() tea.Msg {
			s, err := client.CreateSession(ctx)
			return sessionCreatedMsg{projectID: id, session: s, err: err}
		})
	case key.Matches(msg, keys.Delete):
		if s, ok := m.selected(); ok {
			m.confirmDelete = s.ID
		}
	case key.Matches(msg, keys.Refresh):
		return tea.Batch(m.load(), m.spinner.Tick)
	case key.Matches(msg, keys.Children):
		m.showChildren = !m.showChildren
		m.cursor = 0
	}
	return nil
}

func (m *sessionsModel) handleConfirmKey(msg tea.KeyMsg) tea.Cmd {
	id := m.confirmDelete
	switch {
	case key.Matches(msg, keys.Confirm):
		m.confirmDelete = ""
		m.loading = true
		ctx, client, pid := m.ctx, m.client, m.project.ID
		return tea.Batch(m.spinner.Tick, func() tea.Msg {
			return sessionDeletedMsg{projectID: pid, id: id, err: client.DeleteSession(ctx, id)}
		})
	case key.Matches(msg, keys.Cancel):
		m.confirmDelete = ""
	}
	return nil
}

func sessionTitle(s opencode.Session) string {
	if strings.TrimSpace(s.Title) != "" {
		return s.Title
	}
	return s.ID
}

func (m *sessionsModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Width(m.width).Render("  "+m.project.Name+"  sessions") + "\n\n")

	v := m.visible()
	if len(v) == 0 && !m.loading {
		sb.WriteString(dimStyle.Render("  No sessions. Press n to start one.") + "\n")
	}
	for i, s := range v {
		line := "  " + sessionTitle(s)
		if s.ParentID != "" {
			line = "  ↳ " + sessionTitle(s)
		}
		if i == m.cursor {
			line = selectedRowStyle.Render(line)
		}
		when := ""
		if s.Time.Updated != 0 {
			when = humanize.Time(time.UnixMilli(s.Time.Updated))
		}
		sb.WriteString(line + "  " + timeStyle.Render(when) + "\n")
	}
	sb.WriteString("\n")
	if m.loading {
		sb.WriteString("  " + m.spinner.View() + dimStyle.Render(" working") + "\n")
	}
	if m.confirmDelete != "" {
		title := m.confirmDelete
		for _, s := range m.all {
			if s.ID == m.confirmDelete {
				title = sessionTitle(s)
			}
		}
		sb.WriteString(alertStyle.Render(fmt.Sprintf("Delete session %q? y/n", title)) + "\n")
	}
	if m.alert != "" {
		sb.WriteString(alertStyle.Render(m.alert) + "\n")
	}
	return sb.String()
}

func (m *sessionsModel) hints() []key.Binding {
	return []key.Binding{keys.Open, keys.New, keys.Delete, keys.Refresh, keys.Children, keys.Back, keys.Quit}
}
