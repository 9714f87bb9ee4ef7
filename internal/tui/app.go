// Package tui provides the Bubble Tea screens of pocketcode: projects,
// sessions, the live chat and the transcript viewer.
package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/fakeyudi/pocketcode/internal/config"
	"github.com/fakeyudi/pocketcode/internal/opencode"
	"github.com/fakeyudi/pocketcode/internal/project"
)

// Dialer builds the API client for a project.
type Dialer func(p project.Project) (*opencode.Client, error)

// Options are the dependencies every screen shares.
type Options struct {
	Store  project.Store
	Config config.Config
	Log    zerolog.Logger
	Dial   Dialer
}

type screen int

const (
	screenProjects screen = iota
	screenSessions
	screenChat
)

type openProjectMsg struct {
	project project.Project
}

type openSessionMsg struct {
	session opencode.Session
}

type backMsg struct{}

// App routes between the screens. Keys and mouse input go to the active
// screen; every other message is offered to each open screen, which
// ignores what is not addressed to it.
type App struct {
	ctx  context.Context
	opts Options

	screen   screen
	projects *projectsModel
	sessions *sessionsModel
	chat     *chatModel
	client   *opencode.Client
	help     help.Model
	alert    string

	width  int
	height int
	start  tea.Cmd
}

// NewApp starts on the projects screen.
func NewApp(ctx context.Context, opts Options) *App {
	a := &App{ctx: ctx, opts: opts, help: help.New()}
	a.projects = newProjects(opts.Store, opts.Log)
	a.start = a.projects.watch(ctx)
	return a
}

// NewChatApp starts directly in project p: on the chat for sessionID, or on
// the session list when sessionID is empty.
func NewChatApp(ctx context.Context, opts Options, p project.Project, sessionID string) (*App, error) {
	a := NewApp(ctx, opts)
	client, err := opts.Dial(p)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", p.Name, err)
	}
	a.client = client
	a.sessions = newSessions(ctx, client, p)
	a.screen = screenSessions
	a.start = tea.Batch(a.start, a.sessions.Init())
	if sessionID != "" {
		a.chat = newChat(ctx, client, opencode.Session{ID: sessionID}, opts.Config, opts.Log)
		a.screen = screenChat
		a.start = tea.Batch(a.start, a.chat.Init())
	}
	return a, nil
}

func (a *App) Init() tea.Cmd { return a.start }

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.help.Width = msg.Width
		return a, a.broadcast(msg)

	case tea.KeyMsg:
		a.alert = ""
		if msg.String() == "ctrl+c" {
			a.closeChat()
			return a, tea.Quit
		}
		return a, a.active(msg)

	case tea.MouseMsg:
		return a, a.active(msg)

	case openProjectMsg:
		client, err := a.opts.Dial(msg.project)
		if err != nil {
			a.alert = err.Error()
			return a, nil
		}
		a.client = client
		a.sessions = newSessions(a.ctx, client, msg.project)
		a.screen = screenSessions
		return a, tea.Batch(a.sessions.Init(), a.resizeCmd())

	case openSessionMsg:
		if a.client == nil {
			return a, nil
		}
		a.closeChat()
		a.chat = newChat(a.ctx, a.client, msg.session, a.opts.Config, a.opts.Log)
		a.screen = screenChat
		return a, tea.Batch(a.chat.Init(), a.resizeCmd())

	case backMsg:
		switch a.screen {
		case screenChat:
			a.closeChat()
			a.screen = screenSessions
			if a.sessions != nil {
				return a, a.sessions.load()
			}
		case screenSessions:
			a.screen = screenProjects
		}
		return a, nil
	}
	return a, a.broadcast(msg)
}

func (a *App) active(msg tea.Msg) tea.Cmd {
	switch a.screen {
	case screenChat:
		return a.chat.Update(msg)
	case screenSessions:
		return a.sessions.Update(msg)
	}
	return a.projects.Update(msg)
}

func (a *App) broadcast(msg tea.Msg) tea.Cmd {
	cmds := []tea.Cmd{a.projects.Update(msg)}
	if a.sessions != nil {
		cmds = append(cmds, a.sessions.Update(msg))
	}
	if a.chat != nil {
		cmds = append(cmds, a.chat.Update(msg))
	}
	return tea.Batch(cmds...)
}

// resizeCmd replays the last window size so a freshly opened screen lays
// itself out.
func (a *App) resizeCmd() tea.Cmd {
	if a.width == 0 {
		return nil
	}
	size := tea.WindowSizeMsg{Width: a.width, Height: a.height}
	return func() tea.Msg { return size }
}

func (a *App) closeChat() {
	if a.chat != nil {
		a.chat.close()
		a.chat = nil
	}
}

func (a *App) View() string {
	var body string
	var hints []key.Binding
	switch a.screen {
	case screenChat:
		return a.chat.View()
	case screenSessions:
		body, hints = a.sessions.View(), a.sessions.hints()
	default:
		body, hints = a.projects.View(), a.projects.hints()
	}
	if a.alert != "" {
		body += alertStyle.Render(a.alert) + "\n"
	}
	return body + "\n" + a.help.ShortHelpView(hints)
}

func run(ctx context.Context, a *App) error {
	p := tea.NewProgram(a, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	_, err := p.Run()
	a.closeChat()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Run opens the full interface on the projects screen.
func Run(ctx context.Context, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	return run(ctx, NewApp(ctx, opts))
}

// RunChat opens project p directly, on sessionID's chat when given.
func RunChat(ctx context.Context, opts Options, p project.Project, sessionID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a, err := NewChatApp(ctx, opts, p, sessionID)
	if err != nil {
		return err
	}
	return run(ctx, a)
}
