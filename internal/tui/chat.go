package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fakeyudi/pocketcode/internal/config"
	"github.com/fakeyudi/pocketcode/internal/opencode"
	"github.com/fakeyudi/pocketcode/internal/permission"
	"github.com/fakeyudi/pocketcode/internal/transcript"
)

const composerHeight = 3

// streamEventMsg carries one event from the chat's stream. The stream
// pointer tells a live chat apart from one that was already closed.
type streamEventMsg struct {
	stream *opencode.Stream
	ev     opencode.Event
}

type streamClosedMsg struct {
	stream *opencode.Stream
}

type snapshotMsg struct {
	sessionID string
	messages  []opencode.Message
	providers *opencode.ProvidersResponse
	err       error
}

type chatSentMsg struct {
	sessionID string
	err       error
}

type permissionSentMsg struct {
	sessionID    string
	permissionID string
	err          error
}

type yankedMsg struct {
	err error
}

type chatModel struct {
	ctx     context.Context
	cancel  context.CancelFunc
	client  *opencode.Client
	session opencode.Session
	cfg     config.Config
	log     zerolog.Logger

	rec    *transcript.Reconciler
	perms  *permission.Set
	stream *opencode.Stream

	viewport viewport.Model
	composer textarea.Model
	spinner  spinner.Model
	markdown *glamour.TermRenderer

	conn         opencode.ConnectionChanged
	loading      bool
	loaded       bool
	sending      int
	providers    *opencode.ProvidersResponse
	expandDiffs  bool
	onTranscript bool
	alert        string
	notice       string

	// pending holds transcript events applied while a snapshot was in
	// flight; they are replayed over the snapshot when it lands.
	pending []opencode.Event

	width  int
	height int
	ready  bool
}

func newChat(parent context.Context, client *opencode.Client, s opencode.Session, cfg config.Config, log zerolog.Logger) *chatModel {
	ctx, cancel := context.WithCancel(parent)

	ta := textarea.New()
	ta.Placeholder = "Message the agent…"
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(composerHeight)
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"))
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &chatModel{
		ctx:     ctx,
		cancel:  cancel,
		client:  client,
		session: s,
		cfg:     cfg,
		log:     log.With().Str("session", s.ID).Logger(),
		rec:     transcript.New(cfg.UntimedPolicy()),
		perms:   permission.NewSet(),
		stream: client.NewStream(opencode.StreamOptions{
			SessionID:        s.ID,
			ReconnectInitial: cfg.ReconnectInitial,
			ReconnectMax:     cfg.ReconnectMax,
		}),
		composer: ta,
		spinner:  sp,
		conn:     opencode.ConnectionChanged{State: opencode.ConnConnecting},
		loading:  true,
	}
}

func (m *chatModel) Init() tea.Cmd {
	stream, ctx := m.stream, m.ctx
	run := func() tea.Msg {
		_ = stream.Run(ctx)
		return nil
	}
	return tea.Batch(run, waitForEvent(stream), m.spinner.Tick, textarea.Blink)
}

// close cancels the stream. Messages still in flight for this chat are
// ignored by whoever receives them.
func (m *chatModel) close() {
	m.cancel()
}

func waitForEvent(s *opencode.Stream) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-s.Events()
		if !ok {
			return streamClosedMsg{stream: s}
		}
		return streamEventMsg{stream: s, ev: ev}
	}
}

// loadSnapshot fetches the transcript and, the first time, the provider
// list in parallel.
func (m *chatModel) loadSnapshot() tea.Cmd {
	m.loading = true
	ctx, client, id := m.ctx, m.client, m.session.ID
	needProviders := m.providers == nil
	return func() tea.Msg {
		var (
			msg snapshotMsg
			g   errgroup.Group
		)
		msg.sessionID = id
		g.Go(func() error {
			msgs, err := client.Messages(ctx, id)
			if err != nil {
				return fmt.Errorf("loading messages: %w", err)
			}
			msg.messages = msgs
			return nil
		})
		if needProviders {
			g.Go(func() error {
				p, err := client.Providers(ctx)
				if err != nil {
					return fmt.Errorf("loading providers: %w", err)
				}
				msg.providers = p
				return nil
			})
		}
		msg.err = g.Wait()
		return msg
	}
}

func (m *chatModel) model() (string, string, bool) {
	return opencode.DefaultModel(m.providers, m.cfg.ProviderID, m.cfg.ModelID)
}

func (m *chatModel) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return nil

	case streamEventMsg:
		if msg.stream != m.stream {
			return nil
		}
		return tea.Batch(waitForEvent(m.stream), m.handleEvent(msg.ev))

	case streamClosedMsg:
		return nil

	case snapshotMsg:
		if msg.sessionID != m.session.ID {
			return nil
		}
		m.loading = false
		pending := m.pending
		m.pending = nil
		if msg.providers != nil {
			m.providers = msg.providers
		}
		if msg.err != nil {
			if !errors.Is(msg.err, context.Canceled) {
				m.alert = msg.err.Error()
			}
			return nil
		}
		m.rec.ApplySnapshot(msg.messages)
		for _, ev := range pending {
			m.rec.Apply(ev)
		}
		m.refresh()
		if !m.loaded && m.ready {
			m.loaded = true
			m.viewport.GotoBottom()
		}
		return nil

	case chatSentMsg:
		if msg.sessionID != m.session.ID {
			return nil
		}
		m.sending = max(m.sending-1, 0)
		if msg.err != nil {
			m.alert = fmt.Sprintf("Sending failed: %v", msg.err)
		}
		return nil

	case permissionSentMsg:
		if msg.sessionID != m.session.ID {
			return nil
		}
		if msg.err != nil {
			m.alert = msg.err.Error()
			return nil
		}
		m.perms.Remove(msg.permissionID)
		m.refresh()
		return nil

	case yankedMsg:
		if msg.err != nil {
			m.alert = fmt.Sprintf("Copy failed: %v", msg.err)
		} else {
			m.notice = "Copied last reply"
		}
		return nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.busy() {
			m.refresh()
		}
		return cmd

	case tea.KeyMsg:
		m.alert, m.notice = "", ""
		if m.onTranscript {
			return m.handleTranscriptKey(msg)
		}
		return m.handleComposerKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return cmd
	}

	if !m.onTranscript {
		var cmd tea.Cmd
		m.composer, cmd = m.composer.Update(msg)
		return cmd
	}
	return nil
}

func (m *chatModel) handleEvent(ev opencode.Event) tea.Cmd {
	if cc, ok := ev.(opencode.ConnectionChanged); ok {
		m.conn = cc
		switch cc.State {
		case opencode.ConnConnected:
			// The first connect loads the transcript; later ones recover
			// whatever was missed while disconnected.
			m.log.Debug().Int("attempt", cc.Attempt).Msg("stream connected")
			return m.loadSnapshot()
		case opencode.ConnDisconnected:
			m.log.Info().Err(cc.Err).Msg("stream disconnected")
		}
		return nil
	}

	if m.loading {
		switch ev.(type) {
		case opencode.MessageUpdated, opencode.PartUpdated:
			m.pending = append(m.pending, ev)
		}
	}
	changed := m.rec.Apply(ev)
	if m.perms.Apply(ev) {
		changed = true
		if _, ok := ev.(opencode.PermissionUpdated); ok && strings.TrimSpace(m.composer.Value()) == "" {
			m.focusTranscript()
		}
	}
	if changed {
		m.refresh()
	}
	return nil
}

func (m *chatModel) handleComposerKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case msg.String() == "ctrl+c":
		return tea.Quit
	case key.Matches(msg, keys.Back), msg.Type == tea.KeyTab:
		m.focusTranscript()
		return nil
	case key.Matches(msg, keys.Send):
		return m.send()
	}
	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return cmd
}

func (m *chatModel) handleTranscriptKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, keys.Quit):
		return tea.Quit
	case key.Matches(msg, keys.Back):
		return func() tea.Msg { return backMsg{} }
	case key.Matches(msg, keys.Focus), msg.Type == tea.KeyEnter:
		m.onTranscript = false
		return m.composer.Focus()
	case key.Matches(msg, keys.Accept):
		return m.respond(permission.Accept)
	case key.Matches(msg, keys.AcceptAlways):
		return m.respond(permission.AcceptAlways)
	case key.Matches(msg, keys.Reject):
		return m.respond(permission.Reject)
	case key.Matches(msg, keys.Expand):
		m.expandDiffs = !m.expandDiffs
		m.refresh()
		return nil
	case key.Matches(msg, keys.Yank):
		text, ok := m.rec.LastAssistantText()
		if !ok {
			m.alert = "Nothing to copy yet"
			return nil
		}
		return func() tea.Msg { return yankedMsg{err: clipboard.WriteAll(text)} }
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return cmd
}

func (m *chatModel) focusTranscript() {
	m.onTranscript = true
	m.composer.Blur()
}

// send posts the composer text without waiting for the reply; the reply
// arrives over the stream.
func (m *chatModel) send() tea.Cmd {
	text := strings.TrimSpace(m.composer.Value())
	if text == "" {
		return nil
	}
	providerID, modelID, ok := m.model()
	if !ok {
		m.alert = "No model available. Set provider_id and model_id in the config."
		return nil
	}
	m.composer.Reset()
	m.sending++
	ctx, client, id := m.ctx, m.client, m.session.ID
	return func() tea.Msg {
		return chatSentMsg{sessionID: id, err: client.Chat(ctx, id, providerID, modelID, text)}
	}
}

// pendingPermission picks the permission the keys act on: the first one
// whose tool part is on screen, else the oldest.
func (m *chatModel) pendingPermission() (opencode.Permission, bool) {
	for _, row := range m.rec.Rows() {
		if row.Part.Type != opencode.PartTool {
			continue
		}
		if c := m.perms.Correlate(row.Part); c.RequiresPermission {
			return c.Permission, true
		}
	}
	live := m.perms.Live()
	if len(live) == 0 {
		return opencode.Permission{}, false
	}
	return live[0], true
}

// respond sends the answer off the update loop; the permission is removed
// when permissionSentMsg reports success.
func (m *chatModel) respond(resp permission.Response) tea.Cmd {
	p, ok := m.pendingPermission()
	if !ok {
		return nil
	}
	ctx, client, id := m.ctx, m.client, m.session.ID
	return func() tea.Msg {
		err := permission.Send(ctx, client, id, p, resp)
		return permissionSentMsg{sessionID: id, permissionID: p.ID, err: err}
	}
}

// busy reports whether anything on screen animates with the spinner.
func (m *chatModel) busy() bool {
	if m.sending > 0 {
		return true
	}
	for _, row := range m.rec.Rows() {
		switch {
		case row.Part.Type == opencode.PartLoading:
			return true
		case row.Part.Type == opencode.PartTool &&
			(row.Part.State.Status == opencode.ToolRunning || row.Part.State.Status == opencode.ToolPending):
			return true
		}
	}
	return false
}

func (m *chatModel) resize(w, h int) {
	m.width, m.height = w, h
	// title, banner, separator, composer, status bar
	vpHeight := max(h-3-composerHeight-1, 1)
	if !m.ready {
		m.viewport = viewport.New(w, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width, m.viewport.Height = w, vpHeight
	}
	m.composer.SetWidth(w)
	m.markdown = newMarkdown(w)
	m.refresh()
}

// refresh re-renders the transcript, following the bottom when new content
// arrived while the user was already there.
func (m *chatModel) refresh() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(renderRows(m.rec.Rows(), m.perms, renderOptions{
		width:          m.width,
		collapsedLines: m.cfg.DiffCollapsedLines,
		expandDiffs:    m.expandDiffs,
		spinner:        m.spinner.View(),
		markdown:       m.markdown,
	}))
	select {
	case <-m.rec.ContentArrived():
		if atBottom {
			m.viewport.GotoBottom()
		}
	default:
	}
}

// banner describes the connection when it is anything but healthy.
func (m *chatModel) banner() string {
	switch m.conn.State {
	case opencode.ConnConnecting:
		return bannerWarnStyle.Width(m.width).Render("Connecting to " + m.client.BaseURL() + "…")
	case opencode.ConnDisconnected:
		text := "Disconnected"
		if m.conn.Err != nil {
			text += ": " + m.conn.Err.Error()
		}
		return bannerErrStyle.Width(m.width).Render(text)
	case opencode.ConnReconnecting:
		return bannerWarnStyle.Width(m.width).Render(
			fmt.Sprintf("Reconnecting in %s (attempt %d)…", m.conn.Delay.Round(100*time.Millisecond), m.conn.Attempt))
	}
	info := "connected"
	if p, mdl, ok := m.model(); ok {
		info += " · " + p + "/" + mdl
	}
	if m.loading {
		info += " · " + m.spinner.View() + " syncing"
	}
	return dimStyle.Width(m.width).Render(" " + info)
}

func (m *chatModel) View() string {
	if !m.ready {
		return "Loading…"
	}
	title := titleStyle.Width(m.width).Render("  " + sessionTitle(m.session))
	sep := dimStyle.Render(strings.Repeat("─", m.width))

	var status string
	switch {
	case m.alert != "":
		status = alertStyle.Width(m.width).Render(m.alert)
	case m.notice != "":
		status = statusBarStyle.Width(m.width).Render(m.notice)
	default:
		hint := "enter send  tab transcript  esc back"
		if m.onTranscript {
			hint = "tab compose  e diffs  y copy  esc back"
			if m.perms.Len() > 0 {
				hint = "a accept  A always  r reject  " + hint
			}
		}
		if m.sending > 0 {
			hint = m.spinner.View() + " sending  " + hint
		}
		status = statusBarStyle.Width(m.width).Render(hint)
	}
	return strings.Join([]string{title, m.banner(), m.viewport.View(), sep, m.composer.View(), status}, "\n")
}
