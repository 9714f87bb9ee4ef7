package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/fakeyudi/pocketcode/internal/gesture"
	"github.com/fakeyudi/pocketcode/internal/project"
)

// Swipe thresholds in terminal cells. A cell is far wider than a touch
// point, so the package defaults are scaled down.
const (
	swipeActivationCells = 2
	swipeCommitCells     = 20
)

// projectsTop is the screen row of the first project; each project takes
// two rows.
const projectsTop = 2

type projectsMode int

const (
	projectsList projectsMode = iota
	projectsAddPayload
	projectsAddName
	projectsRename
	projectsConfirmDelete
)

type storeChangedMsg struct{}

type projectsModel struct {
	store project.Store
	log   zerolog.Logger

	list   []project.Project
	cursor int
	mode   projectsMode
	input  textinput.Model
	qr     project.QRCodeData
	target string // project id being renamed or deleted
	alert  string

	swipe    gesture.Swipe
	swipeRow int
	pressX   int
	pressY   int

	changes chan struct{}
	width   int
	height  int
}

func newProjects(store project.Store, log zerolog.Logger) *projectsModel {
	ti := textinput.New()
	ti.CharLimit = 4096
	return &projectsModel{
		store:    store,
		log:      log,
		list:     store.List(),
		input:    ti,
		swipe:    gesture.Swipe{Activation: swipeActivationCells, Commit: swipeCommitCells},
		swipeRow: -1,
		changes:  make(chan struct{}, 1),
	}
}

// watch reloads the list whenever the store file changes on disk, for
// example after `pocketcode project add` in another terminal.
func (m *projectsModel) watch(ctx context.Context) tea.Cmd {
	go func() {
		err := project.Watch(ctx, m.store, func() {
			select {
			case m.changes <- struct{}{}:
			default:
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			m.log.Warn().Err(err).Msg("project store watch stopped")
		}
	}()
	return m.waitForChange()
}

func (m *projectsModel) waitForChange() tea.Cmd {
	ch := m.changes
	return func() tea.Msg {
		<-ch
		return storeChangedMsg{}
	}
}

func (m *projectsModel) reload() {
	selected := ""
	if m.cursor < len(m.list) {
		selected = m.list[m.cursor].ID
	}
	m.list = m.store.List()
	m.cursor = 0
	for i, p := range m.list {
		if p.ID == selected {
			m.cursor = i
		}
	}
}

func (m *projectsModel) selected() (project.Project, bool) {
	if m.cursor < 0 || m.cursor >= len(m.list) {
		return project.Project{}, false
	}
	return m.list[m.cursor], true
}

func (m *projectsModel) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(msg.Width-6, 10)
		return nil

	case storeChangedMsg:
		m.reload()
		return m.waitForChange()

	case tea.MouseMsg:
		if m.mode == projectsList {
			return m.handleMouse(msg)
		}
		return nil

	case tea.KeyMsg:
		m.alert = ""
		switch m.mode {
		case projectsList:
			return m.handleListKey(msg)
		case projectsConfirmDelete:
			return m.handleConfirmKey(msg)
		default:
			return m.handleInputKey(msg)
		}
	}
	return nil
}

func (m *projectsModel) handleListKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, keys.Quit):
		return tea.Quit
	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.list)-1 {
			m.cursor++
		}
	case key.Matches(msg, keys.Open):
		if p, ok := m.selected(); ok {
			return func() tea.Msg { return openProjectMsg{project: p} }
		}
	case key.Matches(msg, keys.Add):
		m.mode = projectsAddPayload
		m.input.SetValue("")
		m.input.Placeholder = `{"link":"https://…","auth":"…"}`
		return m.input.Focus()
	case key.Matches(msg, keys.Rename):
		if p, ok := m.selected(); ok {
			m.mode, m.target = projectsRename, p.ID
			m.input.SetValue(p.Name)
			m.input.Placeholder = "name"
			m.input.CursorEnd()
			return m.input.Focus()
		}
	case key.Matches(msg, keys.Delete):
		if p, ok := m.selected(); ok {
			m.mode, m.target = projectsConfirmDelete, p.ID
		}
	}
	return nil
}

func (m *projectsModel) handleConfirmKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, keys.Confirm):
		if err := m.store.Delete(m.target); err != nil {
			m.alert = fmt.Sprintf("Delete failed: %v", err)
		}
		m.reload()
		m.mode, m.target = projectsList, ""
	case key.Matches(msg, keys.Cancel):
		m.mode, m.target = projectsList, ""
	}
	return nil
}

func (m *projectsModel) handleInputKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyEsc:
		m.input.Blur()
		m.mode, m.target = projectsList, ""
		return nil
	case tea.KeyEnter:
		return m.submit()
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

// submit advances the add/rename dialogs. An invalid pairing payload keeps
// the dialog open so the user can paste again.
func (m *projectsModel) submit() tea.Cmd {
	value := strings.TrimSpace(m.input.Value())
	switch m.mode {
	case projectsAddPayload:
		qr, err := project.ValidateQRCodeData(value)
		if err != nil {
			m.alert = "Invalid QR code. Paste the pairing payload again."
			m.input.SetValue("")
			return nil
		}
		m.qr = qr
		m.mode = projectsAddName
		m.input.SetValue(project.DefaultName(qr.Link))
		m.input.Placeholder = "name"
		m.input.CursorEnd()
	case projectsAddName:
		p, err := m.store.Add(value, m.qr)
		if err != nil {
			m.alert = fmt.Sprintf("Saving project failed: %v", err)
			return nil
		}
		m.reload()
		for i := range m.list {
			if m.list[i].ID == p.ID {
				m.cursor = i
			}
		}
		m.input.Blur()
		m.mode, m.qr = projectsList, project.QRCodeData{}
	case projectsRename:
		if _, err := m.store.Rename(m.target, value); err != nil {
			m.alert = fmt.Sprintf("Rename failed: %v", err)
			return nil
		}
		m.reload()
		m.input.Blur()
		m.mode, m.target = projectsList, ""
	}
	return nil
}

// handleMouse drives the swipe gesture: press picks the row, motion drags it
// and a release far enough left asks to delete.
func (m *projectsModel) handleMouse(msg tea.MouseMsg) tea.Cmd {
	switch {
	case msg.Button == tea.MouseButtonWheelUp:
		if m.cursor > 0 {
			m.cursor--
		}
	case msg.Button == tea.MouseButtonWheelDown:
		if m.cursor < len(m.list)-1 {
			m.cursor++
		}
	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft:
		row := (msg.Y - projectsTop) / 2
		if msg.Y < projectsTop || row >= len(m.list) {
			m.swipeRow = -1
			return nil
		}
		m.cursor, m.swipeRow = row, row
		m.pressX, m.pressY = msg.X, msg.Y
		m.swipe.Settle()
	case msg.Action == tea.MouseActionMotion && m.swipeRow >= 0:
		m.swipe.Move(msg.X-m.pressX, msg.Y-m.pressY)
	case msg.Action == tea.MouseActionRelease && m.swipeRow >= 0:
		row := m.swipeRow
		m.swipeRow = -1
		st := m.swipe.Release(msg.X - m.pressX)
		m.swipe.Settle()
		if st == gesture.Committed && row < len(m.list) {
			m.mode, m.target = projectsConfirmDelete, m.list[row].ID
		}
	}
	return nil
}

func (m *projectsModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Width(m.width).Render("  pocketcode  projects") + "\n\n")

	if len(m.list) == 0 {
		sb.WriteString(dimStyle.Render("  No projects yet. Press a and paste a pairing payload.") + "\n")
	}
	for i, p := range m.list {
		name := fmt.Sprintf("  %s", p.Name)
		sub := dimStyle.Render(fmt.Sprintf("    %s · updated %s", p.URL, humanize.Time(p.UpdatedAt)))
		if i == m.swipeRow && m.swipe.State() == gesture.Dragging {
			pad := max(-m.swipe.Offset()-len(" delete "), 0)
			name += " " + swipeStyle.Render(strings.Repeat(" ", pad)+" delete ")
		}
		if i == m.cursor {
			name = selectedRowStyle.Render(name)
		}
		sb.WriteString(name + "\n" + sub + "\n")
	}
	sb.WriteString("\n")

	switch m.mode {
	case projectsAddPayload:
		sb.WriteString(labelStyle.Render("  Pairing payload") + "\n  " + m.input.View() + "\n")
	case projectsAddName:
		sb.WriteString(labelStyle.Render("  Project name") + dimStyle.Render("  "+m.qr.Link) + "\n  " + m.input.View() + "\n")
	case projectsRename:
		sb.WriteString(labelStyle.Render("  Rename project") + "\n  " + m.input.View() + "\n")
	case projectsConfirmDelete:
		name := m.target
		if p, err := m.store.Get(m.target); err == nil {
			name = p.Name
		}
		sb.WriteString(alertStyle.Render(fmt.Sprintf("Delete %q? y/n", name)) + "\n")
	}
	if m.alert != "" {
		sb.WriteString(alertStyle.Render(m.alert) + "\n")
	}
	return sb.String()
}

func (m *projectsModel) hints() []key.Binding {
	if m.mode != projectsList {
		return []key.Binding{keys.Open, keys.Back}
	}
	return []key.Binding{keys.Up, keys.Down, keys.Open, keys.Add, keys.Rename, keys.Delete, keys.Quit}
}
