package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/pocketcode/internal/diff"
	"github.com/fakeyudi/pocketcode/internal/export"
	"github.com/fakeyudi/pocketcode/internal/opencode"
	"github.com/fakeyudi/pocketcode/internal/transcript"
)

var (
	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))
)

type tabID int

const (
	tabSummary tabID = iota
	tabConversation
	tabTools
	tabFileEdits
	tabCount
)

var tabNames = [tabCount]string{"Summary", "Conversation", "Tools", "File Edits"}

// Viewer is a read-only browser for an exported transcript.
type Viewer struct {
	tr        *export.Transcript
	filename  string
	rows      []transcript.Row
	edits     []opencode.Part
	collapsed int

	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool

	editCursor    int
	expandedEdits map[int]bool
}

// NewViewer builds a viewer for tr. The transcript goes through the same
// reconciler as a live session so parts are ordered identically.
func NewViewer(tr *export.Transcript, filename string, collapsed int) Viewer {
	r := transcript.New(transcript.UntimedFirst)
	r.ApplySnapshot(tr.Messages)

	v := Viewer{
		tr:            tr,
		filename:      filepath.Base(filename),
		rows:          r.Rows(),
		collapsed:     collapsed,
		expandedEdits: make(map[int]bool),
	}
	for _, row := range v.rows {
		if row.Part.Type == opencode.PartTool && row.Part.Tool == "edit" && inputString(row.Part.State.Metadata, "diff") != "" {
			v.edits = append(v.edits, row.Part)
		}
	}
	return v
}

func (m Viewer) Init() tea.Cmd { return nil }

func (m Viewer) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		case "1", "2", "3", "4":
			m.activeTab = tabID(msg.String()[0] - '1')
		case "up", "k":
			if m.activeTab == tabFileEdits && m.editCursor > 0 {
				m.editCursor--
				m.rebuildFileEditsViewport()
				return m, nil
			}
		case "down", "j":
			if m.activeTab == tabFileEdits && m.editCursor < len(m.edits)-1 {
				m.editCursor++
				m.rebuildFileEditsViewport()
				return m, nil
			}
		case "enter", " ":
			if m.activeTab == tabFileEdits && len(m.edits) > 0 {
				if m.expandedEdits[m.editCursor] {
					delete(m.expandedEdits, m.editCursor)
				} else {
					m.expandedEdits[m.editCursor] = true
				}
				m.rebuildFileEditsViewport()
				return m, nil
			}
		}
		if !m.ready {
			return m, nil
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewports()
		return m, nil
	}
	return m, nil
}

func (m Viewer) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render("  pocketcode  " + m.filename)

	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	content := m.viewports[m.activeTab].View()

	hint := "  ←/→ tab  ↑/↓ scroll  1-4 jump  q quit"
	if m.activeTab == tabFileEdits {
		hint += "  ↑/↓ select  enter expand/collapse"
	}
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := max(m.width-lipgloss.Width(hint)-len(pct)-2, 1)
	statusBar := statusBarStyle.Width(m.width).Render(hint + strings.Repeat(" ", pad) + pct)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, content, statusBar)
}

func (m *Viewer) initViewports() {
	// title, tab row and status bar
	vpHeight := max(m.height-3, 1)
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

func (m *Viewer) rebuildFileEditsViewport() {
	m.viewports[tabFileEdits].SetContent(m.renderTab(tabFileEdits))
}

func (m *Viewer) renderTab(t tabID) string {
	switch t {
	case tabSummary:
		return m.renderSummary()
	case tabConversation:
		return renderRows(m.rows, nil, renderOptions{
			width:          m.width,
			collapsedLines: m.collapsed,
			markdown:       newMarkdown(m.width),
		})
	case tabTools:
		return m.renderTools()
	case tabFileEdits:
		return m.renderFileEdits()
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func (m *Viewer) renderSummary() string {
	var sb strings.Builder
	sb.WriteString(heading("Session Summary"))

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-14s", label)) + "  " + value + "\n")
	}
	title := m.tr.Session.Title
	if title == "" {
		title = dimStyle.Render("(untitled)")
	}
	row("Title:", title)
	row("Session:", m.tr.Session.ID)
	if m.tr.Server != "" {
		row("Server:", m.tr.Server)
	}
	if m.tr.Session.Time.Created != 0 {
		row("Started:", timeStyle.Render(time.UnixMilli(m.tr.Session.Time.Created).Format("2006-01-02 15:04:05")))
	}
	row("Exported:", timeStyle.Render(m.tr.ExportedAt.Local().Format("2006-01-02 15:04:05")))

	var users, assistants, tools, added, removed int
	for _, msg := range m.tr.Messages {
		if msg.Info.Role == opencode.RoleUser {
			users++
		} else {
			assistants++
		}
	}
	for _, r := range m.rows {
		if r.Part.Type == opencode.PartTool {
			tools++
		}
	}
	for _, e := range m.edits {
		a, r := diff.Stats(diff.Parse(inputString(e.State.Metadata, "diff")))
		added += a
		removed += r
	}
	row("Messages:", fmt.Sprintf("%d from you, %d from the assistant", users, assistants))
	row("Tool calls:", fmt.Sprintf("%d", tools))
	row("File edits:", fmt.Sprintf("%d (%s %s)", len(m.edits),
		diffAddStyle.Render(fmt.Sprintf("+%d", added)), diffDelStyle.Render(fmt.Sprintf("-%d", removed))))
	return sb.String()
}

func (m *Viewer) renderTools() string {
	var sb strings.Builder
	sb.WriteString(heading("Tool Calls"))
	n := 0
	for _, r := range m.rows {
		p := r.Part
		if p.Type != opencode.PartTool {
			continue
		}
		n++
		status := lipgloss.NewStyle().Foreground(statusColor(string(p.State.Status))).Render(fmt.Sprintf("%-9s", p.State.Status))
		detail := p.State.Title
		if detail == "" {
			detail = inputString(p.State.Input, "command")
		}
		if detail == "" {
			detail = inputString(p.State.Input, "filePath")
		}
		sb.WriteString(fmt.Sprintf("  %s  %s  %s\n", status, labelStyle.Render(fmt.Sprintf("%-10s", p.Tool)), detail))
	}
	if n == 0 {
		sb.WriteString(dimStyle.Render("  (no tool calls)") + "\n")
	}
	return sb.String()
}

func (m *Viewer) renderFileEdits() string {
	var sb strings.Builder
	sb.WriteString(heading("File Edits"))
	if len(m.edits) == 0 {
		sb.WriteString(dimStyle.Render("  (no file edits)") + "\n")
		return sb.String()
	}
	for i, e := range m.edits {
		path := inputString(e.State.Input, "filePath")
		if path == "" {
			path = e.State.Title
		}
		a, r := diff.Stats(diff.Parse(inputString(e.State.Metadata, "diff")))
		arrow := "▸"
		if m.expandedEdits[i] {
			arrow = "▾"
		}
		line := fmt.Sprintf("  %s %s  +%d -%d", arrow, path, a, r)
		if i == m.editCursor {
			line = selectedRowStyle.Render(line)
		}
		sb.WriteString(line + "\n")
		if m.expandedEdits[i] {
			sb.WriteString(indent(renderDiff(inputString(e.State.Metadata, "diff"), m.collapsed, true), "    ") + "\n")
		}
	}
	return sb.String()
}

// RunTranscript opens the read-only viewer for an exported transcript.
func RunTranscript(tr *export.Transcript, filename string, collapsed int) error {
	p := tea.NewProgram(NewViewer(tr, filename, collapsed), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
