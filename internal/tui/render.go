package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"

	"github.com/fakeyudi/pocketcode/internal/diff"
	"github.com/fakeyudi/pocketcode/internal/opencode"
	"github.com/fakeyudi/pocketcode/internal/permission"
	"github.com/fakeyudi/pocketcode/internal/transcript"
)

// Truncation limits for tool bodies.
const (
	bashOutputLines   = 15
	writeContentLines = 10
	readPreviewLines  = 5
	defaultToolLines  = 5
)

// renderOptions carries everything the transcript renderer needs that is
// not in the rows themselves.
type renderOptions struct {
	width          int
	collapsedLines int
	expandDiffs    bool
	spinner        string
	markdown       *glamour.TermRenderer
}

// newMarkdown builds a glamour renderer wrapping at width. A nil renderer
// falls back to plain wrapped text.
func newMarkdown(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(max(width-4, 20)),
	)
	if err != nil {
		return nil
	}
	return r
}

// renderRows draws the whole transcript.
func renderRows(rows []transcript.Row, perms *permission.Set, opts renderOptions) string {
	if len(rows) == 0 {
		return dimStyle.Render("  No messages yet. Say something below.") + "\n"
	}
	var sb strings.Builder
	for _, row := range rows {
		if row.First {
			sb.WriteString("\n" + renderHeader(row.Message) + "\n")
		}
		sb.WriteString(renderPart(row, perms, opts))
	}
	return sb.String()
}

func renderHeader(info opencode.MessageInfo) string {
	if info.Role == opencode.RoleUser {
		return userHeaderStyle.Render("You")
	}
	h := assistantHeaderStyle.Render("Assistant")
	if info.ModelID != "" {
		h += dimStyle.Render(" · " + info.ModelID)
	}
	return h
}

func renderPart(row transcript.Row, perms *permission.Set, opts renderOptions) string {
	p := row.Part
	switch p.Type {
	case opencode.PartLoading:
		return dimStyle.Render("  "+opts.spinner+" thinking") + "\n"
	case opencode.PartText:
		return renderText(p.Text, opts) + "\n"
	case opencode.PartReasoning:
		return indent(reasoningStyle.Render(wrap(strings.TrimSpace(p.Text), opts.width-4)), "  ") + "\n\n"
	case opencode.PartTool:
		var c permission.Correlation
		if perms != nil {
			c = perms.Correlate(p)
		}
		return renderTool(p, c, opts) + "\n"
	}
	return ""
}

func renderText(text string, opts renderOptions) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if opts.markdown != nil {
		if out, err := opts.markdown.Render(text); err == nil {
			return strings.TrimRight(out, "\n")
		}
	}
	return indent(wrap(text, opts.width-4), "  ")
}

// renderTool draws one tool invocation with its status, body, and a
// permission prompt when one is pending for it.
func renderTool(p opencode.Part, c permission.Correlation, opts renderOptions) string {
	var body string
	switch p.Tool {
	case "bash":
		body = renderBash(p, opts)
	case "edit":
		body = renderEdit(p, c, opts)
	case "write":
		body = renderWrite(p, opts)
	case "todowrite", "todoread":
		body = renderTodos(p)
	case "read":
		body = renderRead(p, opts)
	default:
		body = renderDefault(p, opts)
	}

	title := toolTitleStyle.Render(toolStatusText(p))
	if opts.spinner != "" && (p.State.Status == opencode.ToolRunning || p.State.Status == opencode.ToolPending) {
		title = opts.spinner + " " + title
	}
	var sb strings.Builder
	sb.WriteString(title + "\n")
	if body != "" {
		sb.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			sb.WriteString("\n")
		}
	}
	if p.State.Error != "" {
		sb.WriteString(errorTextStyle.Render(wrap(p.State.Error, opts.width-6)) + "\n")
	}
	if c.RequiresPermission {
		label := c.Permission.Title
		if label == "" {
			label = "Permission required"
		}
		sb.WriteString(permStyle.Render("⚠ "+label) + "  " + hintStyle.Render("a accept  A always  r reject") + "\n")
	}

	box := toolBoxStyle.BorderForeground(statusColor(string(p.State.Status)))
	return indent(box.Render(strings.TrimRight(sb.String(), "\n")), "  ")
}

// toolStatusText is the heading of a tool block.
func toolStatusText(p opencode.Part) string {
	status := p.State.Status
	verbs := map[string][4]string{
		// completed, error, running, pending
		"bash":  {"Command completed", "Command failed", "Running command...", "Preparing command..."},
		"edit":  {"Edit completed", "Edit failed", "Editing...", "Preparing edit..."},
		"write": {"Write completed", "Write failed", "Writing...", "Preparing write..."},
	}
	if v, ok := verbs[p.Tool]; ok {
		if p.Tool == "bash" && status == opencode.ToolPending {
			if d := inputString(p.State.Input, "description"); d != "" {
				return d
			}
		}
		switch status {
		case opencode.ToolCompleted:
			return v[0]
		case opencode.ToolError:
			return v[1]
		case opencode.ToolRunning:
			return v[2]
		case opencode.ToolPending:
			return v[3]
		}
	}
	name := toolName(p.Tool)
	if p.Tool == "todowrite" || p.Tool == "todoread" {
		name = "Todos"
	}
	if status == opencode.ToolPending {
		return name + "..."
	}
	return name
}

func toolName(tool string) string {
	if tool == "" {
		return "Tool"
	}
	return strings.ToUpper(tool[:1]) + tool[1:]
}

func renderBash(p opencode.Part, opts renderOptions) string {
	var sb strings.Builder
	if cmd := inputString(p.State.Input, "command"); cmd != "" {
		sb.WriteString(labelStyle.Render("$ ") + cmd + "\n")
	}
	if d := inputString(p.State.Input, "description"); d != "" && p.State.Status != opencode.ToolPending {
		sb.WriteString(dimStyle.Render(d) + "\n")
	}
	stdout := inputString(p.State.Metadata, "stdout")
	stderr := inputString(p.State.Metadata, "stderr")
	if stdout == "" && stderr == "" {
		stdout = p.State.Output
	}
	if stdout != "" {
		out, _ := truncateLines(stdout, bashOutputLines, "... (truncated)")
		sb.WriteString(wrap(out, opts.width-6) + "\n")
	}
	if stderr != "" {
		out, _ := truncateLines(stderr, bashOutputLines, "... (truncated)")
		sb.WriteString(errorTextStyle.Render(wrap(out, opts.width-6)) + "\n")
	}
	return sb.String()
}

func renderEdit(p opencode.Part, c permission.Correlation, opts renderOptions) string {
	meta := permission.MergedMetadata(p.State.Metadata, c)
	path := inputString(p.State.Input, "filePath")
	if path == "" {
		path = inputString(meta, "filePath")
	}
	if path == "" {
		path = "Unknown file"
	}

	var sb strings.Builder
	sb.WriteString(labelStyle.Render(path) + "\n")
	d := inputString(meta, "diff")
	if d == "" {
		return sb.String()
	}
	lines := diff.Parse(d)
	added, removed := diff.Stats(lines)
	sb.WriteString(diffAddStyle.Render(fmt.Sprintf("+%d", added)) + " " + diffDelStyle.Render(fmt.Sprintf("-%d", removed)) + "\n")
	sb.WriteString(renderDiff(d, opts.collapsedLines, opts.expandDiffs))
	return sb.String()
}

// renderDiff colours a unified diff with an old/new line number gutter.
// Unless expanded it is cut to collapse raw lines.
func renderDiff(text string, collapse int, expanded bool) string {
	truncated := false
	if !expanded {
		text, truncated = diff.Collapse(text, collapse)
	}
	lines := diff.Parse(text)
	w := diff.NumberWidth(lines)
	num := func(n int) string {
		if n == 0 {
			return strings.Repeat(" ", w)
		}
		return fmt.Sprintf("%*d", w, n)
	}

	var sb strings.Builder
	for _, l := range lines {
		gutter := diffGutterStyle.Render(num(l.Old) + " " + num(l.New) + " ")
		switch l.Kind {
		case diff.Added:
			sb.WriteString(gutter + diffAddStyle.Render("+"+l.Text) + "\n")
		case diff.Removed:
			sb.WriteString(gutter + diffDelStyle.Render("-"+l.Text) + "\n")
		default:
			sb.WriteString(gutter + " " + l.Text + "\n")
		}
	}
	if truncated {
		sb.WriteString(diffMetaStyle.Render(diff.Ellipsis+" e to expand") + "\n")
	}
	return sb.String()
}

func renderWrite(p opencode.Part, opts renderOptions) string {
	path := inputString(p.State.Input, "filePath")
	if path == "" {
		path = "Unknown file"
	}
	content := inputString(p.State.Input, "content")

	var sb strings.Builder
	info := filepath.Base(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
		info += dimStyle.Render(" (" + strings.ToUpper(ext) + ")")
	}
	sb.WriteString(labelStyle.Render(info))
	if content != "" {
		sb.WriteString(dimStyle.Render(fmt.Sprintf("  %d lines", len(strings.Split(content, "\n")))))
	}
	sb.WriteString("\n")
	if content != "" {
		out, _ := truncateLines(content, writeContentLines, diff.Ellipsis)
		sb.WriteString(dimStyle.Render(wrap(out, opts.width-6)) + "\n")
	}
	return sb.String()
}

// todo mirrors one entry of the todowrite tool's list.
type todo struct {
	Content string
	Status  string
}

func todosOf(p opencode.Part) []todo {
	raw, ok := p.State.Metadata["todos"].([]any)
	if !ok {
		raw, _ = p.State.Input["todos"].([]any)
	}
	var out []todo
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, todo{Content: inputString(m, "content"), Status: inputString(m, "status")})
	}
	return out
}

func renderTodos(p opencode.Part) string {
	todos := todosOf(p)
	if len(todos) == 0 {
		return dimStyle.Render("No todos") + "\n"
	}
	var sb strings.Builder
	for _, t := range todos {
		switch t.Status {
		case "completed":
			sb.WriteString("✓ " + todoDoneStyle.Render(t.Content) + "\n")
		case "in_progress":
			sb.WriteString("▶ " + todoActiveStyle.Render(t.Content) + "\n")
		case "cancelled":
			sb.WriteString("✗ " + todoCancelledStyle.Render(t.Content) + "\n")
		default:
			sb.WriteString("☐ " + t.Content + "\n")
		}
	}
	return sb.String()
}

func renderRead(p opencode.Part, opts renderOptions) string {
	path := inputString(p.State.Input, "filePath")
	if path == "" {
		path = "Unknown file"
	}
	var sb strings.Builder
	sb.WriteString(labelStyle.Render(path) + "\n")
	content := inputString(p.State.Metadata, "preview")
	if content == "" {
		content = p.State.Output
	}
	if content != "" {
		out, _ := truncateLines(content, readPreviewLines, diff.Ellipsis)
		sb.WriteString(dimStyle.Render(wrap(out, opts.width-6)) + "\n")
	}
	return sb.String()
}

func renderDefault(p opencode.Part, opts renderOptions) string {
	var sb strings.Builder
	if p.State.Title != "" {
		sb.WriteString(labelStyle.Render(p.State.Title) + "\n")
	}
	if p.State.Output != "" {
		out, _ := truncateLines(p.State.Output, defaultToolLines, diff.Ellipsis)
		sb.WriteString(wrap(out, opts.width-6) + "\n")
	}
	return sb.String()
}

// truncateLines keeps the first n lines of s and appends marker when
// anything was cut.
func truncateLines(s string, n int, marker string) (string, bool) {
	s = strings.TrimRight(s, "\n")
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s, false
	}
	return strings.Join(lines[:n], "\n") + "\n" + marker, true
}

// inputString reads a string field from decoded JSON, "" when absent.
func inputString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func wrap(s string, width int) string {
	if width < 10 {
		return s
	}
	return wordwrap.String(s, width)
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}
