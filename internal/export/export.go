// Package export writes a session transcript to a shareable file and reads
// it back.
package export

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fakeyudi/pocketcode/internal/opencode"
)

// Transcript is the complete, renderable record of one session.
type Transcript struct {
	Session    opencode.Session   `json:"session"`
	Server     string             `json:"server"`
	ExportedAt time.Time          `json:"exported_at"`
	Messages   []opencode.Message `json:"messages"`
}

// Renderer serializes a Transcript to bytes.
type Renderer interface {
	Render(t *Transcript) ([]byte, error)
}

// Parser reads a rendered Transcript back.
type Parser interface {
	Parse(data []byte) (*Transcript, error)
}

// ForFormat returns the renderer for "json" or "markdown".
func ForFormat(format string) (Renderer, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONRenderer{}, nil
	case "markdown", "md", "":
		return &MarkdownRenderer{}, nil
	}
	return nil, fmt.Errorf("unknown export format %q (want json or markdown)", format)
}

// ParserFor picks a parser from a file extension.
func ParserFor(ext string) Parser {
	if strings.EqualFold(ext, ".json") {
		return &JSONParser{}
	}
	return &MarkdownParser{}
}

// JSONRenderer renders a Transcript as indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(t *Transcript) ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// JSONParser parses a JSON-encoded Transcript.
type JSONParser struct{}

func (p *JSONParser) Parse(data []byte) (*Transcript, error) {
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse JSON transcript: %w", err)
	}
	return &t, nil
}

const (
	versionSentinel = "<!-- pocketcode-transcript-version: 1 -->"
	dataPrefix      = "<!-- pocketcode-data: "
	dataSuffix      = " -->"
)

// MarkdownRenderer renders a Transcript as readable Markdown with an
// embedded base64 JSON payload for lossless round-trip parsing.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(t *Transcript) ([]byte, error) {
	jsonBytes, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(jsonBytes)

	var sb strings.Builder
	sb.WriteString(versionSentinel + "\n")
	fmt.Fprintf(&sb, "%s%s%s\n\n", dataPrefix, encoded, dataSuffix)

	title := t.Session.Title
	if title == "" {
		title = t.Session.ID
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "- Session: %s\n", t.Session.ID)
	if t.Server != "" {
		fmt.Fprintf(&sb, "- Server: %s\n", t.Server)
	}
	fmt.Fprintf(&sb, "- Exported: %s\n\n", t.ExportedAt.Format("2006-01-02 15:04:05 MST"))

	if len(t.Messages) == 0 {
		sb.WriteString("_No messages._\n")
	}
	for _, m := range t.Messages {
		writeMessage(&sb, m)
	}
	return []byte(sb.String()), nil
}

func writeMessage(sb *strings.Builder, m opencode.Message) {
	switch m.Info.Role {
	case opencode.RoleUser:
		sb.WriteString("## You\n\n")
	default:
		if m.Info.ModelID != "" {
			fmt.Fprintf(sb, "## Assistant (%s)\n\n", m.Info.ModelID)
		} else {
			sb.WriteString("## Assistant\n\n")
		}
	}

	for _, p := range m.Parts {
		switch p.Type {
		case opencode.PartText:
			sb.WriteString(strings.TrimSpace(p.Text) + "\n\n")
		case opencode.PartReasoning:
			for _, line := range strings.Split(strings.TrimSpace(p.Text), "\n") {
				sb.WriteString("> " + line + "\n")
			}
			sb.WriteString("\n")
		case opencode.PartTool:
			writeTool(sb, p)
		}
	}
}

func writeTool(sb *strings.Builder, p opencode.Part) {
	title := p.State.Title
	if title == "" {
		title = p.Tool
	}
	fmt.Fprintf(sb, "**%s** `%s` _(%s)_\n\n", p.Tool, title, p.State.Status)

	if d, ok := p.State.Metadata["diff"].(string); ok && d != "" {
		fence(sb, "diff", d)
	} else if len(p.State.Input) > 0 {
		keys := make([]string, 0, len(p.State.Input))
		for k := range p.State.Input {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(sb, "- %s: `%v`\n", k, p.State.Input[k])
		}
		sb.WriteString("\n")
	}
	if p.State.Output != "" {
		fence(sb, "", p.State.Output)
	}
	if p.State.Error != "" {
		fmt.Fprintf(sb, "Error: %s\n\n", p.State.Error)
	}
}

func fence(sb *strings.Builder, lang, body string) {
	sb.WriteString("```" + lang + "\n")
	sb.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("```\n\n")
}

// MarkdownParser extracts the embedded payload of a rendered Markdown
// transcript.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(data []byte) (*Transcript, error) {
	content := string(data)

	if !strings.Contains(content, versionSentinel) {
		return nil, fmt.Errorf("not a valid pocketcode transcript: missing version sentinel")
	}

	start := strings.Index(content, dataPrefix)
	if start == -1 {
		return nil, fmt.Errorf("not a valid pocketcode transcript: missing data payload")
	}
	start += len(dataPrefix)
	end := strings.Index(content[start:], dataSuffix)
	if end == -1 {
		return nil, fmt.Errorf("not a valid pocketcode transcript: malformed data payload")
	}

	jsonBytes, err := base64.StdEncoding.DecodeString(content[start : start+end])
	if err != nil {
		return nil, fmt.Errorf("not a valid pocketcode transcript: corrupted base64 payload: %w", err)
	}

	var t Transcript
	if err := json.Unmarshal(jsonBytes, &t); err != nil {
		return nil, fmt.Errorf("not a valid pocketcode transcript: failed to parse embedded JSON: %w", err)
	}
	return &t, nil
}
