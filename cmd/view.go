package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/pocketcode/internal/diff"
	"github.com/fakeyudi/pocketcode/internal/export"
	"github.com/fakeyudi/pocketcode/internal/opencode"
	"github.com/fakeyudi/pocketcode/internal/tui"
)

var plainOutput bool

var viewCmd = &cobra.Command{
	Use:         "view <file>",
	Short:       "View an exported session transcript",
	Annotations: map[string]string{tuiAnnotation: "true"},
	Args:        cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", path)
			}
			return err
		}

		tr, err := export.ParserFor(filepath.Ext(path)).Parse(data)
		if err != nil {
			return err
		}

		if plainOutput {
			printTranscript(cmd.OutOrStdout(), tr)
			return nil
		}
		return tui.RunTranscript(tr, path, cfg.DiffCollapsedLines)
	},
}

// printTranscript writes a plain-text rendition of tr to w.
func printTranscript(w io.Writer, tr *export.Transcript) {
	title := tr.Session.Title
	if title == "" {
		title = tr.Session.ID
	}
	fmt.Fprintf(w, "## %s\n", title)
	fmt.Fprintf(w, "  Session:   %s\n", tr.Session.ID)
	if tr.Server != "" {
		fmt.Fprintf(w, "  Server:    %s\n", tr.Server)
	}
	fmt.Fprintf(w, "  Exported:  %s\n", tr.ExportedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintln(w)

	if len(tr.Messages) == 0 {
		fmt.Fprintln(w, "  (no messages)")
		return
	}
	for _, m := range tr.Messages {
		if m.Info.Role == opencode.RoleUser {
			fmt.Fprintln(w, "## You")
		} else if m.Info.ModelID != "" {
			fmt.Fprintf(w, "## Assistant (%s)\n", m.Info.ModelID)
		} else {
			fmt.Fprintln(w, "## Assistant")
		}
		for _, p := range m.Parts {
			switch p.Type {
			case opencode.PartText:
				fmt.Fprintln(w, indent(strings.TrimSpace(p.Text), "  "))
			case opencode.PartReasoning:
				fmt.Fprintln(w, indent(strings.TrimSpace(p.Text), "  > "))
			case opencode.PartTool:
				printTool(w, p)
			}
		}
		fmt.Fprintln(w)
	}
}

func printTool(w io.Writer, p opencode.Part) {
	detail := p.State.Title
	if detail == "" {
		if c, ok := p.State.Input["command"].(string); ok {
			detail = c
		} else if f, ok := p.State.Input["filePath"].(string); ok {
			detail = f
		}
	}
	fmt.Fprintf(w, "  [%s] %s (%s)\n", p.Tool, detail, p.State.Status)
	if d, ok := p.State.Metadata["diff"].(string); ok && d != "" {
		added, removed := diff.Stats(diff.Parse(d))
		fmt.Fprintf(w, "    +%d -%d\n", added, removed)
	}
	if p.State.Error != "" {
		fmt.Fprintf(w, "    error: %s\n", p.State.Error)
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}

func init() {
	viewCmd.Flags().BoolVar(&plainOutput, "plain", false, "plain text output instead of TUI")
	rootCmd.AddCommand(viewCmd)
}
