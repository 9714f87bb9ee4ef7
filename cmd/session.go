package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/pocketcode/internal/export"
	"github.com/fakeyudi/pocketcode/internal/opencode"
	"github.com/fakeyudi/pocketcode/internal/transcript"
)

var (
	listAll      bool
	exportFormat string
	exportOutput string
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Aliases: []string{"sessions"},
	Short:   "Manage a server's sessions",
}

// serverClient resolves --project and builds its client.
func serverClient() (*opencode.Client, error) {
	p, err := resolveProject(projectRef)
	if err != nil {
		return nil, err
	}
	return clientFor(p)
}

var sessionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := serverClient()
		if err != nil {
			return err
		}
		sessions, err := client.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		sort.SliceStable(sessions, func(i, j int) bool {
			return sessions[i].Time.Updated > sessions[j].Time.Updated
		})

		n := 0
		for _, s := range sessions {
			if s.ParentID != "" && !listAll {
				continue
			}
			if n == 0 {
				cmd.Printf("%-32s  %-40s  %s\n", "ID", "TITLE", "UPDATED")
			}
			n++
			cmd.Printf("%-32s  %-40s  %s\n", s.ID, s.Title, humanize.Time(time.UnixMilli(s.Time.Updated)))
		}
		if n == 0 {
			cmd.Println("No sessions.")
		}
		return nil
	},
}

var sessionNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := serverClient()
		if err != nil {
			return err
		}
		s, err := client.CreateSession(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Println(s.ID)
		return nil
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:     "delete <session>",
	Aliases: []string{"rm"},
	Short:   "Delete a session",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := serverClient()
		if err != nil {
			return err
		}
		if err := client.DeleteSession(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var sessionExportCmd = &cobra.Command{
	Use:   "export <session>",
	Short: "Write a session transcript to a Markdown or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		renderer, err := export.ForFormat(exportFormat)
		if err != nil {
			return err
		}
		client, err := serverClient()
		if err != nil {
			return err
		}
		tr, err := fetchTranscript(cmd, client, args[0])
		if err != nil {
			return err
		}
		data, err := renderer.Render(tr)
		if err != nil {
			return err
		}

		if exportOutput == "-" {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}
		path := exportOutput
		if path == "" {
			ext := ".md"
			if _, ok := renderer.(*export.JSONRenderer); ok {
				ext = ".json"
			}
			path = "pocketcode-" + tr.Session.ID + ext
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing transcript: %w", err)
		}
		cmd.Printf("Transcript written to %s\n", path)
		return nil
	},
}

// fetchTranscript loads a session and orders its parts the same way the
// chat view does.
func fetchTranscript(cmd *cobra.Command, client *opencode.Client, id string) (*export.Transcript, error) {
	sessions, err := client.ListSessions(cmd.Context())
	if err != nil {
		return nil, err
	}
	tr := &export.Transcript{Session: opencode.Session{ID: id}, Server: client.BaseURL(), ExportedAt: time.Now().UTC()}
	for _, s := range sessions {
		if s.ID == id {
			tr.Session = s
		}
	}
	msgs, err := client.Messages(cmd.Context(), id)
	if err != nil {
		return nil, err
	}
	r := transcript.New(cfg.UntimedPolicy())
	r.ApplySnapshot(msgs)
	tr.Messages = r.Messages()
	return tr, nil
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the providers and models a server offers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := serverClient()
		if err != nil {
			return err
		}
		resp, err := client.Providers(cmd.Context())
		if err != nil {
			return err
		}
		chatProvider, chatModel, _ := opencode.DefaultModel(resp, cfg.ProviderID, cfg.ModelID)

		for _, p := range resp.Providers {
			cmd.Printf("%s (%s)\n", p.Name, p.ID)
			ids := make([]string, 0, len(p.Models))
			for id := range p.Models {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				mark := " "
				if p.ID == chatProvider && id == chatModel {
					mark = "*"
				}
				cmd.Printf("  %s %-40s %s\n", mark, id, p.Models[id].Name)
			}
		}
		if chatModel != "" {
			cmd.Printf("\n* chat model: %s/%s\n", chatProvider, chatModel)
		}
		return nil
	},
}

func init() {
	sessionCmd.PersistentFlags().StringVarP(&projectRef, "project", "p", "", "project id, id prefix or name")
	providersCmd.Flags().StringVarP(&projectRef, "project", "p", "", "project id, id prefix or name")
	sessionListCmd.Flags().BoolVarP(&listAll, "all", "a", false, "include child sessions")
	sessionExportCmd.Flags().StringVar(&exportFormat, "format", "markdown", "output format: markdown or json")
	sessionExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (- for stdout)")
	sessionCmd.AddCommand(sessionListCmd, sessionNewCmd, sessionDeleteCmd, sessionExportCmd)
	rootCmd.AddCommand(sessionCmd, providersCmd)
}
