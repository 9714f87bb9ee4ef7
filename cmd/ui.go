package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fakeyudi/pocketcode/internal/tui"
)

var uiCmd = &cobra.Command{
	Use:         "ui",
	Short:       "Open the interactive interface (the default)",
	Annotations: map[string]string{tuiAnnotation: "true"},
	Args:        cobra.NoArgs,
	RunE:        runUI,
}

func runUI(cmd *cobra.Command, args []string) error {
	return tui.Run(cmd.Context(), tuiOptions())
}

var chatSession string

var chatCmd = &cobra.Command{
	Use:         "chat",
	Short:       "Open a project's sessions, or one session's chat, directly",
	Annotations: map[string]string{tuiAnnotation: "true"},
	Args:        cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := resolveProject(projectRef)
		if err != nil {
			return err
		}
		return tui.RunChat(cmd.Context(), tuiOptions(), p, chatSession)
	},
}

func init() {
	chatCmd.Flags().StringVarP(&projectRef, "project", "p", "", "project id, id prefix or name")
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "session id (default: pick from the list)")
	rootCmd.AddCommand(uiCmd, chatCmd)
}
