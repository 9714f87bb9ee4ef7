package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/pocketcode/internal/project"
)

// projectRef is the --project flag shared by every command that talks to a
// server.
var projectRef string

var (
	addName string
	addFile string
)

var projectCmd = &cobra.Command{
	Use:     "project",
	Aliases: []string{"projects"},
	Short:   "Manage paired opencode servers",
}

var projectAddCmd = &cobra.Command{
	Use:   "add [payload]",
	Short: "Pair with a server from its QR payload",
	Long: `Pair with a server from the JSON payload of its pairing QR code,
{"link": "<server url>", "auth": "<token or user:password>"}.

The payload is read from the argument, from --file, or from stdin. An
interactive terminal is prompted again when the payload is invalid.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := bufio.NewReader(cmd.InOrStdin())
		qr, err := readPairing(cmd, in, args)
		if err != nil {
			return err
		}

		name := addName
		if name == "" && interactive(cmd) {
			def := project.DefaultName(qr.Link)
			cmd.Printf("Name [%s]: ", def)
			line, err := in.ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			name = strings.TrimSpace(line)
		}

		p, err := store.Add(name, qr)
		if err != nil {
			return fmt.Errorf("saving project: %w", err)
		}
		cmd.Printf("Added %s (%s)\n", p.Name, p.ID)
		return nil
	},
}

// readPairing gets a valid pairing payload. Only an interactive terminal is
// re-prompted; anything else fails on the first invalid payload.
func readPairing(cmd *cobra.Command, in *bufio.Reader, args []string) (project.QRCodeData, error) {
	switch {
	case len(args) == 1:
		return project.ValidateQRCodeData(args[0])
	case addFile != "" && addFile != "-":
		data, err := os.ReadFile(addFile)
		if err != nil {
			return project.QRCodeData{}, fmt.Errorf("reading payload: %w", err)
		}
		return project.ValidateQRCodeData(string(data))
	}

	if !interactive(cmd) {
		data, err := io.ReadAll(in)
		if err != nil {
			return project.QRCodeData{}, fmt.Errorf("reading payload: %w", err)
		}
		return project.ValidateQRCodeData(string(data))
	}

	for {
		cmd.Print("Paste pairing payload: ")
		line, err := in.ReadString('\n')
		if strings.TrimSpace(line) != "" {
			qr, verr := project.ValidateQRCodeData(line)
			if verr == nil {
				return qr, nil
			}
			cmd.PrintErrln("Invalid QR code. Try again.")
		}
		if err != nil {
			return project.QRCodeData{}, fmt.Errorf("reading payload: %w", err)
		}
	}
}

func interactive(cmd *cobra.Command) bool {
	f, ok := cmd.InOrStdin().(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List paired servers",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		projects := store.List()
		if len(projects) == 0 {
			cmd.Println("No projects. Pair one with: pocketcode project add")
			return nil
		}
		cmd.Printf("%-8s  %-20s  %-36s  %s\n", "ID", "NAME", "URL", "UPDATED")
		for _, p := range projects {
			cmd.Printf("%-8s  %-20s  %-36s  %s\n", shortID(p.ID), p.Name, p.URL, humanize.Time(p.UpdatedAt))
		}
		return nil
	},
}

var projectRenameCmd = &cobra.Command{
	Use:   "rename <project> <name>",
	Short: "Rename a paired server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := resolveProject(args[0])
		if err != nil {
			return err
		}
		p, err = store.Rename(p.ID, args[1])
		if err != nil {
			return err
		}
		cmd.Printf("Renamed %s to %s\n", shortID(p.ID), p.Name)
		return nil
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:     "remove <project>",
	Aliases: []string{"rm"},
	Short:   "Forget a paired server",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := resolveProject(args[0])
		if err != nil {
			return err
		}
		if err := store.Delete(p.ID); err != nil {
			return err
		}
		cmd.Printf("Removed %s\n", p.Name)
		return nil
	},
}

var projectQRCmd = &cobra.Command{
	Use:   "qr <project>",
	Short: "Show the pairing QR code to pair another device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := resolveProject(args[0])
		if err != nil {
			return err
		}
		art, err := project.PairingQR(p)
		if err != nil {
			return err
		}
		cmd.Println(art)
		cmd.Println(project.PairingPayload(p))
		return nil
	},
}

var projectCheckCmd = &cobra.Command{
	Use:   "check <project>",
	Short: "Check that a paired server is reachable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := resolveProject(args[0])
		if err != nil {
			return err
		}
		client, err := clientFor(p)
		if err != nil {
			return err
		}
		info, err := client.App(cmd.Context())
		if err != nil {
			return fmt.Errorf("%s is not reachable: %w", p.Name, err)
		}
		cmd.Printf("%s is reachable\n", p.Name)
		if info.Hostname != "" {
			cmd.Printf("  Host:  %s\n", info.Hostname)
		}
		if info.Path.Cwd != "" {
			cmd.Printf("  Dir:   %s\n", info.Path.Cwd)
		}
		return nil
	},
}

// resolveProject finds a project by id, unique id prefix or name. An empty
// reference picks the only project when there is exactly one.
func resolveProject(ref string) (project.Project, error) {
	projects := store.List()
	if ref == "" {
		if len(projects) == 1 {
			return projects[0], nil
		}
		return project.Project{}, errors.New("--project is required when more than one project is paired")
	}

	var matches []project.Project
	for _, p := range projects {
		if p.ID == ref {
			return p, nil
		}
		if strings.HasPrefix(p.ID, ref) || strings.EqualFold(p.Name, ref) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return project.Project{}, fmt.Errorf("%w: %s", project.ErrNotFound, ref)
	case 1:
		return matches[0], nil
	}
	return project.Project{}, fmt.Errorf("%q matches %d projects; use a longer id", ref, len(matches))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	projectAddCmd.Flags().StringVarP(&addName, "name", "n", "", "display name (default: the server host)")
	projectAddCmd.Flags().StringVarP(&addFile, "file", "f", "", "read the payload from a file (- for stdin)")
	projectCmd.AddCommand(projectAddCmd, projectListCmd, projectRenameCmd, projectRemoveCmd, projectQRCmd, projectCheckCmd)
	rootCmd.AddCommand(projectCmd)
}
