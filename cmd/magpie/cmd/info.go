package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/magpie-pm/magpie/internal/core"
)

var infoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show details for an installed package",
	Long: `Show an installed package's record: source, version, binary location,
and the backup held for revert.

For GitHub release sources the latest release is also fetched, so info
doubles as an update check and shows the release notes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps()
		if err != nil {
			return err
		}

		eng, _ := d.engine(nil, false)
		rec, err := eng.Status(args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Name:    %s\n", rec.Name)
		fmt.Fprintf(os.Stdout, "Version: %s\n", rec.Version)
		fmt.Fprintf(os.Stdout, "Source:  %s\n", rec.Source)
		fmt.Fprintf(os.Stdout, "Binary:  %s\n", rec.BinaryPath)
		if rec.AssetName != "" {
			fmt.Fprintf(os.Stdout, "Asset:   %s\n", rec.AssetName)
		}
		if rec.HasBackup() {
			fmt.Fprintf(os.Stdout, "Backup:  %s (%s)\n", rec.BackupVersion, rec.BackupPath)
		}

		parsed, err := core.ParseSource(rec.Source)
		if err != nil || parsed.Type != core.SourceTypeRepo {
			return nil
		}

		rel, err := d.github().LatestRelease(cmd.Context(), parsed.Owner, parsed.Repo)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: fetching latest release: %v\n", err)
			return nil
		}

		if rel.TagName == rec.Version {
			fmt.Fprintf(os.Stdout, "Latest:  %s (up to date)\n", rel.TagName)
		} else {
			fmt.Fprintf(os.Stdout, "Latest:  %s (update available)\n", rel.TagName)
		}

		if rel.Body != "" {
			fmt.Fprintln(os.Stdout)
			fmt.Fprint(os.Stdout, renderMarkdown(rel.Body))
		}
		return nil
	},
}

// renderMarkdown renders release notes for a terminal, falling back to the
// raw markdown when stdout is piped or rendering fails.
func renderMarkdown(body string) string {
	plain := strings.TrimRight(strings.ReplaceAll(body, "\r\n", "\n"), "\n") + "\n"
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return plain
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return plain
	}
	rendered, err := r.Render(body)
	if err != nil {
		return plain
	}
	return rendered
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
