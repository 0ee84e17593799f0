package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/magpie-pm/magpie/internal/core"
)

var updateCmd = &cobra.Command{
	Use:   "update [name...]",
	Short: "Update packages to their latest versions",
	Long: `Update installed packages to the latest version of their source.

With no arguments every installed package is checked; otherwise only the
named ones. Release sources compare tags before downloading anything;
direct URLs are re-downloaded and compared by content fingerprint.

The replaced binary moves into the backup slot, so a bad update is one
"magpie revert <name>" away. Packages update independently and one
failure never stops the rest.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps()
		if err != nil {
			return err
		}

		// A single explicit target may prompt when its release asset needs
		// reselection; batch runs stay non-interactive so the output is
		// line-oriented.
		var picker core.Picker
		if len(args) == 1 {
			picker = &cliPicker{}
		}

		eng, finish := d.engine(picker, len(args) == 1)
		outcomes, err := eng.BatchUpdate(cmd.Context(), args)
		finish()
		if err != nil {
			return err
		}

		if len(outcomes) == 0 {
			fmt.Fprintln(os.Stdout, "No packages installed.")
			return nil
		}

		var updated, upToDate, errors int
		for _, o := range outcomes {
			switch {
			case o.Err != nil:
				fmt.Fprintf(os.Stderr, "Error: %s: %v\n", o.Name, o.Err)
				errors++
			case o.Result.UpToDate:
				fmt.Fprintf(os.Stdout, "Up to date: %s %s\n", o.Name, o.Result.NewVersion)
				upToDate++
			default:
				fmt.Fprintf(os.Stdout, "Updated: %s %s -> %s\n", o.Name, o.Result.OldVersion, o.Result.NewVersion)
				updated++
			}
		}

		fmt.Fprintf(os.Stdout, "\nUpdate: %d updated, %d up-to-date, %d errors\n", updated, upToDate, errors)

		if errors > 0 {
			return fmt.Errorf("%d package(s) failed to update", errors)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
}
