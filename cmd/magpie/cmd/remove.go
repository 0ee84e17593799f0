package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"uninstall", "delete"},
	Short:   "Remove an installed package",
	Long:    `Remove a package's binary and backup from disk and drop it from the registry.`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps()
		if err != nil {
			return err
		}

		eng, _ := d.engine(nil, false)
		if err := eng.Uninstall(args[0]); err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Removed: %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}
