package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var revertCmd = &cobra.Command{
	Use:     "revert <name>",
	Aliases: []string{"rollback"},
	Short:   "Restore a package's previous binary",
	Long: `Swap a package back to the binary it ran before its last update.

One level of history is kept: after a revert the backup slot is empty, so
a second consecutive revert fails until another update fills it again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps()
		if err != nil {
			return err
		}

		eng, _ := d.engine(nil, false)
		res, err := eng.Rollback(args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Reverted: %s %s -> %s\n", res.Name, res.OldVersion, res.NewVersion)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(revertCmd)
}
