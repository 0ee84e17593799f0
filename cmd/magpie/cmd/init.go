package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the registry and directories",
	Long: `Create the registry file, the bin directory, and the backup directory.

Running init is optional: install creates everything on first use. Use it to
set the layout up explicitly and see where files will go.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps()
		if err != nil {
			return err
		}

		if err := d.cfg.EnsureDirs(); err != nil {
			return err
		}
		if err := d.store.Init(); err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Registry: %s\n", d.cfg.RegistryPath)
		fmt.Fprintf(os.Stdout, "Binaries: %s\n", d.cfg.BinDir)
		fmt.Fprintf(os.Stdout, "Backups:  %s\n", d.cfg.DataDir)
		warnIfNotOnPath(d.cfg.BinDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
