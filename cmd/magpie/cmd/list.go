package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// listEntry is the JSON shape of one installed package.
type listEntry struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Source        string `json:"source"`
	BinaryPath    string `json:"binaryPath"`
	BackupVersion string `json:"backupVersion,omitempty"`
	AssetName     string `json:"assetName,omitempty"`
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps()
		if err != nil {
			return err
		}

		eng, _ := d.engine(nil, false)
		records, err := eng.List()
		if err != nil {
			return err
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		if jsonOutput {
			entries := make([]listEntry, 0, len(records))
			for _, r := range records {
				entries = append(entries, listEntry{
					Name:          r.Name,
					Version:       r.Version,
					Source:        r.Source,
					BinaryPath:    r.BinaryPath,
					BackupVersion: r.BackupVersion,
					AssetName:     r.AssetName,
				})
			}
			data, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Fprintln(os.Stdout, string(data))
			return nil
		}

		if len(records) == 0 {
			fmt.Fprintln(os.Stdout, "No packages installed.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "Name\tVersion\tBackup\tSource")
		for _, r := range records {
			backup := "-"
			if r.HasBackup() {
				backup = r.BackupVersion
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, r.Version, backup, r.Source)
		}
		_ = w.Flush()
		return nil
	},
}

func init() {
	listCmd.Flags().Bool("json", false, "Output as JSON for scripting")
	rootCmd.AddCommand(listCmd)
}
