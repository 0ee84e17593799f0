package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/magpie-pm/magpie/internal/core"
)

var installCmd = &cobra.Command{
	Use:   "install <source> [name]",
	Short: "Install a binary from a GitHub release or URL",
	Long: `Install a statically-linked executable from a package source.

Sources can be:
  owner/repo                        Latest GitHub release
  https://github.com/owner/repo     Latest GitHub release
  https://example.com/tool.tar.gz   Direct download URL

A release with a single downloadable asset installs directly; when it
ships several, an interactive prompt (or --asset) chooses one. Checksum
and signature files are skipped. Archives are unpacked in memory and
only the executable lands in the bin directory; tar, zip, gzip, bzip2,
xz, and zstd payloads are recognized by filename and content sniffing,
and --archive/--compression override the detection when a server hides
both.

The package name defaults to the repository name or the download's file
name; pass a second argument to choose your own.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps()
		if err != nil {
			return err
		}

		var name string
		if len(args) == 2 {
			name = args[1]
		}

		force, _ := cmd.Flags().GetBool("force")
		asset, _ := cmd.Flags().GetString("asset")
		member, _ := cmd.Flags().GetString("member")
		archive, _ := cmd.Flags().GetString("archive")
		compression, _ := cmd.Flags().GetString("compression")

		format, err := formatOverride(archive, compression)
		if err != nil {
			return err
		}

		eng, finish := d.engine(&cliPicker{asset: asset, member: member}, true)
		res, err := eng.Install(cmd.Context(), args[0], core.InstallOptions{
			Name:   name,
			Force:  force,
			Format: format,
		})
		finish()
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Installed: %s %s -> %s\n", res.Name, res.Version, res.BinaryPath)
		warnIfNotOnPath(filepath.Dir(res.BinaryPath))
		return nil
	},
}

func init() {
	installCmd.Flags().BoolP("force", "f", false, "Replace an existing installation and restart its backup history")
	installCmd.Flags().String("asset", "", "Release asset to use, by name or 1-based index")
	installCmd.Flags().String("member", "", "Archive member to install, by name or 1-based index")
	installCmd.Flags().String("archive", "", "Override archive detection: tar, zip, or binary")
	installCmd.Flags().String("compression", "", "Override compression detection: gzip, bzip2, xz, zstd, or none")
	rootCmd.AddCommand(installCmd)
}
