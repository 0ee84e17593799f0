package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/magpie-pm/magpie/internal/core"
	"github.com/magpie-pm/magpie/internal/tui"
)

// cliPicker answers the engine's asset and member questions. A flag value
// wins; otherwise an interactive terminal gets a selection prompt, and
// anything else fails with the candidates spelled out.
type cliPicker struct {
	asset  string
	member string
}

func (p *cliPicker) PickAsset(pkg, version string, candidates []core.AssetChoice) (int, error) {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}

	if p.asset != "" {
		return matchChoice(p.asset, names, "--asset")
	}
	if interactive() {
		return tui.NewPicker().PickAsset(pkg, version, candidates)
	}
	return 0, fmt.Errorf("release %s of %s has %d assets; pass --asset <name|index> to choose one of: %s",
		version, pkg, len(candidates), strings.Join(names, ", "))
}

func (p *cliPicker) PickMember(pkg string, candidates []core.MemberChoice) (int, error) {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}

	if p.member != "" {
		return matchChoice(p.member, names, "--member")
	}
	if interactive() {
		return tui.NewPicker().PickMember(pkg, candidates)
	}
	return 0, fmt.Errorf("archive for %s has %d candidate members; pass --member <name|index> to choose one of: %s",
		pkg, len(candidates), strings.Join(names, ", "))
}

// matchChoice resolves a flag value against candidate names: an exact name
// match first, then a 1-based index.
func matchChoice(value string, names []string, flag string) (int, error) {
	for i, n := range names {
		if n == value {
			return i, nil
		}
	}
	if idx, err := strconv.Atoi(value); err == nil {
		if idx < 1 || idx > len(names) {
			return 0, fmt.Errorf("%s index %d is out of range (1-%d)", flag, idx, len(names))
		}
		return idx - 1, nil
	}
	return 0, fmt.Errorf("%s %q matches none of: %s", flag, value, strings.Join(names, ", "))
}

// interactive reports whether prompting the user is possible: stdin for
// input, stderr for drawing so stdout stays parseable.
func interactive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stderr.Fd())
}

// formatOverride builds the archive detection override from the --archive and
// --compression flags. Both empty means no override. Compression alone leaves
// the container unknown so it is still detected after decompression.
func formatOverride(archive, compression string) (*core.FormatSpec, error) {
	if archive == "" && compression == "" {
		return nil, nil
	}

	var spec core.FormatSpec
	if archive != "" {
		f, err := core.ParseFormat(archive)
		if err != nil {
			return nil, err
		}
		spec.Format = f
	}
	if compression != "" {
		c, err := core.ParseCompression(compression)
		if err != nil {
			return nil, err
		}
		spec.Compression = c
	}
	return &spec, nil
}

// dirOnPath reports whether dir is one of the PATH entries.
func dirOnPath(dir string) bool {
	dir = filepath.Clean(dir)
	for _, entry := range filepath.SplitList(os.Getenv("PATH")) {
		if entry == "" {
			continue
		}
		if filepath.Clean(entry) == dir {
			return true
		}
	}
	return false
}

// warnIfNotOnPath nudges the user when installed binaries will not be found.
func warnIfNotOnPath(binDir string) {
	if dirOnPath(binDir) {
		return
	}
	fmt.Fprintf(os.Stderr, "Warning: %s is not on your PATH; add it to run installed binaries by name\n", binDir)
}
