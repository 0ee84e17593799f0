// Package core provides the business logic for Magpie.
// It has zero UI dependencies and is independently testable.
package core

import "fmt"

// Registry is the on-disk registry document: a schema version plus the
// installed packages keyed by name.
type Registry struct {
	Version  int                `yaml:"version"`
	Packages map[string]*Record `yaml:"packages"`
}

// Record tracks one installed package: where it came from, which version is
// current, and the optional single-level backup kept from the last update.
type Record struct {
	Name          string `yaml:"-"` // map key in the registry file
	Source        string `yaml:"source"`
	Version       string `yaml:"version"`
	BinaryPath    string `yaml:"binary_path"`
	BackupPath    string `yaml:"backup_path,omitempty"`
	BackupVersion string `yaml:"backup_version,omitempty"`
	AssetName     string `yaml:"asset_name,omitempty"` // release asset chosen at install time
}

// HasBackup reports whether the record holds a previous binary to revert to.
// BackupPath and BackupVersion are always set or cleared together.
func (r *Record) HasBackup() bool {
	return r.BackupPath != "" && r.BackupVersion != ""
}

// ParsedSource represents a parsed package source string.
type ParsedSource struct {
	Type  SourceType
	Owner string // repository owner, for release sources
	Repo  string // repository name, for release sources
	URL   string // download URL, for direct sources
}

// SourceType indicates the kind of package source.
type SourceType string

const (
	// SourceTypeRepo is a GitHub repository whose latest release carries
	// the binary.
	SourceTypeRepo SourceType = "repo"
	// SourceTypeDirect is a URL downloaded as-is.
	SourceTypeDirect SourceType = "direct"
)

// ResolvedAsset is a concrete downloadable target produced by resolution.
type ResolvedAsset struct {
	URL           string
	Version       string // release tag; empty for content-addressed assets
	SuggestedName string // package name to use when the caller gives none
	Filename      string // asset filename, drives archive format detection
	AssetName     string // release asset name persisted for later updates

	// ContentAddressed marks assets whose version is the payload
	// fingerprint, known only after download.
	ContentAddressed bool
}

// AssetChoice is one release asset the caller may select.
type AssetChoice struct {
	Name string
	URL  string
	Size int64
}

// Resolution is the outcome of resolving a source. Either Asset is set, or
// Candidates holds the release assets the caller must choose between via
// Choose.
type Resolution struct {
	Asset         *ResolvedAsset
	Version       string // release tag, set for repo sources
	SuggestedName string
	Candidates    []AssetChoice
}

// NeedsSelection reports whether the caller must pick an asset.
func (r *Resolution) NeedsSelection() bool { return r.Asset == nil }

// Choose completes a pending selection with the candidate at index i.
func (r *Resolution) Choose(i int) (*ResolvedAsset, error) {
	if !r.NeedsSelection() {
		return r.Asset, nil
	}
	if i < 0 || i >= len(r.Candidates) {
		return nil, &ResolutionError{
			Source: r.SuggestedName,
			Reason: fmt.Sprintf("asset index %d out of range (1-%d)", i+1, len(r.Candidates)),
		}
	}
	c := r.Candidates[i]
	r.Asset = &ResolvedAsset{
		URL:           c.URL,
		Version:       r.Version,
		SuggestedName: r.SuggestedName,
		Filename:      c.Name,
		AssetName:     c.Name,
	}
	return r.Asset, nil
}
