package core

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// supplementalSuffixes mark release assets that accompany a binary rather
// than contain one: checksums, signatures, provenance files.
var supplementalSuffixes = []string{
	".sha256", ".sha512", ".md5", ".sig", ".asc", ".pem",
	".sbom", ".intoto.jsonl", ".spdx.json",
}

// supplementalNames are conventional checksum manifest filenames.
var supplementalNames = map[string]bool{
	"checksums.txt":  true,
	"checksums":      true,
	"sha256sums":     true,
	"sha256sums.txt": true,
	"shasums.txt":    true,
}

// Resolver turns a package source into a concrete downloadable asset.
type Resolver struct {
	github *GitHubClient
}

// NewResolver creates a Resolver. A nil client selects the default GitHub
// API endpoint.
func NewResolver(github *GitHubClient) *Resolver {
	if github == nil {
		github = NewGitHubClient("", "")
	}
	return &Resolver{github: github}
}

// Resolve turns a source string into a Resolution. Repository references
// query the latest release; a release with several usable assets comes back
// as a pending selection for the caller to complete with Choose. Direct URLs
// resolve immediately with a content-addressed version the engine fills in
// after downloading.
func (r *Resolver) Resolve(ctx context.Context, source string) (*Resolution, error) {
	parsed, err := ParseSource(source)
	if err != nil {
		return nil, err
	}

	switch parsed.Type {
	case SourceTypeRepo:
		return r.resolveRepo(ctx, source, parsed)
	case SourceTypeDirect:
		return resolveDirect(parsed), nil
	default:
		return nil, &ResolutionError{Source: source, Reason: fmt.Sprintf("unsupported source type %q", parsed.Type)}
	}
}

func (r *Resolver) resolveRepo(ctx context.Context, source string, parsed *ParsedSource) (*Resolution, error) {
	rel, err := r.github.LatestRelease(ctx, parsed.Owner, parsed.Repo)
	if err != nil {
		return nil, &ResolutionError{Source: source, Reason: "querying releases", Err: err}
	}

	candidates := usableAssets(rel.Assets)
	if len(candidates) == 0 {
		return nil, &ResolutionError{
			Source: source,
			Reason: fmt.Sprintf("release %s has no downloadable assets", rel.TagName),
		}
	}

	res := &Resolution{
		Version:       rel.TagName,
		SuggestedName: parsed.Repo,
	}

	if len(candidates) == 1 {
		_, _ = res.Choose(0)
		return res, nil
	}

	res.Candidates = candidates
	return res, nil
}

// resolveDirect builds a content-addressed resolution for a plain URL. The
// version stays empty until the engine fingerprints the downloaded payload.
func resolveDirect(parsed *ParsedSource) *Resolution {
	var filename string
	if u, err := url.Parse(parsed.URL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			filename = base
		}
	}

	name := stripArchiveSuffix(filename)
	return &Resolution{
		SuggestedName: name,
		Asset: &ResolvedAsset{
			URL:              parsed.URL,
			SuggestedName:    name,
			Filename:         filename,
			ContentAddressed: true,
		},
	}
}

// usableAssets filters out supplemental files, keeping assets that can
// plausibly contain a binary.
func usableAssets(assets []Asset) []AssetChoice {
	var out []AssetChoice
	for _, a := range assets {
		if isSupplementalAsset(a.Name) {
			continue
		}
		out = append(out, AssetChoice{Name: a.Name, URL: a.BrowserDownloadURL, Size: a.Size})
	}
	return out
}

func isSupplementalAsset(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range supplementalSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return supplementalNames[lower]
}

// MatchAsset finds the candidate matching a previously chosen asset name so
// unattended updates of multi-asset releases need no prompt. Asset names
// commonly embed the release version, so the old version is substituted for
// the new one before comparing. Returns -1 when no candidate matches.
func MatchAsset(candidates []AssetChoice, assetName, oldVersion, newVersion string) int {
	if assetName == "" {
		return -1
	}

	// Exact match covers version-less asset names.
	for i, c := range candidates {
		if c.Name == assetName {
			return i
		}
	}

	// Substitute the embedded version, with and without a leading "v".
	for _, pair := range [][2]string{
		{oldVersion, newVersion},
		{strings.TrimPrefix(oldVersion, "v"), strings.TrimPrefix(newVersion, "v")},
	} {
		if pair[0] == "" || pair[0] == pair[1] {
			continue
		}
		want := strings.ReplaceAll(assetName, pair[0], pair[1])
		for i, c := range candidates {
			if c.Name == want {
				return i
			}
		}
	}

	return -1
}
