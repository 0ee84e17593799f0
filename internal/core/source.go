package core

import (
	"net/url"
	"regexp"
	"strings"
)

// ownerRepoPattern matches "owner/repo" format (2 segments, no protocol).
var ownerRepoPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+/[a-zA-Z0-9_.-]+$`)

// ParseSource parses a package source string into a structured ParsedSource.
//
// Supported formats:
//   - "owner/repo"                    → GitHub release reference
//   - "https://github.com/owner/repo" → GitHub release reference
//   - any other http(s) URL           → direct download
func ParseSource(input string) (*ParsedSource, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, &ResolutionError{Source: input, Reason: "empty source"}
	}

	// Bare owner/repo: exactly two segments, no scheme.
	if ownerRepoPattern.MatchString(input) {
		segments := strings.SplitN(input, "/", 2)
		return &ParsedSource{
			Type:  SourceTypeRepo,
			Owner: segments[0],
			Repo:  segments[1],
		}, nil
	}

	if strings.HasPrefix(input, "https://") || strings.HasPrefix(input, "http://") {
		return parseURLSource(input)
	}

	return nil, &ResolutionError{Source: input, Reason: "unrecognized source; want owner/repo or an http(s) URL"}
}

// parseURLSource classifies a URL. A github.com URL whose path is exactly
// owner/repo is a release reference; anything else downloads directly, so
// release asset URLs and raw file URLs keep working.
func parseURLSource(input string) (*ParsedSource, error) {
	u, err := url.Parse(input)
	if err != nil {
		return nil, &ResolutionError{Source: input, Reason: "invalid URL", Err: err}
	}
	if u.Host == "" {
		return nil, &ResolutionError{Source: input, Reason: "URL has no host"}
	}

	if u.Host == "github.com" || u.Host == "www.github.com" {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return &ParsedSource{
				Type:  SourceTypeRepo,
				Owner: parts[0],
				Repo:  strings.TrimSuffix(parts[1], ".git"),
			}, nil
		}
	}

	return &ParsedSource{Type: SourceTypeDirect, URL: input}, nil
}
