package core

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Settings holds optional user preferences read from settings.json next to
// the registry. The file is JSONC: comments and trailing commas are allowed.
type Settings struct {
	// GitHubAPI overrides the releases API base URL, for GitHub
	// Enterprise hosts or testing.
	GitHubAPI string `json:"githubApi,omitempty"`
	// GitHubToken authenticates release metadata requests. The
	// MAGPIE_GITHUB_TOKEN and GITHUB_TOKEN environment variables take
	// precedence.
	GitHubToken string `json:"githubToken,omitempty"`
	// DownloadTimeoutSeconds bounds a single download attempt. Zero keeps
	// the default.
	DownloadTimeoutSeconds int `json:"downloadTimeoutSeconds,omitempty"`
	// DownloadRetries is the number of attempts per download. Zero keeps
	// the default.
	DownloadRetries int `json:"downloadRetries,omitempty"`
}

// LoadSettings reads the settings file at path. A missing file yields zero
// settings, not an error.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	// Normalize JSONC to strict JSON before unmarshaling.
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parsing settings %s: %w", path, err)
	}

	var s Settings
	if err := json.Unmarshal(std, &s); err != nil {
		return nil, fmt.Errorf("parsing settings %s: %w", path, err)
	}
	return &s, nil
}
