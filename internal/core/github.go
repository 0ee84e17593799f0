package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultGitHubAPI = "https://api.github.com"

// Release is a GitHub release as returned by the releases API.
type Release struct {
	TagName     string  `json:"tag_name"`
	Name        string  `json:"name"`
	Body        string  `json:"body"`
	Prerelease  bool    `json:"prerelease"`
	PublishedAt string  `json:"published_at"`
	Assets      []Asset `json:"assets"`
}

// Asset is a downloadable file attached to a release.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// GitHubClient queries a GitHub-compatible releases API.
type GitHubClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewGitHubClient creates a client for the given API base URL and token.
// Empty arguments fall back to the MAGPIE_GITHUB_API environment variable
// and then api.github.com, and to MAGPIE_GITHUB_TOKEN / GITHUB_TOKEN. A
// token is optional; it raises the API rate limit and unlocks private
// repositories.
func NewGitHubClient(baseURL, token string) *GitHubClient {
	if baseURL == "" {
		baseURL = os.Getenv("MAGPIE_GITHUB_API")
	}
	if baseURL == "" {
		baseURL = defaultGitHubAPI
	}

	if token == "" {
		token = os.Getenv("MAGPIE_GITHUB_TOKEN")
	}
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}

	return &GitHubClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// LatestRelease fetches the latest published release for owner/repo.
// Draft and prerelease releases are excluded by the API itself.
func (c *GitHubClient) LatestRelease(ctx context.Context, owner, repo string) (*Release, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.baseURL, owner, repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("no releases found for %s/%s", owner, repo)
	case http.StatusForbidden, http.StatusTooManyRequests:
		return nil, fmt.Errorf("releases API rate limited (%s); set GITHUB_TOKEN to raise the limit", resp.Status)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("releases API returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decoding release metadata: %w", err)
	}
	return &rel, nil
}
