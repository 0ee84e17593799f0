package core

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"time"
)

const (
	defaultDownloadTimeout = 5 * time.Minute
	defaultDownloadRetries = 3
	maxRedirects           = 10

	userAgent = "magpie"
)

// Downloader fetches release assets and direct URLs over HTTP with a small
// retry budget for transient failures.
type Downloader struct {
	client  *http.Client
	retries int
	backoff time.Duration

	// Progress, when set, receives byte counts as a transfer advances.
	// total is -1 when the server does not declare a length.
	Progress func(done, total int64)
}

// NewDownloader creates a Downloader with the default timeout and retries.
func NewDownloader() *Downloader {
	return NewDownloaderWith(0, 0)
}

// NewDownloaderWith creates a Downloader with explicit limits. Zero values
// keep the defaults.
func NewDownloaderWith(timeout time.Duration, retries int) *Downloader {
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}
	if retries <= 0 {
		retries = defaultDownloadRetries
	}
	return &Downloader{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		retries: retries,
		backoff: time.Second,
	}
}

// DownloadResult is a completed transfer: the payload plus the metadata the
// inspector and the engine need.
type DownloadResult struct {
	Data     []byte
	Filename string // server-declared filename, or the URL path's base name
	SHA256   string // hex digest of the payload
}

// Fingerprint returns the content-addressed version identifier for the
// payload, used as the version of packages installed from direct URLs.
func (r *DownloadResult) Fingerprint() string {
	return "sha256:" + r.SHA256[:12]
}

// Download fetches rawURL into memory. Transport errors and 5xx responses
// are retried with exponential backoff; 4xx responses fail immediately. The
// payload digest is computed while streaming.
func (d *Downloader) Download(ctx context.Context, rawURL string) (*DownloadResult, error) {
	var lastErr error

	for attempt := 1; attempt <= d.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &DownloadError{URL: rawURL, Err: err}
		}

		result, retryable, err := d.downloadOnce(ctx, rawURL)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			break
		}

		if attempt < d.retries {
			select {
			case <-time.After(d.backoff << (attempt - 1)):
			case <-ctx.Done():
				return nil, &DownloadError{URL: rawURL, Err: ctx.Err()}
			}
		}
	}

	return nil, &DownloadError{URL: rawURL, Err: lastErr}
}

// downloadOnce performs a single transfer attempt.
func (d *Downloader) downloadOnce(ctx context.Context, rawURL string) (*DownloadResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode >= 500, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var body io.Reader = resp.Body
	if d.Progress != nil {
		body = &countingReader{r: resp.Body, total: resp.ContentLength, report: d.Progress}
	}

	hash := sha256.New()
	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}
	if _, err := io.Copy(io.MultiWriter(&buf, hash), body); err != nil {
		return nil, true, err
	}

	return &DownloadResult{
		Data:     buf.Bytes(),
		Filename: responseFilename(resp, rawURL),
		SHA256:   hex.EncodeToString(hash.Sum(nil)),
	}, false, nil
}

// countingReader reports transfer progress to a callback as it is read.
type countingReader struct {
	r      io.Reader
	done   int64
	total  int64
	report func(done, total int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.done += int64(n)
		c.report(c.done, c.total)
	}
	return n, err
}

// responseFilename picks the payload's filename: a Content-Disposition
// header wins, otherwise the final URL path's base name.
func responseFilename(resp *http.Response, rawURL string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if fn := path.Base(params["filename"]); fn != "." && fn != "/" {
				return fn
			}
		}
	}

	// Redirects may have moved us; prefer the URL actually served.
	if resp.Request != nil && resp.Request.URL != nil {
		if base := path.Base(resp.Request.URL.Path); base != "." && base != "/" {
			return base
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	return "download"
}
