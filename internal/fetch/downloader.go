// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pdiddy/oa-harvester/internal/httputil"
)

// HTTPDownloader is the default Downloader: a net/http client with a
// short per-connection timeout and a bounded retry count, honoring
// redirects and presenting a browser-like User-Agent with a
// PDF-preferring Accept header. Mirrors the original harvester's
// `wget --timeout=2 --tries=5` invocation.
type HTTPDownloader struct {
	Client     *http.Client
	UserAgent  string
	MaxRetries int
}

// NewHTTPDownloader builds an HTTPDownloader with a 2-second per-connection
// timeout (dial, TLS handshake, and wait for response headers) and up to 5
// retries. The body transfer itself is not time-limited.
func NewHTTPDownloader(userAgent string) *HTTPDownloader {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: 2 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = 2 * time.Second
	transport.ResponseHeaderTimeout = 2 * time.Second
	return &HTTPDownloader{
		Client:     &http.Client{Transport: transport},
		UserAgent:  userAgent,
		MaxRetries: 5,
	}
}

// Download streams url to a temp file beside destination, then renames it
// into place on success — so a failed or cancelled download never leaves
// a partial file at destination. Retries (any non-200 response or
// transport error, up to MaxRetries, or 5 when MaxRetries is zero or
// negative) are delegated to internal/httputil.DoWithRetry.
func (d *HTTPDownloader) Download(ctx context.Context, url, destination string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", d.UserAgent)
	req.Header.Set("Accept", "application/pdf, text/html;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	resp, err := httputil.DoWithRetry(ctx, d.Client, req, d.MaxRetries)
	if err != nil {
		return fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return &HTTPStatusError{Code: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(destination), ".fetch-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing download: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, destination); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// PdftotextValidator validates a downloaded PDF by shelling out to
// `pdftotext`, matching the original harvester's integrity check. When
// pdftotext is not on PATH, Validate is a no-op.
type PdftotextValidator struct {
	path string
}

// NewPdftotextValidator looks up pdftotext on PATH once. If it is not
// found, Validate always succeeds.
func NewPdftotextValidator() *PdftotextValidator {
	path, _ := exec.LookPath("pdftotext")
	return &PdftotextValidator{path: path}
}

// Validate runs pdftotext against destination; a non-zero exit promotes
// the result to a failure.
func (v *PdftotextValidator) Validate(destination string) error {
	if v.path == "" {
		return nil
	}
	cmd := exec.Command(v.path, destination, os.DevNull)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pdftotext validation failed: %w (%s)", err, out)
	}
	return nil
}
