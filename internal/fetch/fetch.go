// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fetch is the fetcher: downloads one OA resource, validates it,
// and extracts PDF/NXML members from PMC archives.
//
// Fetch never returns a Go error for download, validation, or extraction
// failures — those are surfaced as the returned status token instead.
// Only a caller-supplied context cancellation is allowed to short-circuit.
package fetch

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdiddy/oa-harvester/pkg/types"
)

// Downloader is the injectable HTTP black box: given a url and a
// destination path, it streams the resource to disk. Implementations
// should honor a per-connection timeout and a bounded retry count, follow
// redirects, and set an appropriate User-Agent/Accept header.
type Downloader interface {
	Download(ctx context.Context, url, destination string) error
}

// Validator is the injectable PDF-integrity black box. Validate returns a
// non-nil error when destination is not a usable PDF.
type Validator interface {
	Validate(destination string) error
}

// HTTPStatusError carries a non-200 HTTP response so Fetch can surface the
// numeric status code as the failure token, mirroring the original
// harvester's numeric wget/curl exit codes.
type HTTPStatusError struct {
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

// Fetcher bundles the collaborators needed to run the fetch step for one
// entry: a Downloader, an optional Validator, the data directory archives
// are extracted into, and a writer for non-fatal warnings.
type Fetcher struct {
	Downloader Downloader
	Validator  Validator
	DataPath   string
	Logger     io.Writer
}

// Fetch downloads url to destination, validates it, and — if destination
// is a .tar.gz — extracts the PDF and NXML members. It always returns,
// never panics or escalates a failure to a Go error; the status token is
// "" on success or a short error token otherwise.
func (f *Fetcher) Fetch(ctx context.Context, url, destination string, entry *types.Entry) (string, *types.Entry) {
	if err := f.Downloader.Download(ctx, url, destination); err != nil {
		return tokenFromError(err), entry
	}

	if f.Validator != nil {
		if err := f.Validator.Validate(destination); err != nil {
			return tokenFromError(err), entry
		}
	}

	if strings.HasSuffix(destination, ".tar.gz") {
		if _, statErr := os.Stat(destination); statErr == nil {
			if err := f.extractArchive(destination, entry.ID); err != nil {
				return tokenFromError(err), entry
			}
		}
	}

	return "", entry
}

func tokenFromError(err error) string {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return strconv.Itoa(statusErr.Code)
	}
	return err.Error()
}

// extractArchive opens destination as a tar archive, extracting the first
// regular-file member whose name (case-insensitively) ends in ".pdf" to
// <id>.pdf, and every member ending in ".nxml" to <id>.nxml. Extraction
// targets a per-entry temporary directory before the selected members are
// renamed out, so that colliding basenames within one archive never
// overwrite each other mid-extraction. The archive is deleted afterward
// regardless of whether a PDF was found.
func (f *Fetcher) extractArchive(archivePath, id string) error {
	tmpDir, err := os.MkdirTemp(f.DataPath, id+"-extract-*")
	if err != nil {
		return fmt.Errorf("creating extraction temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	af, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer af.Close()

	gz, err := gzip.NewReader(af)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	pdfFound := false

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar stream: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		lower := strings.ToLower(hdr.Name)
		switch {
		case !pdfFound && strings.HasSuffix(lower, ".pdf"):
			if err := extractMember(tr, tmpDir, filepath.Base(hdr.Name)); err != nil {
				return err
			}
			src := filepath.Join(tmpDir, filepath.Base(hdr.Name))
			dst := filepath.Join(f.DataPath, id+".pdf")
			if err := os.Rename(src, dst); err != nil {
				return fmt.Errorf("renaming extracted pdf: %w", err)
			}
			pdfFound = true
		case strings.HasSuffix(lower, ".nxml"):
			if err := extractMember(tr, tmpDir, filepath.Base(hdr.Name)); err != nil {
				return err
			}
			src := filepath.Join(tmpDir, filepath.Base(hdr.Name))
			dst := filepath.Join(f.DataPath, id+".nxml")
			if err := os.Rename(src, dst); err != nil {
				return fmt.Errorf("renaming extracted nxml: %w", err)
			}
		}
	}

	if !pdfFound && f.Logger != nil {
		fmt.Fprintf(f.Logger, "warning: no pdf found in archive: %s\n", archivePath)
	}

	return os.Remove(archivePath)
}

func extractMember(tr *tar.Reader, tmpDir, base string) error {
	out, err := os.Create(filepath.Join(tmpDir, base))
	if err != nil {
		return fmt.Errorf("creating extracted member %s: %w", base, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, tr); err != nil {
		return fmt.Errorf("extracting member %s: %w", base, err)
	}
	return nil
}
