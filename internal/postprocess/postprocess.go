// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package postprocess is the post-processor: per successful entry, it
// optionally renders thumbnails, uploads artifacts to an object store (or
// copies them into a local content-addressed tree), then cleans up temp
// files.
package postprocess

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pdiddy/oa-harvester/pkg/types"
)

// StorageTierInfrequentAccessSingleZone is the object-store storage class
// used for every upload.
const StorageTierInfrequentAccessSingleZone = "infrequent-access single-zone"

// Uploader is the injectable object-store black box: upload(local_path,
// remote_prefix, storage_tier). Per file parallelism, if any, is the
// client's concern — the post-processor never parallelizes within one
// entry.
type Uploader interface {
	Upload(ctx context.Context, localPath, remotePrefix, storageTier string) error
}

// Thumbnailer is the injectable front-page renderer black box. Generate
// produces three PNGs (150/300/500px, density 200dpi, flattened) from the
// first page of pdfPath and returns their paths. An empty path for a given
// size means that size was not produced; err may be non-nil alongside the
// paths of the sizes that were produced.
type Thumbnailer interface {
	Generate(ctx context.Context, pdfPath string) (small, medium, large string, err error)
}

// PostProcessor runs the per-entry post-processing step.
type PostProcessor struct {
	Thumbnailer     Thumbnailer
	Uploader        Uploader
	DataPath        string
	EnableThumbnail bool
	Logger          io.Writer
}

// SharedPrefix derives the content-addressed storage prefix from the
// first eight characters of id, sliced into four two-character directory
// segments: aa/bb/cc/dd/.
func SharedPrefix(id string) string {
	if len(id) < 8 {
		return id + "/"
	}
	return fmt.Sprintf("%s/%s/%s/%s/", id[0:2], id[2:4], id[4:6], id[6:8])
}

// Process runs thumbnailing, upload-or-local-copy, and cleanup for one
// successful entry. It never returns an error: I/O and upload failures
// are logged and treated as non-fatal.
func (p *PostProcessor) Process(ctx context.Context, entry *types.Entry) {
	pdfPath := filepath.Join(p.DataPath, entry.ID+".pdf")
	nxmlPath := filepath.Join(p.DataPath, entry.ID+".nxml")

	var thumbSmall, thumbMedium, thumbLarge string
	if p.EnableThumbnail && p.Thumbnailer != nil {
		if exists(pdfPath) {
			small, medium, large, err := p.Thumbnailer.Generate(ctx, pdfPath)
			if err != nil {
				p.logf("warning: thumbnail generation failed for %s: %v", entry.ID, err)
			}
			thumbSmall, thumbMedium, thumbLarge = small, medium, large
		}
	}

	prefix := SharedPrefix(entry.ID)
	artifacts := []string{pdfPath, nxmlPath, thumbSmall, thumbMedium, thumbLarge}

	if p.Uploader != nil {
		p.upload(ctx, artifacts, prefix)
	} else {
		p.copyLocal(artifacts, prefix)
	}

	p.cleanup(artifacts)
}

func (p *PostProcessor) upload(ctx context.Context, artifacts []string, prefix string) {
	for _, path := range artifacts {
		if path == "" || !exists(path) {
			continue
		}
		if err := p.Uploader.Upload(ctx, path, prefix, StorageTierInfrequentAccessSingleZone); err != nil {
			p.logf("warning: upload failed for %s: %v", path, err)
		}
	}
}

func (p *PostProcessor) copyLocal(artifacts []string, prefix string) {
	destDir := filepath.Join(p.DataPath, prefix)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		p.logf("warning: creating local storage directory %s: %v", destDir, err)
		return
	}
	for _, path := range artifacts {
		if path == "" || !exists(path) {
			continue
		}
		if err := copyFile(path, filepath.Join(destDir, filepath.Base(path))); err != nil {
			p.logf("warning: local copy failed for %s: %v", path, err)
		}
	}
}

func (p *PostProcessor) cleanup(artifacts []string) {
	for _, path := range artifacts {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.logf("warning: temp file cleanup failed for %s: %v", path, err)
		}
	}
}

func (p *PostProcessor) logf(format string, args ...any) {
	if p.Logger != nil {
		fmt.Fprintf(p.Logger, format+"\n", args...)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
