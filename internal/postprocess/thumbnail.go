// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package postprocess

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ImageMagickThumbnailer renders front-page thumbnails by shelling out to
// ImageMagick's convert, matching the original harvester's
// `convert -density 200 -thumbnail xH -flatten file.pdf[0] out.png`
// invocation.
type ImageMagickThumbnailer struct {
	path string
}

// NewImageMagickThumbnailer looks up convert on PATH once.
func NewImageMagickThumbnailer() *ImageMagickThumbnailer {
	path, _ := exec.LookPath("convert")
	return &ImageMagickThumbnailer{path: path}
}

var thumbnailHeights = []struct {
	suffix string
	height int
}{
	{"small", 150},
	{"medium", 300},
	{"large", 500},
}

// Generate renders the three standard thumbnail sizes. Missing sizes are
// non-fatal: convert's exit status is reported via a warning and that size
// is simply omitted from the returned paths.
func (t *ImageMagickThumbnailer) Generate(ctx context.Context, pdfPath string) (small, medium, large string, err error) {
	if t.path == "" {
		return "", "", "", fmt.Errorf("convert executable not found on PATH")
	}
	if !strings.HasSuffix(pdfPath, ".pdf") {
		return "", "", "", fmt.Errorf("not a pdf: %s", pdfPath)
	}

	base := strings.TrimSuffix(pdfPath, ".pdf")
	results := make([]string, 0, 3)
	var firstErr error

	for _, spec := range thumbnailHeights {
		out := fmt.Sprintf("%s-thumb-%s.png", base, spec.suffix)
		cmd := exec.CommandContext(ctx, t.path,
			"-quiet", "-density", "200", "-thumbnail", fmt.Sprintf("x%d", spec.height),
			"-flatten", pdfPath+"[0]", out)
		if runErr := cmd.Run(); runErr != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("rendering %s thumbnail: %w", spec.suffix, runErr)
			}
			results = append(results, "")
			continue
		}
		results = append(results, out)
	}

	return results[0], results[1], results[2], firstErr
}
