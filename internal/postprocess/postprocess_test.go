// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package postprocess

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/oa-harvester/pkg/types"
)

type fakeThumbnailer struct {
	small, medium, large string
	err                   error
}

func (f *fakeThumbnailer) Generate(ctx context.Context, pdfPath string) (string, string, string, error) {
	return f.small, f.medium, f.large, f.err
}

type recordingUploader struct {
	uploaded []string
}

func (u *recordingUploader) Upload(ctx context.Context, localPath, remotePrefix, tier string) error {
	u.uploaded = append(u.uploaded, filepath.Base(localPath)+"@"+remotePrefix)
	return nil
}

func TestSharedPrefix(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"abcdef1234567890", "ab/cd/ef/12/"},
		{"short", "short/"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, SharedPrefix(tt.id))
		})
	}
}

func TestProcess_UploadsArtifactsAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	id := "abcdef1234567890"
	pdfPath := filepath.Join(dir, id+".pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("pdf"), 0o644))

	uploader := &recordingUploader{}
	p := &PostProcessor{
		Uploader: uploader,
		DataPath: dir,
	}

	p.Process(context.Background(), &types.Entry{ID: id})

	require.Len(t, uploader.uploaded, 1)
	assert.Equal(t, id+".pdf@ab/cd/ef/12/", uploader.uploaded[0])

	_, err := os.Stat(pdfPath)
	assert.True(t, os.IsNotExist(err), "pdf should be cleaned up after upload")
}

func TestProcess_LocalCopyWhenNoUploader(t *testing.T) {
	dir := t.TempDir()
	id := "abcdef1234567890"
	pdfPath := filepath.Join(dir, id+".pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("pdf"), 0o644))

	p := &PostProcessor{DataPath: dir}
	p.Process(context.Background(), &types.Entry{ID: id})

	copied := filepath.Join(dir, "ab/cd/ef/12", id+".pdf")
	assert.FileExists(t, copied)

	_, err := os.Stat(pdfPath)
	assert.True(t, os.IsNotExist(err))
}

func TestProcess_ThumbnailGeneratedWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	id := "abcdef1234567890"
	pdfPath := filepath.Join(dir, id+".pdf")
	require.NoError(t, os.WriteFile(pdfPath, []byte("pdf"), 0o644))
	thumbPath := filepath.Join(dir, id+"-thumb-small.png")
	require.NoError(t, os.WriteFile(thumbPath, []byte("png"), 0o644))

	uploader := &recordingUploader{}
	p := &PostProcessor{
		Thumbnailer:     &fakeThumbnailer{small: thumbPath},
		Uploader:        uploader,
		DataPath:        dir,
		EnableThumbnail: true,
	}
	p.Process(context.Background(), &types.Entry{ID: id})

	assert.Contains(t, uploader.uploaded, filepath.Base(thumbPath)+"@ab/cd/ef/12/")
}

func TestProcess_MissingPDFSkipsThumbnailingWithoutError(t *testing.T) {
	dir := t.TempDir()
	id := "abcdef1234567890"

	p := &PostProcessor{
		Thumbnailer:     &fakeThumbnailer{},
		DataPath:        dir,
		EnableThumbnail: true,
	}
	// Process must not panic or error when no artifacts exist at all.
	p.Process(context.Background(), &types.Entry{ID: id})
}
