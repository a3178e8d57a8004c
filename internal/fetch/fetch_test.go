// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/oa-harvester/pkg/types"
)

type fakeDownloader struct {
	err    error
	writes []byte
}

func (f *fakeDownloader) Download(ctx context.Context, url, destination string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(destination, f.writes, 0o644)
}

type fakeValidator struct{ err error }

func (v *fakeValidator) Validate(string) error { return v.err }

func TestFetch_SuccessReturnsEmptyToken(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "entry-1.pdf")

	f := &Fetcher{Downloader: &fakeDownloader{writes: []byte("%PDF-1.4")}, DataPath: dir}
	token, entry := f.Fetch(context.Background(), "https://x/a.pdf", dest, &types.Entry{ID: "entry-1"})

	assert.Equal(t, "", token)
	assert.Equal(t, "entry-1", entry.ID)
	assert.FileExists(t, dest)
}

func TestFetch_DownloadFailureSurfacesToken(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "entry-1.pdf")

	f := &Fetcher{Downloader: &fakeDownloader{err: &HTTPStatusError{Code: 404}}, DataPath: dir}
	token, _ := f.Fetch(context.Background(), "https://x/a.pdf", dest, &types.Entry{ID: "entry-1"})

	assert.Equal(t, "404", token)
}

func TestFetch_ValidationFailureSurfacesToken(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "entry-1.pdf")

	f := &Fetcher{
		Downloader: &fakeDownloader{writes: []byte("not a pdf")},
		Validator:  &fakeValidator{err: errors.New("bad pdf")},
		DataPath:   dir,
	}
	token, _ := f.Fetch(context.Background(), "https://x/a.pdf", dest, &types.Entry{ID: "entry-1"})

	assert.Equal(t, "bad pdf", token)
}

func buildArchive(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	gz := gzip.NewWriter(f)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(body)),
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
}

func TestFetch_ExtractsPDFAndNXMLFromArchive(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "entry-1.tar.gz")

	f := &Fetcher{
		Downloader: &fakeDownloader{},
		DataPath:   dir,
	}

	// Build the archive ourselves since the fake downloader just copies bytes.
	buildArchive(t, dest+".src", map[string]string{
		"PMC1/main.pdf":  "%PDF-1.4 body",
		"PMC1/main.nxml": "<article/>",
	})
	archiveBytes, err := os.ReadFile(dest + ".src")
	require.NoError(t, err)
	f.Downloader = &fakeDownloader{writes: archiveBytes}

	token, _ := f.Fetch(context.Background(), "https://x/a.tar.gz", dest, &types.Entry{ID: "entry-1"})

	assert.Equal(t, "", token)
	assert.FileExists(t, filepath.Join(dir, "entry-1.pdf"))
	assert.FileExists(t, filepath.Join(dir, "entry-1.nxml"))
	_, err = os.Stat(dest)
	assert.True(t, os.IsNotExist(err), "archive should be removed after extraction")
}

func TestFetch_ArchiveWithNoPDFStillRemovesArchive(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "entry-2.tar.gz")

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	body := "<article/>"
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "x.nxml", Mode: 0o644, Size: int64(len(body))}))
	_, err := tw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	var logBuf bytes.Buffer
	f := &Fetcher{Downloader: &fakeDownloader{writes: buf.Bytes()}, DataPath: dir, Logger: &logBuf}

	token, _ := f.Fetch(context.Background(), "https://x/a.tar.gz", dest, &types.Entry{ID: "entry-2"})

	assert.Equal(t, "", token)
	assert.FileExists(t, filepath.Join(dir, "entry-2.nxml"))
	_, statErr := os.Stat(filepath.Join(dir, "entry-2.pdf"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
	assert.Contains(t, logBuf.String(), "no pdf found")
}
