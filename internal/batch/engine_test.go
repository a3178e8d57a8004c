// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package batch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/oa-harvester/internal/catalog"
	"github.com/pdiddy/oa-harvester/internal/fetch"
	"github.com/pdiddy/oa-harvester/internal/postprocess"
	"github.com/pdiddy/oa-harvester/internal/store"
	"github.com/pdiddy/oa-harvester/pkg/types"
)

// fakeReader replays a fixed slice of triples.
type fakeReader struct {
	triples []catalog.Triple
	i       int
}

func (r *fakeReader) Next() (catalog.Triple, bool, error) {
	if r.i >= len(r.triples) {
		return catalog.Triple{}, false, nil
	}
	t := r.triples[r.i]
	r.i++
	return t, true, nil
}

func (r *fakeReader) Close() error { return nil }

// scriptedDownloader writes empty/non-empty content or fails per URL.
type scriptedDownloader struct {
	fail  map[string]bool
	empty map[string]bool
}

func (d *scriptedDownloader) Download(ctx context.Context, url, destination string) error {
	if d.fail[url] {
		return &fetch.HTTPStatusError{Code: 404}
	}
	content := []byte("%PDF-1.4")
	if d.empty[url] {
		content = nil
	}
	return os.WriteFile(destination, content, 0o644)
}

func newTestEngine(t *testing.T, downloader fetch.Downloader) (*Engine, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fetcher := &fetch.Fetcher{Downloader: downloader, DataPath: dir}
	engine := &Engine{
		Store:     db,
		Fetcher:   fetcher,
		BatchSize: 10,
		Workers:   4,
		DataPath:  dir,
	}
	return engine, db, dir
}

func triple(dir, id, doi, url string) catalog.Triple {
	return catalog.Triple{
		URL:         url,
		Destination: filepath.Join(dir, id+".pdf"),
		Entry:       &types.Entry{ID: id, DOI: doi},
	}
}

func TestHarvest_PartitionsSuccessAndFailure(t *testing.T) {
	dl := &scriptedDownloader{fail: map[string]bool{"https://x/b.pdf": true}}
	engine, db, dir := newTestEngine(t, dl)

	reader := &fakeReader{triples: []catalog.Triple{
		triple(dir, "id-a", "10.1/a", "https://x/a.pdf"),
		triple(dir, "id-b", "10.1/b", "https://x/b.pdf"),
	}}

	summary, err := engine.Harvest(context.Background(), reader)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	failCount, err := db.FailCount()
	require.NoError(t, err)
	assert.Equal(t, 1, failCount)

	idForA, err := db.LookupDoi("10.1/a")
	require.NoError(t, err)
	assert.Equal(t, "id-a", idForA)

	idForB, err := db.LookupDoi("10.1/b")
	require.NoError(t, err)
	assert.Equal(t, "id-b", idForB, "DoiIndex is written on the failure path too")

	raw, err := db.GetEntry("id-b")
	require.NoError(t, err)
	assert.NotNil(t, raw)
}

func TestHarvest_EmptyFileOverridesSuccessToken(t *testing.T) {
	dl := &scriptedDownloader{empty: map[string]bool{"https://x/a.pdf": true}}
	engine, db, dir := newTestEngine(t, dl)

	reader := &fakeReader{triples: []catalog.Triple{
		triple(dir, "id-a", "10.1/a", "https://x/a.pdf"),
	}}

	summary, err := engine.Harvest(context.Background(), reader)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	failCount, err := db.FailCount()
	require.NoError(t, err)
	assert.Equal(t, 1, failCount)
}

func TestHarvest_PostProcessesOnlySuccesses(t *testing.T) {
	dl := &scriptedDownloader{fail: map[string]bool{"https://x/b.pdf": true}}
	engine, _, dir := newTestEngine(t, dl)

	engine.PostProcessor = &postprocess.PostProcessor{
		DataPath: dir,
	}

	reader := &fakeReader{triples: []catalog.Triple{
		triple(dir, "id-a", "10.1/a", "https://x/a.pdf"),
		triple(dir, "id-b", "10.1/b", "https://x/b.pdf"),
	}}

	summary, err := engine.Harvest(context.Background(), reader)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	// id-a's pdf was uploaded-or-copied-and-cleaned-up by post-process;
	// id-b never reaches post-process since it failed.
	_, err = os.Stat(filepath.Join(dir, "id-a.pdf"))
	assert.True(t, os.IsNotExist(err), "successful entry's pdf should be consumed by post-process")
}

func TestReprocess_RecoversAndClearsFailLog(t *testing.T) {
	dl := &scriptedDownloader{}
	engine, db, dir := newTestEngine(t, dl)

	entry := types.Entry{
		ID:  "id-a",
		DOI: "10.1/a",
		BestOALocation: &types.OALocation{
			URLForPDF: strPtr("https://x/a.pdf"),
		},
	}
	serialized, err := json.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, db.PutEntry("id-a", serialized))
	require.NoError(t, db.PutFail("id-a", "404"))

	summary, err := engine.Reprocess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	failCount, err := db.FailCount()
	require.NoError(t, err)
	assert.Equal(t, 0, failCount)

	_ = dir
}

func TestReprocess_StillFailingKeepsFailLogEntry(t *testing.T) {
	dl := &scriptedDownloader{fail: map[string]bool{"https://x/a.pdf": true}}
	engine, db, _ := newTestEngine(t, dl)

	entry := types.Entry{
		ID:  "id-a",
		DOI: "10.1/a",
		BestOALocation: &types.OALocation{
			URLForPDF: strPtr("https://x/a.pdf"),
		},
	}
	serialized, err := json.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, db.PutEntry("id-a", serialized))
	require.NoError(t, db.PutFail("id-a", "404"))

	summary, err := engine.Reprocess(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Succeeded)

	failCount, err := db.FailCount()
	require.NoError(t, err)
	assert.Equal(t, 1, failCount)
}

func strPtr(s string) *string { return &s }
