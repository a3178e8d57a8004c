// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvester

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/oa-harvester/internal/batch"
	"github.com/pdiddy/oa-harvester/internal/fetch"
	"github.com/pdiddy/oa-harvester/internal/store"
)

type noopDownloader struct{}

func (noopDownloader) Download(ctx context.Context, url, destination string) error {
	return os.WriteFile(destination, []byte("%PDF-1.4"), 0o644)
}

func newTestController(t *testing.T) (*Controller, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	engine := &batch.Engine{
		Store:     db,
		Fetcher:   &fetch.Fetcher{Downloader: noopDownloader{}, DataPath: dir},
		BatchSize: 10,
		Workers:   2,
		DataPath:  dir,
	}
	return &Controller{Store: db, Engine: engine, DataPath: dir}, db, dir
}

func TestController_Diagnose(t *testing.T) {
	c, db, _ := newTestController(t)

	require.NoError(t, db.PutEntry("a", []byte(`{"id":"a"}`)))
	require.NoError(t, db.PutEntry("b", []byte(`{"id":"b"}`)))
	require.NoError(t, db.PutFail("b", "404"))

	diag, err := c.Diagnose()
	require.NoError(t, err)
	assert.Equal(t, 2, diag.TotalCount)
	assert.Equal(t, 1, diag.FailCount)
}

func TestController_Dump(t *testing.T) {
	c, db, dir := newTestController(t)

	require.NoError(t, db.PutEntry("a", []byte(`{"id":"a","doi":"10.1/a"}`)))
	require.NoError(t, db.PutEntry("b", []byte(`{"id":"b","doi":"10.1/b"}`)))

	dumpPath := filepath.Join(dir, "dump.jsonl")
	require.NoError(t, c.Dump(dumpPath))

	f, err := os.Open(dumpPath)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "a", lines[0]["id"])
	assert.Equal(t, "b", lines[1]["id"])
}

func TestController_Run_ResetClearsStore(t *testing.T) {
	c, db, _ := newTestController(t)
	require.NoError(t, db.PutEntry("a", []byte(`{"id":"a"}`)))

	_, err := c.Run(context.Background(), Request{Mode: ModeReset})
	require.NoError(t, err)

	n, err := c.Store.EntryCount()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestController_Run_DumpAlwaysRunsAfterMode(t *testing.T) {
	c, db, dir := newTestController(t)
	require.NoError(t, db.PutEntry("a", []byte(`{"id":"a"}`)))

	dumpPath := filepath.Join(dir, "dump.jsonl")
	_, err := c.Run(context.Background(), Request{Mode: ModeReprocess, DumpPath: dumpPath})
	require.NoError(t, err)

	assert.FileExists(t, dumpPath)
}
