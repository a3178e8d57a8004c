// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package batch is the batch engine: it accumulates catalog triples into
// fixed-size batches, runs the fetcher with bounded parallelism, drains
// results into the persistent store serially, and runs the
// post-processor with bounded parallelism.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/oa-harvester/internal/catalog"
	"github.com/pdiddy/oa-harvester/internal/fetch"
	"github.com/pdiddy/oa-harvester/internal/postprocess"
	"github.com/pdiddy/oa-harvester/internal/store"
	"github.com/pdiddy/oa-harvester/pkg/types"
)

// Engine drives the harvest and reprocess pipelines. Store commits for
// batch i happen-before any fetch call in batch i+1; within a batch,
// inter-entry ordering is unspecified.
type Engine struct {
	Store         *store.Store
	Fetcher       *fetch.Fetcher
	PostProcessor *postprocess.PostProcessor
	BatchSize     int
	Workers       int
	DataPath      string
	Logger        io.Writer
}

// Summary holds counts from one harvest or reprocess run.
type Summary struct {
	Processed int
	Succeeded int
	Failed    int
}

type fetchJob struct {
	url         string
	destination string
	entry       *types.Entry
}

type fetchResult struct {
	job   fetchJob
	token string
}

func (e *Engine) workers() int {
	if e.Workers <= 0 {
		return 12
	}
	return e.Workers
}

func (e *Engine) batchSize() int {
	if e.BatchSize <= 0 {
		return 100
	}
	return e.BatchSize
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		fmt.Fprintf(e.Logger, format+"\n", args...)
	}
}

// Harvest pulls triples from reader in fixed-size batches, fetches each
// batch with bounded parallelism, commits the results to the store, and
// post-processes the successes — advancing to the next batch only once
// the previous one has fully committed.
func (e *Engine) Harvest(ctx context.Context, reader catalog.Reader) (Summary, error) {
	var total Summary

	for {
		jobs, done, err := pullBatch(reader, e.batchSize())
		if err != nil {
			return total, err
		}
		if len(jobs) == 0 {
			break
		}

		results := e.fetchAll(ctx, jobs)

		committed, err := e.commitHarvestBatch(results)
		if err != nil {
			return total, fmt.Errorf("committing batch: %w", err)
		}
		total.Processed += len(results)
		total.Succeeded += len(committed)
		total.Failed += len(results) - len(committed)

		e.postProcessAll(ctx, committed)

		if done {
			break
		}
	}

	return total, nil
}

func pullBatch(reader catalog.Reader, size int) ([]fetchJob, bool, error) {
	jobs := make([]fetchJob, 0, size)
	for len(jobs) < size {
		triple, ok, err := reader.Next()
		if err != nil {
			return jobs, true, err
		}
		if !ok {
			return jobs, true, nil
		}
		jobs = append(jobs, fetchJob{url: triple.URL, destination: triple.Destination, entry: triple.Entry})
	}
	return jobs, false, nil
}

// fetchAll runs the fetcher over jobs with a worker pool bounded to
// e.workers(), suspended on network I/O — no store transaction is held
// across these calls.
func (e *Engine) fetchAll(ctx context.Context, jobs []fetchJob) []fetchResult {
	results := make([]fetchResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			token, entry := e.Fetcher.Fetch(gctx, job.url, job.destination, job.entry)
			job.entry = entry
			results[i] = fetchResult{job: job, token: token}
			return nil
		})
	}
	g.Wait()

	return results
}

// commitHarvestBatch serially drains fetch results into the store. The
// success predicate is the stricter "(token is '' or '0') and not
// emptyFile" rather than "token is '' or (token == '0' and not
// emptyFile)", since the latter would count a '0'-tokened empty file as
// a success. Entries and DoiIndex are written on both the success and
// failure paths (load-bearing for resumption); FailLog is written on
// failure only, and stray artifacts are removed on failure.
func (e *Engine) commitHarvestBatch(results []fetchResult) ([]*types.Entry, error) {
	var committed []*types.Entry

	for _, r := range results {
		entry := r.job.entry
		empty := e.emptyArtifact(entry.ID)
		success := (r.token == "" || r.token == "0") && !empty

		serialized, err := json.Marshal(entry)
		if err != nil {
			return committed, fmt.Errorf("serializing entry %s: %w", entry.ID, err)
		}
		if err := e.Store.PutEntry(entry.ID, serialized); err != nil {
			return committed, fmt.Errorf("writing entry %s: %w", entry.ID, err)
		}
		if err := e.Store.PutDoi(entry.DOI, entry.ID); err != nil {
			return committed, fmt.Errorf("writing doi index for %s: %w", entry.DOI, err)
		}

		if success {
			committed = append(committed, entry)
			continue
		}

		e.logf("error: %s (%s)", entry.ID, r.token)
		if err := e.Store.PutFail(entry.ID, r.token); err != nil {
			return committed, fmt.Errorf("writing fail log for %s: %w", entry.ID, err)
		}
		e.removeStrayArtifacts(entry.ID)
	}

	return committed, nil
}

func (e *Engine) emptyArtifact(id string) bool {
	for _, ext := range []string{".pdf", ".tar.gz"} {
		path := filepath.Join(e.DataPath, id+ext)
		if info, err := os.Stat(path); err == nil && info.Size() == 0 {
			return true
		}
	}
	return false
}

func (e *Engine) removeStrayArtifacts(id string) {
	for _, ext := range []string{".pdf", ".tar.gz", ".nxml"} {
		os.Remove(filepath.Join(e.DataPath, id+ext))
	}
}

func (e *Engine) postProcessAll(ctx context.Context, entries []*types.Entry) {
	if e.PostProcessor == nil || len(entries) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			e.PostProcessor.Process(gctx, entry)
			return nil
		})
	}
	g.Wait()
}

// Reprocess retries every entry currently recorded in FailLog. Entries
// and DoiIndex are not rewritten; an entry that now succeeds is removed
// from FailLog and post-processed, retaining its original id.
func (e *Engine) Reprocess(ctx context.Context) (Summary, error) {
	var total Summary

	var ids []string
	if err := e.Store.EachFail(func(id, _ string) error {
		ids = append(ids, id)
		return nil
	}); err != nil {
		return total, fmt.Errorf("listing fail log: %w", err)
	}

	size := e.batchSize()
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}

		jobs, err := e.jobsForIDs(ids[start:end])
		if err != nil {
			return total, err
		}
		if len(jobs) == 0 {
			continue
		}

		results := e.fetchAll(ctx, jobs)
		recovered, err := e.commitReprocessBatch(results)
		if err != nil {
			return total, fmt.Errorf("committing reprocess batch: %w", err)
		}

		total.Processed += len(results)
		total.Succeeded += len(recovered)
		total.Failed += len(results) - len(recovered)

		e.postProcessAll(ctx, recovered)
	}

	return total, nil
}

func (e *Engine) jobsForIDs(ids []string) ([]fetchJob, error) {
	jobs := make([]fetchJob, 0, len(ids))
	for _, id := range ids {
		raw, err := e.Store.GetEntry(id)
		if err != nil {
			return nil, fmt.Errorf("reading entry %s: %w", id, err)
		}
		if raw == nil {
			continue
		}
		var entry types.Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("parsing entry %s: %w", id, err)
		}

		url := entry.URLForPDF()
		if url == "" {
			continue
		}
		destination := filepath.Join(e.DataPath, id+".pdf")
		if hasSuffix(url, ".tar.gz") {
			destination = filepath.Join(e.DataPath, id+".tar.gz")
		}
		jobs = append(jobs, fetchJob{url: url, destination: destination, entry: &entry})
	}
	return jobs, nil
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// commitReprocessBatch removes recovered entries from FailLog, using the
// same success predicate as commitHarvestBatch. Entries still failing
// keep their FailLog record and have stray artifacts cleaned up.
func (e *Engine) commitReprocessBatch(results []fetchResult) ([]*types.Entry, error) {
	var recovered []*types.Entry

	for _, r := range results {
		entry := r.job.entry
		if (r.token == "" || r.token == "0") && !e.emptyArtifact(entry.ID) {
			if err := e.Store.DeleteFail(entry.ID); err != nil {
				return recovered, fmt.Errorf("clearing fail log for %s: %w", entry.ID, err)
			}
			recovered = append(recovered, entry)
			continue
		}
		e.removeStrayArtifacts(entry.ID)
	}

	return recovered, nil
}
