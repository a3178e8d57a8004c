// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package catalog is the catalog reader: a format-aware streaming reader
// over Unpaywall (gzipped line-delimited JSON) and PMC (tab-separated)
// catalog files, with optional uniform-random sampling.
package catalog

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/pdiddy/oa-harvester/pkg/types"
)

// Triple is one unit of work handed from the catalog reader to the batch
// engine: the source URL, the local destination path, and the freshly
// constructed Entry.
type Triple struct {
	URL         string
	Destination string
	Entry       *types.Entry
}

// DoiLookup resolves a doi to its previously-assigned id, or "" if the doi
// has not been seen before. Satisfied by *store.Store.
type DoiLookup interface {
	LookupDoi(doi string) (string, error)
}

// Reader yields catalog triples lazily. Next returns ok=false once the
// catalog is exhausted.
type Reader interface {
	Next() (Triple, bool, error)
	Close() error
}

// sampleLineIndices picks k distinct line indices from [0, n) uniformly at
// random, without replacement. Returns a sorted slice.
func sampleLineIndices(n, k int) []int {
	if k <= 0 || n <= 0 {
		return nil
	}
	if k >= n {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	picked := rand.Perm(n)[:k]
	sort.Ints(picked)
	return picked
}

func countLines(r io.Reader) (int, error) {
	buf := make([]byte, 64*1024)
	count := 0
	for {
		n, err := r.Read(buf)
		count += countNewlines(buf[:n])
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

func countNewlines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}

// --- Unpaywall ---

type unpaywallReader struct {
	f        *os.File
	gz       *gzip.Reader
	scanner  *bufio.Scanner
	dedup    DoiLookup
	dataPath string
	selected map[int]bool
	lineNum  int
}

// NewUnpaywallReader opens a gzipped line-delimited JSON Unpaywall dump.
// When sampleK > 0, it first counts lines in the file and precomputes a
// sample of sampleK line indices before rewinding to stream from the
// beginning.
func NewUnpaywallReader(path string, dedup DoiLookup, dataPath string, sampleK int) (Reader, error) {
	var selected map[int]bool
	if sampleK > 0 {
		total, err := countGzipLines(path)
		if err != nil {
			return nil, fmt.Errorf("counting lines in %s: %w", path, err)
		}
		selected = toSet(sampleLineIndices(total, sampleK))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening unpaywall catalog %s: %w", path, err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	return &unpaywallReader{
		f: f, gz: gz, scanner: scanner,
		dedup: dedup, dataPath: dataPath, selected: selected,
	}, nil
}

func countGzipLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, err
	}
	defer gz.Close()
	return countLines(gz)
}

func toSet(indices []int) map[int]bool {
	set := make(map[int]bool, len(indices))
	for _, i := range indices {
		set[i] = true
	}
	return set
}

// Next implements Reader. Unpaywall mode: skip if doi already indexed
// (dedup at source), skip if url_for_pdf is missing, null, or its parent
// is null.
func (r *unpaywallReader) Next() (Triple, bool, error) {
	for r.scanner.Scan() {
		line := r.lineNum
		r.lineNum++

		if r.selected != nil && !r.selected[line] {
			continue
		}

		var entry types.Entry
		if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
			return Triple{}, false, fmt.Errorf("parsing unpaywall line %d: %w", line, err)
		}

		if entry.DOI == "" {
			continue
		}
		if existing, err := r.dedup.LookupDoi(entry.DOI); err != nil {
			return Triple{}, false, err
		} else if existing != "" {
			continue
		}

		pdfURL := entry.URLForPDF()
		if pdfURL == "" {
			continue
		}

		entry.ID = uuid.NewString()
		dest := filepath.Join(r.dataPath, entry.ID+".pdf")
		return Triple{URL: pdfURL, Destination: dest, Entry: &entry}, true, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Triple{}, false, fmt.Errorf("reading unpaywall catalog: %w", err)
	}
	return Triple{}, false, nil
}

func (r *unpaywallReader) Close() error {
	r.gz.Close()
	return r.f.Close()
}

// --- PMC ---

type pmcReader struct {
	f        *os.File
	scanner  *bufio.Scanner
	pmcBase  string
	dedup    DoiLookup
	dataPath string
	selected map[int]bool
	lineNum  int
}

// NewPMCReader opens a tab-separated PMC file list. The first line is a
// date banner and is skipped; the header-skip rule is applied *after*
// sampling, so a sample that happens to pick line 0 silently drops it.
func NewPMCReader(path, pmcBase string, dedup DoiLookup, dataPath string, sampleK int) (Reader, error) {
	var selected map[int]bool
	if sampleK > 0 {
		total, err := countFileLines(path)
		if err != nil {
			return nil, fmt.Errorf("counting lines in %s: %w", path, err)
		}
		selected = toSet(sampleLineIndices(total, sampleK))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pmc file list %s: %w", path, err)
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &pmcReader{
		f: f, scanner: scanner, pmcBase: pmcBase,
		dedup: dedup, dataPath: dataPath, selected: selected,
	}, nil
}

func countFileLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return countLines(f)
}

// Next implements Reader. PMC mode: field 0 is the archive subpath,
// field 2 is pmcid, field 3 is pmid (with any leading "scheme:" prefix
// stripped). Dedup against DoiIndex keyed by pmcid.
func (r *pmcReader) Next() (Triple, bool, error) {
	for r.scanner.Scan() {
		line := r.lineNum
		r.lineNum++

		if r.selected != nil && !r.selected[line] {
			continue
		}
		if line == 0 {
			continue
		}

		fields := strings.Split(r.scanner.Text(), "\t")
		if len(fields) < 4 {
			continue
		}
		subpath := fields[0]
		pmcid := fields[2]
		pmid := fields[3]
		if idx := strings.Index(pmid, ":"); idx != -1 {
			pmid = pmid[idx+1:]
		}

		if pmcid == "" || subpath == "" {
			continue
		}
		if existing, err := r.dedup.LookupDoi(pmcid); err != nil {
			return Triple{}, false, err
		} else if existing != "" {
			continue
		}

		tarURL := r.pmcBase + subpath
		id := uuid.NewString()
		entry := &types.Entry{
			ID:    id,
			DOI:   pmcid,
			PMCID: pmcid,
			PMID:  pmid,
			BestOALocation: &types.OALocation{
				URLForPDF: &tarURL,
			},
		}
		dest := filepath.Join(r.dataPath, id+".tar.gz")
		return Triple{URL: tarURL, Destination: dest, Entry: entry}, true, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Triple{}, false, fmt.Errorf("reading pmc file list: %w", err)
	}
	return Triple{}, false, nil
}

func (r *pmcReader) Close() error {
	return r.f.Close()
}
