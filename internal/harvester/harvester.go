// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package harvester is the controller: it dispatches the one harvest mode
// selected on the command line, then unconditionally runs dump if
// requested. Diagnose reports store counts on demand.
package harvester

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pdiddy/oa-harvester/internal/batch"
	"github.com/pdiddy/oa-harvester/internal/catalog"
	"github.com/pdiddy/oa-harvester/internal/store"
)

// Mode selects exactly one operation for a single run of the harvester:
// reset, reprocess, harvest against Unpaywall, or harvest against PMC
// are mutually exclusive.
type Mode int

const (
	ModeHarvestUnpaywall Mode = iota
	ModeHarvestPMC
	ModeReprocess
	ModeReset
)

// Request carries everything one controller run needs beyond the wired
// collaborators: the selected mode and its catalog-specific inputs.
type Request struct {
	Mode Mode

	// CatalogPath is the Unpaywall or PMC catalog file; ignored for
	// ModeReprocess and ModeReset.
	CatalogPath string
	// SampleK, if > 0, restricts the catalog to a uniform random sample
	// of SampleK rows (ignored for ModeReprocess and ModeReset).
	SampleK int

	// DumpPath, if non-empty, is always honored after Mode runs,
	// regardless of which mode was selected.
	DumpPath string
}

// Diagnostic reports the current store state.
type Diagnostic struct {
	TotalCount int
	FailCount  int
}

// Controller wires the catalog reader, batch engine and persistent store
// together into the handful of whole-run operations exposed on the CLI.
type Controller struct {
	Store     *store.Store
	Engine    *batch.Engine
	PMCBase   string
	DataPath  string
	BatchSize int
	Logger    io.Writer
}

// Run dispatches req.Mode, then — regardless of the mode's outcome — runs
// Dump if req.DumpPath is set.
func (c *Controller) Run(ctx context.Context, req Request) (batch.Summary, error) {
	var summary batch.Summary
	var runErr error

	switch req.Mode {
	case ModeReset:
		runErr = c.Store.Reset()
	case ModeReprocess:
		summary, runErr = c.Engine.Reprocess(ctx)
	case ModeHarvestUnpaywall:
		summary, runErr = c.harvest(ctx, req, c.newUnpaywallReader(req))
	case ModeHarvestPMC:
		summary, runErr = c.harvest(ctx, req, c.newPMCReader(req))
	default:
		runErr = fmt.Errorf("unknown mode %d", req.Mode)
	}

	if req.DumpPath != "" {
		if err := c.Dump(req.DumpPath); err != nil {
			if runErr == nil {
				runErr = fmt.Errorf("dumping store: %w", err)
			} else {
				c.logf("warning: dump failed: %v", err)
			}
		}
	}

	return summary, runErr
}

func (c *Controller) newUnpaywallReader(req Request) readerFactory {
	return func() (catalog.Reader, error) {
		return catalog.NewUnpaywallReader(req.CatalogPath, c.Store, c.DataPath, req.SampleK)
	}
}

func (c *Controller) newPMCReader(req Request) readerFactory {
	return func() (catalog.Reader, error) {
		return catalog.NewPMCReader(req.CatalogPath, c.PMCBase, c.Store, c.DataPath, req.SampleK)
	}
}

type readerFactory func() (catalog.Reader, error)

func (c *Controller) harvest(ctx context.Context, req Request, newReader readerFactory) (batch.Summary, error) {
	reader, err := newReader()
	if err != nil {
		return batch.Summary{}, fmt.Errorf("opening catalog %s: %w", req.CatalogPath, err)
	}
	defer reader.Close()

	return c.Engine.Harvest(ctx, reader)
}

// Diagnose reports the current fail and total entry counts.
func (c *Controller) Diagnose() (Diagnostic, error) {
	total, err := c.Store.EntryCount()
	if err != nil {
		return Diagnostic{}, fmt.Errorf("counting entries: %w", err)
	}
	failed, err := c.Store.FailCount()
	if err != nil {
		return Diagnostic{}, fmt.Errorf("counting fail log: %w", err)
	}
	return Diagnostic{TotalCount: total, FailCount: failed}, nil
}

// Dump writes one JSON Entry per line, in cursor order, to path — each
// line's id field reflects its store key.
func (c *Controller) Dump(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating dump file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := c.Store.EachEntry(func(id string, serialized []byte) error {
		if _, err := w.Write(serialized); err != nil {
			return err
		}
		return w.WriteByte('\n')
	}); err != nil {
		return fmt.Errorf("iterating entries: %w", err)
	}
	return w.Flush()
}

func (c *Controller) logf(format string, args ...any) {
	if c.Logger != nil {
		fmt.Fprintf(c.Logger, format+"\n", args...)
	}
}
