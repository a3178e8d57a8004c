// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Harvest runs the built oa-harvester binary against an Unpaywall snapshot.
//
// Usage: mage harvest snapshot.jsonl.gz
func Harvest(catalogPath string) error {
	if catalogPath == "" {
		return fmt.Errorf("catalog path required: mage harvest snapshot.jsonl.gz")
	}
	return runHarvester("--unpaywall", catalogPath)
}

// HarvestPMC runs the built oa-harvester binary against a PMC file list.
//
// Usage: mage harvestpmc oa_file_list.txt
func HarvestPMC(catalogPath string) error {
	if catalogPath == "" {
		return fmt.Errorf("catalog path required: mage harvestpmc oa_file_list.txt")
	}
	return runHarvester("--pmc", catalogPath)
}

// Reprocess retries every entry currently recorded in the fail log.
func Reprocess() error {
	return runHarvester("--reprocess")
}

// Reset wipes the persistent store and stray artifacts.
func Reset() error {
	return runHarvester("--reset")
}

func runHarvester(args ...string) error {
	bin := filepath.Join(binDir, binName)
	if _, err := os.Stat(bin); err != nil {
		if err := Build(); err != nil {
			return err
		}
	}
	cmd := exec.Command(bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
