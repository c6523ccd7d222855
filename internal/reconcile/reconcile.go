// Package reconcile drives the per-record pipeline: build the boot
// image, then replace the firmware entry carrying the record's title.
package reconcile

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zaolin/bastion/internal/config"
	"github.com/zaolin/bastion/internal/image"
)

// ImageBuilder produces the bootable payload for one record.
type ImageBuilder interface {
	Build(rec *config.Record) (*image.Result, error)
}

// EntryManager mutates firmware boot entries. Add prepends the new
// entry to the firmware boot order.
type EntryManager interface {
	Remove(label string) (int, error)
	Add(label, imagePath, options string) error
}

// Runner processes configuration records.
type Runner struct {
	Builder   ImageBuilder
	Entries   EntryManager
	FilesOnly bool // refresh images only, leave firmware entries alone
}

// RunOne processes a single record. The entry mutation happens only
// after the image built successfully, and always as remove-then-add so
// the title ends up on exactly one entry.
func (r *Runner) RunOne(rec *config.Record) error {
	res, err := r.Builder.Build(rec)
	if err != nil {
		return fmt.Errorf("%s: %w", rec.Name, err)
	}
	if r.FilesOnly {
		return nil
	}

	if _, err := r.Entries.Remove(rec.Title); err != nil {
		return fmt.Errorf("%s: %w", rec.Name, err)
	}
	if err := r.Entries.Add(rec.Title, res.ImagePath, res.Options); err != nil {
		return fmt.Errorf("%s: %w", rec.Name, err)
	}
	return nil
}

// RunSet processes records in reverse filename order. Every Add
// prepends to the firmware boot order, so walking the set backwards is
// what realizes the ascending filename priority: the lowest filename is
// added last and therefore boots first. A failing record is reported
// and skipped; the remaining records still run, and the joined failures
// come back as one error.
func (r *Runner) RunSet(records []*config.Record) error {
	ordered := make([]*config.Record, len(records))
	copy(ordered, records)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name > ordered[j].Name })

	var failed []error
	for _, rec := range ordered {
		fmt.Printf("bastion: processing %s (%s)\n", rec.Name, rec.Title)
		if err := r.RunOne(rec); err != nil {
			fmt.Printf("  warning: %v\n", err)
			failed = append(failed, err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d records failed: %w", len(failed), len(ordered), errors.Join(failed...))
	}
	return nil
}
