package reconcile

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zaolin/bastion/internal/config"
	"github.com/zaolin/bastion/internal/image"
)

type fakeBuilder struct {
	built []string
	fail  map[string]error
}

func (f *fakeBuilder) Build(rec *config.Record) (*image.Result, error) {
	if err := f.fail[rec.Name]; err != nil {
		return nil, err
	}
	f.built = append(f.built, rec.Name)
	return &image.Result{
		ImagePath: "/boot/efi/" + rec.Title + ".efi",
		Options:   "opts-" + rec.Title,
	}, nil
}

// fakeEntries simulates the firmware: Add prepends to the boot order,
// Remove deletes every entry with the label.
type fakeEntries struct {
	ops   []string
	order []string
}

func (f *fakeEntries) Remove(label string) (int, error) {
	f.ops = append(f.ops, "remove "+label)
	removed := 0
	var kept []string
	for _, l := range f.order {
		if l == label {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	f.order = kept
	return removed, nil
}

func (f *fakeEntries) Add(label, imagePath, options string) error {
	f.ops = append(f.ops, fmt.Sprintf("add %s %s %s", label, imagePath, options))
	f.order = append([]string{label}, f.order...)
	return nil
}

func record(name, title string) *config.Record {
	return &config.Record{Name: name, Title: title, Variant: config.VariantStandard}
}

func TestRunSetProcessesReverseFilenameOrder(t *testing.T) {
	builder := &fakeBuilder{}
	entries := &fakeEntries{}
	r := &Runner{Builder: builder, Entries: entries}

	records := []*config.Record{
		record("01-linux.conf", "Linux"),
		record("02-recovery.conf", "Recovery"),
	}
	require.NoError(t, r.RunSet(records))

	require.Equal(t, []string{"02-recovery.conf", "01-linux.conf"}, builder.built)
	// prepending in reverse order leaves the first filename on top
	require.Equal(t, []string{"Linux", "Recovery"}, entries.order)
}

func TestRunSetDoesNotReorderInput(t *testing.T) {
	r := &Runner{Builder: &fakeBuilder{}, Entries: &fakeEntries{}}
	records := []*config.Record{
		record("01-linux.conf", "Linux"),
		record("02-recovery.conf", "Recovery"),
	}
	require.NoError(t, r.RunSet(records))

	require.Equal(t, "01-linux.conf", records[0].Name)
	require.Equal(t, "02-recovery.conf", records[1].Name)
}

func TestRunOneRemovesBeforeAdd(t *testing.T) {
	entries := &fakeEntries{}
	r := &Runner{Builder: &fakeBuilder{}, Entries: entries}

	require.NoError(t, r.RunOne(record("01-linux.conf", "Linux")))
	require.Equal(t, []string{
		"remove Linux",
		"add Linux /boot/efi/Linux.efi opts-Linux",
	}, entries.ops)
}

func TestRunOneCollapsesDuplicateEntries(t *testing.T) {
	entries := &fakeEntries{order: []string{"Linux", "Windows", "Linux"}}
	r := &Runner{Builder: &fakeBuilder{}, Entries: entries}

	require.NoError(t, r.RunOne(record("01-linux.conf", "Linux")))

	count := 0
	for _, l := range entries.order {
		if l == "Linux" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestFilesOnlySkipsEntryMutation(t *testing.T) {
	builder := &fakeBuilder{}
	entries := &fakeEntries{}
	r := &Runner{Builder: builder, Entries: entries, FilesOnly: true}

	require.NoError(t, r.RunSet([]*config.Record{
		record("01-linux.conf", "Linux"),
		record("02-recovery.conf", "Recovery"),
	}))

	require.Len(t, builder.built, 2)
	require.Empty(t, entries.ops)
}

func TestRunSetContinuesPastFailingRecord(t *testing.T) {
	boom := errors.New("no such kernel")
	builder := &fakeBuilder{fail: map[string]error{"02-recovery.conf": boom}}
	entries := &fakeEntries{}
	r := &Runner{Builder: builder, Entries: entries}

	err := r.RunSet([]*config.Record{
		record("01-linux.conf", "Linux"),
		record("02-recovery.conf", "Recovery"),
		record("03-rescue.conf", "Rescue"),
	})
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "1 of 3 records failed")

	// the other two records still went through
	require.Equal(t, []string{"03-rescue.conf", "01-linux.conf"}, builder.built)
	require.Equal(t, []string{"Linux", "Rescue"}, entries.order)
}

func TestRunOneAbortsOnBuildFailure(t *testing.T) {
	boom := errors.New("sbsign exploded")
	entries := &fakeEntries{}
	r := &Runner{
		Builder: &fakeBuilder{fail: map[string]error{"01-linux.conf": boom}},
		Entries: entries,
	}

	err := r.RunOne(record("01-linux.conf", "Linux"))
	require.ErrorIs(t, err, boom)
	require.Empty(t, entries.ops)
}
