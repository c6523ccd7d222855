package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Variant selects how a record's boot image is produced.
type Variant int

const (
	// VariantStandard copies kernel and initrds onto the ESP as-is.
	VariantStandard Variant = iota
	// VariantGenericEFI points the firmware at an existing EFI binary.
	VariantGenericEFI
	// VariantSignedStub builds and signs a unified kernel image.
	VariantSignedStub
)

func (v Variant) String() string {
	switch v {
	case VariantStandard:
		return "standard"
	case VariantGenericEFI:
		return "efi"
	case VariantSignedStub:
		return "efisigned"
	}
	return "unknown"
}

// ErrMissingTitle indicates a record without a title.
var ErrMissingTitle = errors.New("record has no title")

// ErrNoVariant indicates a record selecting none of espdir, efi, efisigned.
var ErrNoVariant = errors.New("record selects no variant")

// ErrVariantConflict indicates a record selecting more than one variant.
var ErrVariantConflict = errors.New("record selects more than one variant")

// ErrMissingKernel indicates a standard or signed record without a kernel.
var ErrMissingKernel = errors.New("record has no kernel")

// Record is one immutable boot configuration. The title doubles as the
// firmware entry label; the filename decides boot-order priority.
type Record struct {
	Name            string // source filename
	Title           string
	Variant         Variant
	KernelPath      string
	InitrdPaths     []string
	Options         string
	ESPDir          string // Standard
	TargetImagePath string // GenericEFI, SignedStub
}

type rawRecord struct {
	Title     string `toml:"title"`
	Kernel    string `toml:"kernel"`
	Initrd    string `toml:"initrd"` // whitespace-separated paths
	Options   string `toml:"options"`
	ESPDir    string `toml:"espdir"`
	EFI       string `toml:"efi"`
	EFISigned string `toml:"efisigned"`
}

// ParseRecord builds a validated Record from TOML text. Parsing is pure:
// nothing is shared between calls, so records cannot leak state into each
// other.
func ParseRecord(name string, data []byte) (*Record, error) {
	var raw rawRecord
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	rec := &Record{
		Name:        name,
		Title:       raw.Title,
		KernelPath:  raw.Kernel,
		InitrdPaths: strings.Fields(raw.Initrd),
		Options:     raw.Options,
	}

	if rec.Title == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrMissingTitle)
	}

	set := 0
	if raw.ESPDir != "" {
		set++
		rec.Variant = VariantStandard
		rec.ESPDir = raw.ESPDir
	}
	if raw.EFI != "" {
		set++
		rec.Variant = VariantGenericEFI
		rec.TargetImagePath = raw.EFI
	}
	if raw.EFISigned != "" {
		set++
		rec.Variant = VariantSignedStub
		rec.TargetImagePath = raw.EFISigned
	}
	switch {
	case set == 0:
		return nil, fmt.Errorf("%s: %w (set one of espdir, efi, efisigned)", name, ErrNoVariant)
	case set > 1:
		return nil, fmt.Errorf("%s: %w", name, ErrVariantConflict)
	}

	if rec.Variant != VariantGenericEFI && rec.KernelPath == "" {
		return nil, fmt.Errorf("%s: %w", name, ErrMissingKernel)
	}

	return rec, nil
}

// LoadRecord reads and parses a single record file.
func LoadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRecord(filepath.Base(path), data)
}

// LoadSet loads every *.conf record in dir, sorted by filename. Malformed
// records do not stop the rest of the set from loading; the joined error
// reports every bad file alongside the good records.
func LoadSet(dir string) ([]*Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".conf") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var records []*Record
	var bad []error
	for _, name := range names {
		rec, err := LoadRecord(filepath.Join(dir, name))
		if err != nil {
			bad = append(bad, err)
			continue
		}
		records = append(records, rec)
	}
	return records, errors.Join(bad...)
}
