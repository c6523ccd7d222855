// Package image produces the bootable payload for a configuration
// record. Standard records copy their kernel and initrds onto the ESP,
// generic records pass through untouched, and signed records are
// assembled into a unified stub image and signed with the database key.
package image

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zaolin/bastion/internal/config"
	"github.com/zaolin/bastion/internal/disk"
	"github.com/zaolin/bastion/internal/initrd"
	"github.com/zaolin/bastion/internal/signtool"
)

// Section load addresses inside the stub image. These are a contract
// with the stub's loader: metadata lowest, kernel and initrd high enough
// that a large kernel cannot overlap the sections before it.
const (
	vmaOSRel   = 0x20000
	vmaCmdline = 0x30000
	vmaLinux   = 0x2000000
	vmaInitrd  = 0x3000000
)

var (
	// ErrInputNotFound indicates a record names a source file that does
	// not exist. Nothing is copied or built for the record.
	ErrInputNotFound = errors.New("input file not found")
	// ErrSigningKeyMissing indicates the database signing key pair has
	// not been generated yet.
	ErrSigningKeyMissing = errors.New("signing key not found")
)

// Resolver maps a filesystem path to its firmware-native location.
type Resolver interface {
	Resolve(path string) (*disk.Location, error)
}

// Toolchain assembles and signs stub images.
type Toolchain interface {
	EmbedSections(stubPath, outPath string, sections []signtool.Section) error
	SignImage(keyPath, certPath, outPath, inPath string) error
}

// Result describes the image a built record should boot.
type Result struct {
	ImagePath string // on-disk path the firmware entry must point at
	Options   string // kernel command line for the entry, may be empty
}

// Builder turns configuration records into bootable images.
type Builder struct {
	Resolver  Resolver
	Tools     Toolchain
	KeyDir    string
	StubPath  string
	OSRelease string
}

// Build produces the image for one record according to its variant.
func (b *Builder) Build(rec *config.Record) (*Result, error) {
	switch rec.Variant {
	case config.VariantStandard:
		return b.buildStandard(rec)
	case config.VariantGenericEFI:
		return b.buildGeneric(rec)
	case config.VariantSignedStub:
		return b.buildSignedStub(rec)
	}
	return nil, fmt.Errorf("record %s: unknown variant", rec.Name)
}

// buildStandard copies the kernel and every initrd verbatim into the
// record's ESP directory and synthesizes the matching initrd= options.
func (b *Builder) buildStandard(rec *config.Record) (*Result, error) {
	if err := checkInputs(append([]string{rec.KernelPath}, rec.InitrdPaths...)); err != nil {
		return nil, err
	}
	loc, err := b.Resolver.Resolve(rec.ESPDir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", rec.ESPDir, err)
	}

	kernelDst := filepath.Join(rec.ESPDir, filepath.Base(rec.KernelPath))
	if err := installFile(rec.KernelPath, kernelDst); err != nil {
		return nil, err
	}

	parts := make([]string, 0, len(rec.InitrdPaths)+1)
	for _, src := range rec.InitrdPaths {
		base := filepath.Base(src)
		if err := installFile(src, filepath.Join(rec.ESPDir, base)); err != nil {
			return nil, err
		}
		parts = append(parts, `initrd=`+loc.FirmwarePath+`\`+base)
	}
	if rec.Options != "" {
		parts = append(parts, rec.Options)
	}

	return &Result{
		ImagePath: kernelDst,
		Options:   strings.Join(parts, " "),
	}, nil
}

// buildGeneric performs no construction. The image is assumed already
// firmware-bootable; whether it exists is checked when the entry is
// registered, not here.
func (b *Builder) buildGeneric(rec *config.Record) (*Result, error) {
	return &Result{ImagePath: rec.TargetImagePath, Options: rec.Options}, nil
}

// buildSignedStub concatenates the initrds, embeds os-release, command
// line, kernel and initrd blob into the stub at their fixed addresses,
// signs the result with the database key and installs it at the
// record's target path. All intermediates live in a scratch directory
// that is removed on every exit path.
func (b *Builder) buildSignedStub(rec *config.Record) (*Result, error) {
	keyPath := filepath.Join(b.KeyDir, "DB.key")
	certPath := filepath.Join(b.KeyDir, "DB.pem")
	for _, p := range []string{keyPath, certPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %s (run 'bastion keys create' first)", ErrSigningKeyMissing, p)
		}
	}
	inputs := append([]string{rec.KernelPath, b.StubPath, b.OSRelease}, rec.InitrdPaths...)
	if err := checkInputs(inputs); err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp("", "bastion-uki-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(scratch)

	cmdlinePath := filepath.Join(scratch, "cmdline")
	if err := os.WriteFile(cmdlinePath, []byte(rec.Options), 0600); err != nil {
		return nil, err
	}

	sections := []signtool.Section{
		{Name: ".osrel", Path: b.OSRelease, VMA: vmaOSRel},
		{Name: ".cmdline", Path: cmdlinePath, VMA: vmaCmdline},
		{Name: ".linux", Path: rec.KernelPath, VMA: vmaLinux},
	}
	if len(rec.InitrdPaths) > 0 {
		blobPath := filepath.Join(scratch, "initrd.img")
		if err := concatInitrds(rec.InitrdPaths, blobPath); err != nil {
			return nil, err
		}
		sections = append(sections, signtool.Section{Name: ".initrd", Path: blobPath, VMA: vmaInitrd})
	}

	unsigned := filepath.Join(scratch, "unsigned.efi")
	if err := b.Tools.EmbedSections(b.StubPath, unsigned, sections); err != nil {
		return nil, err
	}

	signed := filepath.Join(scratch, "signed.efi")
	if err := b.Tools.SignImage(keyPath, certPath, signed, unsigned); err != nil {
		return nil, err
	}

	if err := installFile(signed, rec.TargetImagePath); err != nil {
		return nil, err
	}
	return &Result{ImagePath: rec.TargetImagePath}, nil
}

// concatInitrds writes the given archives back to back into dst, the
// layout the kernel expects: uncompressed microcode cpio first, then the
// compressed main image. Suspicious layouts only warn; the files are
// concatenated exactly as listed.
func concatInitrds(paths []string, dst string) error {
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	seenMain := false
	for _, p := range paths {
		info, err := initrd.Inspect(p)
		switch {
		case err != nil:
			fmt.Printf("  warning: %s: %v\n", p, err)
		case info.Format == initrd.FormatUnknown:
			fmt.Printf("  warning: %s: unrecognized archive format\n", p)
		case info.Microcode && seenMain:
			fmt.Printf("  warning: %s: microcode archive must come before the main initrd to be applied\n", p)
		case !info.Microcode:
			seenMain = true
		}

		in, err := os.Open(p)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			in.Close()
			return err
		}
		in.Close()
	}
	return out.Close()
}

func checkInputs(paths []string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %s", ErrInputNotFound, p)
		}
	}
	return nil
}

// installFile copies src over dst through a temporary file in the target
// directory, so a present dst is either the old or the new content and
// never a torn write.
func installFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".bastion-install-")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
