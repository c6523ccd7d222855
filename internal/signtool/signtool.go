// Package signtool wraps the external OpenSSL, efitools, sbsigntools and
// binutils binaries used for Secure Boot key generation, signature list
// handling and EFI image signing. Every invocation goes through a single
// exec hook on the Client so callers can capture the argv in tests.
package signtool

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const (
	OpenSSLBin       = "openssl"
	CertToSigListBin = "cert-to-efi-sig-list"
	SignSigListBin   = "sign-efi-sig-list"
	UpdateVarBin     = "efi-updatevar"
	SbSignBin        = "sbsign"
	ObjCopyBin       = "objcopy"
)

// Tool groups for preflight checks before a command starts calling out.
var (
	KeyGenTools   = []string{OpenSSLBin, CertToSigListBin, SignSigListBin}
	EnrollTools   = []string{UpdateVarBin}
	AssembleTools = []string{ObjCopyBin, SbSignBin}
)

// Verbose controls whether tool output is shown
var Verbose bool

var (
	// ErrToolFailed wraps any non-zero exit from an external tool.
	ErrToolFailed = errors.New("signing tool failed")
	// ErrToolMissing indicates a required binary is not in PATH.
	ErrToolMissing = errors.New("required tool not installed")
)

// CheckTools verifies that every named binary resolves in PATH.
func CheckTools(bins ...string) error {
	for _, bin := range bins {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%w: %s", ErrToolMissing, bin)
		}
	}
	return nil
}

// Client runs the signing toolchain.
type Client struct {
	run func(bin string, args ...string) error
}

// New returns a Client backed by the real binaries.
func New() *Client {
	return &Client{run: execRun}
}

func execRun(bin string, args ...string) error {
	cmd := exec.Command(bin, args...)
	if Verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrToolFailed, bin, err)
		}
		return nil
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s: %v: %s", ErrToolFailed, bin, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// GenerateKeypair creates a self-signed RSA 2048 certificate and private
// key pair for the given common name. The key is written unencrypted, so
// the caller is responsible for directory permissions.
func (c *Client) GenerateKeypair(commonName, keyPath, certPath string) error {
	return c.run(OpenSSLBin, "req", "-new", "-x509", "-newkey", "rsa:2048",
		"-subj", fmt.Sprintf("/CN=%s/", commonName),
		"-keyout", keyPath, "-out", certPath,
		"-days", "3650", "-nodes", "-sha256")
}

// CertToSigList converts a PEM certificate into an EFI signature list
// owned by the given GUID.
func (c *Client) CertToSigList(ownerGUID, certPath, eslPath string) error {
	return c.run(CertToSigListBin, "-g", ownerGUID, certPath, eslPath)
}

// SignSigList produces an authenticated variable update for varName from
// a signature list, signed with the given key and certificate. Signing an
// empty list yields an update that clears the variable.
func (c *Client) SignSigList(ownerGUID, keyPath, certPath, varName, eslPath, authPath string) error {
	return c.run(SignSigListBin, "-g", ownerGUID,
		"-k", keyPath, "-c", certPath,
		varName, eslPath, authPath)
}

// CertToDER converts a PEM certificate into DER form, the encoding
// firmware setup menus expect when enrolling from a FAT volume.
func (c *Client) CertToDER(certPath, derPath string) error {
	return c.run(OpenSSLBin, "x509", "-in", certPath, "-outform", "DER", "-out", derPath)
}

// AppendCert appends a PEM certificate to a Secure Boot variable without
// an authenticated update. Firmware only accepts this while the platform
// is in setup mode.
func (c *Client) AppendCert(certPath, varName string) error {
	return c.run(UpdateVarBin, "-a", "-c", certPath, varName)
}

// ApplyAuth writes a signed .auth update to a Secure Boot variable.
func (c *Client) ApplyAuth(authPath, varName string) error {
	return c.run(UpdateVarBin, "-f", authPath, varName)
}

// SignImage signs a PE binary with the database key.
func (c *Client) SignImage(keyPath, certPath, outPath, inPath string) error {
	return c.run(SbSignBin, "--key", keyPath, "--cert", certPath, "--output", outPath, inPath)
}

// Section is one PE section to splice into a stub image.
type Section struct {
	Name string // section name including the leading dot
	Path string // file providing the section contents
	VMA  uint64
}

// EmbedSections copies the stub to outPath with each section added at its
// virtual address. Sections are placed in the order given; the distance
// between the fixed addresses bounds how large each payload may grow.
func (c *Client) EmbedSections(stubPath, outPath string, sections []Section) error {
	args := make([]string, 0, 4*len(sections)+2)
	for _, s := range sections {
		args = append(args,
			"--add-section", fmt.Sprintf("%s=%s", s.Name, s.Path),
			"--change-section-vma", fmt.Sprintf("%s=%#x", s.Name, s.VMA),
		)
	}
	args = append(args, stubPath, outPath)
	return c.run(ObjCopyBin, args...)
}
