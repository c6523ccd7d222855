// Package bootmgr manages firmware boot entries through efibootmgr.
// Entries are addressed by label; the firmware's numeric slots are an
// implementation detail callers never see.
package bootmgr

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/zaolin/bastion/internal/disk"
)

// EFIBootmgrBin is the boot manager tool invoked for every operation.
const EFIBootmgrBin = "efibootmgr"

// Verbose echoes each efibootmgr invocation before running it
var Verbose bool

var (
	// ErrEmptyLabel rejects boot entries without a label.
	ErrEmptyLabel = errors.New("boot entry label must not be empty")
	// ErrImageMissing indicates the loader image is not on disk.
	ErrImageMissing = errors.New("boot image does not exist")
	// ErrBootmgrFailed wraps a non-zero efibootmgr exit.
	ErrBootmgrFailed = errors.New("efibootmgr failed")
)

// Entry is one firmware boot entry as reported by efibootmgr.
type Entry struct {
	Number int
	Active bool
	Label  string
	Path   string // device path portion of the listing line
}

// Resolver maps an on-disk path to its owning device and the
// firmware-native path below the filesystem root.
type Resolver interface {
	Resolve(path string) (*disk.Location, error)
}

// Client wraps efibootmgr invocations.
type Client struct {
	resolver Resolver
	run      func(args ...string) ([]byte, error)
}

// New returns a Client backed by the real efibootmgr binary.
func New(resolver Resolver) *Client {
	return &Client{resolver: resolver, run: execRun}
}

func execRun(args ...string) ([]byte, error) {
	if Verbose {
		fmt.Printf("  %s %s\n", EFIBootmgrBin, strings.Join(args, " "))
	}
	output, err := exec.Command(EFIBootmgrBin, args...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrBootmgrFailed, err, strings.TrimSpace(string(output)))
	}
	return output, nil
}

var entryRe = regexp.MustCompile(`^Boot([0-9A-Fa-f]{4})(\*)?\s+(.*)$`)

// List returns the current boot entries. Header lines such as BootOrder
// and BootCurrent are skipped.
func (c *Client) List() ([]Entry, error) {
	output, err := c.run()
	if err != nil {
		return nil, err
	}

	var entries []Entry
	sc := bufio.NewScanner(bytes.NewReader(output))
	for sc.Scan() {
		m := entryRe.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		num, err := strconv.ParseUint(m[1], 16, 16)
		if err != nil {
			continue
		}
		label, path, _ := strings.Cut(m[3], "\t")
		entries = append(entries, Entry{
			Number: int(num),
			Active: m[2] == "*",
			Label:  label,
			Path:   path,
		})
	}
	return entries, nil
}

// Remove deletes every boot entry carrying the label and reports how many
// were removed. A label with no matching entries is not an error, so the
// operation can run unconditionally before an Add.
func (c *Client) Remove(label string) (int, error) {
	if label == "" {
		return 0, ErrEmptyLabel
	}
	entries, err := c.List()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if e.Label != label {
			continue
		}
		if _, err := c.run("-b", fmt.Sprintf("%04X", e.Number), "-B"); err != nil {
			return removed, fmt.Errorf("removing entry Boot%04X: %w", e.Number, err)
		}
		removed++
	}
	return removed, nil
}

// Add creates a boot entry for the image and prepends it to BootOrder,
// which is how efibootmgr -c behaves. It never checks for entries that
// already carry the label; callers wanting replace semantics must Remove
// first or they will accumulate duplicates.
func (c *Client) Add(label, imagePath, options string) error {
	if label == "" {
		return ErrEmptyLabel
	}
	if _, err := os.Stat(imagePath); err != nil {
		return fmt.Errorf("%w: %s", ErrImageMissing, imagePath)
	}

	loc, err := c.resolver.Resolve(imagePath)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", imagePath, err)
	}

	args := []string{
		"-c",
		"-d", loc.Disk,
		"-p", strconv.Itoa(loc.Partition),
		"-L", label,
		"-l", loc.FirmwarePath,
	}
	if options != "" {
		args = append(args, "-u", options)
	}
	_, err = c.run(args...)
	return err
}
