// Package efivars reads and writes UEFI runtime variables through the
// efivarfs pseudo-filesystem. Every variable file carries a 4-byte
// little-endian attribute word followed by the payload, and writes must
// supply both in a single byte sequence.
package efivars

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Path is the efivarfs mount point
var Path = "/sys/firmware/efi/efivars"

// GlobalVariable is the EFI_GLOBAL_VARIABLE vendor GUID that owns the
// architecturally defined variables (SecureBoot, SetupMode, OsIndications...)
const GlobalVariable = "8be4df61-93ca-11d2-aa0d-00e098032b8c"

// Variable attribute bits
const (
	AttrNonVolatile       = 0x1
	AttrBootserviceAccess = 0x2
	AttrRuntimeAccess     = 0x4
)

// defaultAttrs is used when a variable is created from scratch
const defaultAttrs = AttrNonVolatile | AttrBootserviceAccess | AttrRuntimeAccess

// OsIndications bit 0 requests the firmware setup UI on next boot
const bootToFirmwareUI = 0x1

// ErrNotFound indicates the variable does not exist.
var ErrNotFound = errors.New("firmware variable not found")

// ErrMalformed indicates a variable file too short for its declared shape.
var ErrMalformed = errors.New("malformed firmware variable")

// ErrUnsupported indicates the firmware does not implement the requested
// capability. Callers treat it as a diagnostic, not a failure.
var ErrUnsupported = errors.New("not supported by firmware")

// Supported reports whether the running system exposes EFI variables at all
func Supported() bool {
	_, err := os.Stat(Path)
	return err == nil
}

func varPath(name string) string {
	return filepath.Join(Path, name+"-"+GlobalVariable)
}

// Read returns the attribute word and payload of the named variable
func Read(name string) (uint32, []byte, error) {
	raw, err := os.ReadFile(varPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return 0, nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if len(raw) < 4 {
		return 0, nil, fmt.Errorf("%w: %s is %d bytes, need at least 4", ErrMalformed, name, len(raw))
	}
	return leUint32(raw[:4]), raw[4:], nil
}

// ReadBoolean reads a 1-byte boolean variable (SecureBoot, SetupMode)
func ReadBoolean(name string) (bool, error) {
	_, data, err := Read(name)
	if err != nil {
		return false, err
	}
	if len(data) < 1 {
		return false, fmt.Errorf("%w: %s has no payload", ErrMalformed, name)
	}
	return data[0] == 1, nil
}

// ReadBitmask64 reads an 8-byte little-endian bitmask variable
// (OsIndications, OsIndicationsSupported)
func ReadBitmask64(name string) (uint64, error) {
	_, data, err := Read(name)
	if err != nil {
		return 0, err
	}
	if len(data) < 8 {
		return 0, fmt.Errorf("%w: %s payload is %d bytes, need 8", ErrMalformed, name, len(data))
	}
	return leUint64(data[:8]), nil
}

// Write stores the variable as one attributes+payload byte sequence.
// The firmware interface rejects split writes, so the buffer is assembled
// up front and written in a single call.
func Write(name string, attrs uint32, data []byte) error {
	buf := make([]byte, 0, 4+len(data))
	buf = append(buf, leBytes32(attrs)...)
	buf = append(buf, data...)

	path := varPath(name)
	if err := clearImmutable(path); err != nil {
		return fmt.Errorf("clearing immutable flag on %s: %w", name, err)
	}
	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// SetBit sets one bit in a 64-bit bitmask variable and writes it back,
// preserving the existing attributes. A variable that does not exist yet
// starts from zero with the default attribute set.
func SetBit(name string, bit uint) error {
	if bit > 63 {
		return fmt.Errorf("bit index %d out of range", bit)
	}

	attrs := uint32(defaultAttrs)
	var value uint64

	cur, data, err := Read(name)
	switch {
	case err == nil:
		if len(data) < 8 {
			return fmt.Errorf("%w: %s payload is %d bytes, need 8", ErrMalformed, name, len(data))
		}
		attrs = cur
		value = leUint64(data[:8])
	case errors.Is(err, ErrNotFound):
		// start from zero
	default:
		return err
	}

	value |= 1 << bit
	return Write(name, attrs, leBytes64(value))
}

// SupportsBootToFirmware reports whether the firmware advertises the
// boot-to-setup capability in OsIndicationsSupported.
func SupportsBootToFirmware() (bool, error) {
	supported, err := ReadBitmask64("OsIndicationsSupported")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return supported&bootToFirmwareUI != 0, nil
}

// RequestBootToFirmware asks the firmware to enter its setup UI on the next
// boot. OsIndicationsSupported gates the request; firmware without the
// capability gets ErrUnsupported and no write happens.
func RequestBootToFirmware() error {
	supported, err := SupportsBootToFirmware()
	if err != nil {
		return err
	}
	if !supported {
		return fmt.Errorf("%w: boot-to-firmware-setup", ErrUnsupported)
	}
	return SetBit("OsIndications", 0)
}

// clearImmutable drops the immutable inode flag efivarfs puts on variable
// files. Only attempted when the file exists on a real efivarfs.
func clearImmutable(path string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(path), &st); err != nil || st.Type != unix.EFIVARFS_MAGIC {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	flags, err := unix.IoctlGetInt(int(f.Fd()), unix.FS_IOC_GETFLAGS)
	if err != nil {
		return err
	}
	if flags&unix.FS_IMMUTABLE_FL == 0 {
		return nil
	}
	return unix.IoctlSetPointerInt(int(f.Fd()), unix.FS_IOC_SETFLAGS, flags&^unix.FS_IMMUTABLE_FL)
}

// Little-endian codec shared by every variable access above. The firmware
// side is always little-endian regardless of host order.

func leBytes32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func leUint32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

func leBytes64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func leUint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}
