// Package keys manages the Secure Boot trust hierarchy: key pair
// generation, enrollment into the firmware signature databases, and the
// transition out of setup mode. Enrollment order is the load-bearing
// invariant here. The platform key goes in last, because enrolling it is
// what switches the firmware from accepting anything to rejecting every
// update not signed by a key it already trusts.
package keys

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Role names one key pair in the trust hierarchy.
type Role string

const (
	RolePK  Role = "PK"
	RoleKEK Role = "KEK"
	RoleDB  Role = "DB"
)

// Variable returns the firmware variable the role enrolls into. The
// signature database is lowercase on the firmware side.
func (r Role) Variable() string {
	if r == RoleDB {
		return "db"
	}
	return string(r)
}

// Mode is the platform's key enrollment state.
type Mode int

const (
	ModeUnknown Mode = iota
	// ModeSetup means no platform key is enrolled and the firmware
	// accepts unauthenticated variable updates.
	ModeSetup
	// ModeUser means a platform key is enrolled and every further
	// update must chain to an enrolled key.
	ModeUser
)

func (m Mode) String() string {
	switch m {
	case ModeSetup:
		return "setup mode"
	case ModeUser:
		return "user mode"
	}
	return "unknown"
}

var (
	// ErrKeysMissing indicates an operation needs key material that has
	// not been generated.
	ErrKeysMissing = errors.New("key material not found")
	// ErrNotSetupMode indicates an operation that only works before a
	// platform key is enrolled.
	ErrNotSetupMode = errors.New("platform is not in setup mode")
)

// Toolchain is the slice of the signing toolchain the manager drives.
type Toolchain interface {
	GenerateKeypair(commonName, keyPath, certPath string) error
	CertToSigList(ownerGUID, certPath, eslPath string) error
	SignSigList(ownerGUID, keyPath, certPath, varName, eslPath, authPath string) error
	CertToDER(certPath, derPath string) error
	AppendCert(certPath, varName string) error
	ApplyAuth(authPath, varName string) error
}

// Firmware reads the variables that expose the platform key state.
type Firmware interface {
	ReadBoolean(name string) (bool, error)
}

// Manager owns the key directory and drives the trust hierarchy.
type Manager struct {
	Dir      string
	Tools    Toolchain
	Firmware Firmware
}

func (m *Manager) keyPath(r Role) string  { return filepath.Join(m.Dir, string(r)+".key") }
func (m *Manager) certPath(r Role) string { return filepath.Join(m.Dir, string(r)+".pem") }
func (m *Manager) eslPath(r Role) string  { return filepath.Join(m.Dir, string(r)+".esl") }
func (m *Manager) authPath(r Role) string { return filepath.Join(m.Dir, string(r)+".auth") }
func (m *Manager) derPath(r Role) string  { return filepath.Join(m.Dir, string(r)+".cer") }

// revertAuthPath is the signed empty PK update. Applying it clears the
// platform key and returns the firmware to setup mode.
func (m *Manager) revertAuthPath() string { return filepath.Join(m.Dir, "PKno.auth") }

func (m *Manager) guidPath() string { return filepath.Join(m.Dir, "GUID") }

// Mode reports the platform key state as firmware sees it.
func (m *Manager) Mode() (Mode, error) {
	setup, err := m.Firmware.ReadBoolean("SetupMode")
	if err != nil {
		return ModeUnknown, fmt.Errorf("reading SetupMode: %w", err)
	}
	if setup {
		return ModeSetup, nil
	}
	return ModeUser, nil
}

// OwnerGUID returns the owner identity stamped into every signature
// list, generating and persisting one on first use so repeated key
// generations keep a stable identity.
func (m *Manager) OwnerGUID() (string, error) {
	data, err := os.ReadFile(m.guidPath())
	if err == nil {
		id, parseErr := uuid.Parse(strings.TrimSpace(string(data)))
		if parseErr != nil {
			return "", fmt.Errorf("parsing %s: %w", m.guidPath(), parseErr)
		}
		return id.String(), nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	id := uuid.New()
	if err := os.WriteFile(m.guidPath(), []byte(id.String()+"\n"), 0644); err != nil {
		return "", err
	}
	return id.String(), nil
}
