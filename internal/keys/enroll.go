package keys

import (
	"errors"
	"fmt"
	"os"
)

// EnrollPersonalKeys appends the generated certificates to the firmware
// signature databases. The db certificate goes first when requested,
// then the KEK; both use unauthenticated appends, which the firmware
// only accepts while still in setup mode.
func (m *Manager) EnrollPersonalKeys(withDB bool) error {
	mode, err := m.Mode()
	if err != nil {
		return err
	}
	if mode != ModeSetup {
		return fmt.Errorf("%w: unauthenticated enrollment is rejected once a PK is set", ErrNotSetupMode)
	}

	enroll := []Role{RoleKEK}
	if withDB {
		enroll = []Role{RoleDB, RoleKEK}
	}
	for _, role := range enroll {
		cert := m.certPath(role)
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("%w: %s (run 'bastion keys create' first)", ErrKeysMissing, cert)
		}
		fmt.Printf("bastion: appending %s certificate to %s\n", role, role.Variable())
		if err := m.Tools.AppendCert(cert, role.Variable()); err != nil {
			return err
		}
	}
	return nil
}

// ActivateUserMode enrolls the platform key. This is the state
// transition: the firmware leaves setup mode and from here on rejects
// any PK, KEK, db or dbx update that does not chain to an enrolled key.
// It therefore must run after EnrollPersonalKeys, never before.
func (m *Manager) ActivateUserMode() error {
	auth := m.authPath(RolePK)
	if _, err := os.Stat(auth); err != nil {
		return fmt.Errorf("%w: %s (run 'bastion keys create' first)", ErrKeysMissing, auth)
	}

	mode, err := m.Mode()
	if err != nil {
		return err
	}
	if mode == ModeUser {
		return errors.New("platform is already in user mode")
	}

	fmt.Printf("bastion: enrolling PK, platform is leaving setup mode\n")
	return m.Tools.ApplyAuth(auth, RolePK.Variable())
}

// RevertSetupMode applies the signed empty PK update created alongside
// the keys, clearing the platform key and putting the firmware back in
// setup mode. This only works while PKno.auth still chains to the
// enrolled PK.
func (m *Manager) RevertSetupMode() error {
	auth := m.revertAuthPath()
	if _, err := os.Stat(auth); err != nil {
		return fmt.Errorf("%w: %s", ErrKeysMissing, auth)
	}

	fmt.Printf("bastion: clearing PK, platform is returning to setup mode\n")
	return m.Tools.ApplyAuth(auth, RolePK.Variable())
}
