package keys

import (
	"fmt"
	"os"
	"path/filepath"
)

var roles = []Role{RolePK, RoleKEK, RoleDB}

// CreateKeys generates the three key pairs and the PK enrollment
// artifacts. Beyond PK.auth it always produces PKno.auth, the signed
// empty update that is the only way back to setup mode once the PK is
// enrolled. With more set, KEK and DB also get signature lists, chained
// .auth updates (KEK signed by PK, db signed by KEK) and DER
// certificates for enrollment through firmware setup menus.
//
// Private keys end up owner-only; the directory itself is left
// world-traversable so other tooling can read the certificates.
func (m *Manager) CreateKeys(commonName string, more bool) error {
	if err := os.MkdirAll(m.Dir, 0700); err != nil {
		return err
	}
	guid, err := m.OwnerGUID()
	if err != nil {
		return err
	}

	for _, role := range roles {
		fmt.Printf("bastion: generating %s key pair (CN=%s %s)\n", role, commonName, role)
		subject := fmt.Sprintf("%s %s", commonName, role)
		if err := m.Tools.GenerateKeypair(subject, m.keyPath(role), m.certPath(role)); err != nil {
			return err
		}
		if err := os.Chmod(m.keyPath(role), 0600); err != nil {
			return err
		}
	}

	fmt.Printf("bastion: preparing PK enrollment updates\n")
	if err := m.Tools.CertToSigList(guid, m.certPath(RolePK), m.eslPath(RolePK)); err != nil {
		return err
	}
	if err := m.Tools.SignSigList(guid, m.keyPath(RolePK), m.certPath(RolePK),
		RolePK.Variable(), m.eslPath(RolePK), m.authPath(RolePK)); err != nil {
		return err
	}

	empty := filepath.Join(m.Dir, "empty.esl")
	if err := os.WriteFile(empty, nil, 0600); err != nil {
		return err
	}
	defer os.Remove(empty)
	if err := m.Tools.SignSigList(guid, m.keyPath(RolePK), m.certPath(RolePK),
		RolePK.Variable(), empty, m.revertAuthPath()); err != nil {
		return err
	}

	if more {
		fmt.Printf("bastion: preparing KEK and db enrollment updates\n")
		for _, role := range []Role{RoleKEK, RoleDB} {
			if err := m.Tools.CertToSigList(guid, m.certPath(role), m.eslPath(role)); err != nil {
				return err
			}
		}
		if err := m.Tools.SignSigList(guid, m.keyPath(RolePK), m.certPath(RolePK),
			RoleKEK.Variable(), m.eslPath(RoleKEK), m.authPath(RoleKEK)); err != nil {
			return err
		}
		if err := m.Tools.SignSigList(guid, m.keyPath(RoleKEK), m.certPath(RoleKEK),
			RoleDB.Variable(), m.eslPath(RoleDB), m.authPath(RoleDB)); err != nil {
			return err
		}
		for _, role := range roles {
			if err := m.Tools.CertToDER(m.certPath(role), m.derPath(role)); err != nil {
				return err
			}
		}
	}

	return os.Chmod(m.Dir, 0755)
}
