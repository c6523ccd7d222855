package keys

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
)

// Backup writes the whole key directory into a passphrase-encrypted
// archive. Losing the private keys after the PK is enrolled means
// losing the ability to update db or roll back to setup mode, so the
// archive is the operator's escape hatch. An existing archive path is
// never overwritten.
func (m *Manager) Backup(archivePath, passphrase string) error {
	if _, err := os.Stat(m.keyPath(RolePK)); err != nil {
		return fmt.Errorf("%w: %s", ErrKeysMissing, m.keyPath(RolePK))
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return err
	}

	out, err := os.OpenFile(archivePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if err := m.writeBackup(out, recipient); err != nil {
		out.Close()
		os.Remove(archivePath)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(archivePath)
		return err
	}

	fmt.Printf("bastion: wrote encrypted key backup to %s\n", archivePath)
	return nil
}

func (m *Manager) writeBackup(out io.Writer, recipient age.Recipient) error {
	enc, err := age.Encrypt(out, recipient)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(enc)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)

	err = filepath.WalkDir(m.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(m.Dir, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}

	// close innermost to outermost, each flush matters
	if err := tw.Close(); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return enc.Close()
}

// Restore unpacks a backup archive into the key directory. It refuses
// to touch a directory that already has contents; move the old material
// aside first.
func (m *Manager) Restore(archivePath, passphrase string) error {
	entries, err := os.ReadDir(m.Dir)
	if err == nil && len(entries) > 0 {
		return fmt.Errorf("refusing to restore into non-empty directory %s", m.Dir)
	}
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(m.Dir, 0700); err != nil {
		return err
	}

	in, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer in.Close()

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return err
	}
	dec, err := age.Decrypt(in, identity)
	if err != nil {
		return fmt.Errorf("decrypting %s: %w", archivePath, err)
	}
	zr, err := zstd.NewReader(dec)
	if err != nil {
		return err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := filepath.Clean(hdr.Name)
		if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return fmt.Errorf("archive entry %q escapes the key directory", hdr.Name)
		}

		dst := filepath.Join(m.Dir, name)
		if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
			return err
		}
		f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode)&0777)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	fmt.Printf("bastion: restored key material into %s\n", m.Dir)
	return os.Chmod(m.Dir, 0755)
}
