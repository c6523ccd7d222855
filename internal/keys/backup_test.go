package keys

import (
	"archive/tar"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

func populatedManager(t *testing.T) *Manager {
	t.Helper()
	m := &Manager{Dir: filepath.Join(t.TempDir(), "keys")}
	require.NoError(t, os.MkdirAll(m.Dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir, "PK.key"), []byte("pk private"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir, "PK.pem"), []byte("pk cert"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir, "GUID"), []byte("guid\n"), 0644))
	return m
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	m := populatedManager(t)
	archive := filepath.Join(t.TempDir(), "keys.backup")
	require.NoError(t, m.Backup(archive, "correct horse"))

	restored := &Manager{Dir: filepath.Join(t.TempDir(), "restored")}
	require.NoError(t, restored.Restore(archive, "correct horse"))

	data, err := os.ReadFile(filepath.Join(restored.Dir, "PK.key"))
	require.NoError(t, err)
	require.Equal(t, "pk private", string(data))

	info, err := os.Stat(filepath.Join(restored.Dir, "PK.key"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(restored.Dir, "PK.pem"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestBackupArchiveIsNotPlaintext(t *testing.T) {
	m := populatedManager(t)
	archive := filepath.Join(t.TempDir(), "keys.backup")
	require.NoError(t, m.Backup(archive, "correct horse"))

	raw, err := os.ReadFile(archive)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(raw), "age-encryption.org/v1"))
	require.NotContains(t, string(raw), "pk private")
}

func TestBackupRefusesExistingArchive(t *testing.T) {
	m := populatedManager(t)
	archive := filepath.Join(t.TempDir(), "keys.backup")
	require.NoError(t, os.WriteFile(archive, []byte("previous"), 0600))

	require.Error(t, m.Backup(archive, "pass"))

	data, err := os.ReadFile(archive)
	require.NoError(t, err)
	require.Equal(t, "previous", string(data))
}

func TestBackupWithoutKeys(t *testing.T) {
	m := &Manager{Dir: t.TempDir()}

	err := m.Backup(filepath.Join(t.TempDir(), "keys.backup"), "pass")
	require.ErrorIs(t, err, ErrKeysMissing)
}

func TestRestoreWrongPassphrase(t *testing.T) {
	m := populatedManager(t)
	archive := filepath.Join(t.TempDir(), "keys.backup")
	require.NoError(t, m.Backup(archive, "right"))

	restored := &Manager{Dir: filepath.Join(t.TempDir(), "restored")}
	require.Error(t, restored.Restore(archive, "wrong"))
}

func TestRestoreRefusesNonEmptyDir(t *testing.T) {
	m := populatedManager(t)
	archive := filepath.Join(t.TempDir(), "keys.backup")
	require.NoError(t, m.Backup(archive, "pass"))

	target := populatedManager(t)
	err := target.Restore(archive, "pass")
	require.Error(t, err)
	require.Contains(t, err.Error(), "non-empty")
}

func TestRestoreRejectsEscapingEntries(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.backup")
	out, err := os.Create(archive)
	require.NoError(t, err)

	recipient, err := age.NewScryptRecipient("pass")
	require.NoError(t, err)
	enc, err := age.Encrypt(out, recipient)
	require.NoError(t, err)
	zw, err := zstd.NewWriter(enc)
	require.NoError(t, err)
	tw := tar.NewWriter(zw)

	body := []byte("gotcha")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "../evil.key",
		Mode:     0600,
		Size:     int64(len(body)),
		Typeflag: tar.TypeReg,
	}))
	_, err = tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	require.NoError(t, enc.Close())
	require.NoError(t, out.Close())

	parent := t.TempDir()
	m := &Manager{Dir: filepath.Join(parent, "keys")}
	err = m.Restore(archive, "pass")
	require.Error(t, err)
	require.Contains(t, err.Error(), "escapes")
	require.NoFileExists(t, filepath.Join(parent, "evil.key"))
}
