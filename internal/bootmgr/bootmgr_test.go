package bootmgr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zaolin/bastion/internal/disk"
)

const listing = `BootCurrent: 0001
Timeout: 1 seconds
BootOrder: 0001,0000,0003
Boot0000* Windows Boot Manager	HD(1,GPT,9c3a1a30)/File(\EFI\Microsoft\bootmgfw.efi)
Boot0001* Linux	HD(1,GPT,9c3a1a30)/File(\vmlinuz)
Boot0002  Old Linux	HD(1,GPT,9c3a1a30)/File(\vmlinuz.old)
Boot0003* Linux	HD(1,GPT,9c3a1a30)/File(\vmlinuz)
`

type fakeRun struct {
	listOutput string
	calls      [][]string
}

func (f *fakeRun) run(args ...string) ([]byte, error) {
	f.calls = append(f.calls, args)
	if len(args) == 0 {
		return []byte(f.listOutput), nil
	}
	return nil, nil
}

type staticResolver struct {
	loc disk.Location
}

func (s staticResolver) Resolve(string) (*disk.Location, error) {
	loc := s.loc
	return &loc, nil
}

func TestListParsesEntries(t *testing.T) {
	f := &fakeRun{listOutput: listing}
	c := &Client{run: f.run}

	entries, err := c.List()
	require.NoError(t, err)
	require.Len(t, entries, 4)

	require.Equal(t, Entry{
		Number: 0,
		Active: true,
		Label:  "Windows Boot Manager",
		Path:   `HD(1,GPT,9c3a1a30)/File(\EFI\Microsoft\bootmgfw.efi)`,
	}, entries[0])

	require.Equal(t, 2, entries[2].Number)
	require.False(t, entries[2].Active)
	require.Equal(t, "Old Linux", entries[2].Label)
}

func TestRemoveDeletesEveryMatch(t *testing.T) {
	f := &fakeRun{listOutput: listing}
	c := &Client{run: f.run}

	removed, err := c.Remove("Linux")
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	require.Len(t, f.calls, 3) // one list, two deletes
	require.Equal(t, []string{"-b", "0001", "-B"}, f.calls[1])
	require.Equal(t, []string{"-b", "0003", "-B"}, f.calls[2])
}

func TestRemoveNoMatchIsNotAnError(t *testing.T) {
	f := &fakeRun{listOutput: listing}
	c := &Client{run: f.run}

	removed, err := c.Remove("FreeBSD")
	require.NoError(t, err)
	require.Zero(t, removed)
	require.Len(t, f.calls, 1)
}

func TestRemoveEmptyLabel(t *testing.T) {
	c := &Client{run: (&fakeRun{}).run}

	_, err := c.Remove("")
	require.ErrorIs(t, err, ErrEmptyLabel)
}

func TestAddBuildsCreateInvocation(t *testing.T) {
	image := filepath.Join(t.TempDir(), "bastion.efi")
	require.NoError(t, os.WriteFile(image, []byte{'M', 'Z'}, 0644))

	f := &fakeRun{}
	c := &Client{
		resolver: staticResolver{loc: disk.Location{
			Disk:         "/dev/sda",
			Partition:    1,
			FirmwarePath: `\EFI\linux\bastion.efi`,
		}},
		run: f.run,
	}

	require.NoError(t, c.Add("Linux", image, "root=/dev/sda2 quiet"))

	require.Len(t, f.calls, 1)
	require.Equal(t, []string{
		"-c",
		"-d", "/dev/sda",
		"-p", "1",
		"-L", "Linux",
		"-l", `\EFI\linux\bastion.efi`,
		"-u", "root=/dev/sda2 quiet",
	}, f.calls[0])
}

func TestAddOmitsEmptyOptions(t *testing.T) {
	image := filepath.Join(t.TempDir(), "bastion.efi")
	require.NoError(t, os.WriteFile(image, []byte{'M', 'Z'}, 0644))

	f := &fakeRun{}
	c := &Client{
		resolver: staticResolver{loc: disk.Location{Disk: "/dev/sda", Partition: 1, FirmwarePath: `\bastion.efi`}},
		run:      f.run,
	}

	require.NoError(t, c.Add("Linux", image, ""))
	require.NotContains(t, f.calls[0], "-u")
}

func TestAddMissingImage(t *testing.T) {
	c := &Client{run: (&fakeRun{}).run}

	err := c.Add("Linux", filepath.Join(t.TempDir(), "nope.efi"), "")
	require.ErrorIs(t, err, ErrImageMissing)
}

func TestAddEmptyLabel(t *testing.T) {
	c := &Client{run: (&fakeRun{}).run}

	err := c.Add("", "/tmp/whatever.efi", "")
	require.ErrorIs(t, err, ErrEmptyLabel)
}
