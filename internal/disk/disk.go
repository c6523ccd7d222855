// Package disk maps filesystem paths to the disk, partition and
// firmware-native path identifiers that boot-manager tooling works with.
package disk

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// System paths consulted during resolution
var (
	MountsPath   = "/proc/self/mounts"
	ByUUIDPath   = "/dev/disk/by-uuid"
	SysBlockPath = "/sys/block"
)

// ErrPathNotFound indicates no mounted filesystem owns the path.
var ErrPathNotFound = errors.New("no filesystem found for path")

// ErrDeviceResolution indicates the backing device, its partition number or
// its parent disk could not be derived.
var ErrDeviceResolution = errors.New("cannot resolve backing device")

// Location ties a path to its place in the block-device topology.
type Location struct {
	Disk         string // parent disk node, e.g. /dev/sda
	Partition    int    // partition number on Disk
	FirmwarePath string // backslash path relative to the filesystem root, "" for the mount point itself
}

type mountPoint struct {
	device string
	point  string
}

// Resolve maps path to its disk placement. The path itself does not have to
// exist; only its owning mount does. Resolution goes mount device ->
// filesystem UUID -> canonical device node, so by-path aliases and UUID=
// references collapse to the same partition.
func Resolve(path string) (*Location, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	m, err := findMount(abs)
	if err != nil {
		return nil, err
	}

	fwPath, err := firmwarePath(m.point, abs)
	if err != nil {
		return nil, err
	}

	node, err := deviceNode(m.device)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceResolution, m.device, err)
	}
	uuid, err := filesystemUUID(node)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceResolution, err)
	}
	node, err = deviceNode("UUID=" + uuid)
	if err != nil {
		return nil, fmt.Errorf("%w: UUID=%s: %v", ErrDeviceResolution, uuid, err)
	}

	diskNode, part, err := partitionOf(node)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceResolution, err)
	}

	return &Location{Disk: diskNode, Partition: part, FirmwarePath: fwPath}, nil
}

// findMount returns the mount table entry with the longest mount point
// prefixing path.
func findMount(path string) (*mountPoint, error) {
	f, err := os.Open(MountsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var best *mountPoint
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		device, point := fields[0], fields[1]
		if path != point && !strings.HasPrefix(path, strings.TrimSuffix(point, "/")+"/") {
			continue
		}
		if best == nil || len(point) > len(best.point) {
			best = &mountPoint{device: device, point: point}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	return best, nil
}

// firmwarePath converts path, relative to its mount point, into the
// backslash form the firmware uses.
func firmwarePath(point, path string) (string, error) {
	rel, err := filepath.Rel(point, path)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", nil
	}
	return `\` + strings.ReplaceAll(rel, "/", `\`), nil
}

// deviceNode canonicalizes a mount table device reference to a device node.
func deviceNode(device string) (string, error) {
	if uuid, ok := strings.CutPrefix(device, "UUID="); ok {
		device = filepath.Join(ByUUIDPath, uuid)
	}
	return filepath.EvalSymlinks(device)
}

// filesystemUUID finds the filesystem UUID whose by-uuid entry resolves to
// node.
func filesystemUUID(node string) (string, error) {
	entries, err := os.ReadDir(ByUUIDPath)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		target, err := filepath.EvalSymlinks(filepath.Join(ByUUIDPath, entry.Name()))
		if err != nil {
			continue
		}
		if target == node {
			return entry.Name(), nil
		}
	}
	return "", fmt.Errorf("no filesystem UUID for %s", node)
}

// partitionOf locates node under a disk directory in sysfs and reads its
// partition number.
func partitionOf(node string) (string, int, error) {
	name := filepath.Base(node)

	disks, err := os.ReadDir(SysBlockPath)
	if err != nil {
		return "", 0, err
	}
	for _, d := range disks {
		partDir := filepath.Join(SysBlockPath, d.Name(), name)
		if _, err := os.Stat(partDir); err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(partDir, "partition"))
		if err != nil {
			return "", 0, fmt.Errorf("%s has no partition number: %v", name, err)
		}
		part, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			return "", 0, fmt.Errorf("bad partition number for %s: %v", name, err)
		}
		return filepath.Join(filepath.Dir(node), d.Name()), part, nil
	}
	return "", 0, fmt.Errorf("%s is not a partition of any disk", name)
}
