// Package initrd inspects initrd archives before they are copied or
// embedded into boot images. The kernel accepts a concatenation of
// uncompressed cpio archives (early CPU microcode) followed by the
// compressed main image; handing it anything else fails at boot time, so
// surfacing layout problems here is worth a read of each file.
package initrd

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cavaliergopher/cpio"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Format identifies the outer encoding of an initrd file.
type Format int

const (
	FormatUnknown Format = iota
	FormatCpio           // uncompressed newc cpio
	FormatGzip
	FormatZstd
	FormatXz
)

func (f Format) String() string {
	switch f {
	case FormatCpio:
		return "cpio"
	case FormatGzip:
		return "gzip"
	case FormatZstd:
		return "zstd"
	case FormatXz:
		return "xz"
	}
	return "unknown"
}

var magics = []struct {
	format Format
	magic  []byte
}{
	{FormatGzip, []byte{0x1f, 0x8b}},
	{FormatZstd, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{FormatXz, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{FormatCpio, []byte("070701")},
	{FormatCpio, []byte("070702")},
}

const microcodePrefix = "kernel/x86/microcode/"

// Info describes one inspected initrd.
type Info struct {
	Format    Format
	Microcode bool // uncompressed archive carrying early CPU microcode
}

// Inspect identifies the archive format of the file and whether it is an
// early microcode archive. Compressed payloads are opened far enough to
// check they actually contain a cpio stream.
func Inspect(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, 6)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	info := &Info{Format: detect(head[:n])}
	if info.Format == FormatUnknown {
		return info, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var payload io.Reader
	switch info.Format {
	case FormatCpio:
		payload = f
	case FormatGzip:
		zr, err := gzip.NewReader(f)
		if err != nil {
			return info, fmt.Errorf("%s: %w", path, err)
		}
		defer zr.Close()
		payload = zr
	case FormatZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return info, fmt.Errorf("%s: %w", path, err)
		}
		defer zr.Close()
		payload = zr
	case FormatXz:
		xr, err := xz.NewReader(f)
		if err != nil {
			return info, fmt.Errorf("%s: %w", path, err)
		}
		payload = xr
	}

	r := cpio.NewReader(payload)
	hdr, err := r.Next()
	if err != nil {
		return info, fmt.Errorf("%s: %s payload is not a cpio archive: %w", path, info.Format, err)
	}

	if info.Format == FormatCpio {
		// The microcode blobs sit within the first few entries.
		for i := 0; hdr != nil && i < 8; i++ {
			if strings.HasPrefix(hdr.Name, microcodePrefix) {
				info.Microcode = true
				break
			}
			if hdr, err = r.Next(); err != nil {
				break
			}
		}
	}
	return info, nil
}

func detect(head []byte) Format {
	for _, m := range magics {
		if bytes.HasPrefix(head, m.magic) {
			return m.format
		}
	}
	return FormatUnknown
}
