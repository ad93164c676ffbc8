// Package iso9660 implements enough of ISO 9660 (plus its Joliet
// extension) to satisfy internal/fs.Ops: mounting, directory iteration,
// and file reads (Primary Volume Descriptor at LBA 16; Joliet detected by
// escape sequence).
package iso9660

import (
	"github.com/gil0mendes/Initium-sub000/internal/device"
	"github.com/gil0mendes/Initium-sub000/internal/fs"
	"github.com/gil0mendes/Initium-sub000/internal/status"
	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
)

// volumeNamespace scopes the deterministic UUIDs volumeUUID derives for
// filesystems with no native UUID field, so two different volumes can
// never collide with a UUID minted elsewhere in the boot core.
var volumeNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("initium-iso9660"))

// jolietDecoder decodes Joliet's big-endian UCS-2 directory record names;
// shared across calls since construction is not free.
var jolietDecoder = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()

const sectorSize = 2048

// Ops implements fs.Ops for ISO 9660 volumes.
type Ops struct{}

func New() *Ops { return &Ops{} }

type mountState struct {
	jolietLevel int
}

type handlePrivate struct {
	extent uint32
	size   uint32
}

func readSectors(dev *device.Device, lba uint32, n int) ([]byte, error) {
	buf := make([]byte, n*sectorSize)
	read, err := dev.Ops.Read(buf, len(buf), uint64(lba)*sectorSize)
	if err != nil {
		return nil, err
	}
	return buf[:read], nil
}

// Mount probes for a Primary Volume Descriptor at LBA 16 and, if one is
// found, scans forward for a Joliet Supplementary Volume Descriptor
// identified by the escape sequence 0x25 0x2F {0x40,0x43,0x45}, stopping
// at the Volume Descriptor Set Terminator (type 255).
func (o *Ops) Mount(dev *device.Device) (*fs.Mount, error) {
	pvd, err := readSectors(dev, 16, 1)
	if err != nil {
		return nil, err
	}
	if len(pvd) < sectorSize || pvd[0] != 1 || string(pvd[1:6]) != "CD001" {
		return nil, status.New(status.UnknownFs, "no ISO9660 primary volume descriptor at LBA 16")
	}

	label := trimSpaces(string(pvd[40:72]))
	rootExtent, rootSize := parseExtent(pvd[156:190])

	joliet := 0
	for lba := uint32(17); ; lba++ {
		sec, err := readSectors(dev, lba, 1)
		if err != nil || len(sec) < sectorSize {
			break
		}
		if sec[0] == 255 {
			break
		}
		if sec[0] == 2 && string(sec[1:6]) == "CD001" {
			esc := sec[88:120]
			if esc[0] == 0x25 && esc[1] == 0x2F {
				switch esc[2] {
				case 0x40:
					joliet = 1
				case 0x43:
					joliet = 2
				case 0x45:
					joliet = 3
				}
				if joliet > 0 {
					rootExtent, rootSize = parseExtent(sec[156:190])
				}
			}
		}
	}

	mount := fs.NewMount(dev, o, label, volumeUUID(pvd), false)
	mount.Private = &mountState{jolietLevel: joliet}
	root := fs.NewDirHandle(mount, &handlePrivate{extent: rootExtent, size: rootSize})
	mount.SetRoot(root)
	return mount, nil
}

// volumeUUID derives a stable identifier from the PVD's volume creation
// timestamp field, the way the original loader builds a synthetic UUID
// for filesystems with no native one: the same sixteen timestamp bytes
// always fold to the same UUID, so re-mounting the same disc reuses the
// same device identity across boots.
func volumeUUID(pvd []byte) string {
	ts := pvd[813:829]
	return uuid.NewSHA1(volumeNamespace, ts).String()
}

func trimSpaces(s string) string {
	end := len(s)
	for end > 0 && s[end-1] == ' ' {
		end--
	}
	return s[:end]
}

// parseExtent reads the both-endian extent LBA (offset 2, little-endian
// first) and data length (offset 10) fields of a directory record.
func parseExtent(rec []byte) (extent, size uint32) {
	return le32(rec[2:6]), le32(rec[10:14])
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func isJoliet(m *fs.Mount) bool {
	st, ok := m.Private.(*mountState)
	return ok && st.jolietLevel > 0
}

// Iterate walks the directory records in dir's extent, decoding names as
// big-endian UCS-2 when the mount detected Joliet, else as 8-bit names
// with the ";1" version suffix stripped.
func (o *Ops) Iterate(dir *fs.Handle, cb func(fs.Entry) bool) error {
	entries, err := o.readDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !cb(e.Entry) {
			return nil
		}
	}
	return nil
}

type dirEntry struct {
	fs.Entry
	extent, size uint32
}

func (o *Ops) readDir(dir *fs.Handle) ([]dirEntry, error) {
	priv := dir.Private.(*handlePrivate)
	dev := dir.Mount.Device
	joliet := isJoliet(dir.Mount)

	sectors := (int(priv.size) + sectorSize - 1) / sectorSize
	data, err := readSectors(dev, priv.extent, sectors)
	if err != nil {
		return nil, err
	}

	var out []dirEntry
	off := 0
	for off < len(data) {
		recLen := int(data[off])
		if recLen == 0 {
			off = ((off / sectorSize) + 1) * sectorSize
			continue
		}
		rec := data[off : off+recLen]
		nameLen := int(rec[32])
		flags := rec[25]
		name := decodeName(rec[33:33+nameLen], joliet)
		extent, size := parseExtent(rec)

		if name != "\x00" && name != "\x01" {
			out = append(out, dirEntry{
				Entry:  fs.Entry{Name: name, IsDir: flags&0x02 != 0},
				extent: extent,
				size:   size,
			})
		}
		off += recLen
	}
	return out, nil
}

func decodeName(b []byte, joliet bool) string {
	if joliet {
		out, err := jolietDecoder.Bytes(b)
		if err != nil {
			return ""
		}
		return string(out)
	}
	s := string(b)
	for i, c := range s {
		if c == ';' {
			return s[:i]
		}
	}
	return s
}

func (o *Ops) OpenEntry(dir *fs.Handle, e fs.Entry) (*fs.Handle, error) {
	entries, err := o.readDir(dir)
	if err != nil {
		return nil, err
	}
	for _, got := range entries {
		if got.Name != e.Name {
			continue
		}
		if got.IsDir {
			return fs.NewDirHandle(dir.Mount, &handlePrivate{extent: got.extent, size: got.size}), nil
		}
		return fs.NewFileHandle(dir.Mount, uint64(got.size), &handlePrivate{extent: got.extent, size: got.size}), nil
	}
	return nil, status.Newf(status.NotFound, e.Name)
}

func (o *Ops) Read(h *fs.Handle, buf []byte, count int, offset uint64) (int, error) {
	priv := h.Private.(*handlePrivate)
	if offset >= uint64(priv.size) {
		return 0, status.Of(status.EndOfFile)
	}
	if offset+uint64(count) > uint64(priv.size) {
		count = int(uint64(priv.size) - offset)
	}
	abs := uint64(priv.extent)*sectorSize + offset
	return h.Mount.Device.Ops.Read(buf[:count], count, abs)
}

func (o *Ops) Close(h *fs.Handle) error { return nil }
