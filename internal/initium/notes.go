// Package initium implements the Initium kernel image format: ELF note
// parsing for the image's boot-time declarations, load placement and
// address-space construction, and authorship of the boot information tag
// list the kernel reads at entry.
package initium

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"

	"github.com/gil0mendes/Initium-sub000/internal/bitfield"
	"github.com/gil0mendes/Initium-sub000/internal/status"
)

// Magic is passed to a loaded kernel's entry point in a general-purpose
// register so it can verify it was booted by an Initium-compatible loader.
const Magic = 0xb007cafe

// Version is the only Initium image-tag protocol version this loader
// understands.
const Version = 1

// noteName is the ELF note owner string every Initium image tag carries.
const noteName = "INITIUM"

// Image tag types, used as the ELF note type field (INITIUM_ITAG_* in the
// original protocol header).
const (
	itagImage   = 0
	itagLoad    = 1
	itagOption  = 2
	itagMapping = 3
	itagVideo   = 4
)

// OptionType identifies the kind of value a kernel option tag declares.
type OptionType uint8

const (
	OptionBoolean OptionType = 0
	OptionString  OptionType = 1
	OptionInteger OptionType = 2
)

// loadFlags mirrors the Load image tag's flags word; bitfield.Unpack
// fills it from the raw uint32 read off the note.
type loadFlags struct {
	Fixed    bool   `bitfield:",1"`
	Reserved uint32 `bitfield:",31"`
}

// ImageTag is the decoded basic-image-information note: required, exactly
// one per image.
type ImageTag struct {
	Version uint32
	Flags   uint32
}

const ImageFlagSections = 1 << 0
const ImageFlagLog = 1 << 1

// LoadTag is the decoded memory-layout note: optional, at most one per
// image. Its zero value means "no particular placement constraints".
type LoadTag struct {
	Flags        uint32
	Alignment    uint64
	MinAlignment uint64
	VirtMapBase  uint64
	VirtMapSize  uint64
}

// Fixed reports whether the image requested loading at a fixed physical
// address rather than wherever the loader's placement algorithm picks.
func (t *LoadTag) Fixed() bool {
	var f loadFlags
	_ = bitfield.Unpack(&f, uint64(t.Flags))
	return f.Fixed
}

// OptionTag is one decoded kernel option declaration. Multiple are
// allowed, one per option the kernel accepts.
type OptionTag struct {
	Type    OptionType
	Name    string
	Desc    string
	Default []byte
}

// MappingTag is one decoded additional virtual memory mapping request.
// Multiple are allowed.
type MappingTag struct {
	Virt uint64
	Phys uint64
	Size uint64
}

// VideoTag is the decoded requested video mode: optional, at most one.
type VideoTag struct {
	Types  uint32
	Width  uint32
	Height uint32
	Bpp    uint8
}

// Image aggregates every note an Initium kernel image carries, validated
// as a whole by ParseImage.
type Image struct {
	Image    ImageTag
	Load     LoadTag
	HasLoad  bool
	Options  []OptionTag
	Mappings []MappingTag
	Video    VideoTag
	HasVideo bool

	ELF *elf.File
}

// ParseImage reads every ELF note belonging to the Initium note owner out
// of f's PT_NOTE segments, decodes them by type, and validates the
// single-occurrence and version constraints the format requires. f must
// already be open; ParseImage does not take ownership of it.
func ParseImage(f *elf.File) (*Image, error) {
	img := &Image{ELF: f}
	sawImage := false

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_NOTE {
			continue
		}
		notes, err := readNotes(prog.Open(), f.ByteOrder)
		if err != nil {
			return nil, status.Newf(status.MalformedImage, "reading notes: %v", err)
		}
		for _, n := range notes {
			if n.name != noteName {
				continue
			}
			if err := img.applyNote(n, f.ByteOrder); err != nil {
				return nil, err
			}
			if n.noteType == itagImage {
				sawImage = true
			}
		}
	}

	if !sawImage {
		return nil, status.New(status.UnknownImage, "no Initium image note present")
	}
	if img.Image.Version != Version {
		return nil, status.Newf(status.UnknownImage, "unsupported Initium image version %d", img.Image.Version)
	}
	return img, nil
}

func (img *Image) applyNote(n note, order binary.ByteOrder) error {
	r := bytes.NewReader(n.desc)
	switch n.noteType {
	case itagImage:
		if img.Image.Version != 0 {
			return status.New(status.MalformedImage, "duplicate image tag")
		}
		var raw struct{ Version, Flags uint32 }
		if err := binary.Read(r, order, &raw); err != nil {
			return status.Newf(status.MalformedImage, "image tag: %v", err)
		}
		img.Image = ImageTag{Version: raw.Version, Flags: raw.Flags}
	case itagLoad:
		if img.HasLoad {
			return status.New(status.MalformedImage, "duplicate load tag")
		}
		var raw struct {
			Flags, Pad                                      uint32
			Alignment, MinAlignment, VirtMapBase, VirtMapSize uint64
		}
		if err := binary.Read(r, order, &raw); err != nil {
			return status.Newf(status.MalformedImage, "load tag: %v", err)
		}
		img.Load = LoadTag{
			Flags:        raw.Flags,
			Alignment:    raw.Alignment,
			MinAlignment: raw.MinAlignment,
			VirtMapBase:  raw.VirtMapBase,
			VirtMapSize:  raw.VirtMapSize,
		}
		img.HasLoad = true
	case itagOption:
		opt, err := decodeOption(n.desc, order)
		if err != nil {
			return err
		}
		img.Options = append(img.Options, opt)
	case itagMapping:
		var raw struct{ Virt, Phys, Size uint64 }
		if err := binary.Read(r, order, &raw); err != nil {
			return status.Newf(status.MalformedImage, "mapping tag: %v", err)
		}
		img.Mappings = append(img.Mappings, MappingTag{Virt: raw.Virt, Phys: raw.Phys, Size: raw.Size})
	case itagVideo:
		if img.HasVideo {
			return status.New(status.MalformedImage, "duplicate video tag")
		}
		var raw struct {
			Types, Width, Height uint32
			Bpp                  uint8
		}
		if err := binary.Read(r, order, &raw); err != nil {
			return status.Newf(status.MalformedImage, "video tag: %v", err)
		}
		img.Video = VideoTag{Types: raw.Types, Width: raw.Width, Height: raw.Height, Bpp: raw.Bpp}
		img.HasVideo = true
	}
	return nil
}

func decodeOption(desc []byte, order binary.ByteOrder) (OptionTag, error) {
	r := bytes.NewReader(desc)
	var hdr struct {
		Type               uint8
		_                  [3]byte
		NameLen, DescLen, DefaultLen uint32
	}
	if err := binary.Read(r, order, &hdr); err != nil {
		return OptionTag{}, status.Newf(status.MalformedImage, "option tag header: %v", err)
	}
	name, err := readField(r, int(hdr.NameLen))
	if err != nil {
		return OptionTag{}, err
	}
	desc2, err := readField(r, int(hdr.DescLen))
	if err != nil {
		return OptionTag{}, err
	}
	def := make([]byte, hdr.DefaultLen)
	if _, err := io.ReadFull(r, def); err != nil {
		return OptionTag{}, status.Newf(status.MalformedImage, "option tag default: %v", err)
	}
	return OptionTag{
		Type:    OptionType(hdr.Type),
		Name:    trimNul(name),
		Desc:    trimNul(desc2),
		Default: def,
	}, nil
}

func readField(r io.Reader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", status.Newf(status.MalformedImage, "option tag field: %v", err)
	}
	return string(buf), nil
}

func trimNul(s string) string {
	if i := bytes.IndexByte([]byte(s), 0); i >= 0 {
		return s[:i]
	}
	return s
}

// note is one decoded ELF note record (Elf32_Nhdr/Elf64_Nhdr layout:
// namesz, descsz, type, then name and desc each padded to a 4-byte
// boundary).
type note struct {
	name     string
	noteType uint32
	desc     []byte
}

func readNotes(r io.Reader, order binary.ByteOrder) ([]note, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var notes []note
	for len(data) > 0 {
		if len(data) < 12 {
			break
		}
		namesz := order.Uint32(data[0:4])
		descsz := order.Uint32(data[4:8])
		ntype := order.Uint32(data[8:12])
		off := 12

		nameEnd := off + int(namesz)
		if nameEnd > len(data) {
			return nil, status.New(status.MalformedImage, "truncated note name")
		}
		name := trimNul(string(data[off:nameEnd]))
		off = align4(nameEnd)

		descEnd := off + int(descsz)
		if descEnd > len(data) {
			return nil, status.New(status.MalformedImage, "truncated note description")
		}
		desc := data[off:descEnd]
		off = align4(descEnd)

		notes = append(notes, note{name: name, noteType: ntype, desc: desc})
		data = data[off:]
	}
	return notes, nil
}

func align4(n int) int {
	return (n + 3) &^ 3
}
