// Package loaders implements the auxiliary kernel formats that sit beside
// the native Initium protocol: Linux's bzImage real-mode header, Multiboot1,
// and the raw EFI-executable path. Each is a thin contract over the same
// physical memory manager internal/initium places images with, rather than
// a parallel loading pipeline, since the placement problem they solve is
// the same one component H already implements.
package loaders

import (
	"bytes"
	"encoding/binary"

	"github.com/gil0mendes/Initium-sub000/internal/memmgr"
	"github.com/gil0mendes/Initium-sub000/internal/status"
)

// linuxHeaderOffset is where the setup header begins inside a bzImage, per
// the Linux boot protocol (Documentation/x86/boot.rst).
const linuxHeaderOffset = 0x1f1

// linuxMagic is the fixed "HdrS" signature confirming the bytes at
// linuxHeaderOffset really are a boot protocol header.
const linuxMagic = 0x53726448 // "HdrS" as a little-endian uint32

// efiHandover64 is the xloadflags bit announcing a 64-bit EFI handover
// entry point, required before this loader will use it.
const efiHandover64 = 1 << 3

// minEFIHandoverVersion is the lowest boot protocol version carrying a
// usable EFI handover offset.
const minEFIHandoverVersion = 0x020b

// LinuxHeader is the subset of the real-mode setup header this loader
// validates and acts on. Field names and offsets follow the boot protocol
// directly; unused reserved fields are skipped rather than named.
type LinuxHeader struct {
	SetupSects    uint8
	BootFlag      uint16
	Version       uint16
	TypeOfLoader  uint8
	LoadFlags     uint8
	CodeOffset    uint32
	RamdiskImage  uint32
	RamdiskSize   uint32
	CmdLinePtr    uint32
	KernelAlign   uint32
	Relocatable   uint8
	MinAlignment  uint8
	XLoadFlags    uint16
	CmdlineSize   uint32
	PayloadOffset uint32
	PayloadLength uint32
	PrefAddress   uint64
	InitSize      uint32
	HandoverOffset uint32
}

// ParseLinuxHeader reads and validates the setup header embedded in a
// bzImage file's first bytes. img must contain at least through the
// handover_offset field (0x268 bytes).
func ParseLinuxHeader(img []byte) (*LinuxHeader, error) {
	if len(img) < linuxHeaderOffset+0x77 {
		return nil, status.New(status.MalformedImage, "image too short to contain a Linux setup header")
	}
	r := bytes.NewReader(img[linuxHeaderOffset:])
	order := binary.LittleEndian

	var raw struct {
		SetupSects   uint8
		RootFlags    uint16
		SysSize      uint32
		RamSize      uint16
		VidMode      uint16
		RootDev      uint16
		BootFlag     uint16
		Jump         uint16
		HeaderMagic  uint32
		Version      uint16
		RealmodeSw   uint32
		StartSysSeg  uint16
		KernelVer    uint16
		TypeOfLoader uint8
		LoadFlags    uint8
		SetupMove    uint16
		Code32Start  uint32
		RamdiskImage uint32
		RamdiskSize  uint32
		BootsectKl   uint32
		HeapEndPtr   uint16
		ExtLoaderVer uint8
		ExtLoaderTyp uint8
		CmdLinePtr   uint32
		InitrdMax    uint32
		KernelAlign  uint32
		Relocatable  uint8
		MinAlignment uint8
		XLoadFlags   uint16
		CmdlineSize  uint32
		HwSubarch    uint32
		HwSubarchDat uint64
		PayloadOff   uint32
		PayloadLen   uint32
		SetupData    uint64
		PrefAddress  uint64
		InitSize     uint32
		HandoverOff  uint32
	}
	if err := binary.Read(r, order, &raw); err != nil {
		return nil, status.Newf(status.MalformedImage, "reading Linux setup header: %v", err)
	}
	if raw.HeaderMagic != linuxMagic {
		return nil, status.Newf(status.UnknownImage, "not a Linux bzImage (header magic %#x)", raw.HeaderMagic)
	}

	return &LinuxHeader{
		SetupSects:     raw.SetupSects,
		BootFlag:       raw.BootFlag,
		Version:        raw.Version,
		TypeOfLoader:   raw.TypeOfLoader,
		LoadFlags:      raw.LoadFlags,
		CodeOffset:     raw.Code32Start,
		RamdiskImage:   raw.RamdiskImage,
		RamdiskSize:    raw.RamdiskSize,
		CmdLinePtr:     raw.CmdLinePtr,
		KernelAlign:    raw.KernelAlign,
		Relocatable:    raw.Relocatable,
		MinAlignment:   raw.MinAlignment,
		XLoadFlags:     raw.XLoadFlags,
		CmdlineSize:    raw.CmdlineSize,
		PayloadOffset:  raw.PayloadOff,
		PayloadLength:  raw.PayloadLen,
		PrefAddress:    raw.PrefAddress,
		InitSize:       raw.InitSize,
		HandoverOffset: raw.HandoverOff,
	}, nil
}

// SupportsEFIHandover reports whether h declares a 64-bit EFI handover
// entry point this loader is willing to use instead of the legacy real-mode
// entry sequence.
func (h *LinuxHeader) SupportsEFIHandover() bool {
	return h.Version >= minEFIHandoverVersion && h.XLoadFlags&efiHandover64 != 0
}

// LoadAddress picks where the protected-mode kernel image lands: its
// preferred address if it declares one and is relocatable, else the
// protocol's traditional 1MiB.
func (h *LinuxHeader) LoadAddress() uint64 {
	if h.Relocatable != 0 && h.PrefAddress != 0 {
		return h.PrefAddress
	}
	return 0x100000
}

// CommandLine concatenates the Linux boot convention's BOOT_IMAGE token
// with the user-supplied arguments, the form the kernel's init expects on
// /proc/cmdline.
func CommandLine(path, args string) string {
	line := "BOOT_IMAGE=" + path
	if args != "" {
		line += " " + args
	}
	return line
}

// LinuxLoad describes the outcome of placing a Linux kernel and its
// initrd(s): everything the architecture-specific real-mode or EFI
// handover entry needs.
type LinuxLoad struct {
	KernelPhys  uint64
	EntryPhys   uint64
	RamdiskPhys uint64
	RamdiskSize uint32
	CmdLinePhys uint64
}

// PlaceInitrd concatenates one or more initrd images into a single
// contiguous Modules-typed range, the form the Linux boot protocol
// requires (ramdisk_image/ramdisk_size name exactly one buffer).
func PlaceInitrd(mgr memmgr.Manager, mem interface {
	Write(addr uint64, data []byte) error
}, images [][]byte) (phys uint64, size uint32, err error) {
	total := 0
	for _, img := range images {
		total += len(img)
	}
	if total == 0 {
		return 0, 0, nil
	}
	phys, err = mgr.Alloc(memmgr.AllocRequest{Size: uint64(total), Type: memmgr.Modules})
	if err != nil {
		return 0, 0, err
	}
	off := uint64(0)
	for _, img := range images {
		if err := mem.Write(phys+off, img); err != nil {
			return 0, 0, err
		}
		off += uint64(len(img))
	}
	return phys, uint32(total), nil
}
