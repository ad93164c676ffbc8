// Command initium-loader is a host-side harness exercising the full boot
// flow (device tree, configuration, menu, kernel placement) against an
// in-memory "firmware": no real disk, console, or architecture trampoline.
// A real bare-metal entry point cannot run hosted.
package main

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/gil0mendes/Initium-sub000/internal/bootlog"
	"github.com/gil0mendes/Initium-sub000/internal/device"
	"github.com/gil0mendes/Initium-sub000/internal/fs"
	"github.com/gil0mendes/Initium-sub000/internal/initium"
	"github.com/gil0mendes/Initium-sub000/internal/loaders"
	"github.com/gil0mendes/Initium-sub000/internal/memmgr"
	"github.com/gil0mendes/Initium-sub000/internal/menu"
	"github.com/gil0mendes/Initium-sub000/internal/mmu"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const defaultConfig = `
timeout 0
entry "demo" {
	device "hd0"
	initium "/boot/kernel.elf"
}
`

func main() {
	verbose := pflag.BoolP("verbose", "v", false, "log at debug level")
	cfgFlag := pflag.StringP("config", "c", "", "path to a boot configuration file; reads the built-in demo config if empty")
	pflag.Parse()

	if !*verbose {
		bootlog.Log.SetLevel(logrus.InfoLevel)
	}

	cfgText := defaultConfig
	if *cfgFlag != "" {
		data, err := os.ReadFile(*cfgFlag)
		if err != nil {
			bootlog.Log.WithError(err).Fatal("reading configuration file")
		}
		cfgText = string(data)
	}

	tree := buildFakeFirmwareTree()

	m, err := menu.Load(tree, "initium.cfg", cfgText)
	if err != nil {
		bootlog.Log.WithError(err).Fatal("loading boot configuration")
	}
	loaders.Register(m)
	initium.RegisterCommand(m)

	entry, err := m.DefaultEntry()
	if err != nil {
		bootlog.Log.WithError(err).Fatal("resolving default entry")
	}
	if err := m.Execute(entry); err != nil {
		bootlog.Log.WithError(err).Fatal("preparing entry")
	}

	ops := entry.Env.LoaderOps()
	switch o := ops.(type) {
	case *initium.Ops:
		bootInitium(o)
	case *loaders.Ops:
		bootAuxiliary(o)
	default:
		bootlog.Log.Fatal("entry did not bind a loader command")
	}
}

func bootInitium(ops *initium.Ops) {
	mgr := memmgr.NewBIOS()
	if err := mgr.Add(0x100000, 64*1024*1024, memmgr.Free); err != nil {
		bootlog.Log.WithError(err).Fatal("describing fake firmware memory map")
	}

	l := &initium.Loader{
		Mgr:     mgr,
		Builder: mmu.NewReferenceBuilder(mgr),
		Mem:     initium.NewSimMemory(),
	}
	res, err := l.Load(ops.Image, initium.LoadRequest{Modules: ops.Modules})
	if err != nil {
		bootlog.Log.WithError(err).Fatal("placing kernel image")
	}

	bootlog.Log.WithFields(map[string]any{
		"entry":      fmt.Sprintf("%#x", res.Entry),
		"trampoline": fmt.Sprintf("%#x", res.Trampoline),
		"tags_phys":  fmt.Sprintf("%#x", res.TagsPhys),
		"tags_size":  res.TagsSize,
		"stack_base": fmt.Sprintf("%#x", res.StackBase),
	}).Info("entering kernel")
}

func bootAuxiliary(ops *loaders.Ops) {
	switch ops.Format {
	case "linux":
		h, err := loaders.ParseLinuxHeader(ops.KernelData)
		if err != nil {
			bootlog.Log.WithError(err).Fatal("parsing Linux boot header")
		}
		bootlog.Log.WithFields(map[string]any{
			"load_addr":    fmt.Sprintf("%#x", h.LoadAddress()),
			"efi_handover": h.SupportsEFIHandover(),
			"cmdline":      loaders.CommandLine(ops.KernelPath, ops.Args),
		}).Info("would boot Linux kernel")
	case "multiboot":
		if _, err := loaders.FindMultibootHeader(ops.KernelData); err != nil {
			bootlog.Log.WithError(err).Fatal("locating Multiboot1 header")
		}
		bootlog.Log.Info("would boot Multiboot1 kernel")
	case "efi":
		bootlog.Log.WithField("path", ops.KernelPath).Info("would hand off to EFI image")
	}
}

// buildFakeFirmwareTree assembles a one-disk device tree over a tiny
// in-memory filesystem carrying a minimal Initium-tagged ELF kernel, the
// harness's stand-in for a real boot medium.
func buildFakeFirmwareTree() *device.Tree {
	root := &memNode{name: "/", isDir: true, children: []*memNode{
		{name: "boot", isDir: true, children: []*memNode{
			{name: "kernel.elf", data: buildDemoKernel()},
		}},
	}}

	ops := &memOps{}
	tree := device.NewTree()
	tree.SetFSProbe(func(d *device.Device) (device.Mounter, bool, error) {
		mnt, err := ops.Mount(d)
		return mnt, err == nil, err
	})
	if err := tree.Register(&device.Device{Name: "hd0", Boot: true, Ops: &memDevice{root: root}}); err != nil {
		bootlog.Log.WithError(err).Fatal("registering fake boot device")
	}
	return tree
}

// buildDemoKernel assembles a minimal ELF64 executable carrying a single
// Initium image note and one PT_LOAD segment, enough for internal/initium
// to accept and place.
func buildDemoKernel() []byte {
	const noteName = "INITIUM"
	encodeNote := func(noteType uint32, desc []byte) []byte {
		var buf bytes.Buffer
		name := []byte(noteName)
		order := binary.LittleEndian
		binary.Write(&buf, order, uint32(len(name)+1))
		binary.Write(&buf, order, uint32(len(desc)))
		binary.Write(&buf, order, noteType)
		buf.Write(name)
		buf.WriteByte(0)
		for buf.Len()%4 != 0 {
			buf.WriteByte(0)
		}
		buf.Write(desc)
		for buf.Len()%4 != 0 {
			buf.WriteByte(0)
		}
		return buf.Bytes()
	}

	var imageDesc bytes.Buffer
	binary.Write(&imageDesc, binary.LittleEndian, uint32(1)) // version
	binary.Write(&imageDesc, binary.LittleEndian, uint32(0)) // flags
	noteBlob := encodeNote(0 /* image tag */, imageDesc.Bytes())

	const ehsize, phentsize = 64, 56
	loadData := []byte("demo kernel code\x00")
	noteOff := uint64(ehsize + 2*phentsize)
	loadOff := noteOff + uint64(len(noteBlob))

	var b bytes.Buffer
	order := binary.LittleEndian
	b.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	b.Write(make([]byte, 8))
	w := func(v any) { binary.Write(&b, order, v) }
	w(uint16(2))         // e_type
	w(uint16(0x3e))      // e_machine
	w(uint32(1))         // e_version
	w(uint64(0x100000))  // e_entry
	w(uint64(ehsize))    // e_phoff
	w(uint64(0))         // e_shoff
	w(uint32(0))         // e_flags
	w(uint16(ehsize))    // e_ehsize
	w(uint16(phentsize)) // e_phentsize
	w(uint16(2))         // e_phnum
	w(uint16(0))
	w(uint16(0))
	w(uint16(0))

	// PT_NOTE
	w(uint32(elf.PT_NOTE))
	w(uint32(0))
	w(noteOff)
	w(uint64(0))
	w(uint64(0))
	w(uint64(len(noteBlob)))
	w(uint64(len(noteBlob)))
	w(uint64(4))

	// PT_LOAD
	w(uint32(elf.PT_LOAD))
	w(uint32(5))
	w(loadOff)
	w(uint64(0x100000))
	w(uint64(0x100000))
	w(uint64(len(loadData)))
	w(uint64(len(loadData)))
	w(uint64(0x1000))

	b.Write(noteBlob)
	b.Write(loadData)
	return b.Bytes()
}

// --- tiny in-memory filesystem, the harness's stand-in for iso9660/fat ---

type memNode struct {
	name     string
	isDir    bool
	data     []byte
	children []*memNode
}

type memOps struct{}

func (o *memOps) Mount(dev *device.Device) (*fs.Mount, error) {
	root := dev.Ops.(*memDevice).root
	m := fs.NewMount(dev, o, "MEMFS", "mem-uuid-1", false)
	m.SetRoot(fs.NewDirHandle(m, root))
	return m, nil
}

func (o *memOps) Iterate(dir *fs.Handle, cb func(fs.Entry) bool) error {
	n := dir.Private.(*memNode)
	for _, c := range n.children {
		if !cb(fs.Entry{Name: c.name, IsDir: c.isDir}) {
			return nil
		}
	}
	return nil
}

func (o *memOps) OpenEntry(dir *fs.Handle, e fs.Entry) (*fs.Handle, error) {
	n := dir.Private.(*memNode)
	for _, c := range n.children {
		if c.name == e.Name {
			if c.isDir {
				return fs.NewDirHandle(dir.Mount, c), nil
			}
			return fs.NewFileHandle(dir.Mount, uint64(len(c.data)), c), nil
		}
	}
	panic("entry not found after Iterate matched it")
}

func (o *memOps) Read(h *fs.Handle, buf []byte, count int, offset uint64) (int, error) {
	n := h.Private.(*memNode)
	return copy(buf[:count], n.data[offset:]), nil
}

func (o *memOps) Close(h *fs.Handle) error { return nil }

type memDevice struct{ root *memNode }

func (d *memDevice) Read(buf []byte, count int, offset uint64) (int, error) { return 0, nil }
