package initium

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/gil0mendes/Initium-sub000/internal/config"
	"github.com/gil0mendes/Initium-sub000/internal/memmgr"
	"github.com/gil0mendes/Initium-sub000/internal/mmu"
	"github.com/stretchr/testify/require"
)

// --- minimal ELF64 builder, just enough for debug/elf to parse it back ---

type elfBuilder struct {
	segments []elfSegment
}

type elfSegment struct {
	typ   uint32
	flags uint32
	data  []byte
	vaddr uint64
	paddr uint64
	memsz uint64
}

func (b *elfBuilder) addLoad(vaddr uint64, data []byte, memsz uint64) {
	b.segments = append(b.segments, elfSegment{typ: 1 /* PT_LOAD */, flags: 5, data: data, vaddr: vaddr, paddr: vaddr, memsz: memsz})
}

func (b *elfBuilder) addNote(data []byte) {
	b.segments = append(b.segments, elfSegment{typ: 4 /* PT_NOTE */, data: data})
}

// build assembles a tiny, valid little-endian ELF64 executable with one
// program header per segment and no section headers: everything the
// loader touches comes off program headers and notes.
func (b *elfBuilder) build() []byte {
	const ehsize = 64
	const phentsize = 56
	nph := len(b.segments)

	offsets := make([]uint64, nph)
	cursor := uint64(ehsize + phentsize*nph)
	for i, s := range b.segments {
		// give every segment its own 16-byte-aligned file offset.
		cursor = roundUp(cursor, 0x10)
		offsets[i] = cursor
		cursor += uint64(len(s.data))
	}

	var buf bytes.Buffer
	// e_ident
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2 /*ELFCLASS64*/, 1 /*ELFDATA2LSB*/, 1, 0})
	buf.Write(make([]byte, 8))
	order := binary.LittleEndian
	write := func(v any) { binary.Write(&buf, order, v) }
	write(uint16(2))          // e_type ET_EXEC
	write(uint16(0x3e))       // e_machine EM_X86_64
	write(uint32(1))          // e_version
	write(uint64(0x100000))   // e_entry
	write(uint64(ehsize))     // e_phoff
	write(uint64(0))          // e_shoff
	write(uint32(0))          // e_flags
	write(uint16(ehsize))     // e_ehsize
	write(uint16(phentsize))  // e_phentsize
	write(uint16(nph))        // e_phnum
	write(uint16(0))          // e_shentsize
	write(uint16(0))          // e_shnum
	write(uint16(0))          // e_shstrndx

	for i, s := range b.segments {
		write(s.typ)
		write(s.flags)
		write(offsets[i])
		write(s.vaddr)
		write(s.paddr)
		write(uint64(len(s.data)))
		memsz := s.memsz
		if memsz == 0 {
			memsz = uint64(len(s.data))
		}
		write(memsz)
		write(uint64(0x10))
	}

	for i, s := range b.segments {
		for uint64(buf.Len()) < offsets[i] {
			buf.WriteByte(0)
		}
		buf.Write(s.data)
	}
	return buf.Bytes()
}

// --- note encoding helpers, mirroring readNotes' expected layout ---

func encodeNote(noteType uint32, desc []byte) []byte {
	var buf bytes.Buffer
	name := []byte(noteName)
	namesz := uint32(len(name) + 1)
	write := func(v any) { binary.Write(&buf, binary.LittleEndian, v) }
	write(namesz)
	write(uint32(len(desc)))
	write(noteType)
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

func imageNoteDesc(version, flags uint32) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, version)
	binary.Write(&buf, binary.LittleEndian, flags)
	return buf.Bytes()
}

func loadNoteDesc(flags uint32, align, minAlign, virtBase, virtSize uint64) []byte {
	var buf bytes.Buffer
	order := binary.LittleEndian
	binary.Write(&buf, order, flags)
	binary.Write(&buf, order, uint32(0))
	binary.Write(&buf, order, align)
	binary.Write(&buf, order, minAlign)
	binary.Write(&buf, order, virtBase)
	binary.Write(&buf, order, virtSize)
	return buf.Bytes()
}

func mappingNoteDesc(virt, phys, size uint64) []byte {
	var buf bytes.Buffer
	order := binary.LittleEndian
	binary.Write(&buf, order, virt)
	binary.Write(&buf, order, phys)
	binary.Write(&buf, order, size)
	return buf.Bytes()
}

// minimalImage builds a one PT_LOAD, one-page kernel with a bare Image note
// and parses it straight back through ParseImage, the way a real loader
// would receive it from disk.
func minimalImage(t *testing.T, extraNotes [][]byte, loadVaddr uint64, loadData []byte) *Image {
	t.Helper()
	var noteBlob bytes.Buffer
	noteBlob.Write(encodeNote(itagImage, imageNoteDesc(Version, 0)))
	for _, n := range extraNotes {
		noteBlob.Write(n)
	}

	b := &elfBuilder{}
	b.addNote(noteBlob.Bytes())
	b.addLoad(loadVaddr, loadData, uint64(len(loadData)))

	raw := b.build()
	f, err := elf.NewFile(bytes.NewReader(raw))
	require.NoError(t, err)

	img, err := ParseImage(f)
	require.NoError(t, err)
	return img
}

func newLoader() *Loader {
	mgr := memmgr.NewBIOS()
	mgr.Add(0x200000, 0x1000000, memmgr.Free)
	return &Loader{
		Mgr:     mgr,
		Builder: mmu.NewReferenceBuilder(mgr),
		Mem:     NewSimMemory(),
	}
}

func TestLoadMinimalBoot(t *testing.T) {
	img := minimalImage(t, nil, 0x100000, []byte("kernel-code"))
	l := newLoader()

	res, err := l.Load(img, LoadRequest{})
	require.NoError(t, err)
	require.Equal(t, img.ELF.Entry, res.Entry)
	require.NotZero(t, res.TagsPhys)
	require.NotZero(t, res.TagsSize)
	require.NotZero(t, res.StackBase)
	require.NotZero(t, res.Trampoline)

	mem := l.Mem.(*SimMemory)
	tagBytes := mem.Read(res.TagsPhys, uint64(res.TagsSize))
	require.Len(t, tagBytes, int(res.TagsSize))
	gotType := binary.LittleEndian.Uint32(tagBytes[0:4])
	require.Equal(t, uint32(TagCore), gotType)
}

func TestLoadAlignmentFallback(t *testing.T) {
	loadNote := encodeNote(itagLoad, loadNoteDesc(0, 0x400000, 0x1000, 0, 0))
	img := minimalImage(t, [][]byte{loadNote}, 0x100000, bytes.Repeat([]byte{0xaa}, 64))

	mgr := memmgr.NewBIOS()
	// Only [1MiB, 4MiB) is free, so no 4MiB-aligned address fits: memmgr's
	// built-in alignment-retry-downward loop backs off and places the
	// segment at 2MiB alignment.
	mgr.Add(0x100000, 0x300000, memmgr.Free)
	l := &Loader{Mgr: mgr, Builder: mmu.NewReferenceBuilder(mgr), Mem: NewSimMemory()}

	res, err := l.Load(img, LoadRequest{})
	require.NoError(t, err)
	require.NotZero(t, res.Entry)
}

func TestLoadMappingCollision(t *testing.T) {
	mapNote := encodeNote(itagMapping, mappingNoteDesc(0x100000, 0x900000, 0x1000))
	img := minimalImage(t, [][]byte{mapNote}, 0x100000, []byte("x"))
	l := newLoader()

	_, err := l.Load(img, LoadRequest{})
	require.Error(t, err)
}

func TestLoadModuleFiles(t *testing.T) {
	img := minimalImage(t, nil, 0x100000, []byte("kernel"))
	l := newLoader()

	req := LoadRequest{
		Modules: []ModuleFile{
			{Name: "initrd.img", Data: bytes.Repeat([]byte{0x42}, 4096)},
			{Name: "config.cfg", Data: []byte("set foo true\n")},
		},
	}
	res, err := l.Load(img, req)
	require.NoError(t, err)

	mem := l.Mem.(*SimMemory)
	tagBytes := mem.Read(res.TagsPhys, uint64(res.TagsSize))

	count := 0
	for off := 0; off+8 <= len(tagBytes); {
		tagType := binary.LittleEndian.Uint32(tagBytes[off:])
		tagSize := binary.LittleEndian.Uint32(tagBytes[off+4:])
		if tagType == TagModule {
			count++
		}
		if tagType == TagNone || tagSize == 0 {
			break
		}
		off += int(tagSize)
	}
	require.Equal(t, 2, count)
}

func TestResolveOptionFallsBackToDefault(t *testing.T) {
	opt := OptionTag{Type: OptionBoolean, Name: "quiet", Default: []byte{1}}
	val, err := resolveOption(opt, config.NewRootEnvironment(), binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, []byte{1}, val)
}

func TestResolveOptionUsesEnvironment(t *testing.T) {
	env := config.NewRootEnvironment()
	env.Set("timeout", config.IntValue(5))
	opt := OptionTag{Type: OptionInteger, Name: "timeout", Default: []byte{0, 0, 0, 0, 0, 0, 0, 0}}

	val, err := resolveOption(opt, env, binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, uint64(5), binary.LittleEndian.Uint64(val))
}
