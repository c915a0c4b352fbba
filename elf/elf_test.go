package elf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/objtk/objview/cursor"
)

// testWriter assembles synthetic ELF images for one width/order combo.
type testWriter struct {
	buf   bytes.Buffer
	order binary.ByteOrder
	width cursor.Width
}

func (w *testWriter) u8(v uint8)   { w.buf.WriteByte(v) }
func (w *testWriter) u16(v uint16) { binary.Write(&w.buf, w.order, v) }
func (w *testWriter) u32(v uint32) { binary.Write(&w.buf, w.order, v) }
func (w *testWriter) u64(v uint64) { binary.Write(&w.buf, w.order, v) }

func (w *testWriter) word(v uint64) {
	if w.width == cursor.W64 {
		w.u64(v)
	} else {
		w.u32(uint32(v))
	}
}

func (w *testWriter) raw(p []byte) { w.buf.Write(p) }
func (w *testWriter) off() uint64  { return uint64(w.buf.Len()) }

type shdr struct {
	name, typ, link, info  uint32
	flags, addr, off, size uint64
	align, entsize         uint64
}

func (w *testWriter) shdr(s shdr) {
	w.u32(s.name)
	w.u32(s.typ)
	w.word(s.flags)
	w.word(s.addr)
	w.word(s.off)
	w.word(s.size)
	w.u32(s.link)
	w.u32(s.info)
	w.word(s.align)
	w.word(s.entsize)
}

// buildElf produces a minimal but complete image: one PT_LOAD segment,
// .text, .symtab (null + "main"), .strtab, .shstrtab, .dynamic with one
// DT_NEEDED, and .rela.text with one entry.
func buildElf(order binary.ByteOrder, width cursor.Width) []byte {
	w := &testWriter{order: order, width: width}

	class := uint8(class32)
	ehsize := uint16(52)
	phentsize := uint16(32)
	shentsize := uint16(40)
	if width == cursor.W64 {
		class = class64
		ehsize = 64
		phentsize = 56
		shentsize = 64
	}
	encoding := uint8(data2LSB)
	if order == binary.BigEndian {
		encoding = data2MSB
	}

	// ident
	w.raw(Magic)
	w.u8(class)
	w.u8(encoding)
	w.u8(1) // EV_CURRENT
	w.u8(0) // osabi
	w.u8(0) // abi version
	w.raw(make([]byte, 7))

	phoff := uint64(ehsize)

	w.u16(uint16(TypeExec))
	w.u16(uint16(MachineX86_64))
	w.u32(1)
	w.word(0x1000) // entry
	w.word(phoff)  // phoff
	w.word(0)      // shoff patched at the end
	w.u32(0)       // flags
	w.u16(ehsize)
	w.u16(phentsize)
	w.u16(1) // phnum
	w.u16(shentsize)
	w.u16(7) // shnum
	w.u16(4) // shstrndx

	// program header: PT_LOAD covering .text
	textData := []byte{0x90, 0x90, 0x90, 0x90, 0xc3, 0, 0, 0}
	textOff := phoff + uint64(phentsize)
	w.u32(uint32(PTLoad))
	if width == cursor.W64 {
		w.u32(PFRead | PFExec)
	}
	w.word(textOff)               // offset
	w.word(0x1000)                // vaddr
	w.word(0x1000)                // paddr
	w.word(uint64(len(textData))) // filesz
	w.word(uint64(len(textData))) // memsz
	if width == cursor.W32 {
		w.u32(PFRead | PFExec)
	}
	w.word(0x1000) // align

	if w.off() != textOff {
		panic("fixture layout drift")
	}
	w.raw(textData)

	// .strtab: "" "main" "libc.so.6"
	strtabOff := w.off()
	strtab := []byte("\x00main\x00libc.so.6\x00")
	w.raw(strtab)

	// .shstrtab
	shstrtabOff := w.off()
	shstrtab := []byte("\x00.text\x00.symtab\x00.strtab\x00.shstrtab\x00.dynamic\x00.rela.text\x00")
	w.raw(shstrtab)

	// .symtab: null entry + "main"
	symtabOff := w.off()
	writeSym := func(name uint32, value, size uint64, info uint8, shndx uint16) {
		w.u32(name)
		if width == cursor.W64 {
			w.u8(info)
			w.u8(0)
			w.u16(shndx)
			w.u64(value)
			w.u64(size)
		} else {
			w.u32(uint32(value))
			w.u32(uint32(size))
			w.u8(info)
			w.u8(0)
			w.u16(shndx)
		}
	}
	writeSym(0, 0, 0, 0, 0)
	writeSym(1, 0x1000, 8, uint8(BindGlobal)<<4|uint8(SymFunc), 1)
	symtabSize := w.off() - symtabOff

	// .dynamic: DT_NEEDED -> "libc.so.6", DT_NULL
	dynOff := w.off()
	w.word(uint64(DTNeeded))
	w.word(6)
	w.word(uint64(DTNull))
	w.word(0)
	dynSize := w.off() - dynOff

	// .rela.text: one entry against symbol 1
	relaOff := w.off()
	w.word(0x1000)
	if width == cursor.W64 {
		w.u64(1<<32 | uint64(RX866464))
		w.u64(4)
	} else {
		w.u32(1<<8 | uint32(RX866464))
		w.u32(4)
	}
	relaSize := w.off() - relaOff

	shoff := w.off()
	w.shdr(shdr{}) // null section
	w.shdr(shdr{name: 1, typ: uint32(SHTProgbits), flags: 0x6, addr: 0x1000,
		off: textOff, size: uint64(len(textData)), align: 16})
	w.shdr(shdr{name: 7, typ: uint32(SHTSymtab), off: symtabOff, size: symtabSize,
		link: 3, info: 1, entsize: symSize(width)})
	w.shdr(shdr{name: 15, typ: uint32(SHTStrtab), off: strtabOff, size: uint64(len(strtab))})
	w.shdr(shdr{name: 23, typ: uint32(SHTStrtab), off: shstrtabOff, size: uint64(len(shstrtab))})
	w.shdr(shdr{name: 33, typ: uint32(SHTDynamic), off: dynOff, size: dynSize,
		link: 3, entsize: 2 * width.WordSize()})
	w.shdr(shdr{name: 42, typ: uint32(SHTRela), off: relaOff, size: relaSize,
		link: 2, info: 1, entsize: relSize(width, true)})

	// patch shoff into the header
	p := w.buf.Bytes()
	shoffField := identSize + 2 + 2 + 4 + width.WordSize() + width.WordSize()
	if width == cursor.W64 {
		order.PutUint64(p[shoffField:], shoff)
	} else {
		order.PutUint32(p[shoffField:], uint32(shoff))
	}
	return p
}

var matrix = []struct {
	name  string
	order binary.ByteOrder
	width cursor.Width
}{
	{"32le", binary.LittleEndian, cursor.W32},
	{"32be", binary.BigEndian, cursor.W32},
	{"64le", binary.LittleEndian, cursor.W64},
	{"64be", binary.BigEndian, cursor.W64},
}

func TestMatch(t *testing.T) {
	require.True(t, Match(buildElf(binary.LittleEndian, cursor.W64)))
	require.False(t, Match([]byte{0x7f, 0x45}))
	require.False(t, Match(nil))
}

func TestHeaderMatrix(t *testing.T) {
	for _, m := range matrix {
		t.Run(m.name, func(t *testing.T) {
			f, err := New(buildElf(m.order, m.width))
			require.NoError(t, err)
			require.Equal(t, m.width, f.Header.Class)
			require.Equal(t, m.order, f.Header.Order)
			require.Equal(t, TypeExec, f.Header.Type)
			require.Equal(t, MachineX86_64, f.Header.Machine)
			require.Equal(t, uint64(0x1000), f.Header.Entry)
			require.Len(t, f.Progs, 1)
			require.Len(t, f.Sections, 7)
		})
	}
}

func TestSectionNames(t *testing.T) {
	f, err := New(buildElf(binary.LittleEndian, cursor.W64))
	require.NoError(t, err)
	want := []string{"", ".text", ".symtab", ".strtab", ".shstrtab", ".dynamic", ".rela.text"}
	for i, s := range f.Sections {
		name, err := s.Name()
		require.NoError(t, err)
		require.Equal(t, want[i], name)
	}
	require.NotNil(t, f.Section(".text"))
	require.Nil(t, f.Section(".missing"))
}

func TestSegments(t *testing.T) {
	for _, m := range matrix {
		f, err := New(buildElf(m.order, m.width))
		require.NoError(t, err)
		p := f.Progs[0]
		require.Equal(t, PTLoad, p.Type)
		require.Equal(t, uint64(0x1000), p.Vaddr)
		require.Equal(t, uint32(PFRead|PFExec), p.Flags)
		data, err := p.Data()
		require.NoError(t, err)
		require.Equal(t, byte(0x90), data[0])
	}
}

func TestSymbols(t *testing.T) {
	for _, m := range matrix {
		f, err := New(buildElf(m.order, m.width))
		require.NoError(t, err)
		syms, err := f.Symbols()
		require.NoError(t, err)
		require.Equal(t, 2, syms.Count())

		sym, err := syms.Symbol(1)
		require.NoError(t, err)
		name, err := sym.Name()
		require.NoError(t, err)
		require.Equal(t, "main", name)
		require.Equal(t, uint64(0x1000), sym.Value)
		require.Equal(t, uint64(8), sym.Size)
		require.Equal(t, BindGlobal, sym.Bind)
		require.Equal(t, SymFunc, sym.Type)

		_, err = syms.Symbol(2)
		require.Error(t, err)
		require.True(t, cursor.IsMalformed(err))
	}
}

func TestDynamic(t *testing.T) {
	f, err := New(buildElf(binary.BigEndian, cursor.W32))
	require.NoError(t, err)
	dyn, err := f.Dynamic()
	require.NoError(t, err)
	require.Equal(t, []string{"libc.so.6"}, dyn.Needed())
	_, ok := dyn.Val(DTSoname)
	require.False(t, ok)
}

func TestRelocations(t *testing.T) {
	for _, m := range matrix {
		f, err := New(buildElf(m.order, m.width))
		require.NoError(t, err)
		tables := f.Relocations()
		require.Len(t, tables, 1)
		rt := tables[0]
		require.Equal(t, ".rela.text", rt.Name())
		require.Equal(t, 1, rt.Count())
		r, err := rt.Reloc(0)
		require.NoError(t, err)
		require.Equal(t, uint64(0x1000), r.Off)
		require.Equal(t, uint32(1), r.SymIndex)
		require.Equal(t, uint32(RX866464), r.Type)
		require.Equal(t, int64(4), r.Addend)
		require.True(t, r.HasAddend)
		require.Equal(t, "R_X86_64_64", r.TypeName())
	}
}

// Truncating a valid image anywhere must produce an error or a smaller
// view, never a panic or an out-of-range read.
func TestTruncationSweep(t *testing.T) {
	full := buildElf(binary.LittleEndian, cursor.W64)
	for n := 0; n < len(full); n++ {
		f, err := New(full[:n])
		if err != nil {
			continue
		}
		if syms, err := f.Symbols(); err == nil {
			for i := 0; i < syms.Count(); i++ {
				if s, err := syms.Symbol(i); err == nil {
					s.Name()
				}
			}
		}
		for _, s := range f.Sections {
			s.Name()
			s.Data()
		}
		for _, p := range f.Progs {
			p.Data()
		}
	}
}

// A section pointing past the end of the file fails on access without
// poisoning the rest of the object.
func TestBadSectionScopedFailure(t *testing.T) {
	p := buildElf(binary.LittleEndian, cursor.W64)
	f, err := New(p)
	require.NoError(t, err)

	// corrupt .text's sh_offset in place: section 1, word field after
	// name/type/flags/addr
	shoff := f.Header.Shoff
	entOff := shoff + uint64(f.Header.Shentsize) + 4 + 4 + 8 + 8
	binary.LittleEndian.PutUint64(p[entOff:], uint64(len(p))+0x1000)

	f2, err := New(p)
	require.NoError(t, err)
	_, err = f2.Sections[1].Data()
	require.Error(t, err)
	require.True(t, cursor.IsBounds(err))

	// independent tables stay queryable
	syms, err := f2.Symbols()
	require.NoError(t, err)
	sym, err := syms.Symbol(1)
	require.NoError(t, err)
	name, err := sym.Name()
	require.NoError(t, err)
	require.Equal(t, "main", name)
}

// Constructing the file must not materialize symbol names; resolving one
// symbol is the only allocation the lookup path performs.
func TestLazySymbols(t *testing.T) {
	f, err := New(buildElf(binary.LittleEndian, cursor.W64))
	require.NoError(t, err)
	syms, err := f.Symbols()
	require.NoError(t, err)

	allocs := testing.AllocsPerRun(100, func() {
		if _, err := syms.Symbol(1); err != nil {
			t.Fatal(err)
		}
	})
	// one Symbol struct per call, no name strings
	require.LessOrEqual(t, allocs, 2.0)
}
