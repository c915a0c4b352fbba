// Package elf decodes ELF object files from an in-memory buffer.
// The identification block fixes the integer width and byte order for the
// rest of the parse; every address-sized field then goes through one
// width-generic read path. Symbol, string, and relocation tables are
// exposed as lazy views over the original bytes.
package elf

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/objtk/objview/cursor"
)

// Header holds the decoded ELF file header. Addresses and offsets are
// widened to uint64 regardless of class.
type Header struct {
	Class      cursor.Width
	Order      binary.ByteOrder
	OSABI      uint8
	ABIVersion uint8
	Type       Type
	Machine    Machine
	Version    uint32
	Entry      uint64
	Phoff      uint64
	Shoff      uint64
	Flags      uint32
	Ehsize     uint16
	Phentsize  uint16
	Phnum      uint16
	Shentsize  uint16
	Shnum      uint16
	Shstrndx   uint16
}

// Prog is one program header (segment descriptor). It references a byte
// range of the file; it does not own it.
type Prog struct {
	Type   SegmentType
	Flags  uint32
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64

	f *File
}

// Data returns the segment's file bytes, bounds-checked at call time.
func (p *Prog) Data() ([]byte, error) {
	d, err := p.f.buf.Bytes(p.Off, p.Filesz)
	return d, errors.Wrap(err, "segment body out of range")
}

// Section is one section header.
type Section struct {
	NameOff   uint32
	Type      SectionType
	Flags     uint64
	Addr      uint64
	Off       uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64

	f *File
}

// Name resolves the section's name through the section-name string table.
func (s *Section) Name() (string, error) {
	strtab, err := s.f.shstrtab()
	if err != nil {
		return "", err
	}
	return strtab.Lookup(uint64(s.NameOff))
}

// Data returns the section's file bytes. SHT_NOBITS sections occupy no
// file space and yield nil.
func (s *Section) Data() ([]byte, error) {
	if s.Type == SHTNobits {
		return nil, nil
	}
	d, err := s.f.buf.Bytes(s.Off, s.Size)
	return d, errors.Wrap(err, "section body out of range")
}

// File is a decoded ELF object. It borrows the buffer passed to New for
// its whole lifetime.
type File struct {
	Header   Header
	Progs    []*Prog
	Sections []*Section

	buf *cursor.Buffer
	cur *cursor.Cursor

	shstrtabCache *StringTable
}

// Match reports whether p starts with the ELF magic.
func Match(p []byte) bool {
	return len(p) >= len(Magic) && bytes.Equal(p[:len(Magic)], Magic)
}

// New decodes the ELF header and the program/section header tables.
// Symbols, strings, dynamic info, and relocations stay lazy.
func New(p []byte) (*File, error) {
	buf := cursor.NewBuffer(p)
	ident, err := buf.Bytes(0, identSize)
	if err != nil {
		return nil, cursor.Malformedf("elf header", 0, "buffer too small for identification")
	}
	if !bytes.Equal(ident[:len(Magic)], Magic) {
		return nil, cursor.Malformedf("elf header", 0, "bad magic")
	}

	var width cursor.Width
	switch ident[eiClass] {
	case class32:
		width = cursor.W32
	case class64:
		width = cursor.W64
	default:
		return nil, cursor.Malformedf("elf header", eiClass, "unknown class %d", ident[eiClass])
	}
	var order binary.ByteOrder
	switch ident[eiData] {
	case data2LSB:
		order = binary.LittleEndian
	case data2MSB:
		order = binary.BigEndian
	default:
		return nil, cursor.Malformedf("elf header", eiData, "unknown data encoding %d", ident[eiData])
	}

	f := &File{
		buf: buf,
		cur: cursor.New(buf, order, width),
	}
	if err := f.readHeader(ident); err != nil {
		return nil, err
	}
	if err := f.readProgs(); err != nil {
		return nil, err
	}
	if err := f.readSections(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) readHeader(ident []byte) error {
	h := &f.Header
	h.Class = f.cur.Width()
	h.Order = f.cur.Order()
	h.OSABI = ident[eiOSABI]
	h.ABIVersion = ident[eiABIVersion]

	c := f.cur.At(identSize)
	var err error
	get16 := func() uint16 {
		if err != nil {
			return 0
		}
		var v uint16
		v, err = c.Uint16()
		return v
	}
	get32 := func() uint32 {
		if err != nil {
			return 0
		}
		var v uint32
		v, err = c.Uint32()
		return v
	}
	getWord := func() uint64 {
		if err != nil {
			return 0
		}
		var v uint64
		v, err = c.Word()
		return v
	}

	h.Type = Type(get16())
	h.Machine = Machine(get16())
	h.Version = get32()
	h.Entry = getWord()
	h.Phoff = getWord()
	h.Shoff = getWord()
	h.Flags = get32()
	h.Ehsize = get16()
	h.Phentsize = get16()
	h.Phnum = get16()
	h.Shentsize = get16()
	h.Shnum = get16()
	h.Shstrndx = get16()
	return errors.Wrap(err, "truncated ELF header")
}

// minimum on-disk descriptor sizes per class
func phentMin(w cursor.Width) uint64 {
	if w == cursor.W64 {
		return 56
	}
	return 32
}

func shentMin(w cursor.Width) uint64 {
	if w == cursor.W64 {
		return 64
	}
	return 40
}

func (f *File) readProgs() error {
	h := &f.Header
	if h.Phoff == 0 || h.Phnum == 0 {
		return nil
	}
	entsize := uint64(h.Phentsize)
	if entsize < phentMin(h.Class) {
		return cursor.Malformedf("program header table", h.Phoff, "entry size %d too small", entsize)
	}
	// whole-table extent check before allocating anything
	total := entsize * uint64(h.Phnum)
	if _, err := f.buf.Bytes(h.Phoff, total); err != nil {
		return errors.Wrap(err, "program header table out of range")
	}
	f.Progs = make([]*Prog, 0, h.Phnum)
	for i := uint64(0); i < uint64(h.Phnum); i++ {
		c := f.cur.At(h.Phoff + i*entsize)
		p := &Prog{f: f}
		typ, err := c.Uint32()
		if err != nil {
			return err
		}
		p.Type = SegmentType(typ)
		if h.Class == cursor.W64 {
			if p.Flags, err = c.Uint32(); err != nil {
				return err
			}
		}
		fields := []*uint64{&p.Off, &p.Vaddr, &p.Paddr, &p.Filesz, &p.Memsz}
		for _, dst := range fields {
			if *dst, err = c.Word(); err != nil {
				return err
			}
		}
		if h.Class == cursor.W32 {
			if p.Flags, err = c.Uint32(); err != nil {
				return err
			}
		}
		if p.Align, err = c.Word(); err != nil {
			return err
		}
		f.Progs = append(f.Progs, p)
	}
	return nil
}

func (f *File) readSections() error {
	h := &f.Header
	if h.Shoff == 0 || h.Shnum == 0 {
		return nil
	}
	entsize := uint64(h.Shentsize)
	if entsize < shentMin(h.Class) {
		return cursor.Malformedf("section header table", h.Shoff, "entry size %d too small", entsize)
	}
	total := entsize * uint64(h.Shnum)
	if _, err := f.buf.Bytes(h.Shoff, total); err != nil {
		return errors.Wrap(err, "section header table out of range")
	}
	f.Sections = make([]*Section, 0, h.Shnum)
	for i := uint64(0); i < uint64(h.Shnum); i++ {
		c := f.cur.At(h.Shoff + i*entsize)
		s := &Section{f: f}
		var err error
		if s.NameOff, err = c.Uint32(); err != nil {
			return err
		}
		var typ uint32
		if typ, err = c.Uint32(); err != nil {
			return err
		}
		s.Type = SectionType(typ)
		if s.Flags, err = c.Word(); err != nil {
			return err
		}
		if s.Addr, err = c.Word(); err != nil {
			return err
		}
		if s.Off, err = c.Word(); err != nil {
			return err
		}
		if s.Size, err = c.Word(); err != nil {
			return err
		}
		if s.Link, err = c.Uint32(); err != nil {
			return err
		}
		if s.Info, err = c.Uint32(); err != nil {
			return err
		}
		if s.Addralign, err = c.Word(); err != nil {
			return err
		}
		if s.Entsize, err = c.Word(); err != nil {
			return err
		}
		f.Sections = append(f.Sections, s)
	}
	return nil
}

// Section returns the first section with the given name, or nil.
// Sections whose names cannot be resolved are skipped.
func (f *File) Section(name string) *Section {
	for _, s := range f.Sections {
		n, err := s.Name()
		if err == nil && n == name {
			return s
		}
	}
	return nil
}

func (f *File) sectionByType(t SectionType) *Section {
	for _, s := range f.Sections {
		if s.Type == t {
			return s
		}
	}
	return nil
}

func (f *File) shstrtab() (*StringTable, error) {
	if f.shstrtabCache != nil {
		return f.shstrtabCache, nil
	}
	idx := int(f.Header.Shstrndx)
	if idx <= 0 || idx >= len(f.Sections) {
		return nil, cursor.Malformedf("section name table", 0, "shstrndx %d out of range", idx)
	}
	t, err := f.stringTableFor(f.Sections[idx])
	if err != nil {
		return nil, err
	}
	f.shstrtabCache = t
	return t, nil
}

func (f *File) stringTableFor(s *Section) (*StringTable, error) {
	if s.Type != SHTStrtab {
		return nil, cursor.Malformedf("string table", s.Off, "section is %s, not strtab", s.Type)
	}
	if _, err := f.buf.Bytes(s.Off, s.Size); err != nil {
		return nil, errors.Wrap(err, "string table out of range")
	}
	return &StringTable{buf: f.buf, off: s.Off, size: s.Size}, nil
}

// linkedStrtab resolves a table section's sh_link string table.
func (f *File) linkedStrtab(s *Section) (*StringTable, error) {
	if int(s.Link) >= len(f.Sections) {
		return nil, cursor.Malformedf("string table", s.Off, "sh_link %d out of range", s.Link)
	}
	return f.stringTableFor(f.Sections[s.Link])
}

// Interp returns the dynamic linker path from PT_INTERP, or "" if the
// file has none.
func (f *File) Interp() string {
	for _, p := range f.Progs {
		if p.Type == PTInterp {
			s, err := f.buf.CStringAt(p.Off, int(p.Filesz))
			if err == nil {
				return s
			}
		}
	}
	return ""
}

// Symbols returns a lazy view over .symtab.
func (f *File) Symbols() (*SymbolTable, error) {
	return f.symbolTable(SHTSymtab)
}

// DynamicSymbols returns a lazy view over .dynsym.
func (f *File) DynamicSymbols() (*SymbolTable, error) {
	return f.symbolTable(SHTDynsym)
}

func (f *File) symbolTable(t SectionType) (*SymbolTable, error) {
	sec := f.sectionByType(t)
	if sec == nil {
		return nil, errors.Errorf("no %s section", t)
	}
	strtab, err := f.linkedStrtab(sec)
	if err != nil {
		return nil, err
	}
	entsize := symSize(f.Header.Class)
	if _, err := f.buf.Bytes(sec.Off, sec.Size); err != nil {
		return nil, errors.Wrap(err, "symbol table out of range")
	}
	return &SymbolTable{
		cur:     f.cur,
		off:     sec.Off,
		count:   sec.Size / entsize,
		entsize: entsize,
		strtab:  strtab,
	}, nil
}

// Relocations returns one lazy table per SHT_REL/SHT_RELA section, in
// file order.
func (f *File) Relocations() []*RelocTable {
	var out []*RelocTable
	for _, s := range f.Sections {
		if s.Type != SHTRel && s.Type != SHTRela {
			continue
		}
		t, err := f.relocTableFor(s)
		if err != nil {
			// one bad table must not hide the others
			continue
		}
		out = append(out, t)
	}
	return out
}

func (f *File) relocTableFor(s *Section) (*RelocTable, error) {
	if _, err := f.buf.Bytes(s.Off, s.Size); err != nil {
		return nil, errors.Wrap(err, "relocation table out of range")
	}
	entsize := relSize(f.Header.Class, s.Type == SHTRela)
	name, _ := s.Name()
	return &RelocTable{
		cur:     f.cur,
		machine: f.Header.Machine,
		name:    name,
		off:     s.Off,
		count:   s.Size / entsize,
		entsize: entsize,
		rela:    s.Type == SHTRela,
	}, nil
}
