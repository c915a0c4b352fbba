package macho

import (
	"github.com/objtk/objview/cursor"
)

// Symbol is one nlist entry. The name is resolved against the string
// table only when Name is called.
type Symbol struct {
	NameOff uint32
	Type    uint8
	Sect    uint8
	Desc    uint16
	Value   uint64

	t *Symtab
}

// Name resolves the symbol name from the linkedit string table.
func (s *Symbol) Name() (string, error) {
	if uint64(s.NameOff) >= s.t.strsize {
		return "", cursor.Malformedf("string table", s.t.stroff, "string offset 0x%x beyond table size 0x%x", s.NameOff, s.t.strsize)
	}
	off := s.t.stroff + uint64(s.NameOff)
	return s.t.cur.Buffer().CStringAt(off, int(s.t.strsize-uint64(s.NameOff)))
}

// External reports whether the symbol is visible outside the image.
func (s *Symbol) External() bool {
	return s.Type&NTypeExt != 0
}

// Undefined reports whether the symbol must be resolved from another
// image at load time.
func (s *Symbol) Undefined() bool {
	return s.Type&NTypeType == NTypeUndef && s.Sect == 0
}

// Symtab is the LC_SYMTAB command exposed as a lazy view: base offsets
// plus a count. Entries decode per index.
type Symtab struct {
	cur     *cursor.Cursor
	symoff  uint64
	nsyms   uint64
	stroff  uint64
	strsize uint64
}

func (t *Symtab) Command() LoadCmd { return LoadCmdSymtab }

func (t *Symtab) Count() int {
	return int(t.nsyms)
}

func (t *Symtab) entrySize() uint64 {
	if t.cur.Width() == cursor.W64 {
		return nlist64Size
	}
	return nlist32Size
}

// Symbol decodes nlist entry i.
func (t *Symtab) Symbol(i int) (*Symbol, error) {
	if i < 0 || uint64(i) >= t.nsyms {
		return nil, cursor.Malformedf("symbol table", t.symoff, "index %d out of %d entries", i, t.nsyms)
	}
	c := t.cur.At(t.symoff + uint64(i)*t.entrySize())
	sym := &Symbol{t: t}
	var err error
	if sym.NameOff, err = c.Uint32(); err != nil {
		return nil, err
	}
	if sym.Type, err = c.Uint8(); err != nil {
		return nil, err
	}
	if sym.Sect, err = c.Uint8(); err != nil {
		return nil, err
	}
	if sym.Desc, err = c.Uint16(); err != nil {
		return nil, err
	}
	if sym.Value, err = c.Word(); err != nil {
		return nil, err
	}
	return sym, nil
}

// DysymtabCmd is the fixed LC_DYSYMTAB layout.
type DysymtabCmd struct {
	Ilocalsym      uint32
	Nlocalsym      uint32
	Iextdefsym     uint32
	Nextdefsym     uint32
	Iundefsym      uint32
	Nundefsym      uint32
	Tocoffset      uint32
	Ntoc           uint32
	Modtaboff      uint32
	Nmodtab        uint32
	Extrefsymoff   uint32
	Nextrefsyms    uint32
	Indirectsymoff uint32
	Nindirectsyms  uint32
	Extreloff      uint32
	Nextrel        uint32
	Locreloff      uint32
	Nlocrel        uint32
}

// Dysymtab groups the dynamic symbol table ranges; the indirect symbol
// array is exposed lazily by index.
type Dysymtab struct {
	DysymtabCmd

	cur *cursor.Cursor
}

func (d *Dysymtab) Command() LoadCmd { return LoadCmdDysymtab }

// IndirectCount returns the number of indirect symbol slots.
func (d *Dysymtab) IndirectCount() int {
	return int(d.Nindirectsyms)
}

// Indirect returns the symbol-table index stored in indirect slot i.
func (d *Dysymtab) Indirect(i int) (uint32, error) {
	if i < 0 || uint32(i) >= d.Nindirectsyms {
		return 0, cursor.Malformedf("indirect symbol table", uint64(d.Indirectsymoff), "index %d out of %d entries", i, d.Nindirectsyms)
	}
	return d.cur.Buffer().Uint32At(uint64(d.Indirectsymoff)+uint64(i)*4, d.cur.Order())
}
