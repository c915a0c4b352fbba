package elf

import (
	"github.com/objtk/objview/cursor"
)

// StringTable is a byte range of NUL-terminated entries indexed by
// offset. Lookups are resolved per call; nothing is pre-split.
type StringTable struct {
	buf  *cursor.Buffer
	off  uint64
	size uint64
}

// Lookup returns the string starting at the given offset into the table.
func (t *StringTable) Lookup(off uint64) (string, error) {
	if off >= t.size {
		return "", cursor.Malformedf("string table", t.off, "string offset 0x%x beyond table size 0x%x", off, t.size)
	}
	return t.buf.CStringAt(t.off+off, int(t.size-off))
}

// Size returns the table's byte length.
func (t *StringTable) Size() uint64 {
	return t.size
}

// Symbol is one decoded symbol table entry. Name is resolved separately
// so iterating entries never touches the string table.
type Symbol struct {
	NameOff uint64
	Value   uint64
	Size    uint64
	Bind    SymBind
	Type    SymType
	Other   uint8
	Shndx   uint16

	strtab *StringTable
}

// Name resolves the symbol's name against its string table.
func (s *Symbol) Name() (string, error) {
	return s.strtab.Lookup(s.NameOff)
}

func symSize(w cursor.Width) uint64 {
	if w == cursor.W64 {
		return 24
	}
	return 16
}

// SymbolTable is a lazy, index-based view: a base offset plus an entry
// count. Entries are decoded per call to Symbol.
type SymbolTable struct {
	cur     *cursor.Cursor
	off     uint64
	count   uint64
	entsize uint64
	strtab  *StringTable
}

func (t *SymbolTable) Count() int {
	return int(t.count)
}

// Strtab exposes the associated string table (sh_link).
func (t *SymbolTable) Strtab() *StringTable {
	return t.strtab
}

// Symbol decodes entry i. The 32- and 64-bit layouts order their fields
// differently; both are handled here from the cursor's width.
func (t *SymbolTable) Symbol(i int) (*Symbol, error) {
	if i < 0 || uint64(i) >= t.count {
		return nil, cursor.Malformedf("symbol table", t.off, "index %d out of %d entries", i, t.count)
	}
	c := t.cur.At(t.off + uint64(i)*t.entsize)
	sym := &Symbol{strtab: t.strtab}

	nameOff, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	sym.NameOff = uint64(nameOff)

	var info uint8
	if t.cur.Width() == cursor.W64 {
		if info, err = c.Uint8(); err != nil {
			return nil, err
		}
		if sym.Other, err = c.Uint8(); err != nil {
			return nil, err
		}
		if sym.Shndx, err = c.Uint16(); err != nil {
			return nil, err
		}
		if sym.Value, err = c.Uint64(); err != nil {
			return nil, err
		}
		if sym.Size, err = c.Uint64(); err != nil {
			return nil, err
		}
	} else {
		var v32, s32 uint32
		if v32, err = c.Uint32(); err != nil {
			return nil, err
		}
		if s32, err = c.Uint32(); err != nil {
			return nil, err
		}
		if info, err = c.Uint8(); err != nil {
			return nil, err
		}
		if sym.Other, err = c.Uint8(); err != nil {
			return nil, err
		}
		if sym.Shndx, err = c.Uint16(); err != nil {
			return nil, err
		}
		sym.Value = uint64(v32)
		sym.Size = uint64(s32)
	}
	sym.Bind = SymBind(info >> 4)
	sym.Type = SymType(info & 0xf)
	return sym, nil
}

// Reloc is one decoded relocation entry.
type Reloc struct {
	Off       uint64
	SymIndex  uint32
	Type      uint32
	Addend    int64
	HasAddend bool

	machine Machine
}

// TypeName renders the relocation type for the table's machine.
func (r *Reloc) TypeName() string {
	return RelocTypeName(r.machine, r.Type)
}

func relSize(w cursor.Width, rela bool) uint64 {
	var n uint64 = 8
	if w == cursor.W64 {
		n = 16
	}
	if rela {
		n += w.WordSize()
	}
	return n
}

// RelocTable is a lazy view over one SHT_REL or SHT_RELA section.
type RelocTable struct {
	cur     *cursor.Cursor
	machine Machine
	name    string
	off     uint64
	count   uint64
	entsize uint64
	rela    bool
}

func (t *RelocTable) Name() string {
	return t.name
}

func (t *RelocTable) Count() int {
	return int(t.count)
}

// Reloc decodes entry i. The info word packs the symbol index and type
// differently per width: 8/24 bit split under W32, 32/32 under W64.
func (t *RelocTable) Reloc(i int) (*Reloc, error) {
	if i < 0 || uint64(i) >= t.count {
		return nil, cursor.Malformedf("relocation table", t.off, "index %d out of %d entries", i, t.count)
	}
	c := t.cur.At(t.off + uint64(i)*t.entsize)
	r := &Reloc{machine: t.machine, HasAddend: t.rela}

	off, err := c.Word()
	if err != nil {
		return nil, err
	}
	r.Off = off
	info, err := c.Word()
	if err != nil {
		return nil, err
	}
	if t.cur.Width() == cursor.W64 {
		r.SymIndex = uint32(info >> 32)
		r.Type = uint32(info)
	} else {
		r.SymIndex = uint32(info >> 8)
		r.Type = uint32(info & 0xff)
	}
	if t.rela {
		a, err := c.Word()
		if err != nil {
			return nil, err
		}
		if t.cur.Width() == cursor.W64 {
			r.Addend = int64(a)
		} else {
			r.Addend = int64(int32(a))
		}
	}
	return r, nil
}
