package pe

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/objtk/objview/cursor"
)

const coffSymbolSize = 18

// Symbol is one COFF symbol table entry. Aux records are skipped when
// iterating by raw index; NumberOfAuxSymbols tells how many follow.
type Symbol struct {
	Name               string
	Value              uint32
	SectionNumber      int16
	Type               uint16
	StorageClass       uint8
	NumberOfAuxSymbols uint8
}

// StringTable is the COFF string table: a 4-byte total size then
// NUL-terminated strings, indexed from the start of the size field.
type StringTable struct {
	buf  *cursor.Buffer
	off  uint64
	size uint64
}

// Lookup reads the string at table offset off (offsets below 4 are
// inside the size field and invalid).
func (t *StringTable) Lookup(off uint64) (string, error) {
	if off < 4 || off >= t.size {
		return "", cursor.Malformedf("string table", t.off, "string offset 0x%x outside table of 0x%x bytes", off, t.size)
	}
	return t.buf.CStringAt(t.off+off, int(t.size-off))
}

// stringTable locates the COFF string table, which sits immediately
// after the symbol table.
func (f *File) stringTable() (*StringTable, error) {
	if f.FileHeader.PointerToSymbolTable == 0 {
		return nil, errors.New("no COFF symbol table")
	}
	off := uint64(f.FileHeader.PointerToSymbolTable) +
		uint64(f.FileHeader.NumberOfSymbols)*coffSymbolSize
	size, err := f.buf.Uint32At(off, binary.LittleEndian)
	if err != nil {
		return nil, errors.Wrap(err, "COFF string table out of range")
	}
	if size < 4 {
		size = 4
	}
	if _, err := f.buf.Bytes(off, uint64(size)); err != nil {
		return nil, errors.Wrap(err, "COFF string table out of range")
	}
	return &StringTable{buf: f.buf, off: off, size: uint64(size)}, nil
}

// SymbolTable is a lazy view over the COFF symbol table.
type SymbolTable struct {
	f     *File
	off   uint64
	count uint64
}

// Symbols returns the COFF symbol table view, or an error if the image
// carries none (most executables strip it; object files keep it).
func (f *File) Symbols() (*SymbolTable, error) {
	if f.FileHeader.PointerToSymbolTable == 0 || f.FileHeader.NumberOfSymbols == 0 {
		return nil, errors.New("no COFF symbol table")
	}
	off := uint64(f.FileHeader.PointerToSymbolTable)
	count := uint64(f.FileHeader.NumberOfSymbols)
	if _, err := f.buf.Bytes(off, count*coffSymbolSize); err != nil {
		return nil, errors.Wrap(err, "COFF symbol table out of range")
	}
	return &SymbolTable{f: f, off: off, count: count}, nil
}

func (t *SymbolTable) Count() int {
	return int(t.count)
}

// Symbol decodes entry i. Short names live in the record; long names
// are a zero word plus a string table offset.
func (t *SymbolTable) Symbol(i int) (*Symbol, error) {
	if i < 0 || uint64(i) >= t.count {
		return nil, cursor.Malformedf("symbol table", t.off, "index %d out of %d entries", i, t.count)
	}
	var raw struct {
		Name               [8]byte
		Value              uint32
		SectionNumber      int16
		Type               uint16
		StorageClass       uint8
		NumberOfAuxSymbols uint8
	}
	c := cursor.New(t.f.buf, binary.LittleEndian, cursor.W32).At(t.off + uint64(i)*coffSymbolSize)
	if err := c.Unpack(&raw); err != nil {
		return nil, err
	}

	sym := &Symbol{
		Value:              raw.Value,
		SectionNumber:      raw.SectionNumber,
		Type:               raw.Type,
		StorageClass:       raw.StorageClass,
		NumberOfAuxSymbols: raw.NumberOfAuxSymbols,
	}
	if binary.LittleEndian.Uint32(raw.Name[:4]) == 0 {
		strOff := binary.LittleEndian.Uint32(raw.Name[4:])
		strtab, err := t.f.stringTable()
		if err != nil {
			return nil, err
		}
		if sym.Name, err = strtab.Lookup(uint64(strOff)); err != nil {
			return nil, err
		}
	} else {
		name := raw.Name[:]
		if j := bytes.IndexByte(name, 0); j >= 0 {
			name = name[:j]
		}
		sym.Name = string(name)
	}
	return sym, nil
}
