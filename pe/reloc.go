package pe

import (
	"github.com/objtk/objview/cursor"
)

// Base relocation entry types.
const (
	RelocAbsolute = 0
	RelocHighLow  = 3
	RelocDir64    = 10
)

// BaseReloc is one fixup: the page-relative offset it patches and its
// type nibble.
type BaseReloc struct {
	RVA  uint32
	Type uint8
}

// BaseRelocBlock is one page's worth of fixups.
type BaseRelocBlock struct {
	PageRVA uint32
	Relocs  []BaseReloc
}

const baseRelocHeaderSize = 8

// BaseRelocations walks the base relocation directory on demand.
func (f *File) BaseRelocations() ([]BaseRelocBlock, error) {
	dir := f.Directory(DirBaseReloc)
	if dir.VirtualAddress == 0 {
		return nil, nil
	}
	off, err := f.ResolveRVA(dir.VirtualAddress)
	if err != nil {
		return nil, cursor.Malformedf("base relocation directory", uint64(dir.VirtualAddress), "directory RVA maps into no section")
	}
	if _, err := f.buf.Bytes(off, uint64(dir.Size)); err != nil {
		return nil, cursor.Malformedf("base relocation directory", off, "directory extends past file end")
	}

	var out []BaseRelocBlock
	end := off + uint64(dir.Size)
	order := f.cur.Order()
	for off+baseRelocHeaderSize <= end {
		pageRVA, err := f.buf.Uint32At(off, order)
		if err != nil {
			return nil, err
		}
		blockSize, err := f.buf.Uint32At(off+4, order)
		if err != nil {
			return nil, err
		}
		if blockSize < baseRelocHeaderSize || off+uint64(blockSize) > end {
			return nil, cursor.Malformedf("base relocation block", off, "block size %d overruns directory", blockSize)
		}

		block := BaseRelocBlock{PageRVA: pageRVA}
		count := (blockSize - baseRelocHeaderSize) / 2
		for i := uint32(0); i < count; i++ {
			raw, err := f.buf.Uint16At(off+baseRelocHeaderSize+uint64(i)*2, order)
			if err != nil {
				return nil, err
			}
			typ := uint8(raw >> 12)
			if typ == RelocAbsolute {
				// alignment padding
				continue
			}
			block.Relocs = append(block.Relocs, BaseReloc{
				RVA:  pageRVA + uint32(raw&0xfff),
				Type: typ,
			})
		}
		out = append(out, block)
		off += uint64(blockSize)
	}
	return out, nil
}
