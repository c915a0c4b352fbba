package macho

import (
	"encoding/binary"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/objtk/objview/cursor"
)

// number of decoded sub-images kept alive per FAT container
const fatCacheSize = 4

// FatArch describes one embedded single-architecture image. The image
// itself is not parsed until Object is called.
type FatArch struct {
	Cpu        Cpu
	CpuSubtype uint32
	Offset     uint32
	Size       uint32
	Align      uint32

	fat   *FatFile
	index int
}

// Object parses this architecture's image. Results are cached so
// repeated selection of the same arch decodes once.
func (a *FatArch) Object() (*File, error) {
	if v, ok := a.fat.cache.Get(a.index); ok {
		return v.(*File), nil
	}
	body, err := a.fat.buf.Bytes(uint64(a.Offset), uint64(a.Size))
	if err != nil {
		return nil, errors.Wrapf(err, "fat arch %s out of range", a.Cpu)
	}
	f, err := New(body)
	if err != nil {
		return nil, err
	}
	a.fat.cache.Add(a.index, f)
	return f, nil
}

// FatFile is a universal binary: a list of per-architecture images
// located by offset and size.
type FatFile struct {
	Arches []*FatArch

	buf   *cursor.Buffer
	cache *lru.Cache
}

// NewFat decodes the universal-binary header and its arch table. The
// header is big-endian on disk; the byte-swapped magic is accepted too.
func NewFat(p []byte) (*FatFile, error) {
	buf := cursor.NewBuffer(p)
	raw, err := buf.Bytes(0, 4)
	if err != nil {
		return nil, cursor.Malformedf("fat header", 0, "buffer too small for magic")
	}
	var order binary.ByteOrder
	switch binary.BigEndian.Uint32(raw) {
	case FatMagic:
		order = binary.BigEndian
	case FatCigam:
		order = binary.LittleEndian
	default:
		return nil, cursor.Malformedf("fat header", 0, "bad magic 0x%08x", binary.BigEndian.Uint32(raw))
	}

	narch, err := buf.Uint32At(4, order)
	if err != nil {
		return nil, errors.Wrap(err, "truncated fat header")
	}
	// bound the table before allocating: every entry must be in range
	if _, err := buf.Bytes(8, uint64(narch)*fatEntrySize); err != nil {
		return nil, errors.Wrap(err, "fat arch table out of range")
	}

	cache, err := lru.New(fatCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	ff := &FatFile{buf: buf, cache: cache}

	c := cursor.New(buf, order, cursor.W32).At(8)
	for i := uint32(0); i < narch; i++ {
		a := &FatArch{fat: ff, index: int(i)}
		var cpu uint32
		fields := []*uint32{&cpu, &a.CpuSubtype, &a.Offset, &a.Size, &a.Align}
		for _, dst := range fields {
			v, err := c.Uint32()
			if err != nil {
				return nil, err
			}
			*dst = v
		}
		a.Cpu = Cpu(cpu)
		ff.Arches = append(ff.Arches, a)
	}
	return ff, nil
}

// Arch returns the entry for the given cpu, or nil.
func (f *FatFile) Arch(cpu Cpu) *FatArch {
	for _, a := range f.Arches {
		if a.Cpu == cpu {
			return a
		}
	}
	return nil
}
