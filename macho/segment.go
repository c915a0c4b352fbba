package macho

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/objtk/objview/cursor"
)

// Segment is an LC_SEGMENT or LC_SEGMENT_64 command with its section
// descriptors. Section bodies stay in the buffer; Data slices them on
// demand.
type Segment struct {
	Cmd      LoadCmd
	Name     string
	Addr     uint64
	Memsz    uint64
	Offset   uint64
	Filesz   uint64
	Maxprot  uint32
	Initprot uint32
	Flags    uint32
	Sections []*Section

	f *File
}

func (s *Segment) Command() LoadCmd { return s.Cmd }

// Data returns the segment's file bytes.
func (s *Segment) Data() ([]byte, error) {
	d, err := s.f.buf.Bytes(s.Offset, s.Filesz)
	return d, errors.Wrap(err, "segment body out of range")
}

// Section is one section descriptor within a segment.
type Section struct {
	Name   string
	Seg    string
	Addr   uint64
	Size   uint64
	Offset uint32
	Align  uint32
	Reloff uint32
	Nreloc uint32
	Flags  uint32

	f *File
}

func (s *Section) Data() ([]byte, error) {
	d, err := s.f.buf.Bytes(uint64(s.Offset), s.Size)
	return d, errors.Wrap(err, "section body out of range")
}

// Relocs returns a lazy view over the section's relocation entries.
func (s *Section) Relocs() *RelocTable {
	return &RelocTable{
		cur:   s.f.cur,
		off:   uint64(s.Reloff),
		count: uint64(s.Nreloc),
	}
}

func cstr16(p []byte) string {
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return string(p)
}

type segment32Fixed struct {
	Segname  [16]byte
	Vmaddr   uint32
	Vmsize   uint32
	Fileoff  uint32
	Filesize uint32
	Maxprot  uint32
	Initprot uint32
	Nsects   uint32
	Flags    uint32
}

type segment64Fixed struct {
	Segname  [16]byte
	Vmaddr   uint64
	Vmsize   uint64
	Fileoff  uint64
	Filesize uint64
	Maxprot  uint32
	Initprot uint32
	Nsects   uint32
	Flags    uint32
}

type section32Fixed struct {
	Sectname  [16]byte
	Segname   [16]byte
	Addr      uint32
	Size      uint32
	Offset    uint32
	Align     uint32
	Reloff    uint32
	Nreloc    uint32
	Flags     uint32
	Reserved1 uint32
	Reserved2 uint32
}

type section64Fixed struct {
	Sectname  [16]byte
	Segname   [16]byte
	Addr      uint64
	Size      uint64
	Offset    uint32
	Align     uint32
	Reloff    uint32
	Nreloc    uint32
	Flags     uint32
	Reserved1 uint32
	Reserved2 uint32
	Reserved3 uint32
}

func (f *File) decodeSegment(cmd LoadCmd, off, size uint64) (Load, error) {
	c := f.cur.At(off + loadCmdHeaderSize)
	seg := &Segment{Cmd: cmd, f: f}

	var nsects uint32
	var sectSize uint64
	if cmd == LoadCmdSegment64 {
		var sc segment64Fixed
		if err := c.Unpack(&sc); err != nil {
			return nil, err
		}
		seg.Name = cstr16(sc.Segname[:])
		seg.Addr, seg.Memsz = sc.Vmaddr, sc.Vmsize
		seg.Offset, seg.Filesz = sc.Fileoff, sc.Filesize
		seg.Maxprot, seg.Initprot, seg.Flags = sc.Maxprot, sc.Initprot, sc.Flags
		nsects = sc.Nsects
		sectSize = section64Size
	} else {
		var sc segment32Fixed
		if err := c.Unpack(&sc); err != nil {
			return nil, err
		}
		seg.Name = cstr16(sc.Segname[:])
		seg.Addr, seg.Memsz = uint64(sc.Vmaddr), uint64(sc.Vmsize)
		seg.Offset, seg.Filesz = uint64(sc.Fileoff), uint64(sc.Filesize)
		seg.Maxprot, seg.Initprot, seg.Flags = sc.Maxprot, sc.Initprot, sc.Flags
		nsects = sc.Nsects
		sectSize = section32Size
	}

	// the declared sections must fit inside this command's own size
	fixed := uint64(segment32Size)
	if cmd == LoadCmdSegment64 {
		fixed = segment64Size
	}
	if fixed+uint64(nsects)*sectSize > size {
		return nil, cursor.Malformedf("segment command", off, "%d sections overrun cmdsize %d", nsects, size)
	}

	for i := uint32(0); i < nsects; i++ {
		sec := &Section{f: f}
		if cmd == LoadCmdSegment64 {
			var sf section64Fixed
			if err := c.Unpack(&sf); err != nil {
				return nil, err
			}
			sec.Name, sec.Seg = cstr16(sf.Sectname[:]), cstr16(sf.Segname[:])
			sec.Addr, sec.Size = sf.Addr, sf.Size
			sec.Offset, sec.Align = sf.Offset, sf.Align
			sec.Reloff, sec.Nreloc, sec.Flags = sf.Reloff, sf.Nreloc, sf.Flags
		} else {
			var sf section32Fixed
			if err := c.Unpack(&sf); err != nil {
				return nil, err
			}
			sec.Name, sec.Seg = cstr16(sf.Sectname[:]), cstr16(sf.Segname[:])
			sec.Addr, sec.Size = uint64(sf.Addr), uint64(sf.Size)
			sec.Offset, sec.Align = sf.Offset, sf.Align
			sec.Reloff, sec.Nreloc, sec.Flags = sf.Reloff, sf.Nreloc, sf.Flags
		}
		seg.Sections = append(seg.Sections, sec)
	}

	f.Segments = append(f.Segments, seg)
	return seg, nil
}

// Reloc is one Mach-O relocation entry (relocation_info). The packed
// info word splits into symbol/section number, pc-relative flag, length,
// extern flag and type.
type Reloc struct {
	Addr      uint32
	SymIndex  uint32
	PCRel     bool
	Length    uint8
	Extern    bool
	Type      uint8
	Scattered bool
}

const relocEntrySize = 8

// RelocTable is a lazy view over a section's relocation entries.
type RelocTable struct {
	cur   *cursor.Cursor
	off   uint64
	count uint64
}

func (t *RelocTable) Count() int {
	return int(t.count)
}

func (t *RelocTable) Reloc(i int) (*Reloc, error) {
	if i < 0 || uint64(i) >= t.count {
		return nil, cursor.Malformedf("relocation table", t.off, "index %d out of %d entries", i, t.count)
	}
	c := t.cur.At(t.off + uint64(i)*relocEntrySize)
	addr, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	info, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	r := &Reloc{Addr: addr}
	if addr&0x80000000 != 0 {
		// scattered entries keep their fields in the first word
		r.Scattered = true
		r.Addr = addr & 0xffffff
		return r, nil
	}
	r.SymIndex = info & 0xffffff
	r.PCRel = info&(1<<24) != 0
	r.Length = uint8((info >> 25) & 3)
	r.Extern = info&(1<<27) != 0
	r.Type = uint8(info >> 28)
	return r, nil
}
