// Package ar decodes Unix archives: the fixed text magic, the 60-byte
// text-encoded member headers, and the conventional pseudo-members (the
// symbol index and the extended-name table). Member bodies are byte
// ranges; interpreting one as an object file is the caller's decision.
package ar

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/objtk/objview/cursor"
	"github.com/objtk/objview/logflags"
)

var Magic = []byte("!<arch>\n")

const (
	headerSize  = 60
	nameLen     = 16
	mtimeLen    = 12
	idLen       = 6
	modeLen     = 8
	sizeLen     = 10
	headerMagic = "`\n"
)

// Member is one archive entry: a name and a byte range. HeaderOff is the
// offset of the member's header, which is what the symbol index refers to.
type Member struct {
	Name      string
	Size      uint64
	ModTime   int64
	UID       int
	GID       int
	Mode      uint32
	HeaderOff uint64

	bodyOff uint64
	f       *File
}

// Data returns the member's bytes. For BSD #1/N long-name members the
// embedded name prefix is already excluded.
func (m *Member) Data() ([]byte, error) {
	d, err := m.f.buf.Bytes(m.bodyOff, m.Size)
	return d, errors.Wrapf(err, "member %q out of range", m.Name)
}

// SymbolRef maps an index-table symbol name to the header offset of the
// member defining it.
type SymbolRef struct {
	Name      string
	MemberOff uint64
}

// File is a decoded archive index.
type File struct {
	Members []*Member

	buf      *cursor.Buffer
	symIndex *Member // "/" (System V) pseudo-member, if present
	longName *Member // "//" extended-name table, if present
}

// Match reports whether p starts with the archive magic.
func Match(p []byte) bool {
	return len(p) >= len(Magic) && bytes.Equal(p[:len(Magic)], Magic)
}

// New walks the member headers and builds the index. Bodies are not
// read, and pseudo-members are decoded only when their accessors run.
func New(p []byte) (*File, error) {
	if !Match(p) {
		return nil, cursor.Malformedf("archive header", 0, "bad magic")
	}
	f := &File{buf: cursor.NewBuffer(p)}

	off := uint64(len(Magic))
	for off < uint64(f.buf.Len()) {
		m, err := f.readMember(off)
		if err != nil {
			return nil, err
		}
		next := m.bodyOff + m.Size
		// resolve pseudo-members and long names before exposing
		switch {
		case m.Name == "/" && f.symIndex == nil:
			f.symIndex = m
		case m.Name == "//" && f.longName == nil:
			f.longName = m
		default:
			if err := f.resolveName(m); err != nil {
				if logflags.Ar() {
					logflags.ArLogger().Debugf("member name at 0x%x: %v", m.HeaderOff, err)
				}
				return nil, err
			}
			f.Members = append(f.Members, m)
		}
		// member bodies are 2-byte aligned
		off = next + next%2
	}
	return f, nil
}

func (f *File) readMember(off uint64) (*Member, error) {
	hdr, err := f.buf.Bytes(off, headerSize)
	if err != nil {
		return nil, cursor.Malformedf("member header", off, "truncated header")
	}
	if string(hdr[headerSize-2:]) != headerMagic {
		return nil, cursor.Malformedf("member header", off, "bad terminator %q", hdr[headerSize-2:])
	}

	m := &Member{HeaderOff: off, bodyOff: off + headerSize, f: f}
	m.Name = strings.TrimRight(string(hdr[:nameLen]), " ")

	pos := nameLen
	field := func(n int) string {
		s := strings.TrimSpace(string(hdr[pos : pos+n]))
		pos += n
		return s
	}
	if v, err := strconv.ParseInt(field(mtimeLen), 10, 64); err == nil {
		m.ModTime = v
	}
	if v, err := strconv.Atoi(field(idLen)); err == nil {
		m.UID = v
	}
	if v, err := strconv.Atoi(field(idLen)); err == nil {
		m.GID = v
	}
	if v, err := strconv.ParseUint(field(modeLen), 8, 32); err == nil {
		m.Mode = uint32(v)
	}
	size, err := strconv.ParseUint(field(sizeLen), 10, 64)
	if err != nil {
		return nil, cursor.Malformedf("member header", off, "bad size field %q", hdr[nameLen+mtimeLen+2*idLen+modeLen:nameLen+mtimeLen+2*idLen+modeLen+sizeLen])
	}
	m.Size = size
	if _, err := f.buf.Bytes(m.bodyOff, m.Size); err != nil {
		return nil, cursor.Malformedf("member header", off, "declared size %d overruns archive", m.Size)
	}
	return m, nil
}

// resolveName rewrites GNU and BSD long-name encodings to the real name.
func (f *File) resolveName(m *Member) error {
	switch {
	case strings.HasPrefix(m.Name, "#1/"):
		// BSD: the name's length follows, the name itself leads the body
		n, err := strconv.ParseUint(m.Name[3:], 10, 32)
		if err != nil {
			return cursor.Malformedf("member header", m.HeaderOff, "bad BSD name length %q", m.Name)
		}
		if n > m.Size {
			return cursor.Malformedf("member header", m.HeaderOff, "BSD name length %d exceeds member size %d", n, m.Size)
		}
		raw, err := f.buf.Bytes(m.bodyOff, n)
		if err != nil {
			return err
		}
		m.Name = string(bytes.TrimRight(raw, "\x00"))
		m.bodyOff += n
		m.Size -= n

	case len(m.Name) > 1 && m.Name[0] == '/':
		// GNU: "/N" indexes the extended-name table
		n, err := strconv.ParseUint(m.Name[1:], 10, 32)
		if err != nil {
			return cursor.Malformedf("member header", m.HeaderOff, "bad long-name reference %q", m.Name)
		}
		if f.longName == nil {
			return cursor.Malformedf("member header", m.HeaderOff, "long-name reference without // member")
		}
		table, err := f.longName.Data()
		if err != nil {
			return err
		}
		if n >= uint64(len(table)) {
			return cursor.Malformedf("member header", m.HeaderOff, "long-name offset %d beyond table", n)
		}
		name := table[n:]
		if i := bytes.IndexByte(name, '\n'); i >= 0 {
			name = name[:i]
		}
		m.Name = strings.TrimSuffix(string(name), "/")

	default:
		// System V terminates plain names with "/"
		m.Name = strings.TrimSuffix(m.Name, "/")
	}
	return nil
}

// Member returns the first member with the given name, or nil.
func (f *File) Member(name string) *Member {
	for _, m := range f.Members {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// HasSymbolIndex reports whether the archive carries a "/" symbol index.
func (f *File) HasSymbolIndex() bool {
	return f.symIndex != nil
}

// Symbols decodes the System V symbol index: a big-endian count, that
// many big-endian member header offsets, then the symbol names.
func (f *File) Symbols() ([]SymbolRef, error) {
	if f.symIndex == nil {
		return nil, errors.New("archive has no symbol index")
	}
	data, err := f.symIndex.Data()
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, cursor.Malformedf("symbol index", f.symIndex.bodyOff, "truncated count")
	}
	count := uint64(binary.BigEndian.Uint32(data))
	if 4+count*4 > uint64(len(data)) {
		return nil, cursor.Malformedf("symbol index", f.symIndex.bodyOff, "count %d overruns member", count)
	}

	names := data[4+count*4:]
	out := make([]SymbolRef, 0, count)
	for i := uint64(0); i < count; i++ {
		off := binary.BigEndian.Uint32(data[4+i*4:])
		end := bytes.IndexByte(names, 0)
		if end < 0 {
			return nil, cursor.Malformedf("symbol index", f.symIndex.bodyOff, "unterminated symbol name")
		}
		out = append(out, SymbolRef{Name: string(names[:end]), MemberOff: uint64(off)})
		names = names[end+1:]
	}
	return out, nil
}

// Lookup finds the member defining a symbol through the symbol index.
func (f *File) Lookup(symbol string) (*Member, error) {
	refs, err := f.Symbols()
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if ref.Name != symbol {
			continue
		}
		for _, m := range f.Members {
			if m.HeaderOff == ref.MemberOff {
				return m, nil
			}
		}
		return nil, cursor.Malformedf("symbol index", ref.MemberOff, "symbol %q points at no member header", symbol)
	}
	return nil, errors.Errorf("symbol %q not in archive index", symbol)
}
