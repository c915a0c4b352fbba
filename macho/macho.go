// Package macho decodes Mach-O images and FAT/universal containers from
// an in-memory buffer. The load-command stream is self-describing: each
// command declares its own size, and unrecognized kinds are skipped by
// that size instead of failing the parse.
package macho

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/objtk/objview/cursor"
	"github.com/objtk/objview/logflags"
)

// Header is the fixed Mach-O header. Width and Order are derived from
// the magic before anything else is read.
type Header struct {
	Magic      uint32
	Width      cursor.Width
	Order      binary.ByteOrder
	Cpu        Cpu
	CpuSubtype uint32
	Type       FileType
	Ncmds      uint32
	Sizeofcmds uint32
	Flags      uint32
}

// Load is one decoded load command. Recognized kinds are concrete types
// in this package; everything else surfaces as RawCommand.
type Load interface {
	Command() LoadCmd
}

// RawCommand is an unrecognized (or deliberately undecoded) load command:
// its kind plus the command's raw bytes, header included.
type RawCommand struct {
	Cmd  LoadCmd
	Data []byte
}

func (c *RawCommand) Command() LoadCmd { return c.Cmd }

// Dylib records one dylib load/id command.
type Dylib struct {
	Cmd            LoadCmd
	Name           string
	Timestamp      uint32
	CurrentVersion uint32
	CompatVersion  uint32
}

func (c *Dylib) Command() LoadCmd { return c.Cmd }

// Dylinker names the dynamic linker (LC_LOAD_DYLINKER / LC_ID_DYLINKER).
type Dylinker struct {
	Cmd  LoadCmd
	Name string
}

func (c *Dylinker) Command() LoadCmd { return c.Cmd }

type Rpath struct {
	Path string
}

func (c *Rpath) Command() LoadCmd { return LoadCmdRpath }

type UUID struct {
	ID [16]byte
}

func (c *UUID) Command() LoadCmd { return LoadCmdUUID }

// EntryPoint is LC_MAIN: an offset into __TEXT, not an absolute address.
type EntryPoint struct {
	EntryOff  uint64
	StackSize uint64
}

func (c *EntryPoint) Command() LoadCmd { return LoadCmdMain }

type SourceVersion struct {
	Version uint64
}

func (c *SourceVersion) Command() LoadCmd { return LoadCmdSourceVersion }

type VersionMin struct {
	Cmd     LoadCmd
	Version uint32
	SDK     uint32
}

func (c *VersionMin) Command() LoadCmd { return c.Cmd }

// LinkeditData covers LC_CODE_SIGNATURE, LC_FUNCTION_STARTS and
// LC_DATA_IN_CODE: a (offset, size) range in __LINKEDIT.
type LinkeditData struct {
	Cmd      LoadCmd
	DataOff  uint32
	DataSize uint32
}

func (c *LinkeditData) Command() LoadCmd { return c.Cmd }

// DyldInfo is LC_DYLD_INFO(_ONLY): the rebase/bind/export opaque streams
// consumed by dyld, exposed as ranges.
type DyldInfo struct {
	Cmd          LoadCmd
	RebaseOff    uint32
	RebaseSize   uint32
	BindOff      uint32
	BindSize     uint32
	WeakBindOff  uint32
	WeakBindSize uint32
	LazyBindOff  uint32
	LazyBindSize uint32
	ExportOff    uint32
	ExportSize   uint32
}

func (c *DyldInfo) Command() LoadCmd { return c.Cmd }

// File is one decoded single-architecture image.
type File struct {
	Header
	Loads    []Load
	Segments []*Segment
	Symtab   *Symtab
	Dysymtab *Dysymtab
	DyldInfo *DyldInfo

	buf *cursor.Buffer
	cur *cursor.Cursor
}

var magics = []uint32{Magic32, Magic64, Cigam32, Cigam64, FatMagic, FatCigam}

// Match reports whether p starts with any Mach-O magic, FAT included.
func Match(p []byte) bool {
	if len(p) < 4 {
		return false
	}
	v := binary.BigEndian.Uint32(p)
	for _, m := range magics {
		if v == m {
			return true
		}
	}
	return false
}

// MatchFat reports whether p starts with a universal-binary magic.
func MatchFat(p []byte) bool {
	if len(p) < 4 {
		return false
	}
	v := binary.BigEndian.Uint32(p)
	return v == FatMagic || v == FatCigam
}

// orderAndWidth decodes the magic. The magic is stored in the file's own
// byte order, so both readings are tried.
func orderAndWidth(raw []byte) (binary.ByteOrder, cursor.Width, error) {
	be := binary.BigEndian.Uint32(raw)
	le := binary.LittleEndian.Uint32(raw)
	switch {
	case be == Magic32:
		return binary.BigEndian, cursor.W32, nil
	case be == Magic64:
		return binary.BigEndian, cursor.W64, nil
	case le == Magic32:
		return binary.LittleEndian, cursor.W32, nil
	case le == Magic64:
		return binary.LittleEndian, cursor.W64, nil
	}
	return nil, 0, cursor.Malformedf("mach-o header", 0, "bad magic 0x%08x", be)
}

// New decodes a single-architecture Mach-O image. For FAT containers use
// NewFat and pick an architecture.
func New(p []byte) (*File, error) {
	buf := cursor.NewBuffer(p)
	raw, err := buf.Bytes(0, 4)
	if err != nil {
		return nil, cursor.Malformedf("mach-o header", 0, "buffer too small for magic")
	}
	order, width, err := orderAndWidth(raw)
	if err != nil {
		return nil, err
	}

	f := &File{
		buf: buf,
		cur: cursor.New(buf, order, width),
	}
	if err := f.readHeader(); err != nil {
		return nil, err
	}
	if err := f.readCommands(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) readHeader() error {
	c := f.cur.At(0)
	var err error
	get32 := func() uint32 {
		if err != nil {
			return 0
		}
		var v uint32
		v, err = c.Uint32()
		return v
	}
	f.Header.Magic = get32()
	f.Header.Cpu = Cpu(get32())
	f.Header.CpuSubtype = get32()
	f.Header.Type = FileType(get32())
	f.Header.Ncmds = get32()
	f.Header.Sizeofcmds = get32()
	f.Header.Flags = get32()
	if f.cur.Width() == cursor.W64 {
		get32() // reserved
	}
	f.Header.Width = f.cur.Width()
	f.Header.Order = f.cur.Order()
	return errors.Wrap(err, "truncated Mach-O header")
}

func (f *File) headerSize() uint64 {
	if f.Header.Width == cursor.W64 {
		return 32
	}
	return 28
}

func (f *File) readCommands() error {
	cmdBase := f.headerSize()
	// the whole command region must be in bounds before walking it
	if _, err := f.buf.Bytes(cmdBase, uint64(f.Header.Sizeofcmds)); err != nil {
		return errors.Wrap(err, "load command region out of range")
	}
	end := cmdBase + uint64(f.Header.Sizeofcmds)

	off := cmdBase
	for i := uint32(0); i < f.Header.Ncmds; i++ {
		if off+loadCmdHeaderSize > end {
			return cursor.Malformedf("load command", off, "command %d overruns declared region", i)
		}
		cmd, err := f.buf.Uint32At(off, f.Header.Order)
		if err != nil {
			return err
		}
		size, err := f.buf.Uint32At(off+4, f.Header.Order)
		if err != nil {
			return err
		}
		if size < loadCmdHeaderSize {
			return cursor.Malformedf("load command", off, "cmdsize %d below header size", size)
		}
		if off+uint64(size) > end {
			return cursor.Malformedf("load command", off, "cmdsize %d overruns declared region", size)
		}
		load, err := f.decodeCommand(LoadCmd(cmd), off, uint64(size))
		if err != nil {
			if cursor.IsUnsupported(err) {
				if logflags.MachO() {
					logflags.MachOLogger().Debugf("skipping %s at 0x%x: %v", LoadCmd(cmd), off, err)
				}
				data, _ := f.buf.Bytes(off, uint64(size))
				load = &RawCommand{Cmd: LoadCmd(cmd), Data: data}
			} else {
				return err
			}
		}
		f.Loads = append(f.Loads, load)
		off += uint64(size)
	}
	return nil
}

// lcString resolves an lc_str: a 4-byte offset from the start of the
// command, pointing at a NUL-terminated string inside the command.
func (f *File) lcString(cmdOff, cmdSize, fieldOff uint64) (string, error) {
	strOff, err := f.buf.Uint32At(cmdOff+fieldOff, f.Header.Order)
	if err != nil {
		return "", err
	}
	if uint64(strOff) >= cmdSize {
		return "", cursor.Malformedf("load command", cmdOff, "string offset %d beyond cmdsize %d", strOff, cmdSize)
	}
	return f.buf.CStringAt(cmdOff+uint64(strOff), int(cmdSize-uint64(strOff)))
}

func (f *File) decodeCommand(cmd LoadCmd, off, size uint64) (Load, error) {
	c := f.cur.At(off + loadCmdHeaderSize)
	switch cmd {
	case LoadCmdSegment, LoadCmdSegment64:
		return f.decodeSegment(cmd, off, size)

	case LoadCmdSymtab:
		var sc struct {
			Symoff  uint32
			Nsyms   uint32
			Stroff  uint32
			Strsize uint32
		}
		if err := c.Unpack(&sc); err != nil {
			return nil, err
		}
		f.Symtab = &Symtab{
			cur:     f.cur,
			symoff:  uint64(sc.Symoff),
			nsyms:   uint64(sc.Nsyms),
			stroff:  uint64(sc.Stroff),
			strsize: uint64(sc.Strsize),
		}
		return f.Symtab, nil

	case LoadCmdDysymtab:
		d := &Dysymtab{cur: f.cur}
		if err := c.Unpack(&d.DysymtabCmd); err != nil {
			return nil, err
		}
		f.Dysymtab = d
		return d, nil

	case LoadCmdLoadDylib, LoadCmdIdDylib, LoadCmdLoadWeakDylib, LoadCmdReexportDylib:
		var dc struct {
			NameOff        uint32
			Timestamp      uint32
			CurrentVersion uint32
			CompatVersion  uint32
		}
		if err := c.Unpack(&dc); err != nil {
			return nil, err
		}
		name, err := f.lcString(off, size, loadCmdHeaderSize)
		if err != nil {
			return nil, err
		}
		return &Dylib{
			Cmd:            cmd,
			Name:           name,
			Timestamp:      dc.Timestamp,
			CurrentVersion: dc.CurrentVersion,
			CompatVersion:  dc.CompatVersion,
		}, nil

	case LoadCmdLoadDylinker, LoadCmdIdDylinker:
		name, err := f.lcString(off, size, loadCmdHeaderSize)
		if err != nil {
			return nil, err
		}
		return &Dylinker{Cmd: cmd, Name: name}, nil

	case LoadCmdRpath:
		path, err := f.lcString(off, size, loadCmdHeaderSize)
		if err != nil {
			return nil, err
		}
		return &Rpath{Path: path}, nil

	case LoadCmdUUID:
		u := &UUID{}
		p, err := c.Bytes(16)
		if err != nil {
			return nil, err
		}
		copy(u.ID[:], p)
		return u, nil

	case LoadCmdMain:
		e := &EntryPoint{}
		var err error
		if e.EntryOff, err = c.Uint64(); err != nil {
			return nil, err
		}
		if e.StackSize, err = c.Uint64(); err != nil {
			return nil, err
		}
		return e, nil

	case LoadCmdSourceVersion:
		v, err := c.Uint64()
		if err != nil {
			return nil, err
		}
		return &SourceVersion{Version: v}, nil

	case LoadCmdVersionMinMacOS, LoadCmdVersionMinIOS:
		vm := &VersionMin{Cmd: cmd}
		var err error
		if vm.Version, err = c.Uint32(); err != nil {
			return nil, err
		}
		if vm.SDK, err = c.Uint32(); err != nil {
			return nil, err
		}
		return vm, nil

	case LoadCmdCodeSignature, LoadCmdFunctionStarts, LoadCmdDataInCode:
		le := &LinkeditData{Cmd: cmd}
		var err error
		if le.DataOff, err = c.Uint32(); err != nil {
			return nil, err
		}
		if le.DataSize, err = c.Uint32(); err != nil {
			return nil, err
		}
		return le, nil

	case LoadCmdDyldInfo, LoadCmdDyldInfoOnly:
		di := &DyldInfo{Cmd: cmd}
		fields := []*uint32{
			&di.RebaseOff, &di.RebaseSize,
			&di.BindOff, &di.BindSize,
			&di.WeakBindOff, &di.WeakBindSize,
			&di.LazyBindOff, &di.LazyBindSize,
			&di.ExportOff, &di.ExportSize,
		}
		for _, dst := range fields {
			v, err := c.Uint32()
			if err != nil {
				return nil, err
			}
			*dst = v
		}
		f.DyldInfo = di
		return di, nil
	}
	return nil, &cursor.UnsupportedError{What: cmd.String()}
}

// Segment returns the named segment, or nil.
func (f *File) Segment(name string) *Segment {
	for _, s := range f.Segments {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// EntryPoint resolves the image entry address: LC_MAIN relative to
// __TEXT, or the instruction pointer slot of LC_UNIXTHREAD.
func (f *File) EntryPoint() (uint64, error) {
	for _, l := range f.Loads {
		switch cmd := l.(type) {
		case *EntryPoint:
			text := f.Segment("__TEXT")
			if text == nil {
				return 0, cursor.Malformedf("entry point", 0, "LC_MAIN without __TEXT segment")
			}
			return text.Addr + cmd.EntryOff, nil
		case *RawCommand:
			if cmd.Cmd != LoadCmdUnixThread {
				continue
			}
			// thread state layout: ip lives at a fixed slot per width
			if f.Header.Width == cursor.W64 {
				if len(cmd.Data) >= 152 {
					return f.Header.Order.Uint64(cmd.Data[144:152]), nil
				}
			} else if len(cmd.Data) >= 60 {
				return uint64(f.Header.Order.Uint32(cmd.Data[56:60])), nil
			}
			return 0, cursor.Malformedf("entry point", 0, "truncated LC_UNIXTHREAD state")
		}
	}
	return 0, errors.New("no entry point command")
}

// Dylibs lists the load-time dylib dependencies (LC_LOAD_DYLIB and
// weak/upward variants), in command order.
func (f *File) Dylibs() []string {
	var out []string
	for _, l := range f.Loads {
		if d, ok := l.(*Dylib); ok && d.Cmd != LoadCmdIdDylib {
			out = append(out, d.Name)
		}
	}
	return out
}
