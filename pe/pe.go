// Package pe decodes PE/COFF images from an in-memory buffer. The DOS
// stub is read only far enough to find the PE signature; the optional
// header's magic, not the machine field, decides whether the image is
// 32- or 64-bit. Everything is little-endian by definition.
package pe

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/objtk/objview/cursor"
	"github.com/objtk/objview/logflags"
)

const (
	dosMagic      = 0x5a4d // "MZ"
	peSignature   = 0x00004550
	lfanewOffset  = 0x3c
	coffHeaderLen = 20
	sectionHdrLen = 40

	// optional header magics
	Magic32 = 0x10b
	Magic64 = 0x20b
)

// Data directory indexes.
const (
	DirExport = iota
	DirImport
	DirResource
	DirException
	DirSecurity
	DirBaseReloc
	DirDebug
	DirArchitecture
	DirGlobalPtr
	DirTLS
	DirLoadConfig
	DirBoundImport
	DirIAT
	DirDelayImport
	DirCOMDescriptor
	DirReserved

	numDirs = 16
)

type Machine uint16

const (
	MachineUnknown Machine = 0
	MachineI386    Machine = 0x14c
	MachineAmd64   Machine = 0x8664
	MachineArm     Machine = 0x1c0
	MachineArm64   Machine = 0xaa64
)

func (m Machine) String() string {
	switch m {
	case MachineI386:
		return "x86"
	case MachineAmd64:
		return "x86_64"
	case MachineArm:
		return "arm"
	case MachineArm64:
		return "arm64"
	}
	return fmt.Sprintf("machine 0x%04x", uint16(m))
}

// FileHeader is the COFF file header.
type FileHeader struct {
	Machine              Machine
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

// DataDirectory is one (relative virtual address, size) pair.
type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// OptionalHeader carries the fields this module exposes from both the
// PE32 and PE32+ layouts, widened where they differ.
type OptionalHeader struct {
	Magic               uint16
	Width               cursor.Width
	AddressOfEntryPoint uint32
	ImageBase           uint64
	SectionAlignment    uint32
	FileAlignment       uint32
	SizeOfImage         uint32
	SizeOfHeaders       uint32
	Subsystem           uint16
	DllCharacteristics  uint16
	NumberOfRvaAndSizes uint32
	DataDirectory       [numDirs]DataDirectory
}

// SectionHeader is one entry of the section table. Long names resolve
// through the COFF string table.
type SectionHeader struct {
	Name             string
	VirtualSize      uint32
	VirtualAddress   uint32
	SizeOfRawData    uint32
	PointerToRawData uint32
	Characteristics  uint32

	f *File
}

// Data returns the section's file bytes.
func (s *SectionHeader) Data() ([]byte, error) {
	d, err := s.f.buf.Bytes(uint64(s.PointerToRawData), uint64(s.SizeOfRawData))
	return d, errors.Wrap(err, "section body out of range")
}

// File is a decoded PE image.
type File struct {
	FileHeader     FileHeader
	OptionalHeader OptionalHeader
	Sections       []*SectionHeader

	buf     *cursor.Buffer
	cur     *cursor.Cursor
	coffOff uint64
}

// Match reports whether p starts with an MS-DOS stub whose e_lfanew
// points at a PE signature.
func Match(p []byte) bool {
	if len(p) < lfanewOffset+4 {
		return false
	}
	if binary.LittleEndian.Uint16(p) != dosMagic {
		return false
	}
	lfanew := binary.LittleEndian.Uint32(p[lfanewOffset:])
	if uint64(lfanew)+4 > uint64(len(p)) {
		return false
	}
	return binary.LittleEndian.Uint32(p[lfanew:]) == peSignature
}

// New decodes the headers and section table. Directories, imports,
// exports, relocations and symbols stay lazy.
func New(p []byte) (*File, error) {
	if !Match(p) {
		return nil, cursor.Malformedf("pe header", 0, "no MZ stub or PE signature")
	}
	buf := cursor.NewBuffer(p)
	lfanew, _ := buf.Uint32At(lfanewOffset, binary.LittleEndian)

	f := &File{
		buf:     buf,
		coffOff: uint64(lfanew) + 4,
	}
	if err := f.readFileHeader(); err != nil {
		return nil, err
	}
	if err := f.readOptionalHeader(); err != nil {
		return nil, err
	}
	if err := f.readSections(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) readFileHeader() error {
	var hdr struct {
		Machine              uint16
		NumberOfSections     uint16
		TimeDateStamp        uint32
		PointerToSymbolTable uint32
		NumberOfSymbols      uint32
		SizeOfOptionalHeader uint16
		Characteristics      uint16
	}
	c := cursor.New(f.buf, binary.LittleEndian, cursor.W32).At(f.coffOff)
	if err := c.Unpack(&hdr); err != nil {
		return errors.Wrap(err, "truncated COFF header")
	}
	f.FileHeader = FileHeader{
		Machine:              Machine(hdr.Machine),
		NumberOfSections:     hdr.NumberOfSections,
		TimeDateStamp:        hdr.TimeDateStamp,
		PointerToSymbolTable: hdr.PointerToSymbolTable,
		NumberOfSymbols:      hdr.NumberOfSymbols,
		SizeOfOptionalHeader: hdr.SizeOfOptionalHeader,
		Characteristics:      hdr.Characteristics,
	}
	return nil
}

func (f *File) optOff() uint64 {
	return f.coffOff + coffHeaderLen
}

func (f *File) readOptionalHeader() error {
	optOff := f.optOff()
	optSize := uint64(f.FileHeader.SizeOfOptionalHeader)
	if optSize < 2 {
		return cursor.Malformedf("optional header", optOff, "size %d too small", optSize)
	}
	if _, err := f.buf.Bytes(optOff, optSize); err != nil {
		return errors.Wrap(err, "optional header out of range")
	}

	magic, err := f.buf.Uint16At(optOff, binary.LittleEndian)
	if err != nil {
		return err
	}
	oh := &f.OptionalHeader
	oh.Magic = magic
	switch magic {
	case Magic32:
		oh.Width = cursor.W32
	case Magic64:
		oh.Width = cursor.W64
	default:
		return cursor.Malformedf("optional header", optOff, "unknown magic 0x%x", magic)
	}
	f.cur = cursor.New(f.buf, binary.LittleEndian, oh.Width)

	c := f.cur.At(optOff + 2)
	var e error
	get8 := func() uint8 {
		if e != nil {
			return 0
		}
		var v uint8
		v, e = c.Uint8()
		return v
	}
	get16 := func() uint16 {
		if e != nil {
			return 0
		}
		var v uint16
		v, e = c.Uint16()
		return v
	}
	get32 := func() uint32 {
		if e != nil {
			return 0
		}
		var v uint32
		v, e = c.Uint32()
		return v
	}
	getWord := func() uint64 {
		if e != nil {
			return 0
		}
		var v uint64
		v, e = c.Word()
		return v
	}

	get8()  // linker major
	get8()  // linker minor
	get32() // size of code
	get32() // size of initialized data
	get32() // size of uninitialized data
	oh.AddressOfEntryPoint = get32()
	get32() // base of code
	if oh.Width == cursor.W32 {
		get32() // base of data, PE32 only
		oh.ImageBase = uint64(get32())
	} else {
		oh.ImageBase = getWord()
	}
	oh.SectionAlignment = get32()
	oh.FileAlignment = get32()
	get16() // os major
	get16() // os minor
	get16() // image major
	get16() // image minor
	get16() // subsystem major
	get16() // subsystem minor
	get32() // win32 version
	oh.SizeOfImage = get32()
	oh.SizeOfHeaders = get32()
	get32() // checksum
	oh.Subsystem = get16()
	oh.DllCharacteristics = get16()
	getWord() // stack reserve
	getWord() // stack commit
	getWord() // heap reserve
	getWord() // heap commit
	get32()   // loader flags
	oh.NumberOfRvaAndSizes = get32()
	if e != nil {
		return errors.Wrap(e, "truncated optional header")
	}

	n := oh.NumberOfRvaAndSizes
	if n > numDirs {
		// more directories than the format defines: read the known ones
		if logflags.PE() {
			logflags.PELogger().Debugf("clamping %d data directories to %d", n, numDirs)
		}
		n = numDirs
	}
	for i := uint32(0); i < n; i++ {
		if oh.DataDirectory[i].VirtualAddress, e = c.Uint32(); e != nil {
			return errors.Wrap(e, "truncated data directories")
		}
		if oh.DataDirectory[i].Size, e = c.Uint32(); e != nil {
			return errors.Wrap(e, "truncated data directories")
		}
	}
	return nil
}

func (f *File) readSections() error {
	off := f.optOff() + uint64(f.FileHeader.SizeOfOptionalHeader)
	count := uint64(f.FileHeader.NumberOfSections)
	if _, err := f.buf.Bytes(off, count*sectionHdrLen); err != nil {
		return errors.Wrap(err, "section table out of range")
	}

	f.Sections = make([]*SectionHeader, 0, count)
	for i := uint64(0); i < count; i++ {
		var raw struct {
			Name                 [8]byte
			VirtualSize          uint32
			VirtualAddress       uint32
			SizeOfRawData        uint32
			PointerToRawData     uint32
			PointerToRelocations uint32
			PointerToLinenumbers uint32
			NumberOfRelocations  uint16
			NumberOfLinenumbers  uint16
			Characteristics      uint32
		}
		c := cursor.New(f.buf, binary.LittleEndian, cursor.W32).At(off + i*sectionHdrLen)
		if err := c.Unpack(&raw); err != nil {
			return err
		}
		s := &SectionHeader{
			Name:             sectionName(raw.Name),
			VirtualSize:      raw.VirtualSize,
			VirtualAddress:   raw.VirtualAddress,
			SizeOfRawData:    raw.SizeOfRawData,
			PointerToRawData: raw.PointerToRawData,
			Characteristics:  raw.Characteristics,
			f:                f,
		}
		// "/N" names index into the COFF string table
		if len(s.Name) > 1 && s.Name[0] == '/' {
			if long, err := f.longSectionName(s.Name[1:]); err == nil {
				s.Name = long
			}
		}
		f.Sections = append(f.Sections, s)
	}
	return nil
}

func sectionName(raw [8]byte) string {
	if i := bytes.IndexByte(raw[:], 0); i >= 0 {
		return string(raw[:i])
	}
	return string(raw[:])
}

func (f *File) longSectionName(digits string) (string, error) {
	var n uint64
	for _, d := range digits {
		if d < '0' || d > '9' {
			return "", cursor.Malformedf("section name", 0, "bad string table index %q", digits)
		}
		n = n*10 + uint64(d-'0')
	}
	strtab, err := f.stringTable()
	if err != nil {
		return "", err
	}
	return strtab.Lookup(n)
}

// Section returns the named section, or nil.
func (f *File) Section(name string) *SectionHeader {
	for _, s := range f.Sections {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Directory returns data directory i, which may be zero-valued.
func (f *File) Directory(i int) DataDirectory {
	if i < 0 || i >= numDirs {
		return DataDirectory{}
	}
	return f.OptionalHeader.DataDirectory[i]
}

// ResolveRVA translates a relative virtual address to a file offset by
// locating the section whose mapped range contains it. An address inside
// no section is a Malformed condition for the caller's structure only.
func (f *File) ResolveRVA(rva uint32) (uint64, error) {
	for _, s := range f.Sections {
		if rva >= s.VirtualAddress && rva-s.VirtualAddress < s.SizeOfRawData {
			return uint64(s.PointerToRawData) + uint64(rva-s.VirtualAddress), nil
		}
	}
	return 0, cursor.Malformedf("rva", uint64(rva), "address maps into no section")
}

// cstringAtRVA resolves an RVA and reads a NUL-terminated string there.
func (f *File) cstringAtRVA(rva uint32, max int) (string, error) {
	off, err := f.ResolveRVA(rva)
	if err != nil {
		return "", err
	}
	return f.buf.CStringAt(off, max)
}

// EntryPoint returns the image's absolute entry address.
func (f *File) EntryPoint() uint64 {
	return f.OptionalHeader.ImageBase + uint64(f.OptionalHeader.AddressOfEntryPoint)
}
