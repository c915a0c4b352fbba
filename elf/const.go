package elf

import "fmt"

// ELF identification indexes and values.
const (
	eiClass      = 4
	eiData       = 5
	eiVersion    = 6
	eiOSABI      = 7
	eiABIVersion = 8
	identSize    = 16

	classNone = 0
	class32   = 1
	class64   = 2

	dataNone = 0
	data2LSB = 1
	data2MSB = 2
)

var Magic = []byte{0x7f, 0x45, 0x4c, 0x46}

type Type uint16

const (
	TypeNone Type = 0
	TypeRel  Type = 1
	TypeExec Type = 2
	TypeDyn  Type = 3
	TypeCore Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeRel:
		return "relocatable"
	case TypeExec:
		return "executable"
	case TypeDyn:
		return "shared object"
	case TypeCore:
		return "core"
	}
	return fmt.Sprintf("unknown type 0x%x", uint16(t))
}

type Machine uint16

const (
	MachineNone    Machine = 0
	MachineSPARC   Machine = 0x02
	Machine386     Machine = 0x03
	MachineMIPS    Machine = 0x08
	MachinePPC     Machine = 0x14
	MachinePPC64   Machine = 0x15
	MachineARM     Machine = 0x28
	MachineX86_64  Machine = 0x3e
	MachineAARCH64 Machine = 0xb7
	MachineRISCV   Machine = 0xf3
)

func (m Machine) String() string {
	switch m {
	case MachineSPARC:
		return "sparc"
	case Machine386:
		return "x86"
	case MachineMIPS:
		return "mips"
	case MachinePPC:
		return "ppc"
	case MachinePPC64:
		return "ppc64"
	case MachineARM:
		return "arm"
	case MachineX86_64:
		return "x86_64"
	case MachineAARCH64:
		return "arm64"
	case MachineRISCV:
		return "riscv"
	}
	return fmt.Sprintf("unknown machine 0x%x", uint16(m))
}

type SegmentType uint32

const (
	PTNull    SegmentType = 0
	PTLoad    SegmentType = 1
	PTDynamic SegmentType = 2
	PTInterp  SegmentType = 3
	PTNote    SegmentType = 4
	PTShlib   SegmentType = 5
	PTPhdr    SegmentType = 6
	PTTLS     SegmentType = 7

	PTGNUEHFrame SegmentType = 0x6474e550
	PTGNUStack   SegmentType = 0x6474e551
	PTGNURelro   SegmentType = 0x6474e552
)

func (t SegmentType) String() string {
	switch t {
	case PTNull:
		return "null"
	case PTLoad:
		return "load"
	case PTDynamic:
		return "dynamic"
	case PTInterp:
		return "interp"
	case PTNote:
		return "note"
	case PTShlib:
		return "shlib"
	case PTPhdr:
		return "phdr"
	case PTTLS:
		return "tls"
	case PTGNUEHFrame:
		return "gnu_eh_frame"
	case PTGNUStack:
		return "gnu_stack"
	case PTGNURelro:
		return "gnu_relro"
	}
	return fmt.Sprintf("segment type 0x%x", uint32(t))
}

// Segment permission flags.
const (
	PFExec  = 1
	PFWrite = 2
	PFRead  = 4
)

type SectionType uint32

const (
	SHTNull       SectionType = 0
	SHTProgbits   SectionType = 1
	SHTSymtab     SectionType = 2
	SHTStrtab     SectionType = 3
	SHTRela       SectionType = 4
	SHTHash       SectionType = 5
	SHTDynamic    SectionType = 6
	SHTNote       SectionType = 7
	SHTNobits     SectionType = 8
	SHTRel        SectionType = 9
	SHTShlib      SectionType = 10
	SHTDynsym     SectionType = 11
	SHTGNUHash    SectionType = 0x6ffffff6
	SHTGNUVerdef  SectionType = 0x6ffffffd
	SHTGNUVerneed SectionType = 0x6ffffffe
	SHTGNUVersym  SectionType = 0x6fffffff
)

func (t SectionType) String() string {
	switch t {
	case SHTNull:
		return "null"
	case SHTProgbits:
		return "progbits"
	case SHTSymtab:
		return "symtab"
	case SHTStrtab:
		return "strtab"
	case SHTRela:
		return "rela"
	case SHTHash:
		return "hash"
	case SHTDynamic:
		return "dynamic"
	case SHTNote:
		return "note"
	case SHTNobits:
		return "nobits"
	case SHTRel:
		return "rel"
	case SHTShlib:
		return "shlib"
	case SHTDynsym:
		return "dynsym"
	case SHTGNUHash:
		return "gnu_hash"
	case SHTGNUVerdef:
		return "gnu_verdef"
	case SHTGNUVerneed:
		return "gnu_verneed"
	case SHTGNUVersym:
		return "gnu_versym"
	}
	return fmt.Sprintf("section type 0x%x", uint32(t))
}

type SymBind int

const (
	BindLocal  SymBind = 0
	BindGlobal SymBind = 1
	BindWeak   SymBind = 2
)

func (b SymBind) String() string {
	switch b {
	case BindLocal:
		return "local"
	case BindGlobal:
		return "global"
	case BindWeak:
		return "weak"
	}
	return fmt.Sprintf("bind %d", int(b))
}

type SymType int

const (
	SymNoType  SymType = 0
	SymObject  SymType = 1
	SymFunc    SymType = 2
	SymSection SymType = 3
	SymFile    SymType = 4
	SymCommon  SymType = 5
	SymTLS     SymType = 6
)

func (t SymType) String() string {
	switch t {
	case SymNoType:
		return "notype"
	case SymObject:
		return "object"
	case SymFunc:
		return "func"
	case SymSection:
		return "section"
	case SymFile:
		return "file"
	case SymCommon:
		return "common"
	case SymTLS:
		return "tls"
	}
	return fmt.Sprintf("sym type %d", int(t))
}

type DynTag int64

const (
	DTNull     DynTag = 0
	DTNeeded   DynTag = 1
	DTPltRelSz DynTag = 2
	DTPltGot   DynTag = 3
	DTHash     DynTag = 4
	DTStrtab   DynTag = 5
	DTSymtab   DynTag = 6
	DTRela     DynTag = 7
	DTRelaSz   DynTag = 8
	DTRelaEnt  DynTag = 9
	DTStrSz    DynTag = 10
	DTSymEnt   DynTag = 11
	DTInit     DynTag = 12
	DTFini     DynTag = 13
	DTSoname   DynTag = 14
	DTRPath    DynTag = 15
	DTSymbolic DynTag = 16
	DTRel      DynTag = 17
	DTRelSz    DynTag = 18
	DTRelEnt   DynTag = 19
	DTPltRel   DynTag = 20
	DTDebug    DynTag = 21
	DTTextRel  DynTag = 22
	DTJmpRel   DynTag = 23
	DTBindNow  DynTag = 24
	DTRunPath  DynTag = 29
	DTFlags    DynTag = 30

	DTGNUHash    DynTag = 0x6ffffef5
	DTVersym     DynTag = 0x6ffffff0
	DTVerdef     DynTag = 0x6ffffffc
	DTVerdefNum  DynTag = 0x6ffffffd
	DTVerneed    DynTag = 0x6ffffffe
	DTVerneedNum DynTag = 0x6fffffff
)

// Relocation type numbers for the two machines this module names
// explicitly; everything else is reported numerically.
const (
	RX8664None     = 0
	RX866464       = 1
	RX8664PC32     = 2
	RX8664GotPCRel = 9
	RX8664Relative = 8
	RX8664GlobDat  = 6
	RX8664JumpSlot = 7

	RArmNone     = 0
	RArmAbs32    = 2
	RArmGlobDat  = 21
	RArmJumpSlot = 22
	RArmRelative = 23
)

var relocNamesX8664 = map[uint32]string{
	RX8664None:     "R_X86_64_NONE",
	RX866464:       "R_X86_64_64",
	RX8664PC32:     "R_X86_64_PC32",
	RX8664GlobDat:  "R_X86_64_GLOB_DAT",
	RX8664JumpSlot: "R_X86_64_JUMP_SLOT",
	RX8664Relative: "R_X86_64_RELATIVE",
	RX8664GotPCRel: "R_X86_64_GOTPCREL",
}

var relocNamesArm = map[uint32]string{
	RArmNone:     "R_ARM_NONE",
	RArmAbs32:    "R_ARM_ABS32",
	RArmGlobDat:  "R_ARM_GLOB_DAT",
	RArmJumpSlot: "R_ARM_JUMP_SLOT",
	RArmRelative: "R_ARM_RELATIVE",
}

// RelocTypeName renders a relocation type number for the given machine.
func RelocTypeName(m Machine, typ uint32) string {
	var name string
	switch m {
	case MachineX86_64:
		name = relocNamesX8664[typ]
	case MachineARM:
		name = relocNamesArm[typ]
	}
	if name == "" {
		return fmt.Sprintf("reloc type %d", typ)
	}
	return name
}
