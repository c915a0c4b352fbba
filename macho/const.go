package macho

import "fmt"

// Single-architecture magics, in both on-disk byte orders.
const (
	Magic32  = 0xfeedface
	Magic64  = 0xfeedfacf
	Cigam32  = 0xcefaedfe
	Cigam64  = 0xcffaedfe
	FatMagic = 0xcafebabe
	FatCigam = 0xbebafeca
)

type Cpu uint32

const cpuArch64 = 0x01000000

const (
	Cpu386   Cpu = 7
	CpuAmd64 Cpu = Cpu386 | cpuArch64
	CpuArm   Cpu = 12
	CpuArm64 Cpu = CpuArm | cpuArch64
	CpuPpc   Cpu = 18
	CpuPpc64 Cpu = CpuPpc | cpuArch64
)

func (c Cpu) String() string {
	switch c {
	case Cpu386:
		return "x86"
	case CpuAmd64:
		return "x86_64"
	case CpuArm:
		return "arm"
	case CpuArm64:
		return "arm64"
	case CpuPpc:
		return "ppc"
	case CpuPpc64:
		return "ppc64"
	}
	return fmt.Sprintf("cpu 0x%x", uint32(c))
}

type FileType uint32

const (
	TypeObject   FileType = 1
	TypeExec     FileType = 2
	TypeCore     FileType = 4
	TypeDylib    FileType = 6
	TypeDylinker FileType = 7
	TypeBundle   FileType = 8
	TypeDsym     FileType = 10
	TypeKext     FileType = 11
)

func (t FileType) String() string {
	switch t {
	case TypeObject:
		return "object"
	case TypeExec:
		return "executable"
	case TypeCore:
		return "core"
	case TypeDylib:
		return "dylib"
	case TypeDylinker:
		return "dylinker"
	case TypeBundle:
		return "bundle"
	case TypeDsym:
		return "dsym"
	case TypeKext:
		return "kext"
	}
	return fmt.Sprintf("filetype %d", uint32(t))
}

type LoadCmd uint32

// LC_REQ_DYLD marks commands the dynamic linker must understand to load
// the image at all.
const LoadCmdReqDyld LoadCmd = 0x80000000

const (
	LoadCmdSegment         LoadCmd = 0x1
	LoadCmdSymtab          LoadCmd = 0x2
	LoadCmdThread          LoadCmd = 0x4
	LoadCmdUnixThread      LoadCmd = 0x5
	LoadCmdDysymtab        LoadCmd = 0xb
	LoadCmdLoadDylib       LoadCmd = 0xc
	LoadCmdIdDylib         LoadCmd = 0xd
	LoadCmdLoadDylinker    LoadCmd = 0xe
	LoadCmdIdDylinker      LoadCmd = 0xf
	LoadCmdLoadWeakDylib   LoadCmd = 0x18 | LoadCmdReqDyld
	LoadCmdSegment64       LoadCmd = 0x19
	LoadCmdUUID            LoadCmd = 0x1b
	LoadCmdRpath           LoadCmd = 0x1c | LoadCmdReqDyld
	LoadCmdCodeSignature   LoadCmd = 0x1d
	LoadCmdReexportDylib   LoadCmd = 0x1f | LoadCmdReqDyld
	LoadCmdDyldInfo        LoadCmd = 0x22
	LoadCmdDyldInfoOnly    LoadCmd = 0x22 | LoadCmdReqDyld
	LoadCmdVersionMinMacOS LoadCmd = 0x24
	LoadCmdVersionMinIOS   LoadCmd = 0x25
	LoadCmdFunctionStarts  LoadCmd = 0x26
	LoadCmdMain            LoadCmd = 0x28 | LoadCmdReqDyld
	LoadCmdDataInCode      LoadCmd = 0x29
	LoadCmdSourceVersion   LoadCmd = 0x2a
	LoadCmdBuildVersion    LoadCmd = 0x32
)

func (c LoadCmd) String() string {
	switch c {
	case LoadCmdSegment:
		return "LC_SEGMENT"
	case LoadCmdSymtab:
		return "LC_SYMTAB"
	case LoadCmdThread:
		return "LC_THREAD"
	case LoadCmdUnixThread:
		return "LC_UNIXTHREAD"
	case LoadCmdDysymtab:
		return "LC_DYSYMTAB"
	case LoadCmdLoadDylib:
		return "LC_LOAD_DYLIB"
	case LoadCmdIdDylib:
		return "LC_ID_DYLIB"
	case LoadCmdLoadDylinker:
		return "LC_LOAD_DYLINKER"
	case LoadCmdIdDylinker:
		return "LC_ID_DYLINKER"
	case LoadCmdLoadWeakDylib:
		return "LC_LOAD_WEAK_DYLIB"
	case LoadCmdSegment64:
		return "LC_SEGMENT_64"
	case LoadCmdUUID:
		return "LC_UUID"
	case LoadCmdRpath:
		return "LC_RPATH"
	case LoadCmdCodeSignature:
		return "LC_CODE_SIGNATURE"
	case LoadCmdReexportDylib:
		return "LC_REEXPORT_DYLIB"
	case LoadCmdDyldInfo:
		return "LC_DYLD_INFO"
	case LoadCmdDyldInfoOnly:
		return "LC_DYLD_INFO_ONLY"
	case LoadCmdVersionMinMacOS:
		return "LC_VERSION_MIN_MACOSX"
	case LoadCmdVersionMinIOS:
		return "LC_VERSION_MIN_IPHONEOS"
	case LoadCmdFunctionStarts:
		return "LC_FUNCTION_STARTS"
	case LoadCmdMain:
		return "LC_MAIN"
	case LoadCmdDataInCode:
		return "LC_DATA_IN_CODE"
	case LoadCmdSourceVersion:
		return "LC_SOURCE_VERSION"
	case LoadCmdBuildVersion:
		return "LC_BUILD_VERSION"
	}
	return fmt.Sprintf("load command 0x%x", uint32(c))
}

// sizes of the fixed command/record layouts
const (
	loadCmdHeaderSize = 8
	segment32Size     = 56
	segment64Size     = 72
	section32Size     = 68
	section64Size     = 80
	nlist32Size       = 12
	nlist64Size       = 16
	fatEntrySize      = 20
)

// Symbol n_type bits.
const (
	NTypeStab uint8 = 0xe0
	NTypePExt uint8 = 0x10
	NTypeType uint8 = 0x0e
	NTypeExt  uint8 = 0x01

	NTypeUndef    uint8 = 0x0
	NTypeAbs      uint8 = 0x2
	NTypeSect     uint8 = 0xe
	NTypePrebound uint8 = 0xc
	NTypeIndirect uint8 = 0xa
)
