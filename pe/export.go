package pe

import (
	"github.com/objtk/objview/cursor"
)

// Export is one exported symbol. A forwarder names its target in
// another DLL instead of carrying an address.
type Export struct {
	Name      string
	Ordinal   uint32
	RVA       uint32
	Forwarder string
}

// ExportDirectory is the decoded IMAGE_EXPORT_DIRECTORY plus its
// resolved entries.
type ExportDirectory struct {
	DLLName       string
	OrdinalBase   uint32
	NumberOfFuncs uint32
	NumberOfNames uint32
	Exports       []Export
}

const maxExportEntries = 1 << 20

// Exports decodes the export directory on demand.
func (f *File) Exports() (*ExportDirectory, error) {
	dir := f.Directory(DirExport)
	if dir.VirtualAddress == 0 {
		return nil, nil
	}
	off, err := f.ResolveRVA(dir.VirtualAddress)
	if err != nil {
		return nil, cursor.Malformedf("export directory", uint64(dir.VirtualAddress), "directory RVA maps into no section")
	}

	var raw struct {
		Characteristics       uint32
		TimeDateStamp         uint32
		MajorVersion          uint16
		MinorVersion          uint16
		Name                  uint32
		Base                  uint32
		NumberOfFunctions     uint32
		NumberOfNames         uint32
		AddressOfFunctions    uint32
		AddressOfNames        uint32
		AddressOfNameOrdinals uint32
	}
	if err := f.cur.At(off).Unpack(&raw); err != nil {
		return nil, err
	}
	if raw.NumberOfFunctions > maxExportEntries || raw.NumberOfNames > maxExportEntries {
		return nil, cursor.Malformedf("export directory", off, "impossible entry counts %d/%d", raw.NumberOfFunctions, raw.NumberOfNames)
	}

	ed := &ExportDirectory{
		OrdinalBase:   raw.Base,
		NumberOfFuncs: raw.NumberOfFunctions,
		NumberOfNames: raw.NumberOfNames,
	}
	if raw.Name != 0 {
		if ed.DLLName, err = f.cstringAtRVA(raw.Name, 0); err != nil {
			return nil, err
		}
	}

	funcsOff, err := f.ResolveRVA(raw.AddressOfFunctions)
	if err != nil {
		return nil, err
	}
	namesOff, err := f.ResolveRVA(raw.AddressOfNames)
	if err != nil {
		return nil, err
	}
	ordsOff, err := f.ResolveRVA(raw.AddressOfNameOrdinals)
	if err != nil {
		return nil, err
	}

	order := f.cur.Order()
	for i := uint32(0); i < raw.NumberOfNames; i++ {
		nameRVA, err := f.buf.Uint32At(namesOff+uint64(i)*4, order)
		if err != nil {
			return nil, err
		}
		name, err := f.cstringAtRVA(nameRVA, 0)
		if err != nil {
			return nil, err
		}
		ordIndex, err := f.buf.Uint16At(ordsOff+uint64(i)*2, order)
		if err != nil {
			return nil, err
		}
		if uint32(ordIndex) >= raw.NumberOfFunctions {
			return nil, cursor.Malformedf("export directory", off, "name %q maps to ordinal %d of %d", name, ordIndex, raw.NumberOfFunctions)
		}
		funcRVA, err := f.buf.Uint32At(funcsOff+uint64(ordIndex)*4, order)
		if err != nil {
			return nil, err
		}

		exp := Export{
			Name:    name,
			Ordinal: raw.Base + uint32(ordIndex),
			RVA:     funcRVA,
		}
		// an address inside the export directory itself is a forwarder
		// string, not code
		if funcRVA >= dir.VirtualAddress && funcRVA < dir.VirtualAddress+dir.Size {
			if exp.Forwarder, err = f.cstringAtRVA(funcRVA, 0); err != nil {
				return nil, err
			}
			exp.RVA = 0
		}
		ed.Exports = append(ed.Exports, exp)
	}
	return ed, nil
}
