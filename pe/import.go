package pe

import (
	"github.com/objtk/objview/cursor"
	"github.com/objtk/objview/logflags"
)

// ImportEntry is one imported function: by name (with its hint) or by
// ordinal when the thunk's high bit is set.
type ImportEntry struct {
	Name      string
	Hint      uint16
	Ordinal   uint16
	ByOrdinal bool
}

// ImportedLibrary is one IMAGE_IMPORT_DESCRIPTOR: a DLL and the entries
// imported from it.
type ImportedLibrary struct {
	Library string
	Entries []ImportEntry
}

const importDescriptorSize = 20

// cap on descriptor/thunk walks; both lists are attacker-terminated
const maxImportEntries = 1 << 20

// Imports walks the import directory. Nothing is decoded before this
// call; a malformed import directory leaves the rest of the file
// queryable.
func (f *File) Imports() ([]ImportedLibrary, error) {
	dir := f.Directory(DirImport)
	if dir.VirtualAddress == 0 {
		return nil, nil
	}
	descOff, err := f.ResolveRVA(dir.VirtualAddress)
	if err != nil {
		return nil, cursor.Malformedf("import directory", uint64(dir.VirtualAddress), "directory RVA maps into no section")
	}

	var out []ImportedLibrary
	for n := 0; n < maxImportEntries; n++ {
		var desc struct {
			OriginalFirstThunk uint32
			TimeDateStamp      uint32
			ForwarderChain     uint32
			Name               uint32
			FirstThunk         uint32
		}
		c := f.cur.At(descOff + uint64(n)*importDescriptorSize)
		if err := c.Unpack(&desc); err != nil {
			return nil, err
		}
		if desc.OriginalFirstThunk == 0 && desc.Name == 0 && desc.FirstThunk == 0 {
			break
		}

		lib := ImportedLibrary{}
		if lib.Library, err = f.cstringAtRVA(desc.Name, 0); err != nil {
			return nil, err
		}

		// prefer the import name table; fall back to the IAT for images
		// whose INT was stripped
		thunks := desc.OriginalFirstThunk
		if thunks == 0 {
			thunks = desc.FirstThunk
		}
		if lib.Entries, err = f.readThunks(thunks); err != nil {
			if logflags.PE() {
				logflags.PELogger().Debugf("import thunks for %s: %v", lib.Library, err)
			}
			return nil, err
		}
		out = append(out, lib)
	}
	return out, nil
}

func (f *File) readThunks(rva uint32) ([]ImportEntry, error) {
	off, err := f.ResolveRVA(rva)
	if err != nil {
		return nil, err
	}
	width := f.OptionalHeader.Width
	c := f.cur.At(off)

	var out []ImportEntry
	for n := 0; n < maxImportEntries; n++ {
		thunk, err := c.Word()
		if err != nil {
			return nil, err
		}
		if thunk == 0 {
			break
		}

		var entry ImportEntry
		ordinalBit := uint64(1) << 31
		if width == cursor.W64 {
			ordinalBit = 1 << 63
		}
		if thunk&ordinalBit != 0 {
			entry.ByOrdinal = true
			entry.Ordinal = uint16(thunk)
		} else {
			nameOff, err := f.ResolveRVA(uint32(thunk))
			if err != nil {
				return nil, err
			}
			if entry.Hint, err = f.buf.Uint16At(nameOff, f.cur.Order()); err != nil {
				return nil, err
			}
			if entry.Name, err = f.buf.CStringAt(nameOff+2, 0); err != nil {
				return nil, err
			}
		}
		out = append(out, entry)
	}
	return out, nil
}
