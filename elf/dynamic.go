package elf

import (
	"github.com/pkg/errors"

	"github.com/objtk/objview/cursor"
	"github.com/objtk/objview/logflags"
)

// DynEntry is one raw (tag, value) pair from the .dynamic section.
// Unknown tags are kept as-is rather than rejected.
type DynEntry struct {
	Tag DynTag
	Val uint64
}

// Dynamic holds the decoded .dynamic section plus the string table its
// name-valued tags point into.
type Dynamic struct {
	Entries []DynEntry

	strtab *StringTable
}

// Dynamic decodes the .dynamic section. The entry array is small and
// bounded by the section extent, so it is decoded in one pass; string
// values still resolve lazily.
func (f *File) Dynamic() (*Dynamic, error) {
	sec := f.sectionByType(SHTDynamic)
	if sec == nil {
		return nil, errors.New("no dynamic section")
	}
	data, err := f.buf.Bytes(sec.Off, sec.Size)
	if err != nil {
		return nil, errors.Wrap(err, "dynamic section out of range")
	}
	entsize := 2 * f.Header.Class.WordSize()
	count := uint64(len(data)) / entsize

	d := &Dynamic{}
	c := f.cur.At(sec.Off)
	for i := uint64(0); i < count; i++ {
		tag, err := c.Word()
		if err != nil {
			return nil, err
		}
		val, err := c.Word()
		if err != nil {
			return nil, err
		}
		if DynTag(int64(tag)) == DTNull {
			break
		}
		d.Entries = append(d.Entries, DynEntry{Tag: dynTag(tag, f.Header.Class), Val: val})
	}

	strtab, err := f.linkedStrtab(sec)
	if err != nil {
		if logflags.Elf() {
			logflags.ElfLogger().Debugf("dynamic string table unavailable: %v", err)
		}
	} else {
		d.strtab = strtab
	}
	return d, nil
}

// sign-extend a 32-bit tag so OS-range tags compare correctly
func dynTag(raw uint64, w cursor.Width) DynTag {
	if w == cursor.W32 {
		return DynTag(int64(int32(raw)))
	}
	return DynTag(int64(raw))
}

// Val returns the first value for tag.
func (d *Dynamic) Val(tag DynTag) (uint64, bool) {
	for _, e := range d.Entries {
		if e.Tag == tag {
			return e.Val, true
		}
	}
	return 0, false
}

func (d *Dynamic) str(tag DynTag) (string, error) {
	v, ok := d.Val(tag)
	if !ok {
		return "", errors.Errorf("no tag %d in dynamic section", tag)
	}
	if d.strtab == nil {
		return "", errors.New("dynamic string table unavailable")
	}
	return d.strtab.Lookup(v)
}

// Needed returns every DT_NEEDED library name, in file order. Entries
// whose names cannot be resolved are skipped.
func (d *Dynamic) Needed() []string {
	var out []string
	for _, e := range d.Entries {
		if e.Tag != DTNeeded || d.strtab == nil {
			continue
		}
		if s, err := d.strtab.Lookup(e.Val); err == nil {
			out = append(out, s)
		}
	}
	return out
}

func (d *Dynamic) Soname() (string, error) {
	return d.str(DTSoname)
}

func (d *Dynamic) RPath() (string, error) {
	return d.str(DTRPath)
}

func (d *Dynamic) RunPath() (string, error) {
	return d.str(DTRunPath)
}

// VersionNeed is one GNU version requirement (verneed) record with its
// auxiliary entries.
type VersionNeed struct {
	File string
	Aux  []VersionNeedAux
}

type VersionNeedAux struct {
	Hash  uint32
	Flags uint16
	Other uint16
	Name  string
}

// VersionDef is one GNU version definition (verdef) record.
type VersionDef struct {
	Flags uint16
	Ndx   uint16
	Hash  uint32
	Names []string
}

type verneedFixed struct {
	Version uint16
	Cnt     uint16
	File    uint32
	Aux     uint32
	Next    uint32
}

type vernauxFixed struct {
	Hash  uint32
	Flags uint16
	Other uint16
	Name  uint32
	Next  uint32
}

type verdefFixed struct {
	Version uint16
	Flags   uint16
	Ndx     uint16
	Cnt     uint16
	Hash    uint32
	Aux     uint32
	Next    uint32
}

type verdauxFixed struct {
	Name uint32
	Next uint32
}

// capped walk lengths; the next-offset chains are attacker-controlled
const maxVersionRecords = 1 << 16

// VersionNeeds decodes the SHT_GNU_verneed chain.
func (f *File) VersionNeeds() ([]VersionNeed, error) {
	sec := f.sectionByType(SHTGNUVerneed)
	if sec == nil {
		return nil, errors.New("no gnu_verneed section")
	}
	strtab, err := f.linkedStrtab(sec)
	if err != nil {
		return nil, err
	}
	if _, err := f.buf.Bytes(sec.Off, sec.Size); err != nil {
		return nil, errors.Wrap(err, "verneed section out of range")
	}

	var out []VersionNeed
	off := sec.Off
	for n := 0; n < maxVersionRecords; n++ {
		var vn verneedFixed
		if err := f.cur.UnpackAt(off, &vn); err != nil {
			return nil, errors.Wrap(err, "truncated verneed record")
		}
		need := VersionNeed{}
		if need.File, err = strtab.Lookup(uint64(vn.File)); err != nil {
			return nil, err
		}
		auxOff := off + uint64(vn.Aux)
		for i := 0; i < int(vn.Cnt) && i < maxVersionRecords; i++ {
			var aux vernauxFixed
			if err := f.cur.UnpackAt(auxOff, &aux); err != nil {
				return nil, errors.Wrap(err, "truncated vernaux record")
			}
			name, err := strtab.Lookup(uint64(aux.Name))
			if err != nil {
				return nil, err
			}
			need.Aux = append(need.Aux, VersionNeedAux{
				Hash:  aux.Hash,
				Flags: aux.Flags,
				Other: aux.Other,
				Name:  name,
			})
			if aux.Next == 0 {
				break
			}
			auxOff += uint64(aux.Next)
		}
		out = append(out, need)
		if vn.Next == 0 {
			break
		}
		off += uint64(vn.Next)
	}
	return out, nil
}

// VersionDefs decodes the SHT_GNU_verdef chain.
func (f *File) VersionDefs() ([]VersionDef, error) {
	sec := f.sectionByType(SHTGNUVerdef)
	if sec == nil {
		return nil, errors.New("no gnu_verdef section")
	}
	strtab, err := f.linkedStrtab(sec)
	if err != nil {
		return nil, err
	}
	if _, err := f.buf.Bytes(sec.Off, sec.Size); err != nil {
		return nil, errors.Wrap(err, "verdef section out of range")
	}

	var out []VersionDef
	off := sec.Off
	for n := 0; n < maxVersionRecords; n++ {
		var vd verdefFixed
		if err := f.cur.UnpackAt(off, &vd); err != nil {
			return nil, errors.Wrap(err, "truncated verdef record")
		}
		def := VersionDef{Flags: vd.Flags, Ndx: vd.Ndx, Hash: vd.Hash}
		auxOff := off + uint64(vd.Aux)
		for i := 0; i < int(vd.Cnt) && i < maxVersionRecords; i++ {
			var aux verdauxFixed
			if err := f.cur.UnpackAt(auxOff, &aux); err != nil {
				return nil, errors.Wrap(err, "truncated verdaux record")
			}
			name, err := strtab.Lookup(uint64(aux.Name))
			if err != nil {
				return nil, err
			}
			def.Names = append(def.Names, name)
			if aux.Next == 0 {
				break
			}
			auxOff += uint64(aux.Next)
		}
		out = append(out, def)
		if vd.Next == 0 {
			break
		}
		off += uint64(vd.Next)
	}
	return out, nil
}
