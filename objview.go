// Package objview identifies and decodes executable container formats
// from an in-memory buffer: ELF, Mach-O (including universal binaries),
// PE, and Unix archives. Detection is a pure classification over magic
// bytes; decoding borrows the caller's buffer and copies nothing.
package objview

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/objtk/objview/ar"
	"github.com/objtk/objview/cursor"
	"github.com/objtk/objview/elf"
	"github.com/objtk/objview/logflags"
	"github.com/objtk/objview/macho"
	"github.com/objtk/objview/pe"
)

// Format tags the container format of a buffer.
type Format int

const (
	FormatUnknown Format = iota
	FormatElf
	FormatMachO
	FormatPE
	FormatArchive
)

func (f Format) String() string {
	switch f {
	case FormatElf:
		return "elf"
	case FormatMachO:
		return "mach-o"
	case FormatPE:
		return "pe"
	case FormatArchive:
		return "archive"
	}
	return "unknown"
}

// Detect classifies a buffer by its leading magic bytes. It is total:
// a buffer shorter than any magic, or matching none, is FormatUnknown,
// and no error is ever raised.
func Detect(p []byte) Format {
	var f Format
	switch {
	case elf.Match(p):
		f = FormatElf
	case macho.Match(p):
		f = FormatMachO
	case pe.Match(p):
		f = FormatPE
	case ar.Match(p):
		f = FormatArchive
	}
	if logflags.Detect() {
		logflags.DetectLogger().Debugf("detected %s in %d-byte buffer", f, len(p))
	}
	return f
}

// Any is the unified view over a parsed buffer: exactly one variant is
// populated, matching Format. A FAT Mach-O populates MachOFat instead
// of MachO.
type Any struct {
	Format Format

	Elf      *elf.File
	MachO    *macho.File
	MachOFat *macho.FatFile
	PE       *pe.File
	Archive  *Archive
}

// Options restricts which decoders Parse will run.
type Options struct {
	// Formats lists the formats to recognize; empty means all.
	Formats []Format
}

func (o *Options) enabled(f Format) bool {
	if len(o.Formats) == 0 {
		return true
	}
	for _, e := range o.Formats {
		if e == f {
			return true
		}
	}
	return false
}

// Parse detects the buffer's format and decodes it. An unrecognized
// buffer yields the Unknown variant, not an error; a recognized format
// with a malformed header yields an error and no partial result.
func Parse(p []byte) (*Any, error) {
	return ParseWith(p, Options{})
}

// ParseWith is Parse restricted to the formats enabled in opts.
func ParseWith(p []byte, opts Options) (*Any, error) {
	format := Detect(p)
	if format != FormatUnknown && !opts.enabled(format) {
		format = FormatUnknown
	}

	out := &Any{Format: format}
	switch format {
	case FormatElf:
		f, err := elf.New(p)
		if err != nil {
			return nil, err
		}
		out.Elf = f

	case FormatMachO:
		if macho.MatchFat(p) {
			f, err := macho.NewFat(p)
			if err != nil {
				return nil, err
			}
			out.MachOFat = f
			break
		}
		f, err := macho.New(p)
		if err != nil {
			return nil, err
		}
		out.MachO = f

	case FormatPE:
		f, err := pe.New(p)
		if err != nil {
			return nil, err
		}
		out.PE = f

	case FormatArchive:
		f, err := ar.New(p)
		if err != nil {
			return nil, err
		}
		cache, err := lru.New(archiveCacheSize)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		out.Archive = &Archive{File: f, cache: cache, opts: opts}
	}
	return out, nil
}

// number of parsed member objects kept alive per archive
const archiveCacheSize = 16

// Archive wraps the archive index with recursive dispatch: any member
// can be re-parsed as a full object through the same detector, decoded
// only when asked for and cached afterwards.
type Archive struct {
	*ar.File

	cache *lru.Cache
	opts  Options
}

// Object parses member i as an object file. A member holding none of
// the supported formats comes back as the Unknown variant, not an error.
func (a *Archive) Object(i int) (*Any, error) {
	if i < 0 || i >= len(a.Members) {
		return nil, cursor.Malformedf("archive index", 0, "member %d out of %d", i, len(a.Members))
	}
	if v, ok := a.cache.Get(i); ok {
		return v.(*Any), nil
	}
	body, err := a.Members[i].Data()
	if err != nil {
		return nil, err
	}
	obj, err := ParseWith(body, a.opts)
	if err != nil {
		return nil, errors.Wrapf(err, "archive member %q", a.Members[i].Name)
	}
	a.cache.Add(i, obj)
	return obj, nil
}

// ObjectByName is Object addressed by member name.
func (a *Archive) ObjectByName(name string) (*Any, error) {
	for i, m := range a.Members {
		if m.Name == name {
			return a.Object(i)
		}
	}
	return nil, errors.Errorf("no archive member %q", name)
}
