package elf

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/objtk/objview/cursor"
)

// buildVersionedElf produces an image whose only payload is the GNU
// version tables: .dynstr, a two-record .gnu.version_r chain and a
// .gnu.version_d with two names.
func buildVersionedElf(order binary.ByteOrder, width cursor.Width) []byte {
	w := &testWriter{order: order, width: width}

	class := uint8(class32)
	ehsize := uint16(52)
	shentsize := uint16(40)
	if width == cursor.W64 {
		class = class64
		ehsize = 64
		shentsize = 64
	}
	encoding := uint8(data2LSB)
	if order == binary.BigEndian {
		encoding = data2MSB
	}

	w.raw(Magic)
	w.u8(class)
	w.u8(encoding)
	w.u8(1)
	w.u8(0)
	w.u8(0)
	w.raw(make([]byte, 7))

	w.u16(uint16(TypeDyn))
	w.u16(uint16(MachineX86_64))
	w.u32(1)
	w.word(0) // entry
	w.word(0) // phoff
	w.word(0) // shoff patched at the end
	w.u32(0)
	w.u16(ehsize)
	w.u16(0) // phentsize
	w.u16(0) // phnum
	w.u16(shentsize)
	w.u16(5) // shnum
	w.u16(4) // shstrndx

	// .dynstr
	dynstrOff := w.off()
	dynstr := []byte("\x00libc.so.6\x00libm.so.6\x00GLIBC_2.2.5\x00GLIBC_2.34\x00VERS_1\x00VERS_2\x00")
	w.raw(dynstr)

	// .gnu.version_r: libc.so.6 with two aux entries, then libm.so.6
	verneedOff := w.off()
	w.u16(1)  // version
	w.u16(2)  // cnt
	w.u32(1)  // file: libc.so.6
	w.u32(16) // aux
	w.u32(48) // next
	w.u32(0x09691a75)
	w.u16(0)
	w.u16(2)
	w.u32(21) // GLIBC_2.2.5
	w.u32(16)
	w.u32(0x0963cf85)
	w.u16(0)
	w.u16(3)
	w.u32(33) // GLIBC_2.34
	w.u32(0)
	w.u16(1)  // version
	w.u16(1)  // cnt
	w.u32(11) // file: libm.so.6
	w.u32(16) // aux
	w.u32(0)  // next
	w.u32(0x09691a75)
	w.u16(0)
	w.u16(4)
	w.u32(21) // GLIBC_2.2.5
	w.u32(0)
	verneedSize := w.off() - verneedOff

	// .gnu.version_d: one definition carrying two names
	verdefOff := w.off()
	w.u16(1)          // version
	w.u16(1)          // flags: BASE
	w.u16(1)          // ndx
	w.u16(2)          // cnt
	w.u32(0x0a0b0c0d) // hash
	w.u32(20)         // aux
	w.u32(0)          // next
	w.u32(44)         // VERS_1
	w.u32(8)
	w.u32(51) // VERS_2
	w.u32(0)
	verdefSize := w.off() - verdefOff

	shstrtabOff := w.off()
	shstrtab := []byte("\x00.dynstr\x00.gnu.version_r\x00.gnu.version_d\x00.shstrtab\x00")
	w.raw(shstrtab)

	shoff := w.off()
	w.shdr(shdr{})
	w.shdr(shdr{name: 1, typ: uint32(SHTStrtab), off: dynstrOff, size: uint64(len(dynstr))})
	w.shdr(shdr{name: 9, typ: uint32(SHTGNUVerneed), off: verneedOff, size: verneedSize,
		link: 1, info: 2})
	w.shdr(shdr{name: 24, typ: uint32(SHTGNUVerdef), off: verdefOff, size: verdefSize,
		link: 1, info: 1})
	w.shdr(shdr{name: 39, typ: uint32(SHTStrtab), off: shstrtabOff, size: uint64(len(shstrtab))})

	p := w.buf.Bytes()
	shoffField := identSize + 2 + 2 + 4 + width.WordSize() + width.WordSize()
	if width == cursor.W64 {
		order.PutUint64(p[shoffField:], shoff)
	} else {
		order.PutUint32(p[shoffField:], uint32(shoff))
	}
	return p
}

func TestVersionNeeds(t *testing.T) {
	for _, m := range matrix {
		t.Run(m.name, func(t *testing.T) {
			f, err := New(buildVersionedElf(m.order, m.width))
			require.NoError(t, err)

			needs, err := f.VersionNeeds()
			require.NoError(t, err)
			require.Len(t, needs, 2)

			require.Equal(t, "libc.so.6", needs[0].File)
			require.Len(t, needs[0].Aux, 2)
			require.Equal(t, "GLIBC_2.2.5", needs[0].Aux[0].Name)
			require.Equal(t, uint32(0x09691a75), needs[0].Aux[0].Hash)
			require.Equal(t, uint16(2), needs[0].Aux[0].Other)
			require.Equal(t, "GLIBC_2.34", needs[0].Aux[1].Name)

			require.Equal(t, "libm.so.6", needs[1].File)
			require.Len(t, needs[1].Aux, 1)
			require.Equal(t, "GLIBC_2.2.5", needs[1].Aux[0].Name)
		})
	}
}

func TestVersionDefs(t *testing.T) {
	for _, m := range matrix {
		f, err := New(buildVersionedElf(m.order, m.width))
		require.NoError(t, err)

		defs, err := f.VersionDefs()
		require.NoError(t, err)
		require.Len(t, defs, 1)
		require.Equal(t, uint16(1), defs[0].Flags)
		require.Equal(t, uint16(1), defs[0].Ndx)
		require.Equal(t, uint32(0x0a0b0c0d), defs[0].Hash)
		require.Equal(t, []string{"VERS_1", "VERS_2"}, defs[0].Names)
	}
}

func TestVersionTablesAbsent(t *testing.T) {
	f, err := New(buildElf(binary.LittleEndian, cursor.W64))
	require.NoError(t, err)
	_, err = f.VersionNeeds()
	require.Error(t, err)
	_, err = f.VersionDefs()
	require.Error(t, err)
}

// The version chains follow attacker-controlled next offsets; truncating
// the image anywhere must fail cleanly, never panic.
func TestVersionTruncationSweep(t *testing.T) {
	full := buildVersionedElf(binary.LittleEndian, cursor.W64)
	for n := 0; n < len(full); n++ {
		f, err := New(full[:n])
		if err != nil {
			continue
		}
		f.VersionNeeds()
		f.VersionDefs()
	}
}

// Zeroing a record's next field cuts the chain there; the walk must
// stop cleanly with the records seen so far.
func TestVersionNeedChainCut(t *testing.T) {
	p := buildVersionedElf(binary.LittleEndian, cursor.W64)
	f, err := New(p)
	require.NoError(t, err)
	sec := f.sectionByType(SHTGNUVerneed)
	require.NotNil(t, sec)

	// point the first record's next field back at itself
	binary.LittleEndian.PutUint32(p[sec.Off+12:], 0)
	f2, err := New(p)
	require.NoError(t, err)
	needs, err := f2.VersionNeeds()
	require.NoError(t, err)
	require.Len(t, needs, 1)
}
