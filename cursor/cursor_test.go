package cursor

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferBounds(t *testing.T) {
	b := NewBuffer([]byte{1, 2, 3, 4})

	p, err := b.Bytes(1, 3)
	require.NoError(t, err)
	require.Equal(t, []byte{2, 3, 4}, p)

	_, err = b.Bytes(1, 4)
	require.True(t, IsBounds(err))
	_, err = b.Bytes(5, 0)
	require.True(t, IsBounds(err))

	// zero-length reads at the very end are fine
	p, err = b.Bytes(4, 0)
	require.NoError(t, err)
	require.Len(t, p, 0)
}

func TestBufferOverflow(t *testing.T) {
	b := NewBuffer(make([]byte, 16))
	// off+size wraps around; the check must not
	_, err := b.Bytes(8, math.MaxUint64-4)
	require.True(t, IsBounds(err))
	_, err = b.Bytes(math.MaxUint64, 2)
	require.True(t, IsBounds(err))
}

func TestBufferScalars(t *testing.T) {
	b := NewBuffer([]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88})

	v8, err := b.Uint8At(0)
	require.NoError(t, err)
	require.Equal(t, uint8(0x11), v8)

	v16, err := b.Uint16At(0, binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, uint16(0x2211), v16)

	v32, err := b.Uint32At(0, binary.BigEndian)
	require.NoError(t, err)
	require.Equal(t, uint32(0x11223344), v32)

	v64, err := b.Uint64At(0, binary.LittleEndian)
	require.NoError(t, err)
	require.Equal(t, uint64(0x8877665544332211), v64)

	_, err = b.Uint64At(1, binary.LittleEndian)
	require.True(t, IsBounds(err))
}

func TestCString(t *testing.T) {
	b := NewBuffer([]byte("abc\x00def"))

	s, err := b.CStringAt(0, 0)
	require.NoError(t, err)
	require.Equal(t, "abc", s)

	s, err = b.CStringAt(4, 0)
	require.Error(t, err)
	require.True(t, IsMalformed(err))

	// max caps the scan window before the terminator
	_, err = b.CStringAt(0, 2)
	require.True(t, IsMalformed(err))

	_, err = b.CStringAt(100, 0)
	require.True(t, IsBounds(err))
}

func TestCursorReads(t *testing.T) {
	b := NewBuffer([]byte{
		0xaa,
		0x01, 0x02,
		0x03, 0x04, 0x05, 0x06,
		0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e,
	})
	c := New(b, binary.LittleEndian, W64)

	v8, err := c.Uint8()
	require.NoError(t, err)
	require.Equal(t, uint8(0xaa), v8)

	v16, err := c.Uint16()
	require.NoError(t, err)
	require.Equal(t, uint16(0x0201), v16)

	v32, err := c.Uint32()
	require.NoError(t, err)
	require.Equal(t, uint32(0x06050403), v32)

	v64, err := c.Uint64()
	require.NoError(t, err)
	require.Equal(t, uint64(0x0e0d0c0b0a090807), v64)
	require.Equal(t, uint64(15), c.Offset())

	// cursor does not move past a failed read
	_, err = c.Uint8()
	require.True(t, IsBounds(err))
	require.Equal(t, uint64(15), c.Offset())
}

func TestWord(t *testing.T) {
	b := NewBuffer([]byte{1, 0, 0, 0, 0, 0, 0, 0})

	v, err := New(b, binary.LittleEndian, W32).Word()
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)

	v, err = New(b, binary.LittleEndian, W64).Word()
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)

	require.Equal(t, uint64(4), W32.WordSize())
	require.Equal(t, uint64(8), W64.WordSize())
}

func TestAtIsIndependent(t *testing.T) {
	b := NewBuffer([]byte{1, 2, 3, 4})
	c := New(b, binary.BigEndian, W32)

	d := c.At(2)
	v, err := d.Uint8()
	require.NoError(t, err)
	require.Equal(t, uint8(3), v)
	require.Equal(t, uint64(0), c.Offset())
	require.Equal(t, binary.BigEndian, d.Order())
	require.Equal(t, W32, d.Width())
}

func TestSkip(t *testing.T) {
	c := New(NewBuffer(make([]byte, 4)), binary.LittleEndian, W32)
	require.NoError(t, c.Skip(3))
	require.Equal(t, uint64(3), c.Offset())
	require.True(t, IsBounds(c.Skip(2)))
	require.Equal(t, uint64(3), c.Offset())
}

func TestUnpack(t *testing.T) {
	type rec struct {
		A uint16
		B uint32
	}
	b := NewBuffer([]byte{0x12, 0x34, 0xde, 0xad, 0xbe, 0xef, 0xff})

	var r rec
	c := New(b, binary.BigEndian, W32)
	require.NoError(t, c.Unpack(&r))
	require.Equal(t, uint16(0x1234), r.A)
	require.Equal(t, uint32(0xdeadbeef), r.B)
	require.Equal(t, uint64(6), c.Offset())

	// record larger than the remaining bytes
	require.True(t, IsBounds(c.Unpack(&r)))

	// UnpackAt leaves the cursor alone
	var r2 rec
	require.NoError(t, c.UnpackAt(0, &r2))
	require.Equal(t, r, r2)
	require.Equal(t, uint64(6), c.Offset())
}

func TestErrorPredicates(t *testing.T) {
	require.True(t, IsMalformed(Malformedf("header", 4, "bad field")))
	require.False(t, IsMalformed(nil))
	require.False(t, IsBounds(nil))
	require.False(t, IsUnsupported(nil))
	require.True(t, IsUnsupported(&UnsupportedError{What: "load command"}))
	require.Contains(t, (&BoundsError{Off: 4, Size: 2, Len: 5}).Error(), "4")
}
