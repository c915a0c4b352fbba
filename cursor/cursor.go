// Package cursor provides bounds-checked, endian- and width-aware reads
// over a caller-owned byte buffer. Every decoder in this module is built
// on it; nothing here ever copies or mutates the underlying bytes.
package cursor

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

// Width selects how many bytes an address/offset/size field occupies.
// It is fixed once per parsed object, from the format's identity bytes.
type Width int

const (
	W32 Width = 32
	W64 Width = 64
)

// WordSize returns the byte size of a native word for this width.
func (w Width) WordSize() uint64 {
	if w == W64 {
		return 8
	}
	return 4
}

func (w Width) String() string {
	if w == W64 {
		return "64-bit"
	}
	return "32-bit"
}

// Buffer is a borrowed, immutable view of raw bytes. Decoders hold one
// for their whole lifetime and hand out sub-slices of it; no structure
// may outlive the slice the caller passed in.
type Buffer struct {
	data []byte
}

func NewBuffer(p []byte) *Buffer {
	return &Buffer{data: p}
}

func (b *Buffer) Len() int {
	return len(b.data)
}

// check validates off+size against the buffer without risking overflow:
// both operands are compared against the length separately.
func (b *Buffer) check(off, size uint64) error {
	n := uint64(len(b.data))
	if off > n || size > n-off {
		return &BoundsError{Off: off, Size: size, Len: len(b.data)}
	}
	return nil
}

// Bytes returns a zero-copy sub-slice of the buffer.
func (b *Buffer) Bytes(off, size uint64) ([]byte, error) {
	if err := b.check(off, size); err != nil {
		return nil, err
	}
	return b.data[off : off+size], nil
}

func (b *Buffer) Uint8At(off uint64) (uint8, error) {
	if err := b.check(off, 1); err != nil {
		return 0, err
	}
	return b.data[off], nil
}

func (b *Buffer) Uint16At(off uint64, order binary.ByteOrder) (uint16, error) {
	p, err := b.Bytes(off, 2)
	if err != nil {
		return 0, err
	}
	return order.Uint16(p), nil
}

func (b *Buffer) Uint32At(off uint64, order binary.ByteOrder) (uint32, error) {
	p, err := b.Bytes(off, 4)
	if err != nil {
		return 0, err
	}
	return order.Uint32(p), nil
}

func (b *Buffer) Uint64At(off uint64, order binary.ByteOrder) (uint64, error) {
	p, err := b.Bytes(off, 8)
	if err != nil {
		return 0, err
	}
	return order.Uint64(p), nil
}

// CStringAt scans forward from off for a NUL terminator, reading at most
// max bytes. A missing terminator within the scan window is malformed.
func (b *Buffer) CStringAt(off uint64, max int) (string, error) {
	if err := b.check(off, 0); err != nil {
		return "", err
	}
	end := uint64(len(b.data))
	if lim := off + uint64(max); max > 0 && lim > off && lim < end {
		end = lim
	}
	window := b.data[off:end]
	i := bytes.IndexByte(window, 0)
	if i < 0 {
		return "", Malformedf("string", off, "no NUL terminator within %d bytes", len(window))
	}
	return string(window[:i]), nil
}

// Cursor is an offset into a Buffer plus the byte order and integer width
// discovered from the container's header. Reads advance the offset.
type Cursor struct {
	buf   *Buffer
	order binary.ByteOrder
	width Width
	off   uint64
}

func New(buf *Buffer, order binary.ByteOrder, width Width) *Cursor {
	return &Cursor{buf: buf, order: order, width: width}
}

// At returns an independent cursor over the same buffer positioned at off.
func (c *Cursor) At(off uint64) *Cursor {
	return &Cursor{buf: c.buf, order: c.order, width: c.width, off: off}
}

func (c *Cursor) Offset() uint64 {
	return c.off
}

func (c *Cursor) Order() binary.ByteOrder {
	return c.order
}

func (c *Cursor) Width() Width {
	return c.width
}

func (c *Cursor) Buffer() *Buffer {
	return c.buf
}

func (c *Cursor) Skip(n uint64) error {
	if err := c.buf.check(c.off, n); err != nil {
		return err
	}
	c.off += n
	return nil
}

func (c *Cursor) Uint8() (uint8, error) {
	v, err := c.buf.Uint8At(c.off)
	if err == nil {
		c.off++
	}
	return v, err
}

func (c *Cursor) Uint16() (uint16, error) {
	v, err := c.buf.Uint16At(c.off, c.order)
	if err == nil {
		c.off += 2
	}
	return v, err
}

func (c *Cursor) Uint32() (uint32, error) {
	v, err := c.buf.Uint32At(c.off, c.order)
	if err == nil {
		c.off += 4
	}
	return v, err
}

func (c *Cursor) Uint64() (uint64, error) {
	v, err := c.buf.Uint64At(c.off, c.order)
	if err == nil {
		c.off += 8
	}
	return v, err
}

// Word reads a width-sized integer: 4 bytes under W32 (zero-extended),
// 8 bytes under W64. Format decoders use this for every address, offset,
// and size field so one code path serves both widths.
func (c *Cursor) Word() (uint64, error) {
	if c.width == W64 {
		return c.Uint64()
	}
	v, err := c.Uint32()
	return uint64(v), err
}

func (c *Cursor) Bytes(n uint64) ([]byte, error) {
	p, err := c.buf.Bytes(c.off, n)
	if err == nil {
		c.off += n
	}
	return p, err
}

func (c *Cursor) CString(max int) (string, error) {
	s, err := c.buf.CStringAt(c.off, max)
	if err == nil {
		c.off += uint64(len(s)) + 1
	}
	return s, err
}

// Unpack decodes a fixed-layout record into v using the cursor's byte
// order and advances past it. v must be a pointer to a struct of
// fixed-size fields.
func (c *Cursor) Unpack(v interface{}) error {
	size, err := struc.Sizeof(v)
	if err != nil {
		return errors.Wrap(err, "struc.Sizeof() failed")
	}
	p, err := c.Bytes(uint64(size))
	if err != nil {
		return err
	}
	if err := struc.UnpackWithOrder(bytes.NewReader(p), v, c.order); err != nil {
		return errors.Wrap(err, "struc.Unpack() failed")
	}
	return nil
}

// UnpackAt is Unpack without moving the cursor.
func (c *Cursor) UnpackAt(off uint64, v interface{}) error {
	return c.At(off).Unpack(v)
}
