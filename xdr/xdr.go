/*Package xdr implements the small subset of RFC 4506 External Data
Representation needed to speak ONC RPC (RFC 1831) and VXI-11 to a Siglent
oscilloscope: big-endian 32-bit integers, booleans as 32-bit integers, and
variable/fixed-length opaque byte strings.

It does no allocation policy beyond what the caller's buffer dictates; it
is a pair of cursors (Encoder, Decoder) over a byte slice, not a reflection
based marshaller.
*/
package xdr

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrDecode is wrapped by every error a Decoder returns.
var ErrDecode = errors.New("xdr: decode error")

// DecodeError reports a malformed or truncated XDR value.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("xdr: %s: %s", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return ErrDecode }

func decodeErrorf(op, format string, args ...interface{}) error {
	return &DecodeError{Op: op, Err: fmt.Errorf(format, args...)}
}

// Encoder appends XDR-encoded values to an internal buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with its internal buffer pre-sized to hint.
func NewEncoder(hint int) *Encoder {
	return &Encoder{buf: make([]byte, 0, hint)}
}

// Bytes returns the bytes encoded so far.
func (e *Encoder) Bytes() []byte { return e.buf }

// PutU32 appends a big-endian unsigned 32-bit integer.
func (e *Encoder) PutU32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

// PutI32 appends a big-endian signed 32-bit integer.
func (e *Encoder) PutI32(v int32) {
	e.PutU32(uint32(v))
}

// PutBool appends a boolean encoded as a 32-bit integer, 1 for true.
func (e *Encoder) PutBool(v bool) {
	if v {
		e.PutU32(1)
	} else {
		e.PutU32(0)
	}
}

// PutFixedOpaque appends raw bytes zero-padded to a multiple of 4, with no
// length prefix. The caller is responsible for knowing the fixed length.
func (e *Encoder) PutFixedOpaque(b []byte) {
	e.buf = append(e.buf, b...)
	if pad := padLen(len(b)); pad > 0 {
		e.buf = append(e.buf, make([]byte, pad)...)
	}
}

// PutOpaque appends a 4-byte length prefix followed by b, zero-padded to a
// multiple of 4 bytes.
func (e *Encoder) PutOpaque(b []byte) {
	e.PutU32(uint32(len(b)))
	e.PutFixedOpaque(b)
}

// PutString appends s using the same representation as PutOpaque.
func (e *Encoder) PutString(s string) {
	e.PutOpaque([]byte(s))
}

// Decoder is a read cursor over an XDR-encoded byte slice.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder wraps buf for sequential XDR decoding.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining returns the number of undecoded bytes left in the buffer.
func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

// GetU32 decodes a big-endian unsigned 32-bit integer.
func (d *Decoder) GetU32() (uint32, error) {
	if d.Remaining() < 4 {
		return 0, decodeErrorf("GetU32", "need 4 bytes, have %d", d.Remaining())
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos : d.pos+4])
	d.pos += 4
	return v, nil
}

// GetI32 decodes a big-endian signed 32-bit integer.
func (d *Decoder) GetI32() (int32, error) {
	v, err := d.GetU32()
	return int32(v), err
}

// GetBool decodes a 32-bit integer as a boolean; any nonzero value is true.
func (d *Decoder) GetBool() (bool, error) {
	v, err := d.GetU32()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// GetFixedOpaque decodes n raw bytes with no length prefix, consuming the
// zero padding up to the next multiple of 4.
func (d *Decoder) GetFixedOpaque(n int) ([]byte, error) {
	if n < 0 {
		return nil, decodeErrorf("GetFixedOpaque", "negative length %d", n)
	}
	total := n + padLen(n)
	if d.Remaining() < total {
		return nil, decodeErrorf("GetFixedOpaque", "need %d bytes, have %d", total, d.Remaining())
	}
	out := make([]byte, n)
	copy(out, d.buf[d.pos:d.pos+n])
	d.pos += total
	return out, nil
}

// GetOpaque decodes a 4-byte length prefix followed by that many bytes, plus
// zero padding to a multiple of 4.
func (d *Decoder) GetOpaque() ([]byte, error) {
	n, err := d.GetU32()
	if err != nil {
		return nil, err
	}
	if int64(n) > int64(d.Remaining()) {
		return nil, decodeErrorf("GetOpaque", "length %d exceeds remaining %d bytes", n, d.Remaining())
	}
	return d.GetFixedOpaque(int(n))
}

// GetString decodes a string using the same representation as GetOpaque.
func (d *Decoder) GetString() (string, error) {
	b, err := d.GetOpaque()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// padLen returns the number of zero bytes needed to round n up to a
// multiple of 4.
func padLen(n int) int {
	if r := n % 4; r != 0 {
		return 4 - r
	}
	return 0
}
