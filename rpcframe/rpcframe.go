/*Package rpcframe implements ONC RPC record marking (RFC 1831 section 10)
for streaming transports.

Over TCP, every RPC message is split into one or more fragments, each
prefixed with a 4-byte big-endian header whose high bit marks the last
fragment and whose low 31 bits carry the fragment's byte length. Over UDP a
whole message is exactly one datagram and needs no framing at all; callers
should use net.PacketConn directly for that path.
*/
package rpcframe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFragmentBytes bounds a single fragment's declared length. A header
// claiming more than this is treated as a hostile or corrupt stream and the
// connection is closed rather than trusted to allocate memory on our behalf.
const MaxFragmentBytes = 1 << 20 // 1 MiB

const lastFragmentBit = 0x80000000

// ErrFragmentTooLarge is returned when a fragment header declares a length
// beyond MaxFragmentBytes.
var ErrFragmentTooLarge = errors.New("rpcframe: fragment exceeds sanity bound")

// ReadFragmented reads one complete RPC message (one or more fragments) from
// r and returns the reassembled payload. It returns io.EOF only if the
// connection is closed before any bytes of a new message arrive; any other
// truncation mid-fragment is reported as a wrapped io.ErrUnexpectedEOF.
func ReadFragmented(r io.Reader) ([]byte, error) {
	var out []byte
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if len(out) == 0 && errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("rpcframe: reading fragment header: %w", err)
		}
		word := binary.BigEndian.Uint32(hdr[:])
		last := word&lastFragmentBit != 0
		length := word &^ lastFragmentBit
		if length > MaxFragmentBytes {
			return nil, ErrFragmentTooLarge
		}
		frag := make([]byte, length)
		if _, err := io.ReadFull(r, frag); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("rpcframe: reading fragment body: %w", err)
		}
		out = append(out, frag...)
		if last {
			return out, nil
		}
	}
}

// WriteFragment writes payload as a single, final RPC fragment.
func WriteFragment(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload))|lastFragmentBit)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("rpcframe: writing fragment header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("rpcframe: writing fragment body: %w", err)
	}
	return nil
}
