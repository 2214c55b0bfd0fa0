package awg

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/gousb"
)

// usbtmcTag hands out the rolling bTag values the USBTMC standard requires
// on every bulk transfer header (table 1 offset 1), one higher each time and
// wrapping below 1 rather than 0.
//
// Grounded on the teacher's usbtmc package (usbtmc/usbtmc.go), rewritten here
// as the minimal two-method piece visadriver actually needs: building a
// DEV_DEP_MSG_OUT header to send a SCPI command, and a REQUEST_DEV_DEP_MSG_IN
// header to ask for a reply. Multi-packet messages and ping-pong for
// oversized transfers are intentionally not handled, per the teacher
// package's own documented scope, which this system's single-short-SCPI-line
// usage never exceeds.
type usbtmcTag struct {
	mu  sync.Mutex
	val byte
}

func newUSBTMCTag() *usbtmcTag {
	return &usbtmcTag{val: 1}
}

func (t *usbtmcTag) next() byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.val++
	if t.val == 0 {
		t.val = 1
	}
	return t.val
}

const usbtmcMsgOut = 0x01
const usbtmcMsgInRequest = 0x02

// usbtmcOutHeader builds the 12-byte DEV_DEP_MSG_OUT header (USBTMC table 3).
func usbtmcOutHeader(tag *usbtmcTag, payloadLen int) [12]byte {
	var hdr [12]byte
	b := tag.next()
	hdr[0] = usbtmcMsgOut
	hdr[1] = b
	hdr[2] = b ^ 0xff
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(payloadLen))
	hdr[8] = 0x01 // end of message
	return hdr
}

// usbtmcInHeader builds the 12-byte REQUEST_DEV_DEP_MSG_IN header (USBTMC
// table 4), requesting up to bufSize bytes terminated on '\n'.
func usbtmcInHeader(tag *usbtmcTag, bufSize int) [12]byte {
	var hdr [12]byte
	b := tag.next()
	hdr[0] = usbtmcMsgInRequest
	hdr[1] = b
	hdr[2] = b ^ 0xff
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(bufSize))
	hdr[8] = 0x02 // use termination character
	hdr[9] = '\n'
	return hdr
}

// USBTMCTransport is a VISA-style transport over a USB Test & Measurement
// Class device, used by visadriver for instruments reached over USB rather
// than serial or raw TCP (e.g. dg800/utg1000x-class generators).
type USBTMCTransport struct {
	tag    *usbtmcTag
	device *gousb.Device
	iface  *gousb.Interface
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	release func()
}

// OpenUSBTMC opens the first USBTMC interface of the device identified by
// vid:pid (e.g. "0xF4EC:0xEE38").
func OpenUSBTMC(vid, pid uint16) (*USBTMCTransport, error) {
	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		return nil, fmt.Errorf("awg: open usbtmc device: %w", err)
	}
	if dev == nil {
		return nil, fmt.Errorf("awg: no usbtmc device matching %04x:%04x", vid, pid)
	}
	if err := dev.SetAutoDetach(true); err != nil {
		return nil, fmt.Errorf("awg: usbtmc auto-detach: %w", err)
	}
	iface, release, err := dev.DefaultInterface()
	if err != nil {
		return nil, fmt.Errorf("awg: usbtmc claim interface: %w", err)
	}
	in, err := iface.InEndpoint(2)
	if err != nil {
		release()
		return nil, fmt.Errorf("awg: usbtmc in endpoint: %w", err)
	}
	out, err := iface.OutEndpoint(2)
	if err != nil {
		release()
		return nil, fmt.Errorf("awg: usbtmc out endpoint: %w", err)
	}
	return &USBTMCTransport{
		tag:     newUSBTMCTag(),
		device:  dev,
		iface:   iface,
		in:      in,
		out:     out,
		release: release,
	}, nil
}

// Write sends one SCPI command as a single DEV_DEP_MSG_OUT bulk transfer.
func (t *USBTMCTransport) Write(b []byte) (int, error) {
	hdr := usbtmcOutHeader(t.tag, len(b))
	frame := append(hdr[:], b...)
	if pad := (4 - len(frame)%4) % 4; pad > 0 {
		frame = append(frame, make([]byte, pad)...)
	}
	if _, err := t.out.Write(frame); err != nil {
		return 0, fmt.Errorf("awg: usbtmc write: %w", err)
	}
	return len(b), nil
}

// Read requests and returns one reply, stripping the 12-byte USBTMC header.
func (t *USBTMCTransport) Read(buf []byte) (int, error) {
	hdr := usbtmcInHeader(t.tag, len(buf))
	if _, err := t.out.Write(hdr[:]); err != nil {
		return 0, fmt.Errorf("awg: usbtmc read request: %w", err)
	}
	raw := make([]byte, len(buf)+12)
	n, err := t.in.Read(raw)
	if err != nil {
		return 0, fmt.Errorf("awg: usbtmc read: %w", err)
	}
	if n < 12 {
		return 0, fmt.Errorf("awg: usbtmc short read, %d bytes", n)
	}
	copy(buf, raw[12:n])
	return n - 12, nil
}

// Close releases the USB interface and closes the device.
func (t *USBTMCTransport) Close() error {
	t.release()
	return t.device.Close()
}
