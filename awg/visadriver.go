package awg

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

// VISADriver speaks line-oriented SCPI over a VISA-style resource: either a
// raw TCP socket ("TCPIP::host::port::SOCKET", the common case for a
// network-attached AWG like the dg800 family) or a USBTMC device
// ("USB::vid::pid::INSTR", for utg1000x-class generators with no LAN
// interface). Past resolving the resource string and opening the transport,
// it sends the same ASCII command strings as SerialDriver under the same
// Connect/Disconnect/Set* contract, each terminated by a single '\n' and
// never carrying a checksum.
//
// Grounded on the teacher's comm.RemoteDevice for the TCP path (same
// backoff.Retry reconnect policy) and on usbtmc.USBDevice (reworked into
// this package's usbtmc.go) for the USBTMC path.
type VISADriver struct {
	Resource string

	transport io.ReadWriteCloser
	open      func() (io.ReadWriteCloser, error)
}

// NewVISADriver builds a Driver for a VISA resource string. baud is accepted
// to satisfy Constructor's signature and ignored; VISA transports have no
// baud rate of their own.
func NewVISADriver(resource string, baud int) (Driver, error) {
	d := &VISADriver{Resource: resource}
	open, err := resolveVISAOpener(resource)
	if err != nil {
		return nil, err
	}
	d.open = open
	return d, nil
}

// resolveVISAOpener parses a VISA resource string into an opener function
// for the transport it names.
func resolveVISAOpener(resource string) (func() (io.ReadWriteCloser, error), error) {
	parts := strings.Split(resource, "::")
	if len(parts) < 3 {
		return nil, fmt.Errorf("awg: malformed VISA resource %q", resource)
	}
	switch strings.ToUpper(parts[0]) {
	case "TCPIP":
		host := parts[1]
		port := "5025"
		if len(parts) >= 3 && parts[2] != "SOCKET" {
			port = parts[2]
		}
		addr := net.JoinHostPort(host, port)
		return func() (io.ReadWriteCloser, error) {
			return net.DialTimeout("tcp", addr, 2*time.Second)
		}, nil

	case "USB":
		vid, err := parseHex16(parts[1])
		if err != nil {
			return nil, fmt.Errorf("awg: VISA resource %q: %w", resource, err)
		}
		pid, err := parseHex16(parts[2])
		if err != nil {
			return nil, fmt.Errorf("awg: VISA resource %q: %w", resource, err)
		}
		return func() (io.ReadWriteCloser, error) {
			return OpenUSBTMC(vid, pid)
		}, nil

	default:
		return nil, fmt.Errorf("awg: unsupported VISA resource type %q", parts[0])
	}
}

func parseHex16(tok string) (uint16, error) {
	tok = strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
	v, err := strconv.ParseUint(tok, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// Connect opens the resource, retrying with exponential backoff the way
// SerialDriver and the teacher's comm.RemoteDevice.Open both do — a
// network-attached AWG can take a moment to accept connections after power-on.
func (d *VISADriver) Connect() error {
	var lastErr error
	op := func() error {
		t, err := d.open()
		if err != nil {
			lastErr = err
			return err
		}
		d.transport = t
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      5 * time.Second,
		Clock:               backoff.SystemClock,
	})
	if err != nil {
		return NewDriverError("connect", lastErr)
	}
	return nil
}

// Disconnect closes the transport, if open.
func (d *VISADriver) Disconnect() error {
	if d.transport == nil {
		return nil
	}
	err := d.transport.Close()
	d.transport = nil
	if err != nil {
		return NewDriverError("disconnect", err)
	}
	return nil
}

func (d *VISADriver) send(cmd string) error {
	if d.transport == nil {
		return NewDriverError("send", fmt.Errorf("not connected"))
	}
	if _, err := d.transport.Write([]byte(cmd + "\n")); err != nil {
		return NewDriverError("send", err)
	}
	return nil
}

func (d *VISADriver) InitializeChannel(ch int) error {
	if err := d.SetOutputOn(ch, false); err != nil {
		return err
	}
	if err := d.SetWaveformType(ch, Sine); err != nil {
		return err
	}
	if err := d.SetFrequency(ch, 1000); err != nil {
		return err
	}
	if err := d.SetAmplitude(ch, 0); err != nil {
		return err
	}
	if err := d.SetOffset(ch, 0); err != nil {
		return err
	}
	return d.SetPhase(ch, 0)
}

func (d *VISADriver) SetOutputLoad(ch int, load OutputLoad) error {
	z := "50"
	if load == LoadHighZ {
		z = "HZ"
	}
	return d.send(fmt.Sprintf("C%d:LOAD %s", ch, z))
}

func (d *VISADriver) SetOutputOn(ch int, enabled bool) error {
	state := "OFF"
	if enabled {
		state = "ON"
	}
	return d.send(fmt.Sprintf("C%d:OUT %s", ch, state))
}

func (d *VISADriver) SetWaveformType(ch int, wf WaveformType) error {
	return d.send(fmt.Sprintf("C%d:WAVE %s", ch, wf))
}

func (d *VISADriver) SetFrequency(ch int, hz float64) error {
	return d.send(fmt.Sprintf("C%d:FREQ %f", ch, hz))
}

func (d *VISADriver) SetAmplitude(ch int, vpp float64) error {
	return d.send(fmt.Sprintf("C%d:AMPL %f", ch, vpp))
}

func (d *VISADriver) SetOffset(ch int, volts float64) error {
	return d.send(fmt.Sprintf("C%d:OFST %f", ch, volts))
}

func (d *VISADriver) SetPhase(ch int, deg float64) error {
	return d.send(fmt.Sprintf("C%d:PHSE %f", ch, deg))
}
