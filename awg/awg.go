/*Package awg defines the abstract operation interface the SCPI dispatcher
requires of a physical arbitrary waveform generator, and the per-channel
state model the dispatcher mutates on that driver's behalf.

Concrete drivers (serialdriver, visadriver, and the dummy driver below) are
the external collaborators spec.md calls out: this package defines only the
narrow contract the core needs from them.
*/
package awg

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDriver is wrapped by every error a Driver implementation returns for a
// transport failure. The dispatcher logs and continues rather than
// propagating these over VXI-11 (spec.md §7).
var ErrDriver = errors.New("awg: driver error")

// DriverError wraps a transport failure from a concrete Driver.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("awg: %s: %s", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error { return ErrDriver }

// NewDriverError wraps err as a DriverError for operation op.
func NewDriverError(op string, err error) error {
	return &DriverError{Op: op, Err: err}
}

// WaveformType enumerates the waveform shapes the Bode-sweep vocabulary can
// select (spec.md §3).
type WaveformType int

// Waveform types, matching the BSWV WVTP argument set.
const (
	Sine WaveformType = iota
	Square
	Ramp
	Pulse
	Noise
	DC
	Arb
)

var waveformNames = map[WaveformType]string{
	Sine:   "SINE",
	Square: "SQUARE",
	Ramp:   "RAMP",
	Pulse:  "PULSE",
	Noise:  "NOISE",
	DC:     "DC",
	Arb:    "ARB",
}

// String renders the SCPI-dialect name of a waveform type.
func (w WaveformType) String() string {
	if s, ok := waveformNames[w]; ok {
		return s
	}
	return "SINE"
}

// ParseWaveformType maps a BSWV WVTP token (already uppercased) to a
// WaveformType, or reports ok=false for anything unrecognized.
func ParseWaveformType(token string) (WaveformType, bool) {
	for w, name := range waveformNames {
		if name == token {
			return w, true
		}
	}
	return Sine, false
}

// OutputLoad enumerates the two load impedances the scope's OUTP LOAD
// command can select.
type OutputLoad int

const (
	// Load50Ohm is a 50 ohm terminated output.
	Load50Ohm OutputLoad = iota
	// LoadHighZ is a high-impedance (unterminated) output.
	LoadHighZ
)

// Channel holds the full vendor-neutral state of one AWG channel
// (spec.md §3). Channels are 1-indexed by convention of the driver contract
// below; ChannelBank keys its map by that channel number.
type Channel struct {
	Waveform   WaveformType
	FrequencyHz float64
	AmplitudeVpp float64
	OffsetV     float64
	PhaseDeg    float64
	Load        OutputLoad
	OutputOn    bool
}

// defaultChannel is the vendor-neutral default state every channel starts
// in at process startup (spec.md §3).
func defaultChannel() Channel {
	return Channel{
		Waveform:     Sine,
		FrequencyHz:  1000,
		AmplitudeVpp: 0,
		OffsetV:      0,
		PhaseDeg:     0,
		Load:         LoadHighZ,
		OutputOn:     false,
	}
}

// ChannelBank holds the state of every channel the dispatcher has touched,
// 1-indexed. Channels are created lazily with default state on first
// reference, matching the "channel defaults to 1 when no prefix" rule and
// avoiding any fixed channel-count assumption in the core. The map itself is
// mutex-guarded since diagsrv's HTTP handlers read it from a goroutine
// separate from the one the dispatcher mutates it from.
type ChannelBank struct {
	mu       sync.Mutex
	channels map[int]*Channel
}

// NewChannelBank creates an empty bank; channels materialize on first use.
func NewChannelBank() *ChannelBank {
	return &ChannelBank{channels: make(map[int]*Channel)}
}

// Channel returns the mutable state for channel ch (1-indexed), creating it
// with default state on first reference. Only the dispatcher's single RPC
// handling goroutine calls this; diagsrv uses Snapshot instead, which never
// creates a channel.
func (b *ChannelBank) Channel(ch int) *Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.channels[ch]
	if !ok {
		dc := defaultChannel()
		c = &dc
		b.channels[ch] = c
	}
	return c
}

// Snapshot returns a copy of channel ch's state without creating it. ok is
// false if the channel has never been referenced, in which case the zero
// Channel is returned rather than the default state.
func (b *ChannelBank) Snapshot(ch int) (Channel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.channels[ch]
	if !ok {
		return Channel{}, false
	}
	return *c, true
}

// Driver is the operation set an AWG driver must implement. Drivers are not
// assumed concurrency-safe beyond what their own transport guarantees;
// spec.md §5 establishes that the dispatcher only ever calls a driver
// sequentially from one RPC handling goroutine at a time.
type Driver interface {
	// Connect acquires the underlying transport (serial line, TCP socket,
	// USBTMC endpoint). It must be safe to call once at startup.
	Connect() error

	// Disconnect releases the transport. cmd/bode calls it when main
	// returns after a shutdown signal; a DriverError during a sweep does not
	// trigger it, and a log.Fatalf exit skips it. It must not panic if
	// called without a prior successful Connect.
	Disconnect() error

	// InitializeChannel places ch in a known, off, zero state.
	InitializeChannel(ch int) error

	SetOutputLoad(ch int, load OutputLoad) error
	SetOutputOn(ch int, enabled bool) error
	SetWaveformType(ch int, wf WaveformType) error
	SetFrequency(ch int, hz float64) error
	SetAmplitude(ch int, vpp float64) error
	SetOffset(ch int, volts float64) error
	SetPhase(ch int, deg float64) error
}

// Constructor builds a Driver bound to the given transport target (a serial
// device path or VISA-style resource string) and baud rate (ignored by
// drivers that are not serial, or that fix their own rate).
type Constructor func(target string, baud int) (Driver, error)

// Registry maps the CLI's driver_name argument to a Constructor, the same
// role original_source/sds1004x_bode/awg_factory.py's AwgFactory plays for
// the Python implementation.
type Registry struct {
	ctors map[string]Constructor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds a driver constructor under the given short name.
func (r *Registry) Register(name string, ctor Constructor) {
	r.ctors[name] = ctor
}

// Names returns the registered driver short names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		out = append(out, n)
	}
	return out
}

// ErrUnknownDriver is returned by New for an unregistered driver name.
var ErrUnknownDriver = errors.New("awg: unknown driver name")

// New builds a Driver for the given registered short name.
func (r *Registry) New(name, target string, baud int) (Driver, error) {
	ctor, ok := r.ctors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}
	return ctor(target, baud)
}
