/*Package scpi decodes the compact SCPI dialect a Siglent oscilloscope emits
during a Bode-plot sweep and applies it to an awg.Driver.

The command grammar is small and fixed-shape: an optional channel prefix
"Cn:", a mnemonic, and zero or more comma-separated KEY,VALUE pairs, with
multiple commands concatenated with ';'. This package owns that grammar and
the two query replies (IDN-SGLT-PRI? and BSWV?); it knows nothing about
VXI-11 or ONC RPC framing, so it is exercised equally well by the vxi11
responder and by its own tests.

Grounded on the teacher's scpi.SCPI type (scpi/scpi.go) for the general
shape of a SCPI front end, generalized from "client speaking SCPI outward to
a real instrument" to "server speaking SCPI inward from a scope". Queries are
recognized by their exact mnemonic (IDN-SGLT-PRI?, BSWV?); any other
mnemonic, with or without a "?", is logged and ignored.
*/
package scpi

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/bdube/bode/awg"
)

// ErrSCPI is wrapped by every parse error this package logs. Per spec, a
// parse error never aborts the enclosing DEVICE_WRITE: the dispatcher logs
// and continues with the next ';'-joined command.
var ErrSCPI = errors.New("scpi: parse error")

// identification is the reply body queued for IDN-SGLT-PRI?, matching a
// Siglent AWG family closely enough for the scope's Bode-plot probe to
// accept it.
const identification = "IDN-SGLT-PRI,SDG1062X,SDG00000000000,1.01.01.33R1"

// Dispatcher parses DEVICE_WRITE payloads and applies them to one AWG
// driver and channel bank, satisfying vxi11.Dispatcher.
type Dispatcher struct {
	Driver awg.Driver
	Bank   *awg.ChannelBank
	Log    *log.Logger
}

// NewDispatcher builds a Dispatcher over the given driver, with a fresh
// channel bank.
func NewDispatcher(driver awg.Driver, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{Driver: driver, Bank: awg.NewChannelBank(), Log: logger}
}

// Handle applies every ';'-joined command in raw, left to right, and
// returns the response produced by the last query among them, or nil if
// none of them was a query. Per spec §4.5, at most one query is expected
// per write, but if more than one appears the last response wins.
func (d *Dispatcher) Handle(raw []byte) []byte {
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return nil
	}
	var resp []byte
	for _, cmd := range strings.Split(line, ";") {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		if r, ok := d.dispatchOne(cmd); ok {
			resp = r
		}
	}
	return resp
}

// dispatchOne applies a single "Cn:MNEMONIC args" command (no ';'), and
// reports a non-nil response when cmd was a query.
func (d *Dispatcher) dispatchOne(cmd string) (response []byte, isQuery bool) {
	ch, rest := splitChannelPrefix(cmd)
	mnemonic, args := splitMnemonic(rest)
	upper := strings.ToUpper(mnemonic)

	switch {
	case upper == "IDN-SGLT-PRI?":
		return []byte(identification), true

	case upper == "BSWV?":
		return []byte(d.formatBSWV(ch)), true

	case upper == "OUTP":
		d.applyOutp(ch, args)
		return nil, false

	case upper == "BSWV":
		d.applyBSWV(ch, args)
		return nil, false

	default:
		d.Log.Printf("scpi: %v: unrecognized mnemonic %q", ErrSCPI, mnemonic)
		return nil, false
	}
}

// splitChannelPrefix strips a leading "Cn:" prefix, returning the channel
// (defaulting to 1 when absent, per spec §3) and the remainder.
func splitChannelPrefix(cmd string) (ch int, rest string) {
	if len(cmd) >= 2 && (cmd[0] == 'C' || cmd[0] == 'c') {
		if i := strings.IndexByte(cmd, ':'); i > 1 {
			if n, err := strconv.Atoi(cmd[1:i]); err == nil {
				return n, strings.TrimSpace(cmd[i+1:])
			}
		}
	}
	return 1, cmd
}

// splitMnemonic separates the leading mnemonic token (up to the first
// space) from its comma-separated argument list.
func splitMnemonic(rest string) (mnemonic, args string) {
	rest = strings.TrimSpace(rest)
	i := strings.IndexByte(rest, ' ')
	if i < 0 {
		return rest, ""
	}
	return rest[:i], strings.TrimSpace(rest[i+1:])
}

// kvPairs splits a comma-separated argument list into KEY,VALUE pairs, and
// bare tokens (no following value) as a pair with an empty value — this is
// how OUTP's bare ON/OFF token is represented.
func kvPairs(args string) [][2]string {
	if args == "" {
		return nil
	}
	fields := strings.Split(args, ",")
	var pairs [][2]string
	for i := 0; i < len(fields); i++ {
		key := strings.TrimSpace(fields[i])
		if key == "" {
			continue
		}
		if isBareToken(key) {
			pairs = append(pairs, [2]string{key, ""})
			continue
		}
		if i+1 < len(fields) {
			pairs = append(pairs, [2]string{key, strings.TrimSpace(fields[i+1])})
			i++
			continue
		}
		pairs = append(pairs, [2]string{key, ""})
	}
	return pairs
}

// isBareToken reports whether key is one of the recognized value-less
// tokens that can appear in place of a KEY,VALUE pair (OUTP's ON/OFF).
func isBareToken(key string) bool {
	switch strings.ToUpper(key) {
	case "ON", "OFF":
		return true
	default:
		return false
	}
}

func (d *Dispatcher) applyOutp(ch int, args string) {
	c := d.Bank.Channel(ch)
	for _, kv := range kvPairs(args) {
		key, val := strings.ToUpper(kv[0]), strings.ToUpper(kv[1])
		switch key {
		case "ON":
			c.OutputOn = true
			d.logErr("set_output_on", d.Driver.SetOutputOn(ch, true))
		case "OFF":
			c.OutputOn = false
			d.logErr("set_output_on", d.Driver.SetOutputOn(ch, false))
		case "LOAD":
			load := awg.LoadHighZ
			if val == "50" {
				load = awg.Load50Ohm
			}
			c.Load = load
			d.logErr("set_output_load", d.Driver.SetOutputLoad(ch, load))
		case "PLRT":
			// Polarity (NOR/INVT): accepted, not modeled, per spec §4.5.
		default:
			d.Log.Printf("scpi: %v: unknown OUTP key %q", ErrSCPI, kv[0])
		}
	}
}

func (d *Dispatcher) applyBSWV(ch int, args string) {
	c := d.Bank.Channel(ch)
	for _, kv := range kvPairs(args) {
		key := strings.ToUpper(kv[0])
		switch key {
		case "WVTP":
			wf, ok := awg.ParseWaveformType(strings.ToUpper(kv[1]))
			if !ok {
				d.Log.Printf("scpi: %v: unknown waveform %q", ErrSCPI, kv[1])
				continue
			}
			c.Waveform = wf
			d.logErr("set_waveform_type", d.Driver.SetWaveformType(ch, wf))
		case "FRQ":
			v, ok := parseEngineering(kv[1])
			if !ok {
				continue
			}
			c.FrequencyHz = v
			d.logErr("set_frequency", d.Driver.SetFrequency(ch, v))
		case "AMP":
			v, ok := parseEngineering(kv[1])
			if !ok {
				continue
			}
			c.AmplitudeVpp = v
			d.logErr("set_amplitude", d.Driver.SetAmplitude(ch, v))
		case "OFST":
			v, ok := parseEngineering(kv[1])
			if !ok {
				continue
			}
			c.OffsetV = v
			d.logErr("set_offset", d.Driver.SetOffset(ch, v))
		case "PHSE":
			v, ok := parseEngineering(kv[1])
			if !ok {
				continue
			}
			c.PhaseDeg = v
			d.logErr("set_phase", d.Driver.SetPhase(ch, v))
		case "DUTY":
			// Duty cycle: no driver op in this system's contract, ignored.
		default:
			d.Log.Printf("scpi: %v: unknown BSWV key %q", ErrSCPI, kv[0])
		}
	}
}

func (d *Dispatcher) logErr(op string, err error) {
	if err != nil {
		d.Log.Printf("scpi: %s: %v", op, err)
	}
}

// formatBSWV renders the current state of channel ch in the key order
// spec §4.5 requires: WVTP,FRQ,PRD,AMP,OFST,HLEV,LLEV,PHSE.
func (d *Dispatcher) formatBSWV(ch int) string {
	c := d.Bank.Channel(ch)
	period := 0.0
	if c.FrequencyHz != 0 {
		period = 1 / c.FrequencyHz
	}
	hlev := c.OffsetV + c.AmplitudeVpp/2
	llev := c.OffsetV - c.AmplitudeVpp/2
	return fmt.Sprintf(
		"C%d:BSWV WVTP,%s,FRQ,%gHZ,PRD,%gS,AMP,%gV,OFST,%gV,HLEV,%gV,LLEV,%gV,PHSE,%g",
		ch, c.Waveform, c.FrequencyHz, period, c.AmplitudeVpp, c.OffsetV, hlev, llev, c.PhaseDeg,
	)
}

// parseEngineering parses a numeric token that may carry one of the
// engineering-unit suffixes spec §4.5 lists (HZ, KHZ, MHZ, V, VPP, S, MS,
// US, NS, %), returning the value in base units (Hz, V, s, fraction).
func parseEngineering(tok string) (float64, bool) {
	tok = strings.TrimSpace(tok)
	scale := 1.0
	upper := strings.ToUpper(tok)
	suffixes := []struct {
		suffix string
		scale  float64
	}{
		{"KHZ", 1e3}, {"MHZ", 1e6}, {"HZ", 1},
		{"VPP", 1}, {"V", 1},
		{"MS", 1e-3}, {"US", 1e-6}, {"NS", 1e-9}, {"S", 1},
		{"%", 0.01},
	}
	for _, s := range suffixes {
		if strings.HasSuffix(upper, s.suffix) {
			tok = tok[:len(tok)-len(s.suffix)]
			scale = s.scale
			break
		}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
	if err != nil {
		return 0, false
	}
	return v * scale, true
}
