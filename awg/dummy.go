package awg

import "log"

// Dummy satisfies Driver without touching any hardware, logging every call
// instead. It is the one driver the CLI accepts with no port argument.
//
// Grounded on original_source/sds1004x_bode/awgdrivers/dummy_awg.py, whose
// every method is a one-line "Dummy: <call>" print; the log line format here
// keeps that shape.
type Dummy struct {
	Log *log.Logger
}

// NewDummy builds a Dummy driver. target and baud are accepted to satisfy
// Constructor's signature but are ignored.
func NewDummy(target string, baud int) (Driver, error) {
	return &Dummy{Log: log.Default()}, nil
}

func (d *Dummy) logger() *log.Logger {
	if d.Log == nil {
		return log.Default()
	}
	return d.Log
}

func (d *Dummy) Connect() error {
	d.logger().Println("dummy: connect")
	return nil
}

func (d *Dummy) Disconnect() error {
	d.logger().Println("dummy: disconnect")
	return nil
}

func (d *Dummy) InitializeChannel(ch int) error {
	d.logger().Printf("dummy: initialize channel %d", ch)
	return nil
}

func (d *Dummy) SetOutputLoad(ch int, load OutputLoad) error {
	d.logger().Printf("dummy: set_output_load(channel=%d, load=%v)", ch, load)
	return nil
}

func (d *Dummy) SetOutputOn(ch int, enabled bool) error {
	d.logger().Printf("dummy: set_output_on(channel=%d, on=%v)", ch, enabled)
	return nil
}

func (d *Dummy) SetWaveformType(ch int, wf WaveformType) error {
	d.logger().Printf("dummy: set_waveform_type(channel=%d, type=%v)", ch, wf)
	return nil
}

func (d *Dummy) SetFrequency(ch int, hz float64) error {
	d.logger().Printf("dummy: set_frequency(channel=%d, hz=%v)", ch, hz)
	return nil
}

func (d *Dummy) SetAmplitude(ch int, vpp float64) error {
	d.logger().Printf("dummy: set_amplitude(channel=%d, vpp=%v)", ch, vpp)
	return nil
}

func (d *Dummy) SetOffset(ch int, volts float64) error {
	d.logger().Printf("dummy: set_offset(channel=%d, volts=%v)", ch, volts)
	return nil
}

func (d *Dummy) SetPhase(ch int, deg float64) error {
	d.logger().Printf("dummy: set_phase(channel=%d, deg=%v)", ch, deg)
	return nil
}
