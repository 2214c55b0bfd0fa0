package awg

import "testing"

func TestChannelBankDefaults(t *testing.T) {
	b := NewChannelBank()
	c := b.Channel(1)
	if c.Waveform != Sine || c.FrequencyHz != 1000 || c.AmplitudeVpp != 0 ||
		c.OffsetV != 0 || c.PhaseDeg != 0 || c.Load != LoadHighZ || c.OutputOn {
		t.Fatalf("unexpected default channel state: %+v", c)
	}
}

func TestChannelBankLazyCreationIsStable(t *testing.T) {
	b := NewChannelBank()
	c1 := b.Channel(3)
	c1.FrequencyHz = 42
	c2 := b.Channel(3)
	if c2.FrequencyHz != 42 {
		t.Fatalf("expected same backing channel, got fresh default")
	}
}

func TestParseWaveformType(t *testing.T) {
	cases := map[string]WaveformType{
		"SINE": Sine, "SQUARE": Square, "RAMP": Ramp,
		"PULSE": Pulse, "NOISE": Noise, "DC": DC, "ARB": Arb,
	}
	for tok, want := range cases {
		got, ok := ParseWaveformType(tok)
		if !ok || got != want {
			t.Errorf("ParseWaveformType(%q) = %v, %v; want %v, true", tok, got, ok, want)
		}
	}
	if _, ok := ParseWaveformType("BOGUS"); ok {
		t.Errorf("expected BOGUS to be unrecognized")
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	r := NewRegistry()
	r.Register("dummy", NewDummy)
	drv, err := r.New("dummy", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := drv.Connect(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.New("nope", "", 0); err == nil {
		t.Fatal("expected ErrUnknownDriver")
	}
}
