package device

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/coreman2200/showrunner/internal/serialio"
)

// advance gives the decoder a controllable clock stepping forward on each
// call.
func advance(d *Decoder, step time.Duration) func() {
	base := time.Now()
	cur := base
	d.now = func() time.Time { return cur }
	d.bootTime = cur
	d.lastSerial = cur
	return func() { cur = cur.Add(step) }
}

func TestStatsLineFormat(t *testing.T) {
	d, _, out := newTestDecoder()
	tick := advance(d, time.Second)

	d.Feed([]byte{0xFF, 0x00, 0x01, 0x00, 10, 20, 30})
	tick()
	tick()
	d.reportStatus()

	line := strings.TrimSpace(out.String())
	if !strings.HasPrefix(line, "STATS ") {
		t.Fatalf("line = %q", line)
	}
	rec := serialio.ParseStats(line)
	for _, key := range []string{"up", "cmd", "pix", "flush", "err", "t0", "t1", "v", "i", "trip", "lim", "mode"} {
		if _, ok := rec[key].(float64); !ok {
			t.Fatalf("key %s missing or non-numeric: %#v", key, rec[key])
		}
	}
	if rec["fb"] != "FF" {
		t.Fatalf("fb = %#v, want FF", rec["fb"])
	}
	if rec["cmd"] != 1.0 || rec["pix"] != 1.0 || rec["flush"] != 1.0 {
		t.Fatalf("counters wrong: %#v", rec)
	}
	if rec["mode"] != 0.0 {
		t.Fatalf("mode = %#v, want 0", rec["mode"])
	}
}

func TestChannelTripAndRecovery(t *testing.T) {
	strip := NewFakeStrip()
	sensors := NewSimSensors()
	out := &bytes.Buffer{}
	d := New(DefaultConfig(), strip, sensors, NopIndicator{}, out)
	tick := advance(d, 60*time.Millisecond)

	sensors.Set(func(s *SimSensors) { s.Feedback[2] = 0.2 })
	for i := 0; i < MaxChannels; i++ {
		tick()
		d.updateSensors()
	}
	if !d.channels[2].tripped {
		t.Fatal("channel 2 should be tripped")
	}
	if d.channels[2].tripCount != 1 {
		t.Fatalf("trip count = %d, want 1", d.channels[2].tripCount)
	}
	if d.fbMask&(1<<2) != 0 {
		t.Fatalf("fb mask bit 2 should be clear, mask=%02X", d.fbMask)
	}
	if !strings.Contains(out.String(), "Channel 2 TRIPPED!") {
		t.Fatalf("trip not logged: %q", out.String())
	}

	// Trip is advisory; updates to the channel still work.
	d.Feed([]byte{0xFF, 0x02, 0x01, 0x00, 9, 9, 9})
	if strip.Count(2) != 1 {
		t.Fatal("tripped channel must still accept frames")
	}

	sensors.Set(func(s *SimSensors) { s.Feedback[2] = 4.5 })
	for i := 0; i < MaxChannels; i++ {
		tick()
		d.updateSensors()
	}
	if d.channels[2].tripped {
		t.Fatal("channel 2 should have recovered")
	}
	if d.channels[2].tripCount != 1 {
		t.Fatalf("recovery must not change trip count, got %d", d.channels[2].tripCount)
	}
	if !strings.Contains(out.String(), "Channel 2 recovered") {
		t.Fatal("recovery not logged")
	}
}

func TestGlobalFaultLatch(t *testing.T) {
	strip := NewFakeStrip()
	sensors := NewSimSensors()
	d := New(DefaultConfig(), strip, sensors, NopIndicator{}, io.Discard)
	tick := advance(d, time.Second)

	// Overtemp trips the fault.
	sensors.Set(func(s *SimSensors) { s.Temp0 = 75 })
	d.sensorCycle = 0
	tick()
	d.updateSensors()
	tick()
	d.reportStatus()
	if !d.faultPresent || !d.faultHistory {
		t.Fatalf("fault should be present and latched: %v %v", d.faultPresent, d.faultHistory)
	}

	// Recovery clears the live flag but the history stays latched.
	sensors.Set(func(s *SimSensors) { s.Temp0 = 25 })
	d.sensorCycle = 0
	tick()
	d.updateSensors()
	tick()
	d.reportStatus()
	if d.faultPresent {
		t.Fatal("fault should have cleared")
	}
	if !d.faultHistory {
		t.Fatal("fault history must latch until reboot")
	}
}

func TestOvercurrentFault(t *testing.T) {
	strip := NewFakeStrip()
	sensors := NewSimSensors()
	d := New(DefaultConfig(), strip, sensors, NopIndicator{}, io.Discard)
	tick := advance(d, time.Second)

	sensors.Set(func(s *SimSensors) { s.Current = 12.5 })
	d.sensorCycle = 2 // bus monitor slot
	tick()
	d.updateSensors()
	tick()
	d.reportStatus()
	if !d.faultPresent {
		t.Fatal("bus overcurrent should raise the fault")
	}
}

func TestRunStopsOnReset(t *testing.T) {
	strip := NewFakeStrip()
	d := New(DefaultConfig(), strip, NewSimSensors(), NopIndicator{}, io.Discard)

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), pr) }()

	if _, err := pw.Write([]byte{0xFF, 0x00, 0x01, 0x00, 1, 2, 3, 0xFC}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrResetRequested) {
			t.Fatalf("err = %v, want ErrResetRequested", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("decoder did not stop on reset")
	}
	if strip.Count(0) != 1 {
		t.Fatal("frame before reset should have flushed")
	}
	pw.Close()
}

func TestRunHonorsContextCancel(t *testing.T) {
	d := New(DefaultConfig(), NewFakeStrip(), NewSimSensors(), NopIndicator{}, io.Discard)
	ctx, cancel := context.WithCancel(context.Background())

	pr, pw := io.Pipe()
	defer pw.Close()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, pr) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("decoder did not stop on cancel")
	}
}
