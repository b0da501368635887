// Package device implements the microcontroller-side protocol decoder:
// the command-stream state machine, per-channel double buffers feeding
// the LED hardware, gamma and current limiting, sensor-driven fault
// tracking, telemetry, and the fallback test patterns. It runs on real
// firmware targets behind the Strip interface and, identically, inside
// the devicesim binary and the package tests.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Mode reports whether the device is decoding host frames or running a
// local test pattern.
type Mode int

const (
	ModeNormal Mode = iota
	ModePattern
)

// ErrResetRequested is returned by Run when the host sent the reset
// command; the caller reboots (firmware) or restarts the decoder fresh
// (simulator).
var ErrResetRequested = errors.New("device: reset requested")

// Config carries the tunables the firmware bakes in as defines.
type Config struct {
	Gamma          float64       // gamma exponent, default 2.8
	CurrentLimit   uint32        // per-channel brightness-unit threshold
	PatternTimeout time.Duration // host silence before fallback pattern
	FaultTempC     float64       // either NTC above this trips the global fault
	FaultCurrentA  float64       // bus current above this trips the global fault
	FaultVoltageV  float64       // feedback at or below this trips the channel
}

// DefaultConfig mirrors the firmware defaults.
func DefaultConfig() Config {
	return Config{
		Gamma:          2.8,
		CurrentLimit:   30000,
		PatternTimeout: 5 * time.Second,
		FaultTempC:     60.0,
		FaultCurrentA:  10.0,
		FaultVoltageV:  1.0,
	}
}

type statistics struct {
	commands uint64
	pixels   uint64
	flushes  uint64
	errors   uint64
}

// Decoder is the device state: parser registers, channel buffers, sensor
// snapshot, counters, and mode. It is single-threaded; Run owns all
// mutation, matching the firmware's cooperative main loop.
type Decoder struct {
	cfg      Config
	strip    Strip
	sensors  Sensors
	indicate Indicator
	out      io.Writer // telemetry and info lines toward the host

	gamma gammaTable
	sine  sineTable

	channels [MaxChannels]*channel
	parser   parserContext
	stats    statistics

	mode    Mode
	pattern uint8

	fbMask       uint8
	temp0, temp1 float64
	busV, busI   float64

	faultPresent bool
	faultHistory bool

	resetRequested bool

	bootTime   time.Time
	lastSerial time.Time

	// sensor scheduling registers
	fbIndex      int
	sensorCycle  int
	lastSensorAt time.Time

	patternFrame  uint32
	lastPatternAt time.Time

	lastReportAt time.Time

	ledPrimary  bool
	lastLEDFlip time.Time
	now         func() time.Time
}

// New builds a decoder around the hardware surfaces. out receives the
// `STATS` lines and informational output the host parses.
func New(cfg Config, strip Strip, sensors Sensors, indicate Indicator, out io.Writer) *Decoder {
	d := &Decoder{
		cfg:      cfg,
		strip:    strip,
		sensors:  sensors,
		indicate: indicate,
		out:      out,
		gamma:    newGammaTable(cfg.Gamma),
		sine:     newSineTable(),
		fbMask:   0xFF,
		now:      time.Now,
	}
	for i := range d.channels {
		d.channels[i] = newChannel()
	}
	return d
}

// Mode returns the current operating mode.
func (d *Decoder) Mode() Mode { return d.mode }

// Errors returns the protocol error counter.
func (d *Decoder) Errors() uint64 { return d.stats.errors }

// Feed advances the parser over a chunk of host bytes. Any byte counts
// as serial activity for the pattern-timeout clock.
func (d *Decoder) Feed(data []byte) {
	d.lastSerial = d.now()
	for _, b := range data {
		d.stepByte(b)
		if d.resetRequested {
			return
		}
	}
}

// Run is the cooperative device loop: it drains host bytes from in and
// interleaves pattern frames (30 Hz), sensor sampling (20 Hz), telemetry
// (1 Hz), timeout fallback, and status LEDs, until ctx ends or a reset
// command arrives.
func (d *Decoder) Run(ctx context.Context, in io.Reader) error {
	d.bootTime = d.now()
	d.lastSerial = d.bootTime

	// Stop the read pump when this decoder exits, whatever the cause.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bytesCh := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case bytesCh <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	tick := time.NewTicker(2 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				// Host gone: keep running patterns, like real
				// hardware with an idle UART.
				readErr = nil
				continue
			}
			return err
		case chunk := <-bytesCh:
			d.Feed(chunk)
			if d.resetRequested {
				return ErrResetRequested
			}
		case <-tick.C:
			d.step()
		}
	}
}

// step runs one iteration of the self-rate-limited housekeeping tasks.
func (d *Decoder) step() {
	d.updatePattern()
	d.checkTimeout()
	d.updateSensors()
	d.reportStatus()
	d.updateStatusLEDs()
}

func (d *Decoder) updatePattern() {
	if d.mode != ModePattern {
		return
	}
	now := d.now()
	if now.Sub(d.lastPatternAt) < time.Second/patternRateHz {
		return
	}
	d.lastPatternAt = now
	d.patternFrame++
	d.renderPattern(d.patternFrame)
}

func (d *Decoder) checkTimeout() {
	if d.mode != ModeNormal {
		return
	}
	if d.now().Sub(d.lastSerial) > d.cfg.PatternTimeout {
		d.fprintf("Timeout: Activating test pattern 0\n")
		d.activatePattern(0)
	}
}

// updateSensors samples one feedback channel per 20 Hz cycle, staggers
// the NTC reads at ~1 Hz, and the bus monitor at ~4 Hz. Trip edges are
// logged toward the host.
func (d *Decoder) updateSensors() {
	now := d.now()
	if now.Sub(d.lastSensorAt) < time.Second/20 {
		return
	}
	d.lastSensorAt = now

	ch := d.fbIndex
	voltage := d.sensors.FeedbackVoltage(ch)
	active := voltage > d.cfg.FaultVoltageV
	if active {
		d.fbMask |= 1 << ch
		if d.channels[ch].tripped {
			d.channels[ch].tripped = false
			d.fprintf("Channel %d recovered (voltage: %.3fV)\n", ch, voltage)
		}
	} else {
		d.fbMask &^= 1 << ch
		if !d.channels[ch].tripped {
			d.channels[ch].tripped = true
			d.channels[ch].tripCount++
			d.fprintf("Channel %d TRIPPED! (voltage: %.3fV, threshold: %.2fV)\n",
				ch, voltage, d.cfg.FaultVoltageV)
		}
	}
	d.fbIndex = (d.fbIndex + 1) % MaxChannels

	switch d.sensorCycle {
	case 0:
		d.temp0 = d.sensors.Temperature(0)
	case 10:
		d.temp1 = d.sensors.Temperature(1)
	}
	if d.sensorCycle%5 == 2 {
		d.busV = d.sensors.BusVoltage()
		d.busI = d.sensors.BusCurrent()
	}
	d.sensorCycle = (d.sensorCycle + 1) % 20
}

// reportStatus emits the 1 Hz STATS line and refreshes the global fault
// flags from the latest sensor snapshot. faultHistory latches until
// reboot.
func (d *Decoder) reportStatus() {
	now := d.now()
	if now.Sub(d.lastReportAt) < time.Second {
		return
	}
	d.lastReportAt = now

	var totalTrips, totalLimits uint32
	for _, ch := range d.channels {
		totalTrips += ch.tripCount
		totalLimits += ch.limitEvents
	}

	d.faultPresent = d.temp0 > d.cfg.FaultTempC || d.temp1 > d.cfg.FaultTempC ||
		d.busI > d.cfg.FaultCurrentA || d.fbMask != 0xFF
	if d.faultPresent {
		d.faultHistory = true
	}

	d.fprintf("STATS up=%d cmd=%d pix=%d flush=%d err=%d t0=%.1f t1=%.1f v=%.2f i=%.2f fb=%02X trip=%d lim=%d mode=%d\n",
		int(now.Sub(d.bootTime).Seconds()),
		d.stats.commands, d.stats.pixels, d.stats.flushes, d.stats.errors,
		d.temp0, d.temp1, d.busV, d.busI,
		d.fbMask, totalTrips, totalLimits, int(d.mode))
}

// updateStatusLEDs mirrors the firmware indicator logic: the primary LED
// blinks fast while host data is flowing and slow otherwise; the fault
// LED blinks on an active fault and flashes briefly each second while
// only the latched history remains.
func (d *Decoder) updateStatusLEDs() {
	now := d.now()

	blinkInterval := 500 * time.Millisecond
	if d.mode == ModeNormal && now.Sub(d.lastSerial) < time.Second {
		blinkInterval = 100 * time.Millisecond
	}
	if now.Sub(d.lastLEDFlip) >= blinkInterval {
		d.ledPrimary = !d.ledPrimary
		d.indicate.Primary(d.ledPrimary)
		d.lastLEDFlip = now
	}

	switch {
	case d.faultPresent:
		d.indicate.Fault(now.UnixMilli()/250%2 == 0)
	case d.faultHistory:
		d.indicate.Fault(now.UnixMilli()%1000 < 50)
	default:
		d.indicate.Fault(false)
	}
}

// clearAll darkens every channel and flushes, also leaving pattern mode.
func (d *Decoder) clearAll() {
	d.stopPattern()
	for chID, ch := range d.channels {
		ch.ledCount = MaxLEDsPerChannel
		ch.clear()
		ch.flush(chID, d.strip, &d.stats.flushes)
	}
}

func (d *Decoder) flushChannels(mask uint8) {
	for chID, ch := range d.channels {
		if mask&(1<<chID) != 0 {
			ch.flush(chID, d.strip, &d.stats.flushes)
		}
	}
}

func (d *Decoder) fprintf(format string, args ...any) {
	if d.out != nil {
		fmt.Fprintf(d.out, format, args...)
	}
}
