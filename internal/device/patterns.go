package device

import "math"

// Test pattern ids. Pattern 0 is the fallback entered after host silence.
const (
	PatternChannelID       = 0 // first/last N LEDs blink in channel color
	PatternRGBCycle        = 1 // red, green, blue, 1 s each
	PatternColorCycle      = 2 // R,G,B,C,M,Y,W,black, 1 s each
	PatternEndBlink        = 3 // alternating red blink on first and last LED
	PatternTernary         = 4 // ternary encoding for camera calibration
	PatternColorfulTwinkle = 5 // channel colors with sine twinkle

	NumPatterns = 6
)

// Patterns animate at 30 Hz regardless of the host rate.
const patternRateHz = 30

const patternDefaultLEDs = MaxLEDsPerChannel

// Ternary calibration pattern geometry: nine base-3 digits cover every
// global LED id, framed by a black/magenta/black sync preamble. Each
// display frame holds for 6 ticks at 30 Hz (0.2 s).
const (
	ternaryDigits         = 9
	ternaryFramesPerState = 6
	ternaryTotalFrames    = 3 + ternaryDigits*2
)

var channelColors = [MaxChannels][3]uint8{
	{255, 0, 0},     // ch0 red
	{0, 255, 0},     // ch1 green
	{0, 0, 255},     // ch2 blue
	{0, 255, 255},   // ch3 cyan
	{255, 0, 255},   // ch4 magenta
	{255, 255, 0},   // ch5 yellow
	{255, 128, 128}, // ch6 light red
	{128, 128, 255}, // ch7 light blue
}

var ternaryColors = [3][3]uint8{
	{255, 0, 0}, // digit 0: red
	{0, 255, 0}, // digit 1: green
	{0, 0, 255}, // digit 2: blue
}

const sineTableSize = 512

// sineTable holds one brightness cycle in 0.3..1.0, scaled to 0..32768.
type sineTable [sineTableSize]uint16

func newSineTable() sineTable {
	var t sineTable
	for i := range t {
		angle := float64(i) * 2 * math.Pi / sineTableSize
		brightness := 0.3 + 0.7*(math.Sin(angle)*0.5+0.5)
		t[i] = uint16(brightness * 32768.0)
	}
	return t
}

// ternaryDigit returns the base-3 digit at position pos (0 = least
// significant) of the LED id's encoding: n = id*9, then rounded up to the
// next multiple of 7 as a checksum. The resulting 9-digit sequence is
// unique per id, which is what lets an external camera identify LEDs.
func ternaryDigit(id int, pos int) uint8 {
	n := uint32(id) * 9
	n += 7 - n%7
	for i := 0; i < pos; i++ {
		n /= 3
	}
	return uint8(n % 3)
}

// activatePattern enters pattern mode. Pattern ids wrap around the
// defined set; all channels get the default LED count so the whole
// display participates.
func (d *Decoder) activatePattern(id uint8) {
	id = id % NumPatterns
	for _, ch := range d.channels {
		ch.ledCount = patternDefaultLEDs
	}
	d.mode = ModePattern
	d.pattern = id
	d.fprintf("Test pattern %d activated\n", id)
}

func (d *Decoder) stopPattern() {
	d.mode = ModeNormal
}

// renderPattern fills every channel's active buffer for one 30 Hz frame,
// then limits and flushes. Patterns are deterministic in the frame
// counter, channel, and LED index; they need no host input.
func (d *Decoder) renderPattern(frame uint32) {
	switch d.pattern {
	case PatternChannelID:
		// First N and last N LEDs (N = channel+1) alternate in the
		// channel color; the middle stays dark to keep power minimal.
		blink := (frame/15)&1 == 1
		for chID, ch := range d.channels {
			n := chID + 1
			col := channelColors[chID]
			for i := 0; i < ch.ledCount; i++ {
				var r, g, b uint8
				isFirst := i < n
				isLast := i >= ch.ledCount-n
				if (isFirst && blink) || (isLast && !blink) {
					r, g, b = col[0], col[1], col[2]
				}
				ch.active[i] = d.gamma.packGRB(r, g, b)
			}
		}

	case PatternRGBCycle:
		phase := (frame / 30) % 3
		var r, g, b uint8
		switch phase {
		case 0:
			r = 255
		case 1:
			g = 255
		case 2:
			b = 255
		}
		d.fillAll(d.gamma.packGRB(r, g, b))

	case PatternColorCycle:
		colors := [8][3]uint8{
			{255, 0, 0}, {0, 255, 0}, {0, 0, 255}, {0, 255, 255},
			{255, 0, 255}, {255, 255, 0}, {255, 255, 255}, {0, 0, 0},
		}
		c := colors[(frame/30)%8]
		d.fillAll(d.gamma.packGRB(c[0], c[1], c[2]))

	case PatternEndBlink:
		blink := (frame/15)%2 == 1
		red := d.gamma.packGRB(255, 0, 0)
		black := d.gamma.packGRB(0, 0, 0)
		for _, ch := range d.channels {
			for i := 0; i < ch.ledCount; i++ {
				switch {
				case i == 0 && blink, i == ch.ledCount-1 && !blink:
					ch.active[i] = red
				default:
					ch.active[i] = black
				}
			}
		}

	case PatternTernary:
		cycleFrame := (frame / ternaryFramesPerState) % ternaryTotalFrames
		black := d.gamma.packGRB(0, 0, 0)
		magenta := d.gamma.packGRB(255, 0, 255)
		for chID, ch := range d.channels {
			for i := 0; i < ch.ledCount; i++ {
				var pixel uint32
				switch {
				case cycleFrame == 0 || cycleFrame == 2:
					pixel = black
				case cycleFrame == 1:
					pixel = magenta // sync marker
				default:
					digitFrame := cycleFrame - 3
					if digitFrame%2 == 0 {
						globalID := chID*patternDefaultLEDs + i
						digit := ternaryDigit(globalID, int(digitFrame/2))
						c := ternaryColors[digit]
						pixel = d.gamma.packGRB(c[0], c[1], c[2])
					} else {
						pixel = black // spacing between digits
					}
				}
				ch.active[i] = pixel
			}
		}

	case PatternColorfulTwinkle:
		for chID, ch := range d.channels {
			col := channelColors[chID]
			for i := 0; i < ch.ledCount; i++ {
				seed := uint32(chID*37 + i*73)
				phaseOffset := (seed * 17) % sineTableSize
				speed := seed%7 + 1
				pos := (frame*speed + phaseOffset) % sineTableSize
				brightness := uint32(d.sine[pos])
				r := uint8(uint32(col[0]) * brightness >> 15)
				g := uint8(uint32(col[1]) * brightness >> 15)
				b := uint8(uint32(col[2]) * brightness >> 15)
				ch.active[i] = d.gamma.packGRB(r, g, b)
			}
		}
	}

	for chID, ch := range d.channels {
		ch.applyCurrentLimit(d.cfg.CurrentLimit)
		ch.flush(chID, d.strip, &d.stats.flushes)
	}
}

func (d *Decoder) fillAll(pixel uint32) {
	for _, ch := range d.channels {
		for i := 0; i < ch.ledCount; i++ {
			ch.active[i] = pixel
		}
	}
}
