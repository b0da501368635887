package render

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/showrunner/internal/anim"
	"github.com/coreman2200/showrunner/internal/coords"
)

// Sink is the downstream for rendered frames, normally the serial
// session.
type Sink interface {
	Update(ch int, rgb []byte, flush bool) error
	Flush(mask byte) error
	ClearAll() error
}

// State of the engine's scheduling loop.
type State int

const (
	Idle State = iota
	Rendering
	PausedByTakeover
)

// Engine runs the fixed-rate render loop: one frame per tick, each LED
// colored by the installed animation at its normalized position, packed
// RGB into the frame buffer and emitted as per-channel updates followed
// by a single flush.
type Engine struct {
	Store       *coords.Store
	Sink        Sink
	Channels    int
	LEDsPerChan int
	FPS         int

	installed atomic.Pointer[anim.Animation]

	// mu serializes pause/resume against tick start.
	mu     sync.Mutex
	state  State
	frame  []byte
	t0     time.Time
	sample zerolog.Logger

	// Last holds per-tick durations in ms.
	Last struct {
		RenderMS float64
		EmitMS   float64
	}
}

// NewEngine allocates the frame buffer and installs the initial
// animation.
func NewEngine(store *coords.Store, sink Sink, channels, ledsPerChan, fps int, initial *anim.Animation) (*Engine, error) {
	if channels < 1 || ledsPerChan < 1 {
		return nil, errors.New("render: invalid dimensions")
	}
	e := &Engine{
		Store:       store,
		Sink:        sink,
		Channels:    channels,
		LEDsPerChan: ledsPerChan,
		FPS:         fps,
		frame:       make([]byte, channels*ledsPerChan*3),
		state:       Idle,
		sample:      log.Sample(&zerolog.BasicSampler{N: 100}),
	}
	e.installed.Store(initial)
	return e, nil
}

// Install atomically replaces the animation; the loop samples the slot
// once per tick, so the swap lands at the next tick boundary.
func (e *Engine) Install(a *anim.Animation) { e.installed.Store(a) }

// Installed returns the currently installed animation.
func (e *Engine) Installed() *anim.Animation { return e.installed.Load() }

// CurrentState returns the current scheduling state.
func (e *Engine) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Pause stops frame emission and darkens the display; called by the
// takeover server before any client bytes are forwarded. Serialized with
// tick start, so no update can interleave with the clear.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Rendering {
		return
	}
	e.state = PausedByTakeover
	if err := e.Sink.ClearAll(); err != nil {
		log.Warn().Err(err).Msg("clear-all on pause failed")
	}
	log.Info().Msg("render paused for takeover")
}

// Resume restarts frame emission after the takeover client disconnects.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != PausedByTakeover {
		return
	}
	e.state = Rendering
	log.Info().Msg("render resumed")
}

// Run drives ticks until ctx is canceled, then completes the in-flight
// tick and returns. Animation time is wall elapsed since start, so
// overruns preserve phase instead of catching up.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.state = Rendering
	e.t0 = time.Now()
	e.mu.Unlock()

	interval := time.Second / time.Duration(e.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.state = Idle
			e.mu.Unlock()
			return ctx.Err()
		case <-ticker.C:
			e.Tick(time.Since(e.t0).Seconds())
		}
	}
}

// Tick renders and emits a single frame at animation time t. Run calls it
// once per tick; it is exported so tests can drive frames directly.
func (e *Engine) Tick(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Rendering {
		return
	}

	start := time.Now()
	a := e.installed.Load()
	e.renderFrame(a, t)
	renderDone := time.Now()
	e.emitFrame()

	e.Last.RenderMS = float64(renderDone.Sub(start).Microseconds()) / 1000.0
	e.Last.EmitMS = float64(time.Since(renderDone).Microseconds()) / 1000.0
}

func (e *Engine) renderFrame(a *anim.Animation, t float64) {
	for i := range e.frame {
		e.frame[i] = 0
	}
	if a == nil {
		return
	}
	n := e.Channels * e.LEDsPerChan
	for id := 0; id < n; id++ {
		p, ok := e.Store.Coord(id)
		if !ok {
			continue // stays black
		}
		r, g, b, ok := a.Color(p.X, p.Y, p.Z, t, id)
		if !ok {
			e.sample.Warn().Int("id", id).Str("animation", a.Name).Msg("animation eval fault, rendering black")
			continue
		}
		e.frame[id*3+0] = encodeComponent(r)
		e.frame[id*3+1] = encodeComponent(g)
		e.frame[id*3+2] = encodeComponent(b)
	}
}

// emitFrame sends one update-only per channel in ascending order, then a
// single flush with the combined mask, so all channels swap together.
func (e *Engine) emitFrame() {
	stride := e.LEDsPerChan * 3
	for ch := 0; ch < e.Channels; ch++ {
		slice := e.frame[ch*stride : (ch+1)*stride]
		if err := e.Sink.Update(ch, slice, false); err != nil {
			e.sample.Warn().Err(err).Int("channel", ch).Msg("frame update dropped")
		}
	}
	mask := byte((1 << e.Channels) - 1)
	if err := e.Sink.Flush(mask); err != nil {
		e.sample.Warn().Err(err).Msg("flush dropped")
	}
}

func encodeComponent(c float64) byte {
	if c < 0 {
		c = 0
	} else if c > 1 {
		c = 1
	}
	return byte(math.Round(c * 255))
}
