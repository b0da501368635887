package serialio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// ErrNoPort means no candidate serial device could be opened.
var ErrNoPort = errors.New("serialio: no serial port found")

// ErrBackpressure means the transmit queue was full and the packet was
// dropped rather than blocking the render loop.
var ErrBackpressure = errors.New("serialio: tx queue full, packet dropped")

// txQueueDepth bounds buffered outgoing packets. At 30 fps with 8
// channels a full frame is 9 packets, so this holds a few frames.
const txQueueDepth = 64

const rateLogInterval = 3 * time.Second

// Discover iterates <base>0..9 and opens the first device that accepts
// the configured baud rate.
func Discover(base string, baud int) (serial.Port, string, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	for i := 0; i < 10; i++ {
		path := base + strconv.Itoa(i)
		port, err := serial.Open(path, mode)
		if err != nil {
			continue
		}
		log.Info().Str("port", path).Int("baud", baud).Msg("serial port opened")
		return port, path, nil
	}
	return nil, "", ErrNoPort
}

// Session owns the serial link: it frames commands toward the device on a
// writer goroutine and parses device telemetry lines on a reader
// goroutine. Single producer on the write side (the render engine, or the
// takeover client while the engine is paused).
type Session struct {
	port io.ReadWriteCloser

	txq    chan []byte
	closed chan struct{}
	wg     sync.WaitGroup

	drops   atomic.Uint64
	txMsgs  atomic.Uint64
	txBytes atomic.Uint64
	rxMsgs  atomic.Uint64
	rxBytes atomic.Uint64

	// tap mirrors device output lines to the takeover client while one
	// is active.
	tap atomic.Value // func([]byte)

	status *StatusWriter

	mu     sync.RWMutex
	latest map[string]any
	rxTime time.Time

	onFatal func(error)
	fatal   sync.Once
}

// New wraps an open port. onFatal fires once if the link is lost; the
// process is expected to exit and let the supervisor restart it, which
// resynchronizes parser state on both ends.
func New(port io.ReadWriteCloser, status *StatusWriter, onFatal func(error)) *Session {
	return &Session{
		port:    port,
		txq:     make(chan []byte, txQueueDepth),
		closed:  make(chan struct{}),
		status:  status,
		onFatal: onFatal,
	}
}

// Start launches the writer and reader goroutines.
func (s *Session) Start(ctx context.Context) {
	s.wg.Add(3)
	go s.writeLoop()
	go s.readLoop()
	go s.rateLoop(ctx)
}

// Close stops the writer and closes the port. Safe to call once.
func (s *Session) Close() error {
	close(s.closed)
	err := s.port.Close()
	s.wg.Wait()
	return err
}

// Update frames LED data for one channel. flush selects update+flush
// (0xFF) over update-only (0xFE).
func (s *Session) Update(ch int, rgb []byte, flush bool) error {
	cmd := byte(CmdUpdateOnly)
	if flush {
		cmd = CmdUpdateFlush
	}
	pkt, err := encodeUpdate(cmd, ch, rgb)
	if err != nil {
		return err
	}
	return s.enqueue(pkt)
}

// Flush swaps the buffers of every channel with its mask bit set.
func (s *Session) Flush(mask byte) error { return s.enqueue([]byte{CmdFlush, mask}) }

// ClearAll darkens every channel and flushes.
func (s *Session) ClearAll() error { return s.enqueue([]byte{CmdClearAll}) }

// Reset reboots the device.
func (s *Session) Reset() error { return s.enqueue([]byte{CmdReset}) }

// StartPattern puts the device into test pattern mode.
func (s *Session) StartPattern(id byte) error { return s.enqueue([]byte{CmdStartPattern, id}) }

// StopPattern leaves test pattern mode.
func (s *Session) StopPattern() error { return s.enqueue([]byte{CmdStopPattern}) }

// Raw forwards takeover client bytes verbatim.
func (s *Session) Raw(data []byte) error {
	pkt := make([]byte, len(data))
	copy(pkt, data)
	return s.enqueue(pkt)
}

// Drops reports packets discarded under backpressure.
func (s *Session) Drops() uint64 { return s.drops.Load() }

// SetTap installs a mirror for device output lines; nil removes it.
func (s *Session) SetTap(fn func([]byte)) {
	if fn == nil {
		fn = func([]byte) {}
	}
	s.tap.Store(fn)
}

// Latest returns the most recent parsed STATS record and its receive
// time.
func (s *Session) Latest() (map[string]any, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.latest))
	for k, v := range s.latest {
		out[k] = v
	}
	return out, s.rxTime
}

func (s *Session) enqueue(pkt []byte) error {
	select {
	case s.txq <- pkt:
		return nil
	case <-s.closed:
		return fmt.Errorf("serialio: session closed")
	default:
		s.drops.Add(1)
		return ErrBackpressure
	}
}

func (s *Session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.closed:
			return
		case pkt := <-s.txq:
			if _, err := s.port.Write(pkt); err != nil {
				s.fail(fmt.Errorf("serialio: write: %w", err))
				return
			}
			s.txMsgs.Add(1)
			s.txBytes.Add(uint64(len(pkt)))
		}
	}
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	sc := bufio.NewScanner(s.port)
	for sc.Scan() {
		line := sc.Text()
		s.rxMsgs.Add(1)
		s.rxBytes.Add(uint64(len(line) + 1))

		if fn, ok := s.tap.Load().(func([]byte)); ok {
			fn(append([]byte(line), '\n'))
		}

		if strings.HasPrefix(line, "STATS ") {
			s.handleStats(line)
			continue
		}
		// Informational device output (trip/recovery events, boot
		// banner) goes to the host log verbatim.
		log.Info().Str("src", "device").Msg(line)
	}
	err := sc.Err()
	select {
	case <-s.closed:
		return
	default:
	}
	if err == nil {
		err = io.EOF
	}
	s.fail(fmt.Errorf("serialio: read: %w", err))
}

func (s *Session) handleStats(line string) {
	rec := ParseStats(line)
	now := time.Now()

	s.mu.Lock()
	s.latest = rec
	s.rxTime = now
	s.mu.Unlock()

	if s.status != nil {
		if err := s.status.Write(rec, now); err != nil {
			log.Warn().Err(err).Msg("status file write failed")
		}
	}
}

func (s *Session) rateLoop(ctx context.Context) {
	defer s.wg.Done()
	t := time.NewTicker(rateLogInterval)
	defer t.Stop()
	var lastTxM, lastTxB, lastRxM, lastRxB uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case <-t.C:
			txM, txB := s.txMsgs.Load(), s.txBytes.Load()
			rxM, rxB := s.rxMsgs.Load(), s.rxBytes.Load()
			log.Debug().
				Uint64("tx_msgs", txM-lastTxM).Uint64("tx_bytes", txB-lastTxB).
				Uint64("rx_msgs", rxM-lastRxM).Uint64("rx_bytes", rxB-lastRxB).
				Uint64("drops", s.drops.Load()).
				Msg("serial rates")
			lastTxM, lastTxB, lastRxM, lastRxB = txM, txB, rxM, rxB
		}
	}
}

func (s *Session) fail(err error) {
	s.fatal.Do(func() {
		log.Error().Err(err).Msg("serial link lost")
		if s.onFatal != nil {
			s.onFatal(err)
		}
	})
}

// ParseStats splits a STATS line into key/value pairs, coercing the
// numeric keys. The fb bitmask stays a hex string.
func ParseStats(line string) map[string]any {
	out := map[string]any{}
	for _, pair := range strings.Fields(strings.TrimPrefix(line, "STATS ")) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if k == "fb" {
			out[k] = v
			continue
		}
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = n
		} else {
			out[k] = v
		}
	}
	return out
}
