package device

import "sync"

// Sensors is the physical monitoring surface: two NTC temperatures, bus
// voltage and current, and the multiplexed per-channel feedback voltages.
type Sensors interface {
	Temperature(idx int) float64
	BusVoltage() float64
	BusCurrent() float64
	FeedbackVoltage(ch int) float64
}

// SimSensors is a settable Sensors implementation for the simulator and
// tests. Zero value reports healthy channels (feedback above threshold).
type SimSensors struct {
	mu sync.Mutex

	Temp0, Temp1 float64
	Voltage      float64
	Current      float64
	Feedback     [MaxChannels]float64
}

// NewSimSensors returns sensors with nominal healthy readings.
func NewSimSensors() *SimSensors {
	s := &SimSensors{Temp0: 25, Temp1: 25, Voltage: 5.0, Current: 1.0}
	for i := range s.Feedback {
		s.Feedback[i] = 4.9
	}
	return s
}

func (s *SimSensors) Temperature(idx int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx == 0 {
		return s.Temp0
	}
	return s.Temp1
}

func (s *SimSensors) BusVoltage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Voltage
}

func (s *SimSensors) BusCurrent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Current
}

func (s *SimSensors) FeedbackVoltage(ch int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Feedback[ch]
}

// Set adjusts readings from another goroutine.
func (s *SimSensors) Set(fn func(*SimSensors)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Indicator receives the status LED states the decoder computes: the
// primary activity LED and the secondary fault LED.
type Indicator interface {
	Primary(on bool)
	Fault(on bool)
}

// NopIndicator discards LED updates.
type NopIndicator struct{}

func (NopIndicator) Primary(bool) {}
func (NopIndicator) Fault(bool)   {}
