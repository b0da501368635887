package device

import "testing"

func TestDoubleBufferSwapDiscipline(t *testing.T) {
	strip := NewFakeStrip()
	ch := newChannel()
	ch.ledCount = 3
	ch.active[0], ch.active[1], ch.active[2] = 1, 2, 3

	var flushes uint64
	ch.flush(0, strip, &flushes)
	ch.active[0], ch.active[1], ch.active[2] = 4, 5, 6
	ch.flush(0, strip, &flushes)
	ch.flush(0, strip, &flushes)

	if strip.StartWhileBusy != 0 {
		t.Fatalf("swap started while DMA in progress %d times", strip.StartWhileBusy)
	}
	if flushes != 3 || strip.Count(0) != 3 {
		t.Fatalf("flushes = %d, transfers = %d, want 3/3", flushes, strip.Count(0))
	}
	first := strip.Frames[0][0]
	if first[0] != 1 || first[2] != 3 {
		t.Fatalf("first transfer = %v", first)
	}
	second := strip.Frames[0][1]
	if second[0] != 4 || second[2] != 6 {
		t.Fatalf("second transfer = %v", second)
	}
}

func TestFlushSkipsEmptyChannel(t *testing.T) {
	strip := NewFakeStrip()
	ch := newChannel()
	var flushes uint64
	ch.flush(0, strip, &flushes)
	if flushes != 0 || strip.Count(0) != 0 {
		t.Fatal("channel without a declared count must not transfer")
	}
}

func TestCurrentLimitIdempotentUnderThreshold(t *testing.T) {
	ch := newChannel()
	ch.ledCount = 2
	ch.active[0] = uint32(10)<<16 | uint32(20)<<8 | 30
	ch.active[1] = uint32(1)<<16 | uint32(2)<<8 | 3
	before := []uint32{ch.active[0], ch.active[1]}

	ch.applyCurrentLimit(30000)
	if ch.active[0] != before[0] || ch.active[1] != before[1] {
		t.Fatal("frame under threshold must not be modified")
	}
	if ch.limitEvents != 0 {
		t.Fatalf("limitEvents = %d, want 0", ch.limitEvents)
	}
}

func TestCurrentLimitScalesOverThreshold(t *testing.T) {
	ch := newChannel()
	ch.ledCount = 4
	for i := 0; i < 4; i++ {
		ch.active[i] = uint32(255)<<16 | uint32(255)<<8 | 255
	}
	// Sum is 4*765 = 3060; cap at half.
	ch.applyCurrentLimit(1530)

	var sum uint64
	for i := 0; i < 4; i++ {
		r, g, b := unpackGRB(ch.active[i])
		sum += uint64(r) + uint64(g) + uint64(b)
	}
	// Round-to-nearest can land a hair over the exact ratio.
	if sum > 1530+12 {
		t.Fatalf("post-limit sum = %d, want <= ~1530", sum)
	}
	if ch.limitEvents != 1 {
		t.Fatalf("limitEvents = %d, want 1", ch.limitEvents)
	}
	r, g, b := unpackGRB(ch.active[0])
	if r != g || g != b {
		t.Fatalf("uniform white must stay uniform, got %d %d %d", r, g, b)
	}
}
