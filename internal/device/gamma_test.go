package device

import "testing"

func TestGammaTableMonotonic(t *testing.T) {
	lut := newGammaTable(2.8)
	if lut[0] != 0 {
		t.Fatalf("lut[0] = %d, want 0", lut[0])
	}
	for i := 1; i < 256; i++ {
		if lut[i] < lut[i-1] {
			t.Fatalf("lut not nondecreasing at %d: %d < %d", i, lut[i], lut[i-1])
		}
	}
	if lut[255] != 255 {
		t.Fatalf("lut[255] = %d, want 255", lut[255])
	}
}

func TestGammaIdentityAtOne(t *testing.T) {
	lut := newGammaTable(1.0)
	for i := 0; i < 256; i++ {
		if lut[i] != uint8(i) {
			t.Fatalf("gamma 1.0 should be identity, lut[%d] = %d", i, lut[i])
		}
	}
}

func TestPackGRBLayout(t *testing.T) {
	lut := newGammaTable(1.0)
	word := lut.packGRB(0x10, 0x20, 0x30)
	if word != 0x00201030 {
		t.Fatalf("word = %08X, want 00201030", word)
	}
	r, g, b := unpackGRB(word)
	if r != 0x10 || g != 0x20 || b != 0x30 {
		t.Fatalf("unpack = %02X %02X %02X", r, g, b)
	}
}
