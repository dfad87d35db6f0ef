package remote

import "testing"

func TestQRLinesFitsWithinBounds(t *testing.T) {
	lines := QRLines("https://example.com/pair/abc123", 80, 40, false)
	if len(lines) == 0 {
		t.Fatal("expected at least one rendered line")
	}
	for _, l := range lines {
		if uint16(len([]rune(l))) > 80 {
			t.Fatalf("line exceeds max width: %q", l)
		}
	}
	if len(lines) > 40 {
		t.Fatalf("rendered %d lines, want <= 40", len(lines))
	}
}

func TestQRLinesInvertProducesDifferentOutput(t *testing.T) {
	data := "pairing-token-xyz"
	normal := QRLines(data, 80, 40, false)
	inverted := QRLines(data, 80, 40, true)
	if len(normal) != len(inverted) {
		t.Fatalf("expected same line count regardless of invert, got %d vs %d", len(normal), len(inverted))
	}
	same := true
	for i := range normal {
		if normal[i] != inverted[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("expected inverted rendering to differ from normal rendering")
	}
}

func TestQRLinesTooLargeReturnsPlaceholder(t *testing.T) {
	lines := QRLines("some data to encode", 1, 1, false)
	if len(lines) == 0 {
		t.Fatal("expected a placeholder message")
	}
	if lines[0] != "QR code too large for terminal" {
		t.Fatalf("expected placeholder message, got %q", lines[0])
	}
}

func TestQRDimensionsNonZeroForValidData(t *testing.T) {
	w, h := QRDimensions("https://example.com/pair/abc123")
	if w == 0 || h == 0 {
		t.Fatalf("expected non-zero dimensions, got %dx%d", w, h)
	}
}
