package ring

import (
	"bytes"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	r, err := New(1024)
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("hello ring buffer")
	if ok := r.Write(payload); !ok {
		t.Fatal("expected write to succeed")
	}

	got := r.Read()
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestReadOnEmptyRingReturnsNilWithoutPanicking(t *testing.T) {
	r, err := New(1024)
	if err != nil {
		t.Fatal(err)
	}

	got := r.Read()
	if got != nil {
		t.Fatalf("expected nil on an empty ring, got %q", got)
	}

	// and again after a drained write, not just before any write at all
	if ok := r.Write([]byte("x")); !ok {
		t.Fatal("expected write to succeed")
	}
	if got := r.Read(); string(got) != "x" {
		t.Fatalf("got %q, want %q", got, "x")
	}
	if got := r.Read(); got != nil {
		t.Fatalf("expected nil after draining the ring, got %q", got)
	}
}

func TestChunkedTransportScenario(t *testing.T) {
	// Scenario 1 from spec §8: producer writes 1000 bytes i mod 256,
	// consumer calls read_up_to(100) ten times; the ten buffers must
	// concatenate back to the original stream.
	r, err := New(2048)
	if err != nil {
		t.Fatal(err)
	}

	want := make([]byte, 1000)
	for i := range want {
		want[i] = byte(i % 256)
	}
	if ok := r.Write(want); !ok {
		t.Fatal("expected write to succeed")
	}

	var got []byte
	for i := 0; i < 10; i++ {
		chunk, err := r.ReadUpTo(100)
		if err != nil {
			t.Fatal(err)
		}
		if len(chunk) != 100 {
			t.Fatalf("chunk %d: got %d bytes, want 100", i, len(chunk))
		}
		got = append(got, chunk...)
	}

	if !bytes.Equal(got, want) {
		t.Fatalf("reconstructed stream mismatch")
	}
}

func TestWriteFailsWhenInsufficientSpace(t *testing.T) {
	r, err := New(16)
	if err != nil {
		t.Fatal(err)
	}

	if ok := r.Write(make([]byte, 16)); !ok {
		t.Fatal("expected exact-capacity write to succeed")
	}
	if ok := r.Write([]byte{1}); ok {
		t.Fatal("expected write to fail when ring is full")
	}

	// Never partially written: a failed write leaves the ring unchanged.
	if r.used() != 16 {
		t.Fatalf("used = %d, want 16", r.used())
	}
}

func TestReadUpToZeroPanics(t *testing.T) {
	r, err := New(16)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for max == 0")
		}
	}()
	_, _ = r.ReadUpTo(0)
}

func TestWrapAround(t *testing.T) {
	r, err := New(8)
	if err != nil {
		t.Fatal(err)
	}

	// Fill, drain, then write again so the write pointer wraps past the
	// end of the backing array.
	if ok := r.Write([]byte{1, 2, 3, 4, 5, 6}); !ok {
		t.Fatal("write 1 failed")
	}
	if got := r.Read(); !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("got %v", got)
	}
	if ok := r.Write([]byte{7, 8, 9, 10}); !ok {
		t.Fatal("write 2 failed")
	}
	if got := r.Read(); !bytes.Equal(got, []byte{7, 8, 9, 10}) {
		t.Fatalf("got %v, want wrapped bytes", got)
	}
}

func TestUtilization(t *testing.T) {
	r, err := New(100) // not a power of two on purpose to hit the error path below
	if err == nil {
		t.Fatal("expected non-power-of-two capacity to be rejected")
	}

	r, err = New(128)
	if err != nil {
		t.Fatal(err)
	}
	if u := r.Utilization(); u != 0 {
		t.Fatalf("utilization = %v, want 0", u)
	}
	r.Write(make([]byte, 64))
	if u := r.Utilization(); u != 50 {
		t.Fatalf("utilization = %v, want 50", u)
	}
}

func TestCapacityMustBePowerOfTwo(t *testing.T) {
	if _, err := New(100); err == nil {
		t.Fatal("expected error for non-power-of-two capacity")
	}
}
