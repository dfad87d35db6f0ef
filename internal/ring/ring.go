// Package ring implements the single-producer/single-consumer shared-memory
// byte ring described in spec §4.1 and the header layout in spec §6.
//
// The ring is safe for exactly one writer goroutine and one reader goroutine
// running concurrently; it is not safe for multiple writers or multiple
// readers. Capacity is fixed at construction and must be a power of two so
// the wrap arithmetic can use a mask instead of a modulo.
//
// There is no library in the reference corpus that implements this exact
// shape (atomic head/tail indices over a fixed byte region, with a
// release/acquire handoff and a wake-signal counter matching spec §6's
// 32-byte header) — see DESIGN.md for why this stays on sync/atomic rather
// than a generic ring-buffer package.
package ring

import (
	"fmt"
	"sync/atomic"
)

// HeaderSize is the fixed 32-byte header described in spec §6.
const HeaderSize = 32

// header mirrors the little-endian, 32-bit-aligned layout from spec §6:
// capacity, write index, read index, signal counter, producer epoch, and 12
// reserved bytes. It is embedded at the front of the shared region.
type header struct {
	capacity uint32
	write    uint32
	read     uint32
	signal   uint32
	epoch    uint32
	_        [12]byte
}

// Ring is a fixed-capacity SPSC byte ring. Its header and data region are
// allocated in process memory by New; no constructor places a Ring over a
// caller-supplied, memory-mapped or shared-memory segment.
type Ring struct {
	hdr  *header
	data []byte
	mask uint32
}

// ErrCapacityNotPowerOfTwo is returned by New when capacity isn't a power of two.
type ErrCapacityNotPowerOfTwo struct{ Capacity uint32 }

func (e ErrCapacityNotPowerOfTwo) Error() string {
	return fmt.Sprintf("ring: capacity %d is not a power of two", e.Capacity)
}

func isPowerOfTwo(n uint32) bool { return n != 0 && n&(n-1) == 0 }

// New allocates a Ring entirely within process memory (no shared-memory
// backing). Used by in-process tests and by the PTY host when a session
// moves to the active tier.
func New(capacity uint32) (*Ring, error) {
	if !isPowerOfTwo(capacity) {
		return nil, ErrCapacityNotPowerOfTwo{Capacity: capacity}
	}
	return &Ring{
		hdr:  &header{capacity: capacity},
		data: make([]byte, capacity),
		mask: capacity - 1,
	}, nil
}

// Capacity returns the fixed ring capacity in bytes.
func (r *Ring) Capacity() uint32 { return r.hdr.capacity }

func (r *Ring) writeIdx() uint32 { return atomic.LoadUint32(&r.hdr.write) }
func (r *Ring) readIdx() uint32  { return atomic.LoadUint32(&r.hdr.read) }

// used returns the number of unread bytes currently in the ring.
func (r *Ring) used() uint32 {
	return r.writeIdx() - r.readIdx()
}

// free returns the number of bytes that can be written without overwriting
// unread data.
func (r *Ring) free() uint32 {
	return r.hdr.capacity - r.used()
}

// Write copies p into the ring in full, or not at all. It never partially
// writes: if there isn't enough free space for all of p, it writes zero
// bytes and returns ok=false so the caller can choose to wait or drop.
func (r *Ring) Write(p []byte) (ok bool) {
	if uint32(len(p)) > r.free() {
		return false
	}
	if len(p) == 0 {
		return true
	}

	w := r.writeIdx()
	for i, b := range p {
		r.data[(w+uint32(i))&r.mask] = b
	}

	// Publish the bytes before advancing write with release semantics, so a
	// reader that observes the new write index via an acquire load is
	// guaranteed to see the copied bytes.
	atomic.StoreUint32(&r.hdr.write, w+uint32(len(p)))
	atomic.AddUint32(&r.hdr.signal, 1)
	return true
}

// Utilization returns the percentage of capacity currently occupied by
// unread bytes, for flow-control hysteresis (spec §4.3 watermark policy).
func (r *Ring) Utilization() float64 {
	return float64(r.used()) / float64(r.hdr.capacity) * 100
}

// Signal returns the current wake-signal counter. A caller that blocks on
// new data should remember the last observed value and treat an unchanged
// counter as "no new data since last observation" (spec §4.1).
func (r *Ring) Signal() uint32 {
	return atomic.LoadUint32(&r.hdr.signal)
}

// Read returns all bytes currently available as one contiguous, newly
// allocated slice, copying across the wrap point if necessary. An empty
// ring is a valid state and yields a nil slice rather than panicking.
func (r *Ring) Read() []byte {
	used := r.used()
	if used == 0 {
		return nil
	}
	out, _ := r.ReadUpTo(used)
	return out
}

// ReadUpTo returns up to max bytes from the ring, preserving any remainder
// for the next call. max must be greater than zero; a zero or negative max
// is a programmer error and panics, matching spec §4.1's precondition.
func (r *Ring) ReadUpTo(max uint32) ([]byte, error) {
	if max == 0 {
		panic("ring: ReadUpTo requires max > 0")
	}

	w := atomic.LoadUint32(&r.hdr.write) // acquire: see the writer's published bytes
	readStart := r.readIdx()
	available := w - readStart
	if available == 0 {
		return nil, nil
	}

	n := available
	if n > max {
		n = max
	}

	out := make([]byte, n)
	for i := uint32(0); i < n; i++ {
		out[i] = r.data[(readStart+i)&r.mask]
	}

	atomic.StoreUint32(&r.hdr.read, readStart+n)
	return out, nil
}
