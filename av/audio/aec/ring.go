package aec

import (
	"math/bits"
	"sync/atomic"
)

// ReferenceRing is a lock-free single-producer single-consumer sample queue.
// The playback side writes far-end samples with Write while the processing
// goroutine drains them with Read. Neither side ever blocks.
type ReferenceRing struct {
	buf  []float64
	mask uint64

	// head is advanced only by the reader, tail only by the writer.
	head atomic.Uint64
	tail atomic.Uint64
}

// NewReferenceRing creates a ring holding at least capacity samples. The
// capacity is rounded up to a power of two.
func NewReferenceRing(capacity int) *ReferenceRing {
	if capacity < 2 {
		capacity = 2
	}
	size := uint64(1) << bits.Len64(uint64(capacity-1))
	return &ReferenceRing{
		buf:  make([]float64, size),
		mask: size - 1,
	}
}

// Cap returns the ring capacity in samples.
func (r *ReferenceRing) Cap() int { return len(r.buf) }

// Len returns the number of samples waiting to be read.
func (r *ReferenceRing) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Write appends as many samples as fit and returns how many were stored.
// Samples that do not fit are dropped. Only one goroutine may call Write.
func (r *ReferenceRing) Write(samples []float64) int {
	tail := r.tail.Load()
	free := uint64(len(r.buf)) - (tail - r.head.Load())
	n := uint64(len(samples))
	if n > free {
		n = free
	}
	for i := uint64(0); i < n; i++ {
		r.buf[(tail+i)&r.mask] = samples[i]
	}
	r.tail.Store(tail + n)
	return int(n)
}

// Read fills dst with queued samples, padding with zeros when the queue runs
// dry, and returns how many real samples were read. Only one goroutine may
// call Read.
func (r *ReferenceRing) Read(dst []float64) int {
	head := r.head.Load()
	avail := r.tail.Load() - head
	n := uint64(len(dst))
	if n > avail {
		n = avail
	}
	for i := uint64(0); i < n; i++ {
		dst[i] = r.buf[(head+i)&r.mask]
	}
	for i := n; i < uint64(len(dst)); i++ {
		dst[i] = 0
	}
	r.head.Store(head + n)
	return int(n)
}

// Discard drops every queued sample. It must be called from the reader side.
func (r *ReferenceRing) Discard() {
	r.head.Store(r.tail.Load())
}
