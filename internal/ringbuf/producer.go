package ringbuf

// Producer is the exclusive write side of a ring buffer. It owns the write
// cursor: nothing else may advance it. The handle keeps a plain local copy
// of its own cursor so the fast path performs a single atomic load (the
// opposite cursor) and a single atomic store (the publish).
type Producer struct {
	ring       *RingBuffer
	localWrite uint64
}

// AvailableWrite returns how many frames can be written right now. One
// block of capacity is reserved so the result is capacity - block at most,
// and never negative.
func (p *Producer) AvailableWrite() int {
	occupancy := int(p.localWrite - p.ring.readCursor.Load())
	free := p.ring.capacityFrames - p.ring.blockSize - occupancy
	if free < 0 {
		return 0
	}
	return free
}

// Occupancy returns the frames currently buffered and unread, as seen from
// the producer side.
func (p *Producer) Occupancy() int {
	return int(p.localWrite - p.ring.readCursor.Load())
}

// Write appends interleaved samples to the ring. The slice length must be
// an exact multiple of blockSize*channels; anything else is a contract
// violation. If the ring lacks space for the whole request, nothing is
// written and 0 is returned as the backpressure signal. Partial writes do
// not exist. The call never blocks.
func (p *Producer) Write(samples []float32) (int, error) {
	rb := p.ring
	span := rb.blockSize * rb.channels
	if len(samples) == 0 || len(samples)%span != 0 {
		return 0, ErrUnalignedFrames
	}
	frames := len(samples) / rb.channels

	if frames > p.AvailableWrite() {
		return 0, nil
	}

	// Physical copy, split in two when the write crosses the end of the
	// storage region.
	start := int(p.localWrite%uint64(rb.capacityFrames)) * rb.channels
	first := len(rb.samples) - start
	if first >= len(samples) {
		copy(rb.samples[start:start+len(samples)], samples)
	} else {
		copy(rb.samples[start:], samples[:first])
		copy(rb.samples[:len(samples)-first], samples[first:])
	}

	// Publish after the copy: the atomic store orders the sample writes
	// before the cursor advance for the consumer.
	p.localWrite += uint64(frames)
	rb.writeCursor.Store(p.localWrite)

	return frames, nil
}
