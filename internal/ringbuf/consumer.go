package ringbuf

// Consumer is the exclusive read side of a ring buffer. It owns the read
// cursor. Reads de-interleave the shared storage into caller-supplied
// per-channel destination slices, ready for the render output layout.
type Consumer struct {
	ring      *RingBuffer
	localRead uint64
}

// AvailableRead returns the occupancy: frames buffered and not yet read.
func (c *Consumer) AvailableRead() int {
	return int(c.ring.writeCursor.Load() - c.localRead)
}

// Occupancy is an alias for AvailableRead, matching the producer-side name.
func (c *Consumer) Occupancy() int {
	return c.AvailableRead()
}

// Read pulls frameCount frames from the ring and de-interleaves them into
// dst, one slice per channel. frameCount must be an exact multiple of the
// block size and every destination slice must hold at least frameCount
// samples. If fewer frames are buffered than requested, nothing is read
// and 0 is returned as the underrun signal. The call never blocks and
// never returns partial data.
func (c *Consumer) Read(dst [][]float32, frameCount int) (int, error) {
	rb := c.ring
	if frameCount <= 0 || frameCount%rb.blockSize != 0 {
		return 0, ErrUnalignedFrames
	}
	if len(dst) != rb.channels {
		return 0, ErrChannelMismatch
	}
	for ch := range dst {
		if len(dst[ch]) < frameCount {
			return 0, ErrShortDestination
		}
	}

	if frameCount > c.AvailableRead() {
		return 0, nil
	}

	// De-interleave frame by frame, wrapping the physical index manually
	// so a read crossing the end of storage needs no second code path.
	channels := rb.channels
	pos := int(c.localRead % uint64(rb.capacityFrames))
	for frame := 0; frame < frameCount; frame++ {
		base := pos * channels
		for ch := 0; ch < channels; ch++ {
			dst[ch][frame] = rb.samples[base+ch]
		}
		pos++
		if pos == rb.capacityFrames {
			pos = 0
		}
	}

	c.localRead += uint64(frameCount)
	rb.readCursor.Store(c.localRead)

	return frameCount, nil
}
