package buffer

import (
	"fmt"

	toukaerrors "github.com/touka-aoi/clipsock/core/errors"
)

// Padding is reserved after the payload so sinks that expect a NUL-terminated
// string can consume the memory as is. It is not counted against capacity.
const Padding = 1

// Payload is a fixed-capacity, append-only accumulation buffer.
//
// The zero value is not usable; create one with NewPayload. A Payload is not
// safe for concurrent use.
type Payload struct {
	region    Region
	data      []byte
	capacity  int
	remaining int
}

// NewPayload allocates capacity+Padding zeroed bytes and locks them for writing.
func NewPayload(alloc Allocator, capacity int) (*Payload, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: invalid payload capacity %d", toukaerrors.ErrUsage, capacity)
	}

	size := capacity + Padding
	region, err := alloc.Alloc(size)
	if err != nil {
		return nil, fmt.Errorf("%w: alloc %d bytes: %w", toukaerrors.ErrAllocation, size, err)
	}

	data, err := region.Lock()
	if err != nil {
		_ = region.Free()
		return nil, fmt.Errorf("%w: lock %d bytes: %w", toukaerrors.ErrAllocation, size, err)
	}

	return &Payload{
		region:    region,
		data:      data,
		capacity:  capacity,
		remaining: capacity,
	}, nil
}

// Cursor returns the writable tail of the buffer. Its length equals Remaining.
//
// A released or discarded buffer is inert: Cursor returns nil and Len returns 0.
// Writing through an inert buffer is a usage error, so callers that may hold
// one check Released first.
func (p *Payload) Cursor() []byte {
	if p.region == nil {
		return nil
	}
	off := p.capacity - p.remaining
	return p.data[off:p.capacity:p.capacity]
}

// Advance commits n bytes written through Cursor.
// n must not exceed Remaining; violating that is a programming error.
func (p *Payload) Advance(n int) {
	if n < 0 || n > p.remaining {
		panic(fmt.Errorf("%w: advance %d exceeds remaining %d", toukaerrors.ErrUsage, n, p.remaining))
	}
	p.remaining -= n
}

func (p *Payload) Capacity() int {
	return p.capacity
}

func (p *Payload) Remaining() int {
	return p.remaining
}

// Len is the number of committed bytes. It is 0 for an inert buffer.
func (p *Payload) Len() int {
	if p.region == nil {
		return 0
	}
	return p.capacity - p.remaining
}

func (p *Payload) IsEmpty() bool {
	return p.remaining == p.capacity
}

func (p *Payload) IsFull() bool {
	return p.remaining == 0
}

// Released reports whether the buffer is inert.
func (p *Payload) Released() bool {
	return p.region == nil
}

// Release unlocks the memory and transfers it to the returned Handle.
// The buffer is inert afterwards and a second call fails with ErrUsage.
func (p *Payload) Release() (*Handle, error) {
	if p.region == nil {
		return nil, fmt.Errorf("%w: payload already released", toukaerrors.ErrUsage)
	}

	h := &Handle{region: p.region, size: p.capacity - p.remaining}
	p.region = nil
	p.data = nil
	p.remaining = 0
	h.region.Unlock()
	return h, nil
}

// Discard frees the memory of a buffer that was never released.
// It is a no-op for an inert buffer.
func (p *Payload) Discard() error {
	if p.region == nil {
		return nil
	}
	region := p.region
	p.region = nil
	p.data = nil
	p.remaining = 0
	return region.Free()
}

// Handle owns the memory of a released Payload.
// Whoever receives a Handle is responsible for calling Free exactly once.
type Handle struct {
	region Region
	size   int
}

// Len is the payload size, excluding Padding.
func (h *Handle) Len() int {
	return h.size
}

// Bytes returns a copy of the payload.
func (h *Handle) Bytes() ([]byte, error) {
	if h.region == nil {
		return nil, fmt.Errorf("%w: handle already freed", toukaerrors.ErrUsage)
	}
	data, err := h.region.Lock()
	if err != nil {
		return nil, fmt.Errorf("%w: lock released payload: %w", toukaerrors.ErrAllocation, err)
	}
	defer h.region.Unlock()

	out := make([]byte, h.size)
	copy(out, data[:h.size])
	return out, nil
}

// Free returns the memory to the allocator.
func (h *Handle) Free() error {
	if h.region == nil {
		return fmt.Errorf("%w: handle already freed", toukaerrors.ErrUsage)
	}
	region := h.region
	h.region = nil
	return region.Free()
}
