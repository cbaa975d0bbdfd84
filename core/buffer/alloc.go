package buffer

import "errors"

var ErrRegionFreed = errors.New("region already freed")

// Region is a block of relocatable memory. Lock pins it for direct access and
// returns the full block; Unlock ends direct write access.
type Region interface {
	Lock() ([]byte, error)
	Unlock()
	Free() error
}

type Allocator interface {
	Alloc(size int) (Region, error)
}

// HeapAllocator hands out regions backed by the Go heap.
type HeapAllocator struct{}

func (HeapAllocator) Alloc(size int) (Region, error) {
	return &heapRegion{buf: make([]byte, size)}, nil
}

type heapRegion struct {
	buf []byte
}

func (r *heapRegion) Lock() ([]byte, error) {
	if r.buf == nil {
		return nil, ErrRegionFreed
	}
	return r.buf, nil
}

func (r *heapRegion) Unlock() {}

func (r *heapRegion) Free() error {
	if r.buf == nil {
		return ErrRegionFreed
	}
	r.buf = nil
	return nil
}
