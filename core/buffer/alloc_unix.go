//go:build unix

package buffer

import (
	"golang.org/x/sys/unix"
)

// Default is the allocator used by the server. Anonymous mappings are
// zero-filled by the kernel and can be write-protected once released.
var Default Allocator = MmapAllocator{}

// MmapAllocator hands out anonymous private mappings.
// Lock makes the mapping writable, Unlock makes it read-only.
type MmapAllocator struct{}

func (MmapAllocator) Alloc(size int) (Region, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	return &mmapRegion{data: data}, nil
}

type mmapRegion struct {
	data []byte
}

func (r *mmapRegion) Lock() ([]byte, error) {
	if r.data == nil {
		return nil, ErrRegionFreed
	}
	if err := unix.Mprotect(r.data, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return nil, err
	}
	return r.data, nil
}

func (r *mmapRegion) Unlock() {
	if r.data == nil {
		return
	}
	_ = unix.Mprotect(r.data, unix.PROT_READ)
}

func (r *mmapRegion) Free() error {
	if r.data == nil {
		return ErrRegionFreed
	}
	data := r.data
	r.data = nil
	return unix.Munmap(data)
}
