//go:build !unix

package buffer

var Default Allocator = HeapAllocator{}
