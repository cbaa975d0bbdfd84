package peer

import (
	"errors"
	"fmt"
	"slices"

	"github.com/touka-aoi/clipsock/core/buffer"
	"github.com/touka-aoi/clipsock/core/engine"
	toukaerrors "github.com/touka-aoi/clipsock/core/errors"
)

// Registry owns every live wait handle together with its socket and payload.
//
// Handles are kept in registration order so teardown can run LIFO by popping
// the tail. A Registry is not safe for concurrent use; the server hands
// ownership between the control goroutine and the loop goroutine.
type Registry struct {
	engine   engine.NetEngine
	alloc    buffer.Allocator
	capacity int
	max      int

	listener engine.Handle
	handles  []engine.Handle
	peers    map[engine.Handle]*Peer
	buffers  map[engine.Handle]*buffer.Payload
}

func NewRegistry(e engine.NetEngine, alloc buffer.Allocator, capacity int, maxHandles int) *Registry {
	return &Registry{
		engine:   e,
		alloc:    alloc,
		capacity: capacity,
		max:      maxHandles,
		handles:  make([]engine.Handle, 0, maxHandles),
		peers:    make(map[engine.Handle]*Peer, maxHandles),
		buffers:  make(map[engine.Handle]*buffer.Payload, maxHandles),
	}
}

// RegisterListener creates the listener's handle. It must be the first handle.
func (r *Registry) RegisterListener() (engine.Handle, error) {
	if len(r.handles) != 0 {
		return engine.InvalidHandle, fmt.Errorf("%w: listener must be registered first", toukaerrors.ErrUsage)
	}
	h, err := r.register()
	if err != nil {
		return engine.InvalidHandle, err
	}
	r.listener = h
	return h, nil
}

// Register creates a handle for a connection. The handle is only recorded
// when creation succeeds.
func (r *Registry) Register() (engine.Handle, error) {
	return r.register()
}

func (r *Registry) register() (engine.Handle, error) {
	if r.Full() {
		return engine.InvalidHandle, fmt.Errorf("%w: %d wait handles in use", toukaerrors.ErrResourceExhausted, len(r.handles))
	}
	h, err := r.engine.CreateHandle()
	if err != nil {
		return engine.InvalidHandle, fmt.Errorf("%w: create handle: %w", toukaerrors.ErrTransport, err)
	}
	r.handles = append(r.handles, h)
	return h, nil
}

// Attach associates a socket with a registered handle.
func (r *Registry) Attach(h engine.Handle, p *Peer) error {
	if !r.Contains(h) {
		return fmt.Errorf("%w: attach to unknown handle %d", toukaerrors.ErrUsage, h)
	}
	if _, ok := r.peers[h]; ok {
		return fmt.Errorf("%w: handle %d already has a socket", toukaerrors.ErrUsage, h)
	}
	r.peers[h] = p
	return nil
}

func (r *Registry) Peer(h engine.Handle) (*Peer, bool) {
	p, ok := r.peers[h]
	return p, ok
}

func (r *Registry) Listener() engine.Handle {
	return r.listener
}

func (r *Registry) IsListener(h engine.Handle) bool {
	return h != engine.InvalidHandle && h == r.listener
}

// Buffer returns the payload of h, allocating it on first access.
func (r *Registry) Buffer(h engine.Handle) (*buffer.Payload, error) {
	if b, ok := r.buffers[h]; ok {
		return b, nil
	}
	if r.IsListener(h) {
		return nil, fmt.Errorf("%w: listener has no payload", toukaerrors.ErrUsage)
	}
	if !r.Contains(h) {
		return nil, fmt.Errorf("%w: buffer for unknown handle %d", toukaerrors.ErrUsage, h)
	}

	b, err := buffer.NewPayload(r.alloc, r.capacity)
	if err != nil {
		return nil, err
	}
	r.buffers[h] = b
	return b, nil
}

// ExistingBuffer returns the payload of h without allocating one.
func (r *Registry) ExistingBuffer(h engine.Handle) (*buffer.Payload, bool) {
	b, ok := r.buffers[h]
	return b, ok
}

// Remove discards the payload, closes the socket and closes the handle.
// Unknown handles and InvalidHandle are ignored.
func (r *Registry) Remove(h engine.Handle) error {
	if h == engine.InvalidHandle {
		return nil
	}
	idx := slices.Index(r.handles, h)
	if idx < 0 {
		return nil
	}
	return r.removeAt(idx)
}

// RemoveAll removes every handle, most recently registered first.
func (r *Registry) RemoveAll() error {
	var errs []error
	for len(r.handles) > 0 {
		if err := r.removeAt(len(r.handles) - 1); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) removeAt(idx int) error {
	h := r.handles[idx]
	var errs []error

	if b, ok := r.buffers[h]; ok {
		delete(r.buffers, h)
		if err := b.Discard(); err != nil {
			errs = append(errs, fmt.Errorf("discard payload of handle %d: %w", h, err))
		}
	}

	if p, ok := r.peers[h]; ok {
		delete(r.peers, h)
		p.SetState(StateClosed)
		if err := r.engine.CloseSocket(p.Socket()); err != nil {
			errs = append(errs, fmt.Errorf("close socket %d: %w", p.Socket(), err))
		}
	}

	if err := r.engine.CloseHandle(h); err != nil {
		errs = append(errs, fmt.Errorf("close handle %d: %w", h, err))
	}

	// 末尾なら移動は発生しません
	r.handles = slices.Delete(r.handles, idx, idx+1)
	if h == r.listener {
		r.listener = engine.InvalidHandle
	}
	return errors.Join(errs...)
}

func (r *Registry) Contains(h engine.Handle) bool {
	return slices.Contains(r.handles, h)
}

func (r *Registry) Len() int {
	return len(r.handles)
}

func (r *Registry) Full() bool {
	return len(r.handles) >= r.max
}

// Connections is the number of registered client sockets.
func (r *Registry) Connections() int {
	n := len(r.peers)
	if _, ok := r.peers[r.listener]; ok {
		n--
	}
	return n
}

// Buffers is the number of live payloads.
func (r *Registry) Buffers() int {
	return len(r.buffers)
}

// Handles returns a copy of the handles in registration order.
func (r *Registry) Handles() []engine.Handle {
	return slices.Clone(r.handles)
}
