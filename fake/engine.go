// Package fake provides a scripted engine.NetEngine for deterministic tests.
package fake

import (
	"errors"
	"net/netip"
	"slices"
	"sync"

	"github.com/touka-aoi/clipsock/core/engine"
	toukaerrors "github.com/touka-aoi/clipsock/core/errors"
	"github.com/touka-aoi/clipsock/core/event"
)

// Op names an engine operation for error injection.
type Op string

const (
	OpCreateHandle Op = "CreateHandle"
	OpCloseHandle  Op = "CloseHandle"
	OpSocket       Op = "Socket"
	OpBind         Op = "Bind"
	OpListen       Op = "Listen"
	OpAccept       Op = "Accept"
	OpRecv         Op = "Recv"
	OpSelect       Op = "Select"
	OpEnumerate    Op = "Enumerate"
	OpCloseSocket  Op = "CloseSocket"
)

var (
	ErrBadSocket = errors.New("fake: socket is not open")
	ErrClosed    = errors.New("fake: engine is closed")
)

// Armed is the interest registered for a handle.
type Armed struct {
	Socket   engine.Socket
	Interest event.EventType
}

// Ready is one handle reported by a scripted Wait.
type Ready struct {
	Handle engine.Handle
	Event  engine.NetEvent
}

// Engine is a scripted engine.NetEngine. Readiness is injected with Fire and
// consumed by Wait and Enumerate. It is safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	nextHandle engine.Handle
	nextSocket engine.Socket
	errs       map[Op]error

	handles map[engine.Handle]bool
	sockets map[engine.Socket]bool
	armed   map[engine.Handle]Armed
	events  map[engine.Handle]engine.NetEvent
	backlog []pending
	chunks  map[engine.Socket][][]byte
	recvErr map[engine.Socket]error
	bound   map[engine.Socket]netip.AddrPort

	script      [][]engine.Handle
	waitErr     error
	interrupted bool
	waiting     bool
	wake        chan struct{}

	closedSockets []engine.Socket
	closedHandles []engine.Handle
	closed        bool
}

type pending struct {
	socket engine.Socket
	remote netip.AddrPort
}

func NewEngine() *Engine {
	return &Engine{
		nextSocket: 2,
		errs:       make(map[Op]error),
		handles:    make(map[engine.Handle]bool),
		sockets:    make(map[engine.Socket]bool),
		armed:      make(map[engine.Handle]Armed),
		events:     make(map[engine.Handle]engine.NetEvent),
		chunks:     make(map[engine.Socket][][]byte),
		recvErr:    make(map[engine.Socket]error),
		bound:      make(map[engine.Socket]netip.AddrPort),
		wake:       make(chan struct{}, 1),
	}
}

// SetError makes every following call of op fail with err. A nil err clears it.
func (e *Engine) SetError(op Op, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.errs, op)
		return
	}
	e.errs[op] = err
}

// Connect queues an incoming connection and returns the socket Accept will hand out for it.
func (e *Engine) Connect(remote netip.AddrPort) engine.Socket {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.allocSocket()
	e.backlog = append(e.backlog, pending{socket: s, remote: remote})
	return s
}

// Send queues data to be returned by Recv on s.
func (e *Engine) Send(s engine.Socket, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chunks[s] = append(e.chunks[s], slices.Clone(data))
}

// FailRecv makes Recv on s fail with err.
func (e *Engine) FailRecv(s engine.Socket, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recvErr[s] = err
}

// Event builds a NetEvent with the given flags and no errors.
func Event(flags event.EventType) engine.NetEvent {
	var ne engine.NetEvent
	for _, t := range event.Types {
		if flags.Has(t) {
			ne.Set(t, nil)
		}
	}
	return ne
}

// Fire schedules one Wait result reporting every ready handle.
func (e *Engine) Fire(ready ...Ready) {
	e.mu.Lock()
	batch := make([]engine.Handle, 0, len(ready))
	for _, r := range ready {
		e.events[r.Handle] = r.Event
		batch = append(batch, r.Handle)
	}
	e.script = append(e.script, batch)
	e.mu.Unlock()
	e.signal()
}

// FailWait makes the next Wait fail with err.
func (e *Engine) FailWait(err error) {
	e.mu.Lock()
	e.waitErr = err
	e.mu.Unlock()
	e.signal()
}

// Idle reports whether Wait is blocked with nothing left to deliver.
func (e *Engine) Idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waiting && len(e.script) == 0 && e.waitErr == nil && !e.interrupted
}

// HandleOf returns the handle armed for s, or InvalidHandle.
func (e *Engine) HandleOf(s engine.Socket) engine.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	for h, a := range e.armed {
		if a.Socket == s {
			return h
		}
	}
	return engine.InvalidHandle
}

// Listener returns the socket and handle armed for accept readiness.
func (e *Engine) Listener() (engine.Socket, engine.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for h, a := range e.armed {
		if a.Interest.Has(event.EVENT_TYPE_ACCEPT) {
			return a.Socket, h
		}
	}
	return engine.InvalidSocket, engine.InvalidHandle
}

func (e *Engine) Armed(h engine.Handle) (Armed, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.armed[h]
	return a, ok
}

// OpenSockets is the number of sockets created or accepted and not yet closed.
func (e *Engine) OpenSockets() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sockets)
}

func (e *Engine) OpenHandles() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handles)
}

// ClosedHandles returns handles in the order they were closed.
func (e *Engine) ClosedHandles() []engine.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.closedHandles)
}

func (e *Engine) ClosedSockets() []engine.Socket {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.closedSockets)
}

func (e *Engine) CreateHandle() (engine.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errs[OpCreateHandle]; err != nil {
		return engine.InvalidHandle, err
	}
	e.nextHandle++
	e.handles[e.nextHandle] = true
	return e.nextHandle, nil
}

func (e *Engine) CloseHandle(h engine.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handles, h)
	delete(e.armed, h)
	delete(e.events, h)
	e.closedHandles = append(e.closedHandles, h)
	return e.errs[OpCloseHandle]
}

func (e *Engine) Socket(addr netip.AddrPort) (engine.Socket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errs[OpSocket]; err != nil {
		return engine.InvalidSocket, err
	}
	s := e.allocSocket()
	e.sockets[s] = true
	return s, nil
}

func (e *Engine) Bind(s engine.Socket, addr netip.AddrPort) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errs[OpBind]; err != nil {
		return err
	}
	if !e.sockets[s] {
		return ErrBadSocket
	}
	if addr.Port() == 0 {
		addr = netip.AddrPortFrom(addr.Addr(), 40000+uint16(s))
	}
	e.bound[s] = addr
	return nil
}

func (e *Engine) Listen(s engine.Socket, backlog int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errs[OpListen]; err != nil {
		return err
	}
	if !e.sockets[s] {
		return ErrBadSocket
	}
	return nil
}

func (e *Engine) Accept(listener engine.Socket) (engine.Socket, netip.AddrPort, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errs[OpAccept]; err != nil {
		return engine.InvalidSocket, netip.AddrPort{}, err
	}
	if !e.sockets[listener] {
		return engine.InvalidSocket, netip.AddrPort{}, ErrBadSocket
	}
	if len(e.backlog) == 0 {
		return engine.InvalidSocket, netip.AddrPort{}, toukaerrors.ErrWouldBlock
	}
	p := e.backlog[0]
	e.backlog = e.backlog[1:]
	e.sockets[p.socket] = true
	return p.socket, p.remote, nil
}

func (e *Engine) Recv(s engine.Socket, p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errs[OpRecv]; err != nil {
		return 0, err
	}
	if err := e.recvErr[s]; err != nil {
		return 0, err
	}
	if !e.sockets[s] {
		return 0, ErrBadSocket
	}
	queue := e.chunks[s]
	if len(queue) == 0 || len(p) == 0 {
		return 0, nil
	}
	n := copy(p, queue[0])
	if n == len(queue[0]) {
		e.chunks[s] = queue[1:]
	} else {
		queue[0] = queue[0][n:]
	}
	return n, nil
}

func (e *Engine) LocalAddr(s engine.Socket) (netip.AddrPort, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	addr, ok := e.bound[s]
	if !ok {
		return netip.AddrPort{}, ErrBadSocket
	}
	return addr, nil
}

func (e *Engine) CloseSocket(s engine.Socket) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.sockets[s] {
		return ErrBadSocket
	}
	delete(e.sockets, s)
	delete(e.chunks, s)
	delete(e.bound, s)
	e.closedSockets = append(e.closedSockets, s)
	return e.errs[OpCloseSocket]
}

func (e *Engine) Select(s engine.Socket, h engine.Handle, interest event.EventType) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errs[OpSelect]; err != nil {
		return err
	}
	if !e.sockets[s] {
		return ErrBadSocket
	}
	e.armed[h] = Armed{Socket: s, Interest: interest}
	return nil
}

func (e *Engine) Enumerate(s engine.Socket, h engine.Handle) (engine.NetEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.errs[OpEnumerate]; err != nil {
		return engine.NetEvent{}, err
	}
	ne := e.events[h]
	delete(e.events, h)
	return ne, nil
}

func (e *Engine) Wait() ([]engine.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		if e.closed {
			e.waiting = false
			return nil, ErrClosed
		}
		if e.interrupted {
			e.interrupted = false
			e.waiting = false
			return nil, nil
		}
		if err := e.waitErr; err != nil {
			e.waitErr = nil
			e.waiting = false
			return nil, err
		}
		if len(e.script) > 0 {
			batch := e.script[0]
			e.script = e.script[1:]
			e.waiting = false
			return batch, nil
		}
		e.waiting = true
		e.mu.Unlock()
		<-e.wake
		e.mu.Lock()
	}
}

func (e *Engine) Interrupt() error {
	e.mu.Lock()
	e.interrupted = true
	e.mu.Unlock()
	e.signal()
	return nil
}

// Close makes every following Wait fail with ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.signal()
	return nil
}

func (e *Engine) allocSocket() engine.Socket {
	e.nextSocket++
	return e.nextSocket
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
