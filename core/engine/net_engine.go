package engine

import (
	"net/netip"

	"github.com/touka-aoi/clipsock/core/event"
)

// Handle identifies one registration in the wait set.
// Handles are never reused within one engine.
type Handle int32

const InvalidHandle Handle = 0

// Socket is an OS transport endpoint owned by whoever created or accepted it.
type Socket int32

const InvalidSocket Socket = -1

// NetEngine multiplexes readiness of many sockets on one blocking call.
//
// All methods except Interrupt are called from a single goroutine.
// Interrupt may be called from any goroutine and wakes a blocked Wait.
type NetEngine interface {
	CreateHandle() (Handle, error)
	CloseHandle(h Handle) error

	Socket(addr netip.AddrPort) (Socket, error)
	Bind(s Socket, addr netip.AddrPort) error
	Listen(s Socket, backlog int) error
	Accept(listener Socket) (Socket, netip.AddrPort, error)
	// Recv reads into p. A would-block read and end of stream both report 0, nil.
	Recv(s Socket, p []byte) (int, error)
	LocalAddr(s Socket) (netip.AddrPort, error)
	CloseSocket(s Socket) error

	// Select arms h to report the given readiness of s.
	// EVENT_TYPE_ACCEPT marks s as a listener.
	Select(s Socket, h Handle, interest event.EventType) error
	// Enumerate returns and clears the readiness recorded for h by the last Wait.
	Enumerate(s Socket, h Handle) (NetEvent, error)

	// Wait blocks until at least one handle is ready or Interrupt is called.
	// The returned slice is only valid until the next call.
	Wait() ([]Handle, error)
	Interrupt() error
	Close() error
}
