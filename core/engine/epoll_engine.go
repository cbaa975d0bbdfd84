//go:build linux

package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/netip"

	"github.com/touka-aoi/clipsock/core/core"
	toukaerrors "github.com/touka-aoi/clipsock/core/errors"
	"github.com/touka-aoi/clipsock/core/event"
	"golang.org/x/sys/unix"
)

// wakeHandle は eventfd 用の予約ハンドルです。CreateHandle はこの値を返しません
const wakeHandle Handle = math.MaxInt32

type registration struct {
	socket   Socket
	interest event.EventType
}

// EpollNetEngine is a level-triggered epoll multiplexer.
// Interrupt signals an eventfd that is part of the epoll set.
type EpollNetEngine struct {
	epfd    int
	wakefd  int
	next    Handle
	armed   map[Handle]registration
	pending map[Handle]uint32
	events  []unix.EpollEvent
	ready   []Handle
}

func NewEpollNetEngine(maxEvents int) (*EpollNetEngine, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	wake := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeHandle)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &wake); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll_ctl wake: %w", err)
	}

	return &EpollNetEngine{
		epfd:    epfd,
		wakefd:  wakefd,
		armed:   make(map[Handle]registration),
		pending: make(map[Handle]uint32),
		events:  make([]unix.EpollEvent, maxEvents+1),
		ready:   make([]Handle, 0, maxEvents),
	}, nil
}

func (e *EpollNetEngine) CreateHandle() (Handle, error) {
	if e.next == wakeHandle-1 {
		return InvalidHandle, fmt.Errorf("%w: handle space exhausted", toukaerrors.ErrResourceExhausted)
	}
	e.next++
	return e.next, nil
}

func (e *EpollNetEngine) CloseHandle(h Handle) error {
	reg, ok := e.armed[h]
	delete(e.armed, h)
	delete(e.pending, h)
	if !ok {
		return nil
	}

	// ソケットが先に閉じられていればカーネル側で既に外れています
	err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, int(reg.socket), nil)
	if err != nil && !errors.Is(err, unix.EBADF) && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("epoll_ctl del: %w", err)
	}
	return nil
}

func (e *EpollNetEngine) Socket(addr netip.AddrPort) (Socket, error) {
	s, err := core.CreateTCPSocket(addr)
	if err != nil {
		return InvalidSocket, err
	}
	return Socket(s.Fd), nil
}

func (e *EpollNetEngine) Bind(s Socket, addr netip.AddrPort) error {
	return sock(s).Bind(addr)
}

func (e *EpollNetEngine) Listen(s Socket, backlog int) error {
	return sock(s).Listen(backlog)
}

func (e *EpollNetEngine) Accept(listener Socket) (Socket, netip.AddrPort, error) {
	conn, remote, err := sock(listener).Accept()
	if errors.Is(err, unix.EAGAIN) {
		return InvalidSocket, netip.AddrPort{}, toukaerrors.ErrWouldBlock
	}
	if err != nil {
		return InvalidSocket, netip.AddrPort{}, err
	}
	return Socket(conn.Fd), remote, nil
}

func (e *EpollNetEngine) Recv(s Socket, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := sock(s).Recv(p)
	if errors.Is(err, unix.EAGAIN) {
		return 0, nil
	}
	return n, err
}

func (e *EpollNetEngine) LocalAddr(s Socket) (netip.AddrPort, error) {
	return sock(s).LocalAddr()
}

func (e *EpollNetEngine) CloseSocket(s Socket) error {
	return sock(s).Close()
}

func (e *EpollNetEngine) Select(s Socket, h Handle, interest event.EventType) error {
	var mask uint32
	if interest.Has(event.EVENT_TYPE_ACCEPT) || interest.Has(event.EVENT_TYPE_READ) {
		mask |= unix.EPOLLIN
	}
	if interest.Has(event.EVENT_TYPE_CLOSE) && !interest.Has(event.EVENT_TYPE_ACCEPT) {
		mask |= unix.EPOLLRDHUP
	}

	op := unix.EPOLL_CTL_ADD
	if _, ok := e.armed[h]; ok {
		op = unix.EPOLL_CTL_MOD
	}

	ev := unix.EpollEvent{Events: mask, Fd: int32(h)}
	if err := unix.EpollCtl(e.epfd, op, int(s), &ev); err != nil {
		return err
	}
	e.armed[h] = registration{socket: s, interest: interest}
	return nil
}

func (e *EpollNetEngine) Enumerate(s Socket, h Handle) (NetEvent, error) {
	var ne NetEvent

	raw, ok := e.pending[h]
	delete(e.pending, h)
	reg, armed := e.armed[h]
	if !ok || !armed {
		return ne, nil
	}
	if reg.socket != s {
		return ne, fmt.Errorf("%w: handle %d is armed for socket %d, not %d", toukaerrors.ErrUsage, h, reg.socket, s)
	}

	listener := reg.interest.Has(event.EVENT_TYPE_ACCEPT)

	var flags event.EventType
	if raw&unix.EPOLLIN != 0 {
		if listener {
			flags |= event.EVENT_TYPE_ACCEPT
		} else {
			flags |= event.EVENT_TYPE_READ
		}
	}
	if raw&(unix.EPOLLRDHUP|unix.EPOLLHUP) != 0 {
		flags |= event.EVENT_TYPE_CLOSE
	}

	var errCode error
	if raw&unix.EPOLLERR != 0 {
		errCode = sock(s).PendingError()
		if errCode == nil {
			errCode = unix.EIO
		}
		if flags == 0 {
			flags = event.EVENT_TYPE_CLOSE
		}
	}

	for _, t := range event.Types {
		if flags.Has(t) && reg.interest.Has(t) {
			ne.Set(t, errCode)
		}
	}
	return ne, nil
}

func (e *EpollNetEngine) Wait() ([]Handle, error) {
	n, err := unix.EpollWait(e.epfd, e.events, -1)
	if errors.Is(err, unix.EINTR) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}

	e.ready = e.ready[:0]
	for i := 0; i < n; i++ {
		ev := e.events[i]
		h := Handle(ev.Fd)
		if h == wakeHandle {
			e.drainWake()
			continue
		}
		e.pending[h] |= ev.Events
		e.ready = append(e.ready, h)
	}
	return e.ready, nil
}

func (e *EpollNetEngine) drainWake() {
	var buf [8]byte
	for {
		_, err := unix.Read(e.wakefd, buf[:])
		if !errors.Is(err, unix.EINTR) {
			return
		}
	}
}

func (e *EpollNetEngine) Interrupt() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(e.wakefd, buf[:])
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (e *EpollNetEngine) Close() error {
	return errors.Join(unix.Close(e.wakefd), unix.Close(e.epfd))
}

func sock(s Socket) *core.Socket {
	return &core.Socket{Fd: int32(s)}
}
