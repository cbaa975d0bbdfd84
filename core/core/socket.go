//go:build linux

package core

import (
	"errors"
	"net/netip"
	"unsafe"

	"golang.org/x/sys/unix"
)

type Socket struct {
	Fd int32
}

// CreateTCPSocket は非ブロッキングのストリームソケットを作成します
func CreateTCPSocket(addr netip.AddrPort) (*Socket, error) {
	family := unix.AF_INET
	if addr.Addr().Is6() && !addr.Addr().Is4In6() {
		family = unix.AF_INET6
	}

	fd, _, errno := unix.Syscall6(
		unix.SYS_SOCKET,
		uintptr(family),
		unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK,
		0,
		0,
		0,
		0)
	if errno != 0 {
		return nil, errno
	}

	opVal := int32(1)
	_, _, errno = unix.Syscall6(unix.SYS_SETSOCKOPT, fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, uintptr(unsafe.Pointer(&opVal)), unsafe.Sizeof(opVal), 0)
	if errno != 0 {
		_ = unix.Close(int(fd))
		return nil, errno
	}

	return &Socket{Fd: int32(fd)}, nil
}

func (s *Socket) Bind(address netip.AddrPort) error {
	// https://man7.org/linux/man-pages/man2/bind.2.html
	return unix.Bind(int(s.Fd), ToSockaddr(address))
}

func (s *Socket) Listen(maxConn int) error {
	res, _, errno := unix.Syscall6(
		unix.SYS_LISTEN,
		uintptr(s.Fd),
		uintptr(maxConn),
		0,
		0,
		0,
		0)

	if res != 0 {
		return errno
	}

	return nil
}

// Accept は保留中の接続を一つ受け付けます。接続がなければ unix.EAGAIN を返します
func (s *Socket) Accept() (*Socket, netip.AddrPort, error) {
	for {
		fd, sa, err := unix.Accept4(int(s.Fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, netip.AddrPort{}, err
		}
		return &Socket{Fd: int32(fd)}, FromSockaddr(sa), nil
	}
}

// Recv reads at most len(p) bytes. A would-block read returns unix.EAGAIN.
func (s *Socket) Recv(p []byte) (int, error) {
	for {
		n, err := unix.Read(int(s.Fd), p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

func (s *Socket) LocalAddr() (netip.AddrPort, error) {
	sa, err := unix.Getsockname(int(s.Fd))
	if err != nil {
		return netip.AddrPort{}, err
	}
	return FromSockaddr(sa), nil
}

// PendingError reads and clears SO_ERROR.
func (s *Socket) PendingError() error {
	code, err := unix.GetsockoptInt(int(s.Fd), unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if code == 0 {
		return nil
	}
	return unix.Errno(code)
}

func (s *Socket) Close() error {
	res, _, errno := unix.Syscall6(unix.SYS_CLOSE, uintptr(s.Fd), 0, 0, 0, 0, 0)
	if res != 0 {
		return errno
	}
	return nil
}

func ToSockaddr(address netip.AddrPort) unix.Sockaddr {
	addr := address.Addr()
	if addr.Is4() || addr.Is4In6() {
		return &unix.SockaddrInet4{Port: int(address.Port()), Addr: addr.Unmap().As4()}
	}
	sa := &unix.SockaddrInet6{Port: int(address.Port()), Addr: addr.As16()}
	if zone := addr.Zone(); zone != "" {
		if iface, err := interfaceIndex(zone); err == nil {
			sa.ZoneId = iface
		}
	}
	return sa
}

func FromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		addr := netip.AddrFrom16(sa.Addr).WithZone(interfaceName(sa.ZoneId))
		return netip.AddrPortFrom(addr, uint16(sa.Port))
	}
	return netip.AddrPort{}
}
