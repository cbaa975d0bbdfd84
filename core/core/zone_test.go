//go:build linux

package core

import (
	"net"
	"net/netip"
	"testing"

	"golang.org/x/sys/unix"
)

func TestSockaddrKeepsZone(t *testing.T) {
	ifaces, err := net.Interfaces()
	if err != nil || len(ifaces) == 0 {
		t.Skipf("no interfaces: %v", err)
	}
	iface := ifaces[0]

	in := netip.AddrPortFrom(netip.MustParseAddr("fe80::1").WithZone(iface.Name), 5494)
	sa, ok := ToSockaddr(in).(*unix.SockaddrInet6)
	if !ok {
		t.Fatalf("ToSockaddr(%s) is not an IPv6 sockaddr", in)
	}
	if sa.ZoneId != uint32(iface.Index) {
		t.Fatalf("ZoneId = %d, want %d", sa.ZoneId, iface.Index)
	}
	if out := FromSockaddr(sa); out != in {
		t.Fatalf("FromSockaddr = %s, want %s", out, in)
	}
}

func TestSockaddrUnknownZoneIndex(t *testing.T) {
	sa := &unix.SockaddrInet6{Port: 80, Addr: netip.MustParseAddr("fe80::1").As16(), ZoneId: 999999}
	if got := FromSockaddr(sa).Addr().Zone(); got != "999999" {
		t.Fatalf("zone = %q, want numeric index", got)
	}

	sa.ZoneId = 0
	if got := FromSockaddr(sa).Addr().Zone(); got != "" {
		t.Fatalf("zone = %q, want none", got)
	}
}
