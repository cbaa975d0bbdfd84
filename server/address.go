package server

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	toukaerrors "github.com/touka-aoi/clipsock/core/errors"
)

// ResolveAddress turns a listen address into a socket address.
//
// Accepted forms are an IPv4 literal, an IPv6 literal (bracketed when a port
// is given) or a DNS name, each with an optional port. A missing port means 0.
func ResolveAddress(ctx context.Context, address string) (netip.AddrPort, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return netip.AddrPort{}, fmt.Errorf("%w: empty address", toukaerrors.ErrAddress)
	}

	if ap, err := netip.ParseAddrPort(address); err == nil {
		return ap, nil
	}
	literal := address
	if strings.HasPrefix(literal, "[") && strings.HasSuffix(literal, "]") {
		literal = literal[1 : len(literal)-1]
	}
	if addr, err := netip.ParseAddr(literal); err == nil {
		return netip.AddrPortFrom(addr, 0), nil
	}

	host, portText, err := net.SplitHostPort(address)
	if err != nil {
		// ポートなしのホスト名
		host, portText = address, ""
	}
	if host == "" || strings.ContainsAny(host, "[]/ ") {
		return netip.AddrPort{}, fmt.Errorf("%w: unsupported address format %q", toukaerrors.ErrAddress, address)
	}

	var port uint16
	if portText != "" {
		p, err := strconv.ParseUint(portText, 10, 16)
		if err != nil {
			return netip.AddrPort{}, fmt.Errorf("%w: invalid port %q", toukaerrors.ErrAddress, portText)
		}
		port = uint16(p)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr, port), nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: resolve %s: %w", toukaerrors.ErrAddress, host, err)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, fmt.Errorf("%w: %s has no addresses", toukaerrors.ErrAddress, host)
	}
	return netip.AddrPortFrom(addrs[0].Unmap(), port), nil
}
