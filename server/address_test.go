package server_test

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	toukaerrors "github.com/touka-aoi/clipsock/core/errors"
	"github.com/touka-aoi/clipsock/server"
)

func TestResolveAddress(t *testing.T) {
	tests := []struct {
		in   string
		want netip.AddrPort
	}{
		{"127.0.0.1:5494", netip.MustParseAddrPort("127.0.0.1:5494")},
		{"  127.0.0.1:5494 ", netip.MustParseAddrPort("127.0.0.1:5494")},
		{"127.0.0.1", netip.MustParseAddrPort("127.0.0.1:0")},
		{"[::1]:5494", netip.MustParseAddrPort("[::1]:5494")},
		{"[::1]", netip.MustParseAddrPort("[::1]:0")},
		{"::1", netip.MustParseAddrPort("[::1]:0")},
		{"0.0.0.0:0", netip.MustParseAddrPort("0.0.0.0:0")},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := server.ResolveAddress(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("ResolveAddress(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ResolveAddress(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestResolveAddressLocalhost(t *testing.T) {
	got, err := server.ResolveAddress(context.Background(), "localhost:5494")
	if err != nil {
		t.Skipf("localhost does not resolve here: %v", err)
	}
	if !got.Addr().IsLoopback() || got.Port() != 5494 {
		t.Fatalf("ResolveAddress(localhost:5494) = %s", got)
	}
}

func TestResolveAddressInvalid(t *testing.T) {
	for _, in := range []string{"", "127.0.0.1:http-alt", "127.0.0.1:70000", "[::1", "host name:80", ":5494"} {
		t.Run(in, func(t *testing.T) {
			if _, err := server.ResolveAddress(context.Background(), in); !errors.Is(err, toukaerrors.ErrAddress) {
				t.Fatalf("ResolveAddress(%q) err = %v, want ErrAddress", in, err)
			}
		})
	}
}
