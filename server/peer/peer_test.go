package peer_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/touka-aoi/clipsock/server/peer"
)

func TestPeerActivity(t *testing.T) {
	p := peer.NewPeer(3, netip.AddrPort{}, remote)
	if p.SessionID == "" {
		t.Fatal("SessionID is empty")
	}
	if p.State() != peer.StateNew {
		t.Fatalf("State = %s, want new", p.State())
	}

	time.Sleep(20 * time.Millisecond)
	if p.Idle() < 20*time.Millisecond {
		t.Fatalf("Idle = %s before any activity", p.Idle())
	}

	p.Touch()
	if p.Idle() >= 20*time.Millisecond {
		t.Fatalf("Idle = %s after Touch", p.Idle())
	}
	if p.Age() < 20*time.Millisecond {
		t.Fatalf("Age = %s, Touch must not reset it", p.Age())
	}
}
