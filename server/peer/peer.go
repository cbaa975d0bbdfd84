package peer

import (
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/touka-aoi/clipsock/core/engine"
)

// Peer is one socket owned by the registry: the listener or an accepted client.
type Peer struct {
	SessionID  string
	socket     engine.Socket
	localAddr  netip.AddrPort
	remoteAddr netip.AddrPort
	status     atomic.Int32
	createdAt  time.Time
	lastActive atomic.Int64
}

func NewPeer(socket engine.Socket, localAddr netip.AddrPort, remoteAddr netip.AddrPort) *Peer {
	sessionID := uuid.NewString()
	p := &Peer{
		SessionID:  sessionID,
		socket:     socket,
		localAddr:  localAddr,
		remoteAddr: remoteAddr,
		createdAt:  time.Now(),
	}
	p.lastActive.Store(p.createdAt.UnixNano())
	return p
}

func (p *Peer) Socket() engine.Socket {
	return p.socket
}

func (p *Peer) LocalAddr() netip.AddrPort {
	return p.localAddr
}

func (p *Peer) RemoteAddr() netip.AddrPort {
	return p.remoteAddr
}

func (p *Peer) State() ConnState {
	return ConnState(p.status.Load())
}

func (p *Peer) SetState(s ConnState) {
	p.status.Store(int32(s))
}

// Touch records activity on the peer.
func (p *Peer) Touch() {
	p.lastActive.Store(time.Now().UnixNano())
}

// Age is the time since the peer was created.
func (p *Peer) Age() time.Duration {
	return time.Since(p.createdAt)
}

// Idle is the time since the last recorded activity.
func (p *Peer) Idle() time.Duration {
	return time.Duration(time.Now().UnixNano() - p.lastActive.Load())
}
