package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/touka-aoi/clipsock/core/buffer"
	"github.com/touka-aoi/clipsock/core/engine"
	toukaerrors "github.com/touka-aoi/clipsock/core/errors"
	"github.com/touka-aoi/clipsock/core/event"
	"github.com/touka-aoi/clipsock/eventlog"
	"github.com/touka-aoi/clipsock/middleware"
	"github.com/touka-aoi/clipsock/notify"
	"github.com/touka-aoi/clipsock/server/peer"
	"github.com/touka-aoi/clipsock/sink"
)

const (
	// MaxWaitObjects bounds the wait set, listener included.
	MaxWaitObjects = 64
	// MaximumBufferSize is the payload capacity of one connection.
	MaximumBufferSize = 65535

	DefaultAddress = "127.0.0.1:5494"

	listenBacklog = 128
)

type NetworkServerConfig struct {
	Address     string
	Allocator   buffer.Allocator
	Events      *eventlog.Logger
	Middlewares []middleware.MiddlewareFunc
}

type SrvStatus int32

const (
	Idle SrvStatus = iota
	Running
	StopRequested
	Stopped
)

var stateName = map[SrvStatus]string{
	Idle:          "idle",
	Running:       "running",
	StopRequested: "stop requested",
	Stopped:       "stopped",
}

func (s SrvStatus) String() string {
	return stateName[s]
}

// NetworkServer accepts connections and publishes one payload per connection.
//
// Start, Stop and Restart may be called from any goroutine; they are
// serialized. While running, the registry belongs to the loop goroutine.
type NetworkServer struct {
	engine   engine.NetEngine
	registry *peer.Registry
	pipeline *middleware.Pipeline
	notifier notify.Notifier
	events   *eventlog.Logger

	control sync.Mutex
	address string
	done    chan struct{}

	status        atomic.Int32
	stopRequested atomic.Bool

	mu         sync.Mutex
	listenAddr netip.AddrPort
	lastErr    error
}

func NewNetworkServer(netEngine engine.NetEngine, s sink.Sink, notifier notify.Notifier, config NetworkServerConfig) *NetworkServer {
	if config.Address == "" {
		config.Address = DefaultAddress
	}
	if config.Allocator == nil {
		config.Allocator = buffer.Default
	}
	if config.Events == nil {
		config.Events = eventlog.New(nil)
	}
	if notifier == nil {
		notifier = notify.Multi{}
	}

	pipeline := middleware.NewPipeline().Use(middleware.Logging(config.Events))
	for _, m := range config.Middlewares {
		pipeline.Use(m)
	}
	pipeline.Use(middleware.Deliver(s))

	return &NetworkServer{
		engine:   netEngine,
		registry: peer.NewRegistry(netEngine, config.Allocator, MaximumBufferSize, MaxWaitObjects),
		pipeline: pipeline,
		notifier: notifier,
		events:   config.Events,
		address:  config.Address,
	}
}

func (ns *NetworkServer) Status() SrvStatus {
	return SrvStatus(ns.status.Load())
}

func (ns *NetworkServer) setStatus(s SrvStatus) {
	ns.status.Store(int32(s))
}

// Address returns the configured listen address.
func (ns *NetworkServer) Address() string {
	ns.control.Lock()
	defer ns.control.Unlock()
	return ns.address
}

// SetAddress changes the address used by the next Start.
func (ns *NetworkServer) SetAddress(address string) {
	ns.control.Lock()
	defer ns.control.Unlock()
	ns.address = address
}

// ListenAddr is the bound address while running.
func (ns *NetworkServer) ListenAddr() netip.AddrPort {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.listenAddr
}

// Err returns the reason of the last failure, or nil.
func (ns *NetworkServer) Err() error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.lastErr
}

func (ns *NetworkServer) Start(ctx context.Context) error {
	ns.control.Lock()
	defer ns.control.Unlock()
	return ns.start(ctx)
}

// Stop blocks until the loop goroutine has exited, then releases every
// connection. ctx only carries logging values.
func (ns *NetworkServer) Stop(ctx context.Context) error {
	ns.control.Lock()
	defer ns.control.Unlock()
	return ns.stop(ctx)
}

// Restart stops the server and starts it again with the current address.
// A stop failure is returned joined with the result of the start.
func (ns *NetworkServer) Restart(ctx context.Context) error {
	ns.control.Lock()
	defer ns.control.Unlock()
	stopErr := ns.stop(ctx)
	if stopErr != nil {
		slog.WarnContext(ctx, "Failed to stop cleanly before restart", "error", stopErr)
	}
	return errors.Join(stopErr, ns.start(ctx))
}

func (ns *NetworkServer) start(ctx context.Context) error {
	if ns.running() {
		return nil
	}

	addr, err := ResolveAddress(ctx, ns.address)
	if err != nil {
		ns.fail(ctx, err)
		return err
	}

	local, err := ns.listen(ctx, addr)
	if err != nil {
		ns.fail(ctx, err)
		return err
	}

	ns.mu.Lock()
	ns.listenAddr = local
	ns.lastErr = nil
	ns.mu.Unlock()

	ns.stopRequested.Store(false)
	ns.done = make(chan struct{})
	ns.setStatus(Running)
	go ns.serve(context.WithoutCancel(ctx), ns.done)

	ns.events.ReportInfo(ctx, eventlog.ServerStarted, "address", ns.address, "listen", local)
	ns.notifier.OnStatusChanged(ns.address)
	return nil
}

// running reports whether a loop goroutine exists, forgetting one that already exited.
func (ns *NetworkServer) running() bool {
	if ns.done == nil {
		return false
	}
	select {
	case <-ns.done:
		ns.done = nil
		return false
	default:
		return true
	}
}

func (ns *NetworkServer) listen(ctx context.Context, addr netip.AddrPort) (netip.AddrPort, error) {
	h, err := ns.registry.RegisterListener()
	if err != nil {
		return netip.AddrPort{}, err
	}

	s, err := ns.engine.Socket(addr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: create socket: %w", toukaerrors.ErrTransport, err)
	}
	listener := peer.NewPeer(s, addr, netip.AddrPort{})
	listener.SetState(peer.StateListening)
	if err := ns.registry.Attach(h, listener); err != nil {
		_ = ns.engine.CloseSocket(s)
		return netip.AddrPort{}, err
	}

	if err := ns.engine.Bind(s, addr); err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: bind %s: %w", toukaerrors.ErrTransport, addr, err)
	}
	if err := ns.engine.Select(s, h, event.EVENT_TYPE_ACCEPT|event.EVENT_TYPE_CLOSE); err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: select listener: %w", toukaerrors.ErrTransport, err)
	}
	if err := ns.engine.Listen(s, listenBacklog); err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: listen %s: %w", toukaerrors.ErrTransport, addr, err)
	}

	local, err := ns.engine.LocalAddr(s)
	if err != nil {
		slog.DebugContext(ctx, "Failed to read listener address", "error", err)
		local = addr
	}
	slog.DebugContext(ctx, "Listening on", "address", local, "handle", h)
	return local, nil
}

func (ns *NetworkServer) stop(ctx context.Context) error {
	if ns.running() {
		ns.setStatus(StopRequested)
		ns.stopRequested.Store(true)
		if err := ns.engine.Interrupt(); err != nil {
			slog.ErrorContext(ctx, "Failed to interrupt server loop", "error", err)
		}

		// ループが抜けるまで登録表に触れません
		<-ns.done
		ns.done = nil
	}

	ns.setStatus(Stopped)
	ns.mu.Lock()
	ns.listenAddr = netip.AddrPort{}
	ns.mu.Unlock()

	err := ns.registry.RemoveAll()
	if err != nil {
		slog.WarnContext(ctx, "Failed to release connections", "error", err)
	}
	ns.events.ReportInfo(ctx, eventlog.ServerStopped)
	ns.notifier.OnStatusChanged(notify.StatusStopped)
	return err
}

// fail reports a fatal failure and tears everything down. It runs on the
// control goroutine during start and on the loop goroutine when the loop dies.
func (ns *NetworkServer) fail(ctx context.Context, reason error) {
	ns.setStatus(Stopped)
	ns.mu.Lock()
	ns.listenAddr = netip.AddrPort{}
	ns.lastErr = reason
	ns.mu.Unlock()

	ns.events.ReportError(ctx, eventlog.ServerFailed, "error", reason)
	ns.notifier.OnStatusChanged(notify.StatusFailed)
	if err := ns.registry.RemoveAll(); err != nil {
		slog.WarnContext(ctx, "Failed to release connections", "error", err)
	}
	ns.notifier.OnFailure(reason)
}

func (ns *NetworkServer) serve(ctx context.Context, done chan struct{}) {
	defer close(done)

	// epoll_wait を専用スレッドでブロックさせます
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ns.loop(ctx); err != nil {
		ns.fail(ctx, err)
		return
	}
	ns.setStatus(Stopped)
	slog.DebugContext(ctx, "Server loop exited")
}

func (ns *NetworkServer) loop(ctx context.Context) error {
	for {
		ready, err := ns.engine.Wait()
		if ns.stopRequested.Load() {
			return nil
		}
		if err != nil {
			return fmt.Errorf("wait for events: %w", err)
		}

		for _, h := range ready {
			if err := ns.dispatch(ctx, h); err != nil {
				return err
			}
		}
	}
}

// dispatch handles one fired handle. Connection failures are reported and
// isolated here; only listener failures are returned.
func (ns *NetworkServer) dispatch(ctx context.Context, h engine.Handle) error {
	p, ok := ns.registry.Peer(h)
	if !ok {
		// 同じバッチで既に削除されています
		return nil
	}

	ne, err := ns.engine.Enumerate(p.Socket(), h)
	if ns.registry.IsListener(h) {
		if err != nil {
			return fmt.Errorf("%w: enumerate listener events: %w", toukaerrors.ErrTransport, err)
		}
		return ns.handleListener(ctx, p, ne)
	}

	if err == nil {
		err = ns.handleConnection(ctx, h, p, ne)
	} else {
		err = fmt.Errorf("%w: enumerate events: %w", toukaerrors.ErrTransport, err)
	}
	if err != nil {
		ns.events.ReportWarn(ctx, eventlog.ConnectionFailed, "handle", h, "session", p.SessionID, "remote", p.RemoteAddr(), "idle", p.Idle(), "error", err)
		if rerr := ns.registry.Remove(h); rerr != nil {
			slog.WarnContext(ctx, "Failed to remove connection", "handle", h, "error", rerr)
		}
	}
	return nil
}

func (ns *NetworkServer) handleListener(ctx context.Context, listener *peer.Peer, ne engine.NetEvent) error {
	if ne.Has(event.EVENT_TYPE_ACCEPT) {
		err := ne.Err(event.EVENT_TYPE_ACCEPT)
		if err != nil {
			err = fmt.Errorf("%w: accept readiness: %w", toukaerrors.ErrTransport, err)
		} else {
			err = ns.handleAccept(ctx, listener)
		}
		if err != nil {
			ns.events.ReportWarn(ctx, eventlog.ConnectionFailed, "error", err)
		}
	}

	if ne.Has(event.EVENT_TYPE_CLOSE) {
		return fmt.Errorf("%w: listener closed: %v", toukaerrors.ErrTransport, ne.Err(event.EVENT_TYPE_CLOSE))
	}
	return nil
}

func (ns *NetworkServer) handleAccept(ctx context.Context, listener *peer.Peer) error {
	if ns.registry.Full() {
		// レベルトリガーなので保留中の接続を受け付けて閉じないと通知が止まりません
		s, remote, err := ns.engine.Accept(listener.Socket())
		if err == nil {
			_ = ns.engine.CloseSocket(s)
		}
		return fmt.Errorf("%w: rejected connection from %s", toukaerrors.ErrResourceExhausted, remote)
	}

	h, err := ns.registry.Register()
	if err != nil {
		return err
	}

	s, remote, err := ns.engine.Accept(listener.Socket())
	if err != nil {
		_ = ns.registry.Remove(h)
		if errors.Is(err, toukaerrors.ErrWouldBlock) {
			return nil
		}
		return fmt.Errorf("%w: accept: %w", toukaerrors.ErrTransport, err)
	}

	conn := peer.NewPeer(s, listener.LocalAddr(), remote)
	if err := ns.registry.Attach(h, conn); err != nil {
		_ = ns.engine.CloseSocket(s)
		_ = ns.registry.Remove(h)
		return err
	}

	if err := ns.engine.Select(s, h, event.EVENT_TYPE_READ|event.EVENT_TYPE_CLOSE); err != nil {
		_ = ns.registry.Remove(h)
		return fmt.Errorf("%w: select connection: %w", toukaerrors.ErrTransport, err)
	}

	ns.events.ReportDebug(ctx, eventlog.ConnectionAccepted, "handle", h, "session", conn.SessionID, "remote", remote)
	return nil
}

func (ns *NetworkServer) handleConnection(ctx context.Context, h engine.Handle, p *peer.Peer, ne engine.NetEvent) error {
	if ne.Has(event.EVENT_TYPE_READ) {
		if err := ne.Err(event.EVENT_TYPE_READ); err != nil {
			return fmt.Errorf("%w: read readiness: %w", toukaerrors.ErrTransport, err)
		}
		full, err := ns.handleRead(ctx, h, p)
		if err != nil {
			return err
		}
		if full {
			return ns.handleClose(ctx, h, p)
		}
	}

	if ne.Has(event.EVENT_TYPE_CLOSE) {
		if err := ne.Err(event.EVENT_TYPE_CLOSE); err != nil {
			return fmt.Errorf("%w: close readiness: %w", toukaerrors.ErrTransport, err)
		}
		return ns.handleClose(ctx, h, p)
	}
	return nil
}

// handleRead reads at most the remaining capacity and reports whether the payload is full.
func (ns *NetworkServer) handleRead(ctx context.Context, h engine.Handle, p *peer.Peer) (bool, error) {
	b, err := ns.registry.Buffer(h)
	if err != nil {
		return false, err
	}
	if b.Released() {
		return false, fmt.Errorf("%w: read into released payload of handle %d", toukaerrors.ErrUsage, h)
	}

	n, err := ns.engine.Recv(p.Socket(), b.Cursor())
	if err != nil {
		return false, fmt.Errorf("%w: recv: %w", toukaerrors.ErrTransport, err)
	}
	b.Advance(n)
	if n > 0 {
		p.SetState(peer.StateActive)
		p.Touch()
	}

	slog.DebugContext(ctx, "Received data from peer", "handle", h, "dataLength", n, "remaining", b.Remaining(), "capacity", b.Capacity())
	return b.IsFull(), nil
}

// handleClose is the only place a payload leaves the server.
func (ns *NetworkServer) handleClose(ctx context.Context, h engine.Handle, p *peer.Peer) error {
	err := ns.deliver(ctx, h, p)
	if rerr := ns.registry.Remove(h); rerr != nil {
		err = errors.Join(err, rerr)
	}
	return err
}

func (ns *NetworkServer) deliver(ctx context.Context, h engine.Handle, p *peer.Peer) error {
	b, ok := ns.registry.ExistingBuffer(h)
	if !ok || b.Released() {
		slog.DebugContext(ctx, "Connection closed without payload", "handle", h)
		return nil
	}

	// 読み込み通知と切断通知が同時に届くので、残りを吸い出してから渡します
	for !b.IsFull() {
		n, err := ns.engine.Recv(p.Socket(), b.Cursor())
		if err != nil {
			return fmt.Errorf("%w: recv: %w", toukaerrors.ErrTransport, err)
		}
		if n == 0 {
			break
		}
		b.Advance(n)
	}

	if b.IsEmpty() {
		ns.events.ReportDebug(ctx, eventlog.PayloadDiscarded, "handle", h, "session", p.SessionID)
		return nil
	}

	handle, err := b.Release()
	if err != nil {
		return err
	}
	return ns.pipeline.Execute(middleware.NewContext(ctx, handle, p))
}
