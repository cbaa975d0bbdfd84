//go:build linux

package server_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/touka-aoi/clipsock/core/buffer"
	"github.com/touka-aoi/clipsock/core/engine"
	"github.com/touka-aoi/clipsock/eventlog"
	"github.com/touka-aoi/clipsock/notify"
	"github.com/touka-aoi/clipsock/server"
	"github.com/touka-aoi/clipsock/sink"
)

func startEpollServer(t *testing.T) (*server.NetworkServer, *sink.Memory, *notify.Recorder) {
	t.Helper()
	e, err := engine.NewEpollNetEngine(server.MaxWaitObjects)
	if err != nil {
		t.Fatalf("NewEpollNetEngine: %v", err)
	}

	mem := sink.NewMemory(server.MaxWaitObjects)
	rec := &notify.Recorder{}
	srv := server.NewNetworkServer(e, mem, rec, server.NetworkServerConfig{
		Address:   "127.0.0.1:0",
		Allocator: buffer.Default,
		Events:    eventlog.New(slog.New(slog.NewTextHandler(io.Discard, nil))),
	})
	t.Cleanup(func() {
		_ = srv.Stop(context.Background())
		_ = e.Close()
	})

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return srv, mem, rec
}

func dial(t *testing.T, srv *server.NetworkServer) *net.TCPConn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.ListenAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn.(*net.TCPConn)
}

func waitPublished(t *testing.T, mem *sink.Memory, n int) []sink.Entry {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for mem.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("published %d payloads, want %d", mem.Len(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return mem.Entries()
}

// waitClosedByServer blocks until the server closes conn.
func waitClosedByServer(t *testing.T, conn *net.TCPConn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.Copy(io.Discard, conn); err != nil {
		t.Fatalf("connection was not closed by the server: %v", err)
	}
}

func TestEpollPublishOnClose(t *testing.T) {
	srv, mem, _ := startEpollServer(t)

	conn := dial(t, srv)
	if _, err := conn.Write([]byte("0123456789")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_ = conn.Close()

	entries := waitPublished(t, mem, 1)
	if string(entries[0].Data) != "0123456789" {
		t.Fatalf("published %q", entries[0].Data)
	}
}

func TestEpollFullBuffer(t *testing.T) {
	srv, mem, _ := startEpollServer(t)

	conn := dial(t, srv)
	payload := bytes.Repeat([]byte("z"), server.MaximumBufferSize)
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries := waitPublished(t, mem, 1)
	if !bytes.Equal(entries[0].Data, payload) {
		t.Fatalf("published %d bytes, want %d", len(entries[0].Data), len(payload))
	}
	waitClosedByServer(t, conn)
}

func TestEpollEmptyConnection(t *testing.T) {
	srv, mem, _ := startEpollServer(t)

	empty := dial(t, srv)
	_ = empty.Close()

	marker := dial(t, srv)
	if _, err := marker.Write([]byte("marker")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_ = marker.Close()

	entries := waitPublished(t, mem, 1)
	time.Sleep(50 * time.Millisecond)
	if mem.Len() != 1 || string(entries[0].Data) != "marker" {
		t.Fatalf("published %d payloads, first %q", mem.Len(), entries[0].Data)
	}
}

func TestEpollConnectionLimit(t *testing.T) {
	srv, mem, _ := startEpollServer(t)

	conns := make([]*net.TCPConn, 0, server.MaxWaitObjects-1)
	for i := 0; i < server.MaxWaitObjects-1; i++ {
		conn := dial(t, srv)
		// 登録されたことを確認するために一度書き込みます
		if _, err := conn.Write([]byte{'.'}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		conns = append(conns, conn)
	}
	time.Sleep(100 * time.Millisecond)

	rejected := dial(t, srv)
	waitClosedByServer(t, rejected)

	for i, conn := range conns {
		if _, err := conn.Write([]byte{byte('a' + i%26)}); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
		_ = conn.Close()
	}
	waitPublished(t, mem, len(conns))
}

func TestEpollStopDiscardsPartialPayload(t *testing.T) {
	srv, mem, rec := startEpollServer(t)

	conn := dial(t, srv)
	if _, err := conn.Write([]byte("partial")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- srv.Stop(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	waitClosedByServer(t, conn)
	if mem.Len() != 0 {
		t.Fatal("partial payload must not be published")
	}
	if rec.Last() != notify.StatusStopped {
		t.Fatalf("last status = %q", rec.Last())
	}
}

func TestEpollRestart(t *testing.T) {
	srv, mem, _ := startEpollServer(t)

	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start after Stop: %v", err)
	}

	conn := dial(t, srv)
	if _, err := conn.Write([]byte("restarted")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_ = conn.Close()

	entries := waitPublished(t, mem, 1)
	if string(entries[0].Data) != "restarted" {
		t.Fatalf("published %q", entries[0].Data)
	}
}
