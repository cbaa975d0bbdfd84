package console_test

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"slices"
	"strings"
	"testing"

	"github.com/touka-aoi/clipsock/console"
	"github.com/touka-aoi/clipsock/server"
	"github.com/touka-aoi/clipsock/sink"
)

type fakeController struct {
	calls   []string
	address string
	status  server.SrvStatus
	err     error
}

func (f *fakeController) Start(context.Context) error {
	f.calls = append(f.calls, "start")
	f.status = server.Running
	return nil
}

func (f *fakeController) Stop(context.Context) error {
	f.calls = append(f.calls, "stop")
	f.status = server.Stopped
	return nil
}

func (f *fakeController) Restart(context.Context) error {
	f.calls = append(f.calls, "restart:"+f.address)
	f.status = server.Running
	return nil
}

func (f *fakeController) SetAddress(a string)      { f.address = a }
func (f *fakeController) Address() string          { return f.address }
func (f *fakeController) Status() server.SrvStatus { return f.status }
func (f *fakeController) Err() error               { return f.err }

func (f *fakeController) ListenAddr() netip.AddrPort {
	if f.status != server.Running {
		return netip.AddrPort{}
	}
	return netip.MustParseAddrPort("127.0.0.1:5494")
}

func TestExecuteCommands(t *testing.T) {
	ctrl := &fakeController{address: "127.0.0.1:5494"}
	var out bytes.Buffer
	c := console.New(ctrl, nil, server.DefaultAddress, &out)
	ctx := context.Background()

	for _, line := range []string{"start", "  stop  ", "", "restart", "address 0.0.0.0:7000", "reset"} {
		if err := c.Execute(ctx, line); err != nil {
			t.Fatalf("Execute(%q): %v", line, err)
		}
	}

	want := []string{"start", "stop", "restart:127.0.0.1:5494", "restart:0.0.0.0:7000", "restart:" + server.DefaultAddress}
	if !slices.Equal(ctrl.calls, want) {
		t.Fatalf("calls = %q, want %q", ctrl.calls, want)
	}
}

func TestExecuteStatus(t *testing.T) {
	ctrl := &fakeController{address: "127.0.0.1:5494", status: server.Running, err: errors.New("bind failed")}
	var out bytes.Buffer
	c := console.New(ctrl, nil, server.DefaultAddress, &out)

	if err := c.Execute(context.Background(), "status"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, want := range []string{"status:  running", "listen:  127.0.0.1:5494", "failure: bind failed"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestExecuteHistory(t *testing.T) {
	history := sink.NewMemory(4)
	history.Record([]byte("short"))
	history.Record([]byte(strings.Repeat("long line\n", 10)))

	var out bytes.Buffer
	c := console.New(&fakeController{}, history, server.DefaultAddress, &out)
	if err := c.Execute(context.Background(), "history"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("history output:\n%s", out.String())
	}
	if !strings.HasSuffix(lines[0], "short") || !strings.HasSuffix(lines[1], "...") {
		t.Fatalf("history output:\n%s", out.String())
	}
}

func TestExecuteQuitAndUnknown(t *testing.T) {
	c := console.New(&fakeController{}, nil, server.DefaultAddress, &bytes.Buffer{})
	if err := c.Execute(context.Background(), "quit"); !errors.Is(err, console.ErrQuit) {
		t.Fatalf("quit err = %v", err)
	}
	if err := c.Execute(context.Background(), "frobnicate"); err == nil {
		t.Fatal("unknown command must fail")
	}
}
