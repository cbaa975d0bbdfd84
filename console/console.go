// Package console is an interactive control surface for the server.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"unicode/utf8"

	"github.com/chzyer/readline"
	"github.com/touka-aoi/clipsock/server"
	"github.com/touka-aoi/clipsock/sink"
)

var ErrQuit = errors.New("quit")

const previewLength = 40

// Controller is the part of the server the console drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	SetAddress(address string)
	Address() string
	Status() server.SrvStatus
	ListenAddr() netip.AddrPort
	Err() error
}

type Console struct {
	ctrl           Controller
	history        *sink.Memory
	defaultAddress string
	out            io.Writer
}

// New creates a console. history may be nil.
func New(ctrl Controller, history *sink.Memory, defaultAddress string, out io.Writer) *Console {
	return &Console{
		ctrl:           ctrl,
		history:        history,
		defaultAddress: defaultAddress,
		out:            out,
	}
}

var commands = []struct {
	name string
	help string
}{
	{"status", "show server status"},
	{"start", "start the server"},
	{"stop", "stop the server"},
	{"restart", "restart the server"},
	{"address", "show the listen address, or set it and restart: address <host:port>"},
	{"reset", "restore the default listen address and restart"},
	{"history", "list recently published payloads"},
	{"help", "show this help"},
	{"quit", "exit"},
}

func (c *Console) completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, cmd := range commands {
		items = append(items, readline.PcItem(cmd.name))
	}
	return readline.NewPrefixCompleter(items...)
}

// Run reads commands until quit, end of input or ctx cancellation.
func (c *Console) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "clipsock> ",
		AutoComplete:    c.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	c.out = rl.Stdout()

	stop := context.AfterFunc(ctx, func() { _ = rl.Close() })
	defer stop()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = c.Execute(ctx, line)
		if errors.Is(err, ErrQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

// Execute runs one command line.
func (c *Console) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "status":
		c.printStatus()
	case "start":
		return c.ctrl.Start(ctx)
	case "stop":
		return c.ctrl.Stop(ctx)
	case "restart":
		return c.ctrl.Restart(ctx)
	case "address":
		if len(fields) == 1 {
			fmt.Fprintln(c.out, c.ctrl.Address())
			return nil
		}
		c.ctrl.SetAddress(fields[1])
		return c.ctrl.Restart(ctx)
	case "reset":
		c.ctrl.SetAddress(c.defaultAddress)
		return c.ctrl.Restart(ctx)
	case "history":
		c.printHistory()
	case "help":
		for _, cmd := range commands {
			fmt.Fprintf(c.out, "  %-8s %s\n", cmd.name, cmd.help)
		}
	case "quit", "exit":
		return ErrQuit
	default:
		return fmt.Errorf("unknown command %q, try help", fields[0])
	}
	return nil
}

func (c *Console) printStatus() {
	fmt.Fprintf(c.out, "status:  %s\n", c.ctrl.Status())
	fmt.Fprintf(c.out, "address: %s\n", c.ctrl.Address())
	if addr := c.ctrl.ListenAddr(); addr.IsValid() {
		fmt.Fprintf(c.out, "listen:  %s\n", addr)
	}
	if err := c.ctrl.Err(); err != nil {
		fmt.Fprintf(c.out, "failure: %v\n", err)
	}
}

func (c *Console) printHistory() {
	if c.history == nil {
		fmt.Fprintln(c.out, "history is not available for this sink")
		return
	}
	entries := c.history.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "no payloads yet")
		return
	}
	for i, e := range entries {
		fmt.Fprintf(c.out, "%3d  %s  %6d  %s\n", i+1, e.At.Format("15:04:05"), len(e.Data), preview(e.Data))
	}
}

func preview(data []byte) string {
	s := strings.ToValidUTF8(string(data), "?")
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= previewLength {
		return s
	}
	return string([]rune(s)[:previewLength]) + "..."
}
