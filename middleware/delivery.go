package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/touka-aoi/clipsock/eventlog"
	"github.com/touka-aoi/clipsock/sink"
)

var ErrNoPayload = errors.New("no payload in context")

// Deliver hands the payload to s. It ends the chain.
func Deliver(s sink.Sink) MiddlewareFunc {
	return func(ctx *Context, next NextFunc) error {
		h := ctx.Handle
		if h == nil {
			return ErrNoPayload
		}
		ctx.Handle = nil
		ctx.Metadata["size"] = h.Len()
		if err := s.Publish(h); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		return next(ctx)
	}
}

// Logging reports every payload that made it through the rest of the chain.
func Logging(events *eventlog.Logger) MiddlewareFunc {
	return func(ctx *Context, next NextFunc) error {
		size := 0
		if ctx.Handle != nil {
			size = ctx.Handle.Len()
		}
		start := time.Now()
		if err := next(ctx); err != nil {
			return err
		}

		args := []any{"size", size, "elapsed", time.Since(start)}
		if ctx.Peer != nil {
			args = append(args, "session", ctx.Peer.SessionID, "remote", ctx.Peer.RemoteAddr(), "age", ctx.Peer.Age())
		}
		events.ReportInfo(ctx.Ctx, eventlog.PayloadPublished, args...)
		slog.DebugContext(ctx.Ctx, "Payload delivered", "metadata", ctx.Metadata)
		return nil
	}
}
