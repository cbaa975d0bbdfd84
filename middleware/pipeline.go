package middleware

import (
	"context"

	"github.com/touka-aoi/clipsock/core/buffer"
	"github.com/touka-aoi/clipsock/server/peer"
)

// Context carries one released payload through the pipeline.
// Whoever takes Handle must set it to nil.
type Context struct {
	Ctx      context.Context
	Handle   *buffer.Handle
	Peer     *peer.Peer
	Metadata map[string]interface{}
}

type NextFunc func(*Context) error
type MiddlewareFunc func(*Context, NextFunc) error

type Pipeline struct {
	middlewares []MiddlewareFunc
}

func NewPipeline() *Pipeline {
	return &Pipeline{
		middlewares: make([]MiddlewareFunc, 0),
	}
}

func (p *Pipeline) Use(middleware MiddlewareFunc) *Pipeline {
	p.middlewares = append(p.middlewares, middleware)
	return p
}

// Execute runs the chain. A payload nobody took is freed afterwards.
func (p *Pipeline) Execute(ctx *Context) error {
	err := p.executeMiddleware(0, ctx)
	if ctx.Handle != nil {
		_ = ctx.Handle.Free()
		ctx.Handle = nil
	}
	return err
}

func (p *Pipeline) executeMiddleware(index int, ctx *Context) error {
	if index >= len(p.middlewares) {
		return nil
	}

	next := func(ctx *Context) error {
		return p.executeMiddleware(index+1, ctx)
	}

	return p.middlewares[index](ctx, next)
}

func NewContext(ctx context.Context, handle *buffer.Handle, peer *peer.Peer) *Context {
	return &Context{
		Ctx:      ctx,
		Handle:   handle,
		Peer:     peer,
		Metadata: make(map[string]interface{}),
	}
}
