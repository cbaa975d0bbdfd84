package engine

import (
	"github.com/touka-aoi/clipsock/core/event"
)

// NetEvent is the readiness of one handle together with the error code
// attached to each readiness flag.
type NetEvent struct {
	EventType event.EventType
	errs      map[event.EventType]error
}

func (e NetEvent) Has(flag event.EventType) bool {
	return e.EventType.Has(flag)
}

// Err returns the error reported with flag, or nil.
func (e NetEvent) Err(flag event.EventType) error {
	return e.errs[flag]
}

// Set marks flag as ready with an optional error.
func (e *NetEvent) Set(flag event.EventType, err error) {
	e.EventType |= flag
	if err == nil {
		return
	}
	if e.errs == nil {
		e.errs = make(map[event.EventType]error)
	}
	e.errs[flag] = err
}
