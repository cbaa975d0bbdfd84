// Package sink receives completed payloads from the server.
package sink

import (
	"errors"
	"fmt"

	"github.com/touka-aoi/clipsock/core/buffer"
)

// Sink takes ownership of a released payload. Publish must free h on every
// path, including failure.
type Sink interface {
	Publish(h *buffer.Handle) error
}

// take copies the payload out of h and frees it.
func take(h *buffer.Handle) ([]byte, error) {
	if h == nil {
		return nil, errors.New("sink: nil payload")
	}
	data, err := h.Bytes()
	if ferr := h.Free(); ferr != nil && err == nil {
		err = ferr
	}
	if err != nil {
		return nil, fmt.Errorf("sink: read payload: %w", err)
	}
	return data, nil
}
