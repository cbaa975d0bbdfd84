package sink

import (
	"fmt"

	"github.com/touka-aoi/clipsock/core/buffer"
	"golang.design/x/clipboard"
)

// Clipboard makes every payload the current text content of the system clipboard.
type Clipboard struct {
	history *Memory
}

// NewClipboard initializes the system clipboard. history may be nil.
func NewClipboard(history *Memory) (*Clipboard, error) {
	if err := clipboard.Init(); err != nil {
		return nil, fmt.Errorf("sink: init clipboard: %w", err)
	}
	return &Clipboard{history: history}, nil
}

func (c *Clipboard) Publish(h *buffer.Handle) error {
	data, err := take(h)
	if err != nil {
		return err
	}
	clipboard.Write(clipboard.FmtText, data)
	if c.history != nil {
		c.history.Record(data)
	}
	return nil
}
