// Package notify delivers server status changes to user-facing collaborators.
package notify

import (
	"fmt"
	"io"
	"sync"
)

const (
	StatusStopped = "Stopped"
	StatusFailed  = "Failed"
)

type Notifier interface {
	// OnStatusChanged receives the listening address, StatusStopped or StatusFailed.
	OnStatusChanged(text string)
	// OnFailure asks the user to review the configuration after a fatal failure.
	OnFailure(reason error)
}

// Tooltip renders the status line shown next to the application name.
func Tooltip(version, status string) string {
	return fmt.Sprintf("ClipSock v%s\n%s", version, status)
}

// Multi fans a notification out to every notifier in order.
type Multi []Notifier

func (m Multi) OnStatusChanged(text string) {
	for _, n := range m {
		n.OnStatusChanged(text)
	}
}

func (m Multi) OnFailure(reason error) {
	for _, n := range m {
		n.OnFailure(reason)
	}
}

// Writer prints the tooltip for every status change.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	version string
}

func NewWriter(w io.Writer, version string) *Writer {
	return &Writer{w: w, version: version}
}

func (n *Writer) OnStatusChanged(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = fmt.Fprintln(n.w, Tooltip(n.version, text))
}

func (n *Writer) OnFailure(reason error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = fmt.Fprintf(n.w, "%v\nPlease review the listen address and restart the server.\n", reason)
}

// Recorder keeps every notification. It is used by tests and by the console.
type Recorder struct {
	mu       sync.Mutex
	statuses []string
	failures []error
}

func (r *Recorder) OnStatusChanged(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, text)
}

func (r *Recorder) OnFailure(reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, reason)
}

func (r *Recorder) Statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses...)
}

func (r *Recorder) Failures() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.failures...)
}

// Last returns the most recent status, or "".
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}
