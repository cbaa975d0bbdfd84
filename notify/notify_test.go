package notify_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/touka-aoi/clipsock/notify"
)

func TestTooltip(t *testing.T) {
	got := notify.Tooltip("1.2.0", "127.0.0.1:5494")
	if got != "ClipSock v1.2.0\n127.0.0.1:5494" {
		t.Fatalf("Tooltip = %q", got)
	}
}

func TestMultiFansOut(t *testing.T) {
	var a, b notify.Recorder
	var buf bytes.Buffer
	m := notify.Multi{&a, &b, notify.NewWriter(&buf, "dev")}

	m.OnStatusChanged(notify.StatusStopped)
	m.OnFailure(errors.New("bind failed"))

	for _, r := range []*notify.Recorder{&a, &b} {
		if got := r.Statuses(); len(got) != 1 || got[0] != notify.StatusStopped {
			t.Fatalf("statuses = %v", got)
		}
		if got := r.Failures(); len(got) != 1 {
			t.Fatalf("failures = %v", got)
		}
	}
	if !strings.HasPrefix(buf.String(), "ClipSock vdev\nStopped\n") {
		t.Fatalf("writer output = %q", buf.String())
	}
	if !strings.Contains(buf.String(), "bind failed") {
		t.Fatalf("writer output missing failure: %q", buf.String())
	}
}
