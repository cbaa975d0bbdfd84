package eventlog_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/touka-aoi/clipsock/eventlog"
)

func TestReportAddsEventID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	el := eventlog.New(logger)

	el.ReportWarn(context.Background(), eventlog.ConnectionFailed, "detail", "recv failed")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("Unmarshal %q: %v", buf.String(), err)
	}
	if rec["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", rec["level"])
	}
	if rec["msg"] != "connection failed" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["event_id"] != float64(eventlog.ConnectionFailed) {
		t.Errorf("event_id = %v, want %d", rec["event_id"], eventlog.ConnectionFailed)
	}
	if rec["detail"] != "recv failed" {
		t.Errorf("detail = %v", rec["detail"])
	}
}

func TestEventIDString(t *testing.T) {
	if got := eventlog.ServerStarted.String(); got != "server started" {
		t.Errorf("ServerStarted = %q", got)
	}
	if got := eventlog.EventID(99).String(); got != "event 99" {
		t.Errorf("unknown = %q", got)
	}
}

func TestSetupLevels(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := eventlog.Setup(eventlog.Options{Writer: &buf, Format: "json"})
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug record written at info level: %q", buf.String())
	}

	logger = eventlog.Setup(eventlog.Options{Writer: &buf, Debug: true})
	logger.Debug("shown")
	if !bytes.Contains(buf.Bytes(), []byte("msg=shown")) {
		t.Fatalf("debug record missing: %q", buf.String())
	}
	if slog.Default() != logger {
		t.Fatal("Setup must install the default logger")
	}
}
