package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Overland-East-Bay/carpool-api/internal/platform/logging"
)

func TestNew_JSONRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := logging.New(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("hidden")
	log.Warn("shown", "k", "v")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines=%q", lines)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m["msg"] != "shown" || m["k"] != "v" || m["service"] != "carpool-api" {
		t.Fatalf("line=%v", m)
	}
}

func TestNew_TextAndErrors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := logging.New(&buf, "debug", "text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("text output=%q", buf.String())
	}

	if _, err := logging.New(&buf, "loud", "json"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := logging.New(&buf, "info", "xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
