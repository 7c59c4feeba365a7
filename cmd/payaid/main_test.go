package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"payai/core/types"
)

type testEvent struct{ evt *types.Event }

func (e testEvent) EventType() string    { return e.evt.Type }
func (e testEvent) Event() *types.Event { return e.evt }

func TestEventLoggerWritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	eventLogger{logger: logger}.Emit(testEvent{evt: &types.Event{
		Type:       "escrow.contract.started",
		Attributes: map[string]string{"cid": "bafy"},
	}})

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["type"] != "escrow.contract.started" || record["cid"] != "bafy" {
		t.Fatalf("unexpected log record: %v", record)
	}
}
