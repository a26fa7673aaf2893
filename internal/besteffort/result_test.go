package besteffort

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDoLogsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	res := Do(logger, "clear typing", func() error { return errors.New("boom") }, zap.String("room_id", "r1"))
	if res.OK() {
		t.Fatal("OK() = true for failed op")
	}
	if res.Op != "clear typing" {
		t.Errorf("Op = %q", res.Op)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	if entries[0].Message != "clear typing failed" {
		t.Errorf("message = %q", entries[0].Message)
	}
	if entries[0].ContextMap()["room_id"] != "r1" {
		t.Errorf("room_id field missing: %v", entries[0].ContextMap())
	}
}

func TestDoSuccessIsSilent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	res := Do(zap.New(core), "mark read", func() error { return nil })
	if !res.OK() {
		t.Fatal("OK() = false for successful op")
	}
	if logs.Len() != 0 {
		t.Errorf("got %d log entries, want 0", logs.Len())
	}
}
