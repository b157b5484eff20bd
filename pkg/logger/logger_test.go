package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sing3demons/instance-identity/pkg/logAction"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []DetailLog {
	t.Helper()
	var out []DetailLog
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var l DetailLog
		if err := json.Unmarshal([]byte(line), &l); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		out = append(out, l)
	}
	return out
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger("test-service", "1.0.0")
	if logger == nil {
		t.Fatal("Expected logger to be created")
	}
}

func TestSettersAndGetters(t *testing.T) {
	logger := NewLogger("test", "1.0.0").(*Logger)

	logger.SetSessionID("session-123")
	if logger.SessionID() != "session-123" {
		t.Error("Expected session ID to match")
	}

	logger.SetTransactionID("txn-456")
	if logger.TransactionID() != "txn-456" {
		t.Error("Expected transaction ID to match")
	}

	logger.SetUseCase("issue_token")
	if logger.UseCase != "issue_token" {
		t.Error("Expected use case to match")
	}
}

func TestLoggerContext(t *testing.T) {
	logger := NewLogger("test", "1.0.0")
	ctx := SetLogger(context.Background(), logger)

	if GetLogger(ctx) == nil {
		t.Fatal("Expected to retrieve logger from context")
	}
	if GetLogger(nil) != nil {
		t.Error("Expected nil logger from nil context")
	}
	if GetLogger(context.Background()) != nil {
		t.Error("Expected nil logger from empty context")
	}
}

func TestDetailLogCarriesIDs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("svc", "1.0.0", DefaultConfig(), &buf)
	l.SetTransactionID("tid-1")
	l.SetSessionID("sid-1")

	l.Info(logAction.INBOUND("client POST /x"), map[string]any{"a": 1})

	logs := decodeLines(t, &buf)
	if len(logs) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(logs))
	}
	got := logs[0]
	if got.Type != TypeDetail || got.Level != LevelInfo {
		t.Errorf("unexpected type/level: %s/%s", got.Type, got.Level)
	}
	if got.TransactionID != "tid-1" || got.SessionID != "sid-1" {
		t.Errorf("ids not propagated: %+v", got)
	}
	if got.Action != "[INBOUND]" || got.Message != `{"a":1}` {
		t.Errorf("unexpected action/message: %s %s", got.Action, got.Message)
	}
}

func TestSetDependencyMetadata(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("svc", "1.0.0", DefaultConfig(), &buf)

	l.SetDependencyMetadata(DependencyMetadata{
		Dependency:   "redis",
		ResponseTime: 12,
	}).Debug(logAction.DB_RESPONSE(logAction.DB_READ, "redis GET"), "ok")
	l.Debug(logAction.BUSINESS("plain"), "x")

	logs := decodeLines(t, &buf)
	if len(logs) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(logs))
	}
	if logs[0].Dependency != "redis" || logs[0].ResponseTime != 12 || logs[0].SubAction != "read" {
		t.Errorf("dependency fields missing: %+v", logs[0])
	}
	if logs[1].Dependency != "" {
		t.Errorf("dependency leaked into parent logger: %+v", logs[1])
	}
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Level = LevelWarn
	l := NewLoggerWithWriter("svc", "1.0.0", cfg, &buf)

	l.Debug(logAction.BUSINESS("d"), nil)
	l.Info(logAction.BUSINESS("i"), nil)
	l.Warn(logAction.BUSINESS("w"), nil)
	l.Error(logAction.BUSINESS("e"), nil)

	if logs := decodeLines(t, &buf); len(logs) != 2 {
		t.Fatalf("expected warn and error only, got %d lines", len(logs))
	}
}

func TestFlushWritesSummaryAndResetsMetadata(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("svc", "1.0.0", DefaultConfig(), &buf)
	l.AddMetadata("kid", "ES256-abc")

	l.Flush(200, "success")
	l.FlushError(500, "server_error")

	logs := decodeLines(t, &buf)
	if len(logs) != 2 {
		t.Fatalf("expected 2 summary lines, got %d", len(logs))
	}
	if logs[0].Type != TypeSummary || logs[0].StatusCode != 200 || logs[0].Metadata["kid"] != "ES256-abc" {
		t.Errorf("unexpected first summary: %+v", logs[0])
	}
	if logs[1].Level != LevelError || len(logs[1].Metadata) != 0 {
		t.Errorf("metadata not reset after flush: %+v", logs[1])
	}
}

func TestFileOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := &LoggerConfig{
		Detail:  LogOutputConfig{Path: filepath.Join(dir, "detail"), File: true},
		Summary: LogOutputConfig{Path: filepath.Join(dir, "summary"), File: true},
	}
	l := NewLoggerWithConfig("svc", "1.0.0", cfg)
	l.Info(logAction.BUSINESS("to file"), "hello")
	l.Flush(200, "ok")

	for _, sub := range []string{"detail", "summary"} {
		entries, err := os.ReadDir(filepath.Join(dir, sub))
		if err != nil {
			t.Fatalf("read %s dir: %v", sub, err)
		}
		if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".log") {
			t.Errorf("expected one dated .log file in %s, got %v", sub, entries)
		}
	}
}

func TestConcurrentLogging(t *testing.T) {
	var buf safeBuffer
	l := NewLoggerWithWriter("svc", "1.0.0", DefaultConfig(), &buf)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.AddMetadata("k", i)
			l.Info(logAction.BUSINESS("concurrent"), i)
		}(i)
	}
	wg.Wait()
	l.Flush(200, "done")
}

type safeBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}
