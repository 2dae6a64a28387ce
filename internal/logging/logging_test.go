// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_Defaults(t *testing.T) {
	logger, closer := NewLogger("", "", "")
	defer closer.Close()

	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if !logger.Enabled(nil, slog.LevelInfo) {
		t.Error("expected info enabled by default")
	}
	if logger.Enabled(nil, slog.LevelDebug) {
		t.Error("expected debug disabled by default")
	}
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	logger, closer := NewLogger("debug", "json", path)

	logger.Info("stream started", "msg_id", 42)
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "stream started") {
		t.Errorf("log file missing entry: %s", data)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewStreamLogger_NoopWhenDisabled(t *testing.T) {
	base, closer := NewLogger("info", "text", "")
	defer closer.Close()

	logger, streamCloser, path, err := NewStreamLogger(base, "", 42, "req-1")
	if err != nil {
		t.Fatalf("NewStreamLogger: %v", err)
	}
	defer streamCloser.Close()

	if logger != base {
		t.Error("expected base logger passthrough when dir is empty")
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestNewStreamLogger_WritesBoth(t *testing.T) {
	var globalBuf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&globalBuf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	dir := t.TempDir()
	logger, closer, path, err := NewStreamLogger(base, dir, 42, "req-abc")
	if err != nil {
		t.Fatalf("NewStreamLogger: %v", err)
	}

	logger.Info("chunk fetched", "part", 1)
	logger.Debug("debug only in file", "part", 2)
	closer.Close()

	if !strings.Contains(globalBuf.String(), "chunk fetched") {
		t.Error("global logger missing info entry")
	}
	if strings.Contains(globalBuf.String(), "debug only in file") {
		t.Error("global logger should not receive debug entries")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading stream log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 entries in stream log, got %d", len(lines))
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("parsing stream log entry: %v", err)
	}
	if entry["msg"] != "debug only in file" {
		t.Errorf("unexpected second entry: %v", entry)
	}
}
