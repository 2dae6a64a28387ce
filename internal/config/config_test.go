// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
http:
  listen: ":9000"
  public_url: "https://dl.example.com/"
upstream:
  api_id: 12345
  api_hash: "abcdef0123456789"
  datacenters:
    1: "dc1.example.com:4443"
    2: "dc2.example.com:4443"
bot:
  token: "100:primary"
  username: "examplebot"
  storage_channel_id: -1001234567890
clients:
  multi: true
  tokens:
    - "200:worker-a"
    - "300:worker-b"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadGatewayConfig_Defaults(t *testing.T) {
	cfg, err := LoadGatewayConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}

	if cfg.HTTP.Listen != ":9000" {
		t.Errorf("expected listen :9000, got %q", cfg.HTTP.Listen)
	}
	if cfg.Streaming.MinChunkRaw != 64*1024 {
		t.Errorf("expected min chunk 64KB, got %d", cfg.Streaming.MinChunkRaw)
	}
	if cfg.Streaming.MaxChunkRaw != 512*1024 {
		t.Errorf("expected max chunk 512KB, got %d", cfg.Streaming.MaxChunkRaw)
	}
	if cfg.Streaming.MaxRetries != 6 {
		t.Errorf("expected 6 retries, got %d", cfg.Streaming.MaxRetries)
	}
	if cfg.Streaming.MaxStreamsPerDC != 2 {
		t.Errorf("expected 2 streams per dc, got %d", cfg.Streaming.MaxStreamsPerDC)
	}
	if cfg.Streaming.GlobalStreamLimit != 10 {
		t.Errorf("expected global limit 10, got %d", cfg.Streaming.GlobalStreamLimit)
	}
	if cfg.Streaming.SessionIdleTimeout != 300*time.Second {
		t.Errorf("expected idle timeout 300s, got %v", cfg.Streaming.SessionIdleTimeout)
	}
	if cfg.Streaming.CacheTTL != 30*time.Minute {
		t.Errorf("expected cache ttl 30m, got %v", cfg.Streaming.CacheTTL)
	}
	if cfg.Upstream.ConnectTimeout != 30*time.Second {
		t.Errorf("expected connect timeout 30s, got %v", cfg.Upstream.ConnectTimeout)
	}
	if cfg.Upstream.ChunkTimeout != 120*time.Second {
		t.Errorf("expected chunk timeout 120s, got %v", cfg.Upstream.ChunkTimeout)
	}
	if cfg.SessionStore.Backend != "local" || cfg.SessionStore.Dir != "sessions" {
		t.Errorf("expected local session store defaults, got %+v", cfg.SessionStore)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("expected logging defaults, got %+v", cfg.Logging)
	}
}

func TestAllTokens(t *testing.T) {
	cfg, err := LoadGatewayConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}

	tokens := cfg.AllTokens()
	if len(tokens) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(tokens))
	}
	if tokens[0] != "100:primary" {
		t.Errorf("expected primary token first, got %q", tokens[0])
	}

	cfg.Clients.Multi = false
	if got := cfg.AllTokens(); len(got) != 1 {
		t.Errorf("expected 1 token with multi disabled, got %d", len(got))
	}
}

func TestValidate_Required(t *testing.T) {
	cases := []struct {
		name    string
		mutate  string // linha removida via replace
		wantErr string
	}{
		{"api id", "api_id: 12345", "api_id is required"},
		{"api hash", `api_hash: "abcdef0123456789"`, "api_hash is required"},
		{"bot token", `token: "100:primary"`, "bot.token is required"},
		{"channel", "storage_channel_id: -1001234567890", "storage_channel_id is required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			broken := strings.Replace(validYAML, tc.mutate, "", 1)
			_, err := LoadGatewayConfig(writeConfig(t, broken))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidate_NoDatacenters(t *testing.T) {
	broken := strings.Replace(validYAML, `  datacenters:
    1: "dc1.example.com:4443"
    2: "dc2.example.com:4443"`, "  datacenters: {}", 1)

	_, err := LoadGatewayConfig(writeConfig(t, broken))
	if err == nil || !strings.Contains(err.Error(), "datacenters") {
		t.Errorf("expected datacenters error, got %v", err)
	}
}

func TestValidate_MultiWithoutTokens(t *testing.T) {
	broken := strings.Replace(validYAML, `  tokens:
    - "200:worker-a"
    - "300:worker-b"`, "", 1)

	_, err := LoadGatewayConfig(writeConfig(t, broken))
	if err == nil || !strings.Contains(err.Error(), "clients.tokens") {
		t.Errorf("expected clients.tokens error, got %v", err)
	}
}

func TestValidate_ChunkSizes(t *testing.T) {
	cfg, err := LoadGatewayConfig(writeConfig(t, validYAML+`
streaming:
  min_chunk: "128kb"
  max_chunk: "256kb"
`))
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.Streaming.MinChunkRaw != 128*1024 || cfg.Streaming.MaxChunkRaw != 256*1024 {
		t.Errorf("chunk sizes not parsed: %+v", cfg.Streaming)
	}

	_, err = LoadGatewayConfig(writeConfig(t, validYAML+`
streaming:
  min_chunk: "100b"
`))
	if err == nil || !strings.Contains(err.Error(), "multiple of 1kb") {
		t.Errorf("expected alignment error, got %v", err)
	}

	_, err = LoadGatewayConfig(writeConfig(t, validYAML+`
streaming:
  min_chunk: "1mb"
  max_chunk: "512kb"
`))
	if err == nil || !strings.Contains(err.Error(), "must not exceed") {
		t.Errorf("expected min>max error, got %v", err)
	}
}

func TestValidate_StatusACL(t *testing.T) {
	full := strings.Replace(validYAML, `  public_url: "https://dl.example.com/"`,
		`  public_url: "https://dl.example.com/"
  status_allow_origins:
    - "10.0.0.0/8"
    - "192.168.1.5"`, 1)
	cfg, err := LoadGatewayConfig(writeConfig(t, full))
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if len(cfg.HTTP.ParsedStatusCIDRs) != 2 {
		t.Fatalf("expected 2 parsed CIDRs, got %d", len(cfg.HTTP.ParsedStatusCIDRs))
	}

	broken := strings.Replace(validYAML, `  public_url: "https://dl.example.com/"`,
		`  public_url: "https://dl.example.com/"
  status_allow_origins:
    - "not-an-ip"`, 1)
	if _, err := LoadGatewayConfig(writeConfig(t, broken)); err == nil {
		t.Error("expected error for invalid status origin")
	}
}

func TestValidate_SessionStore(t *testing.T) {
	_, err := LoadGatewayConfig(writeConfig(t, validYAML+`
session_store:
  backend: "s3"
`))
	if err == nil || !strings.Contains(err.Error(), "s3.bucket") {
		t.Errorf("expected s3 bucket error, got %v", err)
	}

	cfg, err := LoadGatewayConfig(writeConfig(t, validYAML+`
session_store:
  backend: "s3"
  s3:
    bucket: "nstream-sessions"
`))
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.SessionStore.S3.Region != "us-east-1" {
		t.Errorf("expected default region, got %q", cfg.SessionStore.S3.Region)
	}
}

func TestValidate_AccessLog(t *testing.T) {
	cfg, err := LoadGatewayConfig(writeConfig(t, validYAML+`
access_log:
  enabled: true
`))
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.AccessLog.File != "access.jsonl" || cfg.AccessLog.MaxLines != 10000 || cfg.AccessLog.Compression != "gzip" {
		t.Errorf("access log defaults not applied: %+v", cfg.AccessLog)
	}

	_, err = LoadGatewayConfig(writeConfig(t, validYAML+`
access_log:
  enabled: true
  compression: "lz4"
`))
	if err == nil || !strings.Contains(err.Error(), "compression") {
		t.Errorf("expected compression error, got %v", err)
	}
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"64kb", 64 * 1024, true},
		{"512KB", 512 * 1024, true},
		{"1mb", 1024 * 1024, true},
		{"2gb", 2 * 1024 * 1024 * 1024, true},
		{"100b", 100, true},
		{"4096", 4096, true},
		{" 8 ", 8, true},
		{"", 0, false},
		{"abc", 0, false},
	}

	for _, tc := range cases {
		got, err := ParseByteSize(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ParseByteSize(%q) = %d, %v; want %d", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParseByteSize(%q) expected error", tc.in)
		}
	}
}
