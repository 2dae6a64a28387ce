// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Testes end-to-end do gateway: DC fake → frota → HTTP público.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nishisan-dev/n-stream/internal/config"
	"github.com/nishisan-dev/n-stream/internal/fileid"
	"github.com/nishisan-dev/n-stream/internal/gateway"
	"github.com/nishisan-dev/n-stream/internal/upstream/upstreamtest"
)

const (
	testMsgID    = 120
	testUniqueID = "AQADtgXYZW"
	testHash     = "AQADtg"
	fileSize     = 1048577 // um byte além de 1 MiB: 3 chunks de 512 KiB
)

func seqData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

type testEnv struct {
	baseURL   string
	dc1       *upstreamtest.Server
	dc2       *upstreamtest.Server
	accessLog string
	data      []byte
	cancel    context.CancelFunc
	done      chan error
}

// startGateway sobe dois DCs fake (dc2 exige import de auth, como um DC que
// não é o home) e o gateway completo em um listener efêmero.
func startGateway(t *testing.T) *testEnv {
	t.Helper()

	dc1, err := upstreamtest.NewServer(1, false)
	if err != nil {
		t.Fatalf("starting dc1: %v", err)
	}
	dc2, err := upstreamtest.NewServer(2, true)
	if err != nil {
		t.Fatalf("starting dc2: %v", err)
	}

	data := seqData(fileSize)
	dc1.AddFile(testMsgID, testUniqueID, data, &fileid.Descriptor{
		Type:          fileid.TypeVideo,
		DCID:          1,
		MediaID:       900100,
		AccessHash:    555,
		FileReference: []byte{1, 2, 3, 4},
		MimeType:      "video/mp4",
		FileName:      "sample.mp4",
	})

	accessLog := filepath.Join(t.TempDir(), "access.jsonl")

	cfg := &config.GatewayConfig{}
	cfg.HTTP.Listen = "127.0.0.1:0"
	cfg.HTTP.PublicURL = "" // preenchido depois do listen
	cfg.HTTP.ReadTimeout = 10 * time.Second
	cfg.HTTP.IdleTimeout = 30 * time.Second
	cfg.HTTP.StreamLogDir = filepath.Join(t.TempDir(), "streams")
	cfg.Upstream.APIID = 1234
	cfg.Upstream.APIHash = "integration-hash"
	cfg.Upstream.Datacenters = map[int]string{1: dc1.Addr(), 2: dc2.Addr()}
	cfg.Upstream.ConnectTimeout = 5 * time.Second
	cfg.Upstream.ChunkTimeout = 10 * time.Second
	cfg.Bot.Token = "100:integration"
	cfg.Bot.Username = "nstream_bot"
	cfg.Bot.StorageChannelID = -1001234567890
	cfg.Streaming.MinChunkRaw = 64 * 1024
	cfg.Streaming.MaxChunkRaw = 512 * 1024
	cfg.Streaming.MaxRetries = 6
	cfg.Streaming.MaxStreamsPerDC = 2
	cfg.Streaming.GlobalStreamLimit = 10
	cfg.Streaming.SessionIdleTimeout = 300 * time.Second
	cfg.Streaming.CacheTTL = 30 * time.Minute
	cfg.SessionStore.Backend = "local"
	cfg.SessionStore.Dir = t.TempDir()
	cfg.AccessLog.Enabled = true
	cfg.AccessLog.File = accessLog
	cfg.AccessLog.MaxLines = 10000
	cfg.AccessLog.Compression = "gzip"

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	baseURL := "http://" + ln.Addr().String()
	cfg.HTTP.PublicURL = baseURL

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- gateway.RunWithListener(ctx, ln, cfg, logger)
	}()

	env := &testEnv{
		baseURL:   baseURL,
		dc1:       dc1,
		dc2:       dc2,
		accessLog: accessLog,
		data:      data,
		cancel:    cancel,
		done:      done,
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("gateway exited with error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("gateway did not shut down in time")
		}
		dc1.Close()
		dc2.Close()
	})

	waitReady(t, baseURL)
	return env
}

func waitReady(t *testing.T, baseURL string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(baseURL + "/")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("gateway never became ready: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func get(t *testing.T, url string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, body
}

func TestEndToEnd_FullDownload(t *testing.T) {
	env := startGateway(t)

	resp, body := get(t, fmt.Sprintf("%s/%s/%d", env.baseURL, testHash, testMsgID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Length"); got != fmt.Sprint(fileSize) {
		t.Errorf("Content-Length = %s, want %d", got, fileSize)
	}
	if got := resp.Header.Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %s", got)
	}
	if got := resp.Header.Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Accept-Ranges = %s", got)
	}
	if !bytes.Equal(body, env.data) {
		t.Error("downloaded body differs from stored file")
	}
	// 1 MiB + 1 byte em chunks de 512 KiB: exatamente 3 fetches.
	if calls := env.dc1.ChunkCalls(); calls != 3 {
		t.Errorf("expected 3 chunk calls, got %d", calls)
	}
}

func TestEndToEnd_RangeRequests(t *testing.T) {
	env := startGateway(t)
	url := fmt.Sprintf("%s/%s/%d", env.baseURL, testHash, testMsgID)

	t.Run("single byte", func(t *testing.T) {
		resp, body := get(t, url, map[string]string{"Range": "bytes=0-0"})
		if resp.StatusCode != http.StatusPartialContent {
			t.Fatalf("expected 206, got %d", resp.StatusCode)
		}
		if got := resp.Header.Get("Content-Range"); got != fmt.Sprintf("bytes 0-0/%d", fileSize) {
			t.Errorf("Content-Range = %s", got)
		}
		if len(body) != 1 || body[0] != env.data[0] {
			t.Errorf("unexpected body %v", body)
		}
	})

	t.Run("chunk boundary straddle", func(t *testing.T) {
		resp, body := get(t, url, map[string]string{"Range": "bytes=524287-524289"})
		if resp.StatusCode != http.StatusPartialContent {
			t.Fatalf("expected 206, got %d", resp.StatusCode)
		}
		if !bytes.Equal(body, env.data[524287:524290]) {
			t.Error("boundary bytes differ from stored file")
		}
	})

	t.Run("open ended tail", func(t *testing.T) {
		resp, body := get(t, url, map[string]string{"Range": "bytes=1048570-"})
		if resp.StatusCode != http.StatusPartialContent {
			t.Fatalf("expected 206, got %d", resp.StatusCode)
		}
		if !bytes.Equal(body, env.data[1048570:]) {
			t.Error("tail bytes differ from stored file")
		}
	})

	t.Run("unsatisfiable", func(t *testing.T) {
		resp, body := get(t, url, map[string]string{"Range": fmt.Sprintf("bytes=%d-", fileSize)})
		if resp.StatusCode != http.StatusRequestedRangeNotSatisfiable {
			t.Fatalf("expected 416, got %d", resp.StatusCode)
		}
		if got := resp.Header.Get("Content-Range"); got != fmt.Sprintf("bytes */%d", fileSize) {
			t.Errorf("Content-Range = %s", got)
		}
		if len(body) != 0 {
			t.Errorf("expected empty 416 body, got %d bytes", len(body))
		}
	})
}

func TestEndToEnd_HashGate(t *testing.T) {
	env := startGateway(t)

	before := env.dc1.ChunkCalls()
	resp, body := get(t, fmt.Sprintf("%s/WRONG0/%d", env.baseURL, testMsgID), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "Invalid hash") {
		t.Errorf("expected 'Invalid hash' body, got %q", body)
	}
	// Nenhum byte de mídia pode ter sido buscado.
	if after := env.dc1.ChunkCalls(); after != before {
		t.Errorf("hash gate leaked %d chunk calls", after-before)
	}
}

func TestEndToEnd_LegacyQueryHash(t *testing.T) {
	env := startGateway(t)

	resp, body := get(t, fmt.Sprintf("%s/%d?hash=%s", env.baseURL, testMsgID, testHash),
		map[string]string{"Range": "bytes=0-9"})
	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", resp.StatusCode)
	}
	if !bytes.Equal(body, env.data[:10]) {
		t.Error("legacy format body differs")
	}
}

func TestEndToEnd_UnknownMessage(t *testing.T) {
	env := startGateway(t)

	resp, _ := get(t, fmt.Sprintf("%s/%s/%d", env.baseURL, testHash, 999), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestEndToEnd_HeadRequest(t *testing.T) {
	env := startGateway(t)

	before := env.dc1.ChunkCalls()
	req, _ := http.NewRequest(http.MethodHead, fmt.Sprintf("%s/%s/%d", env.baseURL, testHash, testMsgID), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("HEAD: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Length"); got != fmt.Sprint(fileSize) {
		t.Errorf("Content-Length = %s", got)
	}
	if after := env.dc1.ChunkCalls(); after != before {
		t.Errorf("HEAD fetched %d chunks", after-before)
	}
}

func TestEndToEnd_StatusPage(t *testing.T) {
	env := startGateway(t)

	resp, body := get(t, env.baseURL+"/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var status gateway.StatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		t.Fatalf("parsing status JSON: %v", err)
	}
	if status.ServerStatus != "running" {
		t.Errorf("server_status = %q", status.ServerStatus)
	}
	if status.ConnectedClients != 1 {
		t.Errorf("connected_clients = %d", status.ConnectedClients)
	}
	if status.BotHandle != "@nstream_bot" {
		t.Errorf("bot_handle = %q", status.BotHandle)
	}
	if len(status.Loads) != 1 || status.Loads[0].Name != "client_1" {
		t.Errorf("unexpected loads %+v", status.Loads)
	}
}

func TestEndToEnd_WatchPage(t *testing.T) {
	env := startGateway(t)

	resp, body := get(t, fmt.Sprintf("%s/watch/%s/%d", env.baseURL, testHash, testMsgID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	page := string(body)
	if !strings.Contains(page, "sample.mp4") {
		t.Error("watch page missing file name")
	}
	if !strings.Contains(page, fmt.Sprintf("%s/%s/%d", env.baseURL, testHash, testMsgID)) {
		t.Error("watch page missing stream URL")
	}
	if !strings.Contains(page, "<video") {
		t.Error("watch page missing video element")
	}

	// Hash errado na página de watch também é bloqueado.
	resp, _ = get(t, fmt.Sprintf("%s/watch/WRONG0/%d", env.baseURL, testMsgID), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for wrong hash, got %d", resp.StatusCode)
	}
}

func TestEndToEnd_CrossDCFile(t *testing.T) {
	env := startGateway(t)

	crossData := seqData(200000)
	env.dc2.AddFile(121, "AQBremote0", crossData, &fileid.Descriptor{
		Type:          fileid.TypeDocument,
		DCID:          2,
		MediaID:       777001,
		AccessHash:    888,
		FileReference: []byte{9, 9},
		MimeType:      "application/pdf",
		FileName:      "paper.pdf",
	})
	// O GetMessage resolve no home DC; o arquivo em si mora no dc2.
	env.dc1.AddFile(121, "AQBremote0", crossData, &fileid.Descriptor{
		Type:          fileid.TypeDocument,
		DCID:          2,
		MediaID:       777001,
		AccessHash:    888,
		FileReference: []byte{9, 9},
		MimeType:      "application/pdf",
		FileName:      "paper.pdf",
	})

	resp, body := get(t, env.baseURL+"/AQBrem/121", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if !bytes.Equal(body, crossData) {
		t.Error("cross-dc body differs from stored file")
	}
	if env.dc2.ChunkCalls() == 0 {
		t.Error("expected chunks fetched from dc2")
	}
}

func TestEndToEnd_ConcurrentDownloads(t *testing.T) {
	env := startGateway(t)
	url := fmt.Sprintf("%s/%s/%d", env.baseURL, testHash, testMsgID)

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := int64(i * 1000)
			end := start + 4999
			req, _ := http.NewRequest(http.MethodGet, url, nil)
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				errs <- err
				return
			}
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				errs <- err
				return
			}
			if resp.StatusCode != http.StatusPartialContent {
				errs <- fmt.Errorf("worker %d: status %d", i, resp.StatusCode)
				return
			}
			if !bytes.Equal(body, env.data[start:end+1]) {
				errs <- fmt.Errorf("worker %d: body mismatch", i)
				return
			}
			errs <- nil
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
}

func TestEndToEnd_AccessLogWritten(t *testing.T) {
	env := startGateway(t)

	get(t, fmt.Sprintf("%s/%s/%d", env.baseURL, testHash, testMsgID),
		map[string]string{"Range": "bytes=0-9"})
	get(t, fmt.Sprintf("%s/WRONG0/%d", env.baseURL, testMsgID), nil)

	// O push do access log acontece no caminho do response; dá uma folga
	// para o handler terminar.
	var lines []string
	deadline := time.Now().Add(2 * time.Second)
	for {
		raw, err := readFile(env.accessLog)
		if err == nil {
			lines = nonEmptyLines(raw)
			if len(lines) >= 2 {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 2 access log lines, got %d", len(lines))
		}
		time.Sleep(20 * time.Millisecond)
	}

	var ev map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &ev); err != nil {
		t.Fatalf("parsing access log line: %v", err)
	}
	if ev["status"].(float64) != http.StatusForbidden {
		t.Errorf("expected 403 in last access event, got %v", ev["status"])
	}
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	return string(data), err
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
