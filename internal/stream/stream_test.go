// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

// memSource serve chunks alinhados de um buffer, como o upstream faria.
type memSource struct {
	data    []byte
	fetches int
	// failAt derruba o fetch de índice dado (0-based) quando >= 0.
	failAt int
	// shortAt trunca o chunk de índice dado para shortLen bytes.
	shortAt  int
	shortLen int
}

func newMemSource(data []byte) *memSource {
	return &memSource{data: data, failAt: -1, shortAt: -1}
}

func (m *memSource) Fetch(_ context.Context, offset int64, limit int) ([]byte, error) {
	idx := m.fetches
	m.fetches++

	if idx == m.failAt {
		return nil, errors.New("upstream gone")
	}
	if offset >= int64(len(m.data)) {
		return nil, nil
	}
	end := offset + int64(limit)
	if end > int64(len(m.data)) {
		end = int64(len(m.data))
	}
	chunk := m.data[offset:end]
	if idx == m.shortAt && len(chunk) > m.shortLen {
		chunk = chunk[:m.shortLen]
	}
	return chunk, nil
}

func seqData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestNewPlan(t *testing.T) {
	const chunk = 524288

	cases := []struct {
		name       string
		start, end int64
		offsetBase int64
		firstCut   int64
		lastCut    int64
		partCount  int64
	}{
		{"full file one byte past 1MiB", 0, 1048576, 0, 0, 1, 3},
		{"single first byte", 0, 0, 0, 0, 1, 1},
		{"straddles part boundary", 524287, 524289, 0, 524287, 2, 2},
		{"aligned tail", 524288, 1048575, 524288, 0, 524288, 1},
		{"mid file", 1000, 2000, 0, 1000, 2001, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPlan(tc.start, tc.end, chunk)
			if p.OffsetBase != tc.offsetBase {
				t.Errorf("OffsetBase = %d, want %d", p.OffsetBase, tc.offsetBase)
			}
			if p.FirstCut != tc.firstCut {
				t.Errorf("FirstCut = %d, want %d", p.FirstCut, tc.firstCut)
			}
			if p.LastCut != tc.lastCut {
				t.Errorf("LastCut = %d, want %d", p.LastCut, tc.lastCut)
			}
			if p.PartCount != tc.partCount {
				t.Errorf("PartCount = %d, want %d", p.PartCount, tc.partCount)
			}
			if got := p.Length(); got != tc.end-tc.start+1 {
				t.Errorf("Length = %d, want %d", got, tc.end-tc.start+1)
			}
		})
	}
}

func TestParseRange(t *testing.T) {
	const size = 1048577

	cases := []struct {
		header    string
		wantStart int64
		wantEnd   int64
		wantErr   bool
	}{
		{"", 0, size - 1, false},
		{"bytes=0-0", 0, 0, false},
		{"bytes=0-", 0, size - 1, false},
		{"bytes=524287-524289", 524287, 524289, false},
		{"bytes=-500", size - 500, size - 1, false},
		{"bytes=-2000000", 0, size - 1, false},
		{"bytes=1048577-", 0, 0, true},
		{"bytes=100-50", 0, 0, true},
		{"bytes=0-1048577", 0, 0, true},
		{"bytes=abc-def", 0, 0, true},
		{"bytes=0-0,100-200", 0, 0, true},
		{"octets=0-100", 0, 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.header, func(t *testing.T) {
			start, end, err := ParseRange(tc.header, size)
			if tc.wantErr {
				if !errors.Is(err, ErrUnsatisfiable) {
					t.Fatalf("expected ErrUnsatisfiable, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRange: %v", err)
			}
			if start != tc.wantStart || end != tc.wantEnd {
				t.Errorf("got %d-%d, want %d-%d", start, end, tc.wantStart, tc.wantEnd)
			}
		})
	}
}

func TestStream_FullFile(t *testing.T) {
	data := seqData(1048577)
	src := newMemSource(data)
	plan := NewPlan(0, int64(len(data)-1), 524288)

	var buf bytes.Buffer
	n, err := Stream(context.Background(), &buf, plan, src)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("wrote %d bytes, want %d", n, len(data))
	}
	if !bytes.Equal(buf.Bytes(), data) {
		t.Error("streamed body differs from source data")
	}
	if src.fetches != 3 {
		t.Errorf("expected 3 fetches, got %d", src.fetches)
	}
}

func TestStream_SingleByte(t *testing.T) {
	data := seqData(1048577)
	src := newMemSource(data)
	plan := NewPlan(0, 0, 524288)

	var buf bytes.Buffer
	n, err := Stream(context.Background(), &buf, plan, src)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if n != 1 || buf.Len() != 1 || buf.Bytes()[0] != data[0] {
		t.Errorf("expected single byte %d, got %v", data[0], buf.Bytes())
	}
}

func TestStream_BoundaryStraddle(t *testing.T) {
	data := seqData(1048577)
	src := newMemSource(data)
	plan := NewPlan(524287, 524289, 524288)

	var buf bytes.Buffer
	n, err := Stream(context.Background(), &buf, plan, src)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if n != 3 {
		t.Errorf("wrote %d bytes, want 3", n)
	}
	if !bytes.Equal(buf.Bytes(), data[524287:524290]) {
		t.Error("boundary bytes differ from source")
	}
	if src.fetches != 2 {
		t.Errorf("expected 2 fetches, got %d", src.fetches)
	}
}

func TestStream_MidRange(t *testing.T) {
	data := seqData(300000)
	src := newMemSource(data)
	plan := NewPlan(70000, 200000, 65536)

	var buf bytes.Buffer
	n, err := Stream(context.Background(), &buf, plan, src)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if n != 130001 {
		t.Errorf("wrote %d bytes, want 130001", n)
	}
	if !bytes.Equal(buf.Bytes(), data[70000:200001]) {
		t.Error("range bytes differ from source")
	}
}

func TestStream_ShortReadEndsEarly(t *testing.T) {
	data := seqData(262144)
	src := newMemSource(data)
	src.shortAt = 0
	src.shortLen = 1000

	plan := NewPlan(0, 262143, 65536)
	var buf bytes.Buffer
	n, err := Stream(context.Background(), &buf, plan, src)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if n != 1000 {
		t.Errorf("wrote %d bytes, want 1000 (short read stops the stream)", n)
	}
	if src.fetches != 1 {
		t.Errorf("expected no fetch after a short read, got %d", src.fetches)
	}
}

func TestStream_EmptyReadEndsEarly(t *testing.T) {
	// O plano espera mais dados do que o arquivo tem: EOF antecipado.
	data := seqData(100)
	src := newMemSource(data)
	plan := NewPlan(0, 65535, 65536)

	var buf bytes.Buffer
	n, err := Stream(context.Background(), &buf, plan, src)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if n != 100 {
		t.Errorf("wrote %d bytes, want 100", n)
	}
}

func TestStream_FetchErrorMidStream(t *testing.T) {
	data := seqData(262144)
	src := newMemSource(data)
	src.failAt = 1

	plan := NewPlan(0, 262143, 65536)
	var buf bytes.Buffer
	n, err := Stream(context.Background(), &buf, plan, src)
	if err == nil {
		t.Fatal("expected error from failing fetch")
	}
	// O primeiro part já foi entregue antes da falha.
	if n != 65536 {
		t.Errorf("wrote %d bytes before failure, want 65536", n)
	}
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) {
	return 0, errors.New("client went away")
}

func TestStream_WriteError(t *testing.T) {
	data := seqData(65536)
	src := newMemSource(data)
	plan := NewPlan(0, 65535, 65536)

	n, err := Stream(context.Background(), failWriter{}, plan, src)
	if err == nil {
		t.Fatal("expected write error")
	}
	if n != 0 {
		t.Errorf("expected 0 bytes written, got %d", n)
	}
}

func TestStream_ContextCanceled(t *testing.T) {
	data := seqData(262144)
	src := newMemSource(data)
	plan := NewPlan(0, 262143, 65536)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	if _, err := Stream(ctx, &buf, plan, src); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
