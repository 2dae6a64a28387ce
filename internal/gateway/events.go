// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gateway

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// AccessEvent é uma linha do log de acesso JSONL, um registro por request
// servido (ou recusado) pelas rotas de stream.
type AccessEvent struct {
	Timestamp string `json:"ts"`
	RemoteIP  string `json:"remote_ip"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	BytesSent int64  `json:"bytes_sent"`
	MsgID     int64  `json:"msg_id,omitempty"`
	Client    string `json:"client,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// AccessLog persiste eventos de acesso em arquivo JSONL com rotação por
// número de linhas. Quando o arquivo excede maxLines, as linhas mais antigas
// são movidas para um arquivo comprimido (gzip ou zstd) e o arquivo ativo
// fica com a metade mais recente.
type AccessLog struct {
	mu          sync.Mutex
	file        *os.File
	path        string
	maxLines    int
	lineCount   int
	compression string // "gzip" | "zst"
}

// NewAccessLog abre (ou cria) o arquivo JSONL para append.
func NewAccessLog(path string, maxLines int, compression string) (*AccessLog, error) {
	if maxLines <= 0 {
		maxLines = 10000
	}

	lineCount, err := countLines(path)
	if err != nil {
		return nil, fmt.Errorf("counting access log lines: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening access log for append: %w", err)
	}

	return &AccessLog{
		file:        f,
		path:        path,
		maxLines:    maxLines,
		lineCount:   lineCount,
		compression: compression,
	}, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}

// Push grava um evento. Falhas de escrita não propagam: o log de acesso
// nunca derruba um stream em andamento.
func (l *AccessLog) Push(e AccessEvent) {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().Format(time.RFC3339)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return
	}

	l.lineCount++
	if l.lineCount > l.maxLines {
		l.rotate()
	}
}

// Close fecha o file handle do arquivo JSONL.
func (l *AccessLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// rotate move as linhas mais antigas para um arquivo comprimido e mantém as
// últimas maxLines/2 no arquivo ativo. Deve ser chamada com l.mu travado.
func (l *AccessLog) rotate() {
	lines, err := readLines(l.path)
	keep := l.maxLines / 2
	if err != nil || len(lines) <= keep {
		return
	}

	dropped := lines[:len(lines)-keep]
	kept := lines[len(lines)-keep:]

	if err := l.archive(dropped); err != nil {
		// Sem archive não há rotação: melhor um arquivo grande do que
		// perder histórico.
		return
	}

	l.file.Close()
	f, err := os.Create(l.path)
	if err != nil {
		l.file, _ = os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		return
	}
	w := bufio.NewWriter(f)
	for _, line := range kept {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	w.Flush()
	f.Close()

	l.file, err = os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	l.lineCount = len(kept)
}

// archive grava as linhas rotacionadas em um arquivo comprimido ao lado do
// log ativo, nomeado com o timestamp da rotação.
func (l *AccessLog) archive(lines []string) error {
	ext := "gz"
	if l.compression == "zst" {
		ext = "zst"
	}
	path := fmt.Sprintf("%s.%s.%s", l.path, time.Now().Format("20060102T150405"), ext)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var w io.WriteCloser
	if l.compression == "zst" {
		zw, err := zstd.NewWriter(f)
		if err != nil {
			return err
		}
		w = zw
	} else {
		w = pgzip.NewWriter(f)
	}

	bw := bufio.NewWriter(w)
	for _, line := range lines {
		bw.WriteString(line)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
