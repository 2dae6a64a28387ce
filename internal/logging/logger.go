// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package logging constrói os loggers slog do gateway: o logger global do
// processo e os loggers dedicados por stream HTTP.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger cria o slog.Logger global do gateway.
// Níveis: "debug", "info" (default), "warn", "error".
// Formatos: "json" (default) e "text".
// Com filePath preenchido os registros vão para stdout e para o arquivo; o
// io.Closer retornado fecha o arquivo e deve ser chamado no shutdown.
func NewLogger(level, format, filePath string) (*slog.Logger, io.Closer) {
	w, closer := output(filePath)
	handler := newHandler(format, w, parseLevel(level))
	return slog.New(handler), closer
}

// output resolve o destino dos registros. Falha ao abrir o arquivo não é
// fatal: o gateway sobe só com stdout e avisa no stderr.
func output(filePath string) (io.Writer, io.Closer) {
	if filePath == "" {
		return os.Stdout, nopCloser{}
	}
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", filePath, err)
		return os.Stdout, nopCloser{}
	}
	return io.MultiWriter(os.Stdout, f), f
}

func newHandler(format string, w io.Writer, lvl slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
