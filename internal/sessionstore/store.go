// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package sessionstore persiste os auth blobs das identidades upstream entre
// restarts do gateway. Os blobs são opacos para o gateway; aqui eles só são
// comprimidos (zstd) e gravados no backend escolhido (diretório local ou S3).
package sessionstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// ErrNotFound indica que não há blob persistido para a identidade.
var ErrNotFound = errors.New("sessionstore: session not found")

// Store persiste auth blobs por nome de identidade.
type Store interface {
	// Load retorna o blob persistido ou ErrNotFound.
	Load(ctx context.Context, name string) ([]byte, error)
	// Save grava (substituindo) o blob da identidade.
	Save(ctx context.Context, name string, blob []byte) error
}

// compress aplica zstd ao blob antes da gravação.
func compress(blob []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(blob, nil), nil
}

// decompress reverte a compressão aplicada por compress.
func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()

	blob, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing session blob: %w", err)
	}
	return blob, nil
}
