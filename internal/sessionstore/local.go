// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sessionstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Local grava os blobs em um diretório no disco, um arquivo por identidade.
// A escrita é atômica (tmp + rename) para que um crash no meio de um Save
// nunca deixe um blob truncado para o próximo start.
type Local struct {
	dir string
}

// NewLocal cria (se necessário) o diretório e retorna o backend local.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating session directory %s: %w", dir, err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) path(name string) string {
	return filepath.Join(l.dir, name+".session.zst")
}

// Load lê e descomprime o blob da identidade.
func (l *Local) Load(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(l.path(name))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}
	return decompress(data)
}

// Save grava o blob comprimido de forma atômica.
func (l *Local) Save(_ context.Context, name string, blob []byte) error {
	data, err := compress(blob)
	if err != nil {
		return err
	}

	final := l.path(name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing session file: %w", err)
	}
	return nil
}
