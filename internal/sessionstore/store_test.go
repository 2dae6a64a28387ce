// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sessionstore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nishisan-dev/n-stream/internal/config"
)

func TestLocal_SaveLoad(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	blob := bytes.Repeat([]byte("auth-blob-payload "), 64)
	if err := store.Save(context.Background(), "client-0", blob); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(context.Background(), "client-0")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Error("loaded blob differs from saved blob")
	}
}

func TestLocal_LoadMissing(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	if _, err := store.Load(context.Background(), "client-9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLocal_SaveOverwrites(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	ctx := context.Background()
	if err := store.Save(ctx, "client-0", []byte("first")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(ctx, "client-0", []byte("second")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx, "client-0")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("expected %q, got %q", "second", got)
	}
}

func TestLocal_FilesAreCompressed(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	blob := bytes.Repeat([]byte("repetitive"), 1000)
	if err := store.Save(context.Background(), "client-0", blob); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "client-0.session.zst"))
	if err != nil {
		t.Fatalf("stat session file: %v", err)
	}
	if info.Size() >= int64(len(blob)) {
		t.Errorf("expected compressed file smaller than %d bytes, got %d", len(blob), info.Size())
	}
}

func TestNewFromConfig_UnknownBackend(t *testing.T) {
	_, err := NewFromConfig(context.Background(), config.SessionStoreConfig{Backend: "redis"})
	if err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestS3_KeyPrefix(t *testing.T) {
	s := &S3{bucket: "b", prefix: "gateway/sessions"}
	if got := s.key("client-2"); got != "gateway/sessions/client-2.session.zst" {
		t.Errorf("unexpected key %q", got)
	}
	s = &S3{bucket: "b"}
	if got := s.key("client-2"); got != "client-2.session.zst" {
		t.Errorf("unexpected key without prefix %q", got)
	}
}
