// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package cache guarda os descriptors resolvidos por msgID para que cada
// arquivo pague o GetMessage uma vez. file_reference expira no upstream, por
// isso o cache tem flush periódico e invalidação pontual quando um stream
// descobre que a referência ficou stale.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/n-stream/internal/fileid"
)

// ResolveFunc resolve um msgID para o descriptor da mídia (GetMessage no
// upstream + decode do file descriptor).
type ResolveFunc func(ctx context.Context, msgID int64) (*fileid.Descriptor, error)

// FilePropCache é um cache de descriptors com dedup de resolves: requests
// concorrentes para o mesmo msgID em miss compartilham uma única ida ao
// upstream.
type FilePropCache struct {
	resolve ResolveFunc
	logger  *slog.Logger

	mu       sync.RWMutex
	entries  map[int64]*fileid.Descriptor
	inflight map[int64]chan struct{}

	cron *cron.Cron
}

// New cria o cache com flush completo agendado a cada ttl.
func New(resolve ResolveFunc, ttl time.Duration, logger *slog.Logger) *FilePropCache {
	c := &FilePropCache{
		resolve:  resolve,
		logger:   logger,
		entries:  make(map[int64]*fileid.Descriptor),
		inflight: make(map[int64]chan struct{}),
		cron:     cron.New(),
	}
	c.cron.AddFunc(fmt.Sprintf("@every %s", ttl), func() {
		n := c.Flush()
		if n > 0 {
			logger.Debug("file prop cache flushed", "entries", n)
		}
	})
	return c
}

// Start liga o flush periódico.
func (c *FilePropCache) Start() { c.cron.Start() }

// Stop desliga o flush periódico.
func (c *FilePropCache) Stop() { c.cron.Stop() }

// Get retorna o descriptor do msgID, resolvendo em caso de miss. Nenhum
// lock é mantido durante a ida ao upstream; quem chega durante um resolve
// em andamento espera o resultado em vez de duplicar a chamada. Resolves
// que falham não são cacheados.
func (c *FilePropCache) Get(ctx context.Context, msgID int64) (*fileid.Descriptor, error) {
	for {
		c.mu.RLock()
		if fd, ok := c.entries[msgID]; ok {
			c.mu.RUnlock()
			return fd, nil
		}
		c.mu.RUnlock()

		c.mu.Lock()
		if fd, ok := c.entries[msgID]; ok {
			c.mu.Unlock()
			return fd, nil
		}
		if ch, ok := c.inflight[msgID]; ok {
			c.mu.Unlock()
			select {
			case <-ch:
				// O resolve terminou; volta ao início para ler o resultado
				// (ou assumir o resolve, se ele falhou).
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		ch := make(chan struct{})
		c.inflight[msgID] = ch
		c.mu.Unlock()

		fd, err := c.resolve(ctx, msgID)

		c.mu.Lock()
		if err == nil {
			c.entries[msgID] = fd
		}
		delete(c.inflight, msgID)
		close(ch)
		c.mu.Unlock()

		return fd, err
	}
}

// Invalidate remove a entrada do msgID. Chamado quando um stream detecta
// file_reference expirado.
func (c *FilePropCache) Invalidate(msgID int64) {
	c.mu.Lock()
	delete(c.entries, msgID)
	c.mu.Unlock()
}

// Flush descarta todas as entradas e retorna quantas havia.
func (c *FilePropCache) Flush() int {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[int64]*fileid.Descriptor)
	c.mu.Unlock()
	return n
}

// Len retorna o número de entradas cacheadas.
func (c *FilePropCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
