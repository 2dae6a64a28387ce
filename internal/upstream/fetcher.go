// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/nishisan-dev/n-stream/internal/config"
	"github.com/nishisan-dev/n-stream/internal/protocol"
)

// maxBackoff limita a espera exponencial entre tentativas de fetch.
const maxBackoff = 60 * time.Second

// Fetcher executa GetChunk com a política de retry do gateway: backoff
// exponencial em erros de transporte (com reset da sessão e halving do
// chunk), espera cooperativa em FLOOD_WAIT (sem consumir tentativa) e
// desistência imediata em erros de protocolo definitivos.
type Fetcher struct {
	pool         *SessionPool
	limiter      *rate.Limiter
	minChunk     int
	maxRetries   int
	chunkTimeout time.Duration
	logger       *slog.Logger

	// sleep é substituível em teste para não esperar backoffs reais.
	sleep func(context.Context, time.Duration) error
}

func newFetcher(pool *SessionPool, cfg *config.GatewayConfig, logger *slog.Logger) *Fetcher {
	var limiter *rate.Limiter
	if rps := cfg.Streaming.RequestsPerSecond; rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &Fetcher{
		pool:         pool,
		limiter:      limiter,
		minChunk:     int(cfg.Streaming.MinChunkRaw),
		maxRetries:   cfg.Streaming.MaxRetries,
		chunkTimeout: cfg.Upstream.ChunkTimeout,
		logger:       logger,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetch lê um chunk alinhado, fazendo retry com a sessão indicada e
// substituindo-a quando o transporte falha. Retorna a sessão em uso ao
// final, que pode ser outra se houve reset no caminho; o caller deve
// continuar o stream com ela.
//
// FLOOD_WAIT dorme o tempo pedido e tenta de novo sem consumir tentativa.
// Em erros de transporte o limit é dividido por dois (sem descer do chunk
// mínimo) antes da próxima tentativa.
func (f *Fetcher) Fetch(ctx context.Context, sess *Session, dc int, location []byte, offset int64, limit int) ([]byte, *Session, error) {
	attempt := 0
	for {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, sess, err
			}
		}

		cctx, cancel := context.WithTimeout(ctx, f.chunkTimeout)
		data, err := sess.GetChunk(cctx, &protocol.GetChunkRequest{
			Offset:   uint64(offset),
			Limit:    uint32(limit),
			Location: location,
		})
		cancel()
		if err == nil {
			return data, sess, nil
		}

		var we *protocol.WireError
		if errors.As(err, &we) {
			if we.Code == protocol.StatusFloodWait {
				wait := time.Duration(we.RetryAfter) * time.Second
				f.logger.Warn("upstream flood wait", "dc", dc, "wait", wait, "offset", offset)
				if serr := f.sleep(ctx, wait); serr != nil {
					return nil, sess, &FloodWaitError{Seconds: we.RetryAfter}
				}
				// Espera cooperativa não conta como tentativa.
				continue
			}
			return nil, sess, classify(err)
		}

		if ctx.Err() != nil {
			return nil, sess, ctx.Err()
		}

		attempt++
		if attempt >= f.maxRetries {
			return nil, sess, fmt.Errorf("fetching chunk at offset %d from dc %d after %d attempts: %w", offset, dc, attempt, err)
		}

		if half := limit / 2; half >= f.minChunk {
			limit = half
		}

		backoff := time.Duration(1<<attempt) * time.Second
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		f.logger.Warn("chunk fetch failed, retrying",
			"dc", dc, "offset", offset, "attempt", attempt, "backoff", backoff, "next_limit", limit, "error", err)
		if serr := f.sleep(ctx, backoff); serr != nil {
			return nil, sess, serr
		}

		f.pool.Reset(dc)
		next, aerr := f.pool.Acquire(ctx, dc)
		if aerr != nil {
			return nil, sess, aerr
		}
		sess = next
	}
}
