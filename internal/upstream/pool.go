// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nishisan-dev/n-stream/internal/config"
)

// SessionPool guarda no máximo uma sessão viva por DC para uma identidade e
// a substitui sob demanda. Acquire nunca faz probe de vitalidade: uma sessão
// presente e não marcada como broken é retornada como está, e quem paga o
// preço de descobrir que ela morreu é o primeiro RPC (que então faz Reset).
type SessionPool struct {
	client      *Client
	idleTimeout time.Duration
	perDCSlots  int
	reapEvery   time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[int]*Session
	dcLocks  map[int]*sync.Mutex
	dcSems   map[int]chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func newSessionPool(client *Client, cfg config.StreamingConfig, logger *slog.Logger) *SessionPool {
	return &SessionPool{
		client:      client,
		idleTimeout: cfg.SessionIdleTimeout,
		perDCSlots:  cfg.MaxStreamsPerDC,
		reapEvery:   time.Minute,
		logger:      logger,
		sessions:    make(map[int]*Session),
		dcLocks:     make(map[int]*sync.Mutex),
		dcSems:      make(map[int]chan struct{}),
		stopCh:      make(chan struct{}),
	}
}

// Start liga o reaper de sessões ociosas. Idempotente.
func (p *SessionPool) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.reapLoop()
	})
}

func (p *SessionPool) current(dc int) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[dc]
}

// put adota uma sessão já autorizada (usada pelo Connect do client).
func (p *SessionPool) put(dc int, s *Session) {
	p.mu.Lock()
	old := p.sessions[dc]
	p.sessions[dc] = s
	p.mu.Unlock()
	if old != nil && old != s {
		old.Close()
	}
}

func (p *SessionPool) dcLock(dc int) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.dcLocks[dc]
	if !ok {
		lock = &sync.Mutex{}
		p.dcLocks[dc] = lock
	}
	return lock
}

func (p *SessionPool) dcSem(dc int) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	sem, ok := p.dcSems[dc]
	if !ok {
		sem = make(chan struct{}, p.perDCSlots)
		p.dcSems[dc] = sem
	}
	return sem
}

// Acquire retorna a sessão do DC, criando-a se necessário. A criação é
// serializada por DC: requests concorrentes para o mesmo DC esperam a mesma
// conexão em vez de abrir várias.
func (p *SessionPool) Acquire(ctx context.Context, dc int) (*Session, error) {
	if s := p.current(dc); s != nil && !s.Broken() {
		return s, nil
	}

	lock := p.dcLock(dc)
	lock.Lock()
	defer lock.Unlock()

	// Outro goroutine pode ter criado a sessão enquanto esperávamos o lock.
	if s := p.current(dc); s != nil {
		if !s.Broken() {
			return s, nil
		}
		p.Reset(dc)
	}

	s, err := p.client.openSession(ctx, dc)
	if err != nil {
		return nil, fmt.Errorf("opening session to dc %d: %w", dc, err)
	}
	p.put(dc, s)
	p.logger.Info("upstream session established", "dc", dc)
	return s, nil
}

// Reset descarta a sessão do DC. Idempotente: chamadas concorrentes para uma
// sessão já removida são no-ops.
func (p *SessionPool) Reset(dc int) {
	p.mu.Lock()
	s := p.sessions[dc]
	delete(p.sessions, dc)
	p.mu.Unlock()

	if s != nil {
		s.Close()
		p.logger.Debug("upstream session reset", "dc", dc)
	}
}

// AdmitStream reserva um slot de stream no DC, bloqueando quando o limite
// por DC foi atingido. O release retornado deve ser chamado ao fim do
// response HTTP e é seguro chamar mais de uma vez.
func (p *SessionPool) AdmitStream(ctx context.Context, dc int) (func(), error) {
	sem := p.dcSem(dc)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-sem })
	}, nil
}

func (p *SessionPool) reapLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.reapEvery)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case now := <-ticker.C:
			p.reapIdle(now)
		}
	}
}

func (p *SessionPool) reapIdle(now time.Time) {
	p.mu.Lock()
	idle := make(map[int]time.Duration)
	for dc, s := range p.sessions {
		if d := s.IdleFor(now); d > p.idleTimeout {
			idle[dc] = d
		}
	}
	p.mu.Unlock()

	for dc, d := range idle {
		p.logger.Info("reaping idle upstream session", "dc", dc, "idle", d.Round(time.Second))
		p.Reset(dc)
	}
}

// Close para o reaper e encerra todas as sessões.
func (p *SessionPool) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[int]*Session)
	p.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
