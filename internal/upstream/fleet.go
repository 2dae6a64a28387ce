// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package upstream

import (
	"context"
	"sync"
)

// Fleet distribui streams HTTP entre as identidades conectadas. A escolha é
// least-loaded com desempate pelo índice menor, e um semáforo global limita
// o total de streams simultâneos do gateway inteiro.
type Fleet struct {
	clients []*Client
	global  chan struct{}

	mu    sync.Mutex
	loads []int
}

// ClientLoad é um item do snapshot de carga exibido no status.
type ClientLoad struct {
	Name string `json:"name"`
	Load int    `json:"load"`
}

// NewFleet monta a frota. clients deve estar ordenado por índice.
func NewFleet(clients []*Client, globalLimit int) *Fleet {
	return &Fleet{
		clients: clients,
		global:  make(chan struct{}, globalLimit),
		loads:   make([]int, len(clients)),
	}
}

// Size retorna o número de identidades na frota.
func (f *Fleet) Size() int { return len(f.clients) }

// Clients expõe as identidades (para o start e o shutdown).
func (f *Fleet) Clients() []*Client { return f.clients }

// Pick escolhe a identidade menos carregada. Empates vão para o índice
// menor, o que mantém a escolha determinística.
func (f *Fleet) Pick() (int, *Client) {
	f.mu.Lock()
	defer f.mu.Unlock()

	best := 0
	for i := 1; i < len(f.loads); i++ {
		if f.loads[i] < f.loads[best] {
			best = i
		}
	}
	return best, f.clients[best]
}

// Begin reserva um slot global e incrementa a carga da identidade. Bloqueia
// quando o gateway está no limite global de streams. O release retornado é
// idempotente e deve ser chamado ao fim do response.
func (f *Fleet) Begin(ctx context.Context, index int) (func(), error) {
	select {
	case f.global <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	f.mu.Lock()
	f.loads[index]++
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.loads[index]--
			f.mu.Unlock()
			<-f.global
		})
	}, nil
}

// Loads retorna um snapshot das cargas por identidade.
func (f *Fleet) Loads() []ClientLoad {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]ClientLoad, len(f.clients))
	for i, c := range f.clients {
		out[i] = ClientLoad{Name: c.Name(), Load: f.loads[i]}
	}
	return out
}

// ActiveStreams retorna o total de streams em andamento.
func (f *Fleet) ActiveStreams() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := 0
	for _, l := range f.loads {
		total += l
	}
	return total
}

// Close encerra todas as identidades da frota.
func (f *Fleet) Close() {
	for _, c := range f.clients {
		c.Close()
	}
}
