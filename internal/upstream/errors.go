// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package upstream mantém as sessões NSTP com os datacenters e expõe os RPCs
// de metadados (GetMessage) e leitura de chunks (GetChunk) usados pelo
// gateway HTTP. Cada identidade (bot token) tem um pool de sessões por DC,
// um fetcher com retry/backoff e contabilidade de carga via Fleet.
package upstream

import (
	"errors"
	"fmt"
	"time"

	"github.com/nishisan-dev/n-stream/internal/protocol"
)

var (
	// ErrAuthFailed indica que a autorização cross-DC esgotou as tentativas
	// de re-export ou que o handshake foi rejeitado pelo upstream.
	ErrAuthFailed = errors.New("upstream: authorization failed")

	// ErrNotFound indica mensagem ou arquivo inexistente no upstream.
	ErrNotFound = errors.New("upstream: not found")

	// ErrReferenceExpired indica que o file_reference do descriptor expirou.
	// O caller deve invalidar o cache e re-resolver a mensagem.
	ErrReferenceExpired = errors.New("upstream: file reference expired")

	// ErrNoSession indica que o DC pedido não está configurado.
	ErrNoSession = errors.New("upstream: datacenter not configured")
)

// FloodWaitError é retornado quando o upstream pediu espera e o contexto do
// caller não permitiu aguardar o tempo solicitado.
type FloodWaitError struct {
	Seconds uint32
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("upstream: flood wait of %ds exceeds request budget", e.Seconds)
}

// Duration retorna a espera pedida pelo upstream.
func (e *FloodWaitError) Duration() time.Duration {
	return time.Duration(e.Seconds) * time.Second
}

// classify traduz um WireError do protocolo para a taxonomia estável do
// pacote. Erros de transporte (conexão, timeout) passam intocados.
func classify(err error) error {
	var we *protocol.WireError
	if !errors.As(err, &we) {
		return err
	}
	switch we.Code {
	case protocol.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, we.Message)
	case protocol.StatusFileReferenceExpired:
		return fmt.Errorf("%w: %s", ErrReferenceExpired, we.Message)
	case protocol.StatusAuthBytesInvalid:
		return fmt.Errorf("%w: %s", ErrAuthFailed, we.Message)
	default:
		return err
	}
}
