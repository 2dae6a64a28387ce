// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/xtaci/smux"

	"github.com/nishisan-dev/n-stream/internal/protocol"
)

// Session é uma conexão autorizada com um datacenter. Depois do handshake
// NSTP a conexão é promovida a smux e cada RPC abre um stream dedicado, o
// que permite RPCs concorrentes sem head-of-line blocking no framing.
type Session struct {
	dcID int
	conn net.Conn
	mux  *smux.Session

	// lastUsed em unix nanos, atualizado a cada RPC. Lido pelo reaper.
	lastUsed atomic.Int64
	broken   atomic.Bool

	logger *slog.Logger
}

func newSession(dcID int, conn net.Conn, mux *smux.Session, logger *slog.Logger) *Session {
	s := &Session{dcID: dcID, conn: conn, mux: mux, logger: logger}
	s.Touch()
	return s
}

// DC retorna o datacenter desta sessão.
func (s *Session) DC() int { return s.dcID }

// Touch registra uso para fins do reaper de sessões ociosas.
func (s *Session) Touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// IdleFor retorna há quanto tempo a sessão não executa um RPC.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastUsed.Load()))
}

// Broken informa se a sessão sofreu um erro de transporte e deve ser
// substituída no próximo Acquire.
func (s *Session) Broken() bool {
	return s.broken.Load() || s.mux.IsClosed()
}

func (s *Session) markBroken() {
	s.broken.Store(true)
}

// Close encerra a sessão smux e a conexão subjacente.
func (s *Session) Close() error {
	err := s.mux.Close()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// roundTrip abre um stream smux, aplica o deadline do contexto e executa o
// par write/read de um RPC. Erros de transporte marcam a sessão como broken;
// erros de protocolo (WireError) não, já que a sessão continua utilizável.
func (s *Session) roundTrip(ctx context.Context, write func(io.Writer) error, read func(io.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stream, err := s.mux.OpenStream()
	if err != nil {
		s.markBroken()
		return fmt.Errorf("opening rpc stream to dc %d: %w", s.dcID, err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := stream.SetDeadline(deadline); err != nil {
			s.markBroken()
			return fmt.Errorf("setting rpc deadline: %w", err)
		}
	}

	s.Touch()
	if err := write(stream); err != nil {
		s.markBroken()
		return fmt.Errorf("writing rpc to dc %d: %w", s.dcID, err)
	}
	if err := read(stream); err != nil {
		var we *protocol.WireError
		if !errors.As(err, &we) {
			s.markBroken()
		}
		return err
	}
	s.Touch()
	return nil
}

// GetMessage resolve os metadados da mídia anexada à mensagem do canal.
func (s *Session) GetMessage(ctx context.Context, channelID, msgID int64) (*protocol.MessageInfo, error) {
	var info *protocol.MessageInfo
	err := s.roundTrip(ctx,
		func(w io.Writer) error { return protocol.WriteGetMessage(w, channelID, msgID) },
		func(r io.Reader) error {
			var err error
			info, err = protocol.ReadMessageInfo(r)
			return err
		},
	)
	if err != nil {
		return nil, classify(err)
	}
	return info, nil
}

// GetChunk lê um chunk alinhado do arquivo apontado pela location.
func (s *Session) GetChunk(ctx context.Context, req *protocol.GetChunkRequest) ([]byte, error) {
	var data []byte
	err := s.roundTrip(ctx,
		func(w io.Writer) error { return protocol.WriteGetChunk(w, req) },
		func(r io.Reader) error {
			var err error
			data, err = protocol.ReadChunk(r)
			return err
		},
	)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ExportAuth pede ao DC desta sessão bytes de autorização para o DC alvo.
func (s *Session) ExportAuth(ctx context.Context, targetDC uint16) ([]byte, error) {
	var authBytes []byte
	err := s.roundTrip(ctx,
		func(w io.Writer) error { return protocol.WriteExportAuth(w, targetDC) },
		func(r io.Reader) error {
			var err error
			authBytes, err = protocol.ReadAuthBytes(r)
			return err
		},
	)
	if err != nil {
		return nil, classify(err)
	}
	return authBytes, nil
}

// ImportAuth apresenta bytes exportados pelo DC home para autorizar esta
// sessão. Retorna o WireError cru em AUTH_BYTES_INVALID para que o caller
// decida re-exportar.
func (s *Session) ImportAuth(ctx context.Context, authBytes []byte) error {
	return s.roundTrip(ctx,
		func(w io.Writer) error { return protocol.WriteImportAuth(w, authBytes) },
		func(r io.Reader) error { return protocol.ReadOK(r) },
	)
}

// Ping verifica a vitalidade da sessão. Usado apenas em diagnóstico; o
// Acquire do pool nunca faz probe.
func (s *Session) Ping(ctx context.Context) error {
	return s.roundTrip(ctx,
		func(w io.Writer) error { return protocol.WritePing(w) },
		func(r io.Reader) error { return protocol.ReadOK(r) },
	)
}
