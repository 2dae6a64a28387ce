// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package upstream

import (
	"context"
	"fmt"
	"sync"

	"github.com/nishisan-dev/n-stream/internal/fileid"
)

// StreamSource amarra uma sessão, a location serializada e o fetcher para
// servir os chunks de um único response HTTP. A sessão é adquirida uma vez
// no open e só é substituída se o fetcher precisar resetá-la no caminho.
type StreamSource struct {
	fetcher  *Fetcher
	dc       int
	location []byte
	sess     *Session

	releaseSlot func()
	closeOnce   sync.Once
}

// OpenSource prepara um stream de leitura do arquivo do descriptor: reserva
// um slot no DC (bloqueando no limite por DC), garante a sessão e serializa
// a InputLocation. Close deve ser chamado ao fim do response.
func (c *Client) OpenSource(ctx context.Context, fd *fileid.Descriptor) (*StreamSource, error) {
	dc := fd.DCID
	if _, ok := c.cfg.Upstream.Datacenters[dc]; !ok {
		return nil, fmt.Errorf("%w: file lives on dc %d", ErrNoSession, dc)
	}

	loc, err := fd.Location()
	if err != nil {
		return nil, fmt.Errorf("building input location: %w", err)
	}

	release, err := c.pool.AdmitStream(ctx, dc)
	if err != nil {
		return nil, err
	}

	sess, err := c.pool.Acquire(ctx, dc)
	if err != nil {
		release()
		return nil, err
	}

	return &StreamSource{
		fetcher:     c.fetcher,
		dc:          dc,
		location:    fileid.EncodeLocation(loc),
		sess:        sess,
		releaseSlot: release,
	}, nil
}

// Fetch lê um chunk alinhado em offset com até limit bytes.
func (s *StreamSource) Fetch(ctx context.Context, offset int64, limit int) ([]byte, error) {
	data, sess, err := s.fetcher.Fetch(ctx, s.sess, s.dc, s.location, offset, limit)
	s.sess = sess
	return data, err
}

// Close libera o slot de stream do DC. Idempotente.
func (s *StreamSource) Close() {
	s.closeOnce.Do(s.releaseSlot)
}
