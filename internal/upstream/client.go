// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package upstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/xtaci/smux"

	"github.com/nishisan-dev/n-stream/internal/config"
	"github.com/nishisan-dev/n-stream/internal/protocol"
	"github.com/nishisan-dev/n-stream/internal/sessionstore"
)

// authImportRetries limita o loop export/import ao autorizar um DC não-home.
const authImportRetries = 6

// Client é uma identidade upstream (um bot token) com seu pool de sessões.
// As credenciais autorizadas são persistidas como auth blob opaco no
// sessionstore e reapresentadas em restarts, evitando um novo login.
type Client struct {
	index  int
	token  string
	cfg    *config.GatewayConfig
	tlsCfg *tls.Config
	store  sessionstore.Store
	logger *slog.Logger

	pool    *SessionPool
	fetcher *Fetcher

	mu       sync.Mutex
	homeDC   int
	authBlob []byte
}

// NewClient cria a identidade sem conectar. tlsCfg pode ser nil (TCP puro).
func NewClient(index int, token string, cfg *config.GatewayConfig, tlsCfg *tls.Config, store sessionstore.Store, logger *slog.Logger) *Client {
	c := &Client{
		index:  index,
		token:  token,
		cfg:    cfg,
		tlsCfg: tlsCfg,
		store:  store,
		logger: logger.With("client", index),
	}
	c.pool = newSessionPool(c, cfg.Streaming, c.logger)
	c.fetcher = newFetcher(c.pool, cfg, c.logger)
	return c
}

// Index retorna a posição estável do client na frota.
func (c *Client) Index() int { return c.index }

// Name é o identificador exibido no status do gateway.
func (c *Client) Name() string { return fmt.Sprintf("client_%d", c.index+1) }

// HomeDC retorna o datacenter home descoberto no handshake.
func (c *Client) HomeDC() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.homeDC
}

// Pool expõe o pool de sessões da identidade.
func (c *Client) Pool() *SessionPool { return c.pool }

func (c *Client) storeName() string {
	return fmt.Sprintf("client-%d", c.index)
}

// Connect faz o login inicial: reusa o auth blob persistido quando existe,
// descobre o DC home e deixa a sessão home pronta no pool. Deve ser chamado
// uma vez no start; depois disso o pool reconecta sob demanda.
func (c *Client) Connect(ctx context.Context) error {
	blob, err := c.store.Load(ctx, c.storeName())
	switch {
	case err == nil:
		c.mu.Lock()
		c.authBlob = blob
		c.mu.Unlock()
		c.logger.Debug("reusing persisted session blob", "bytes", len(blob))
	case errors.Is(err, sessionstore.ErrNotFound):
		// Primeiro login desta identidade.
	default:
		c.logger.Warn("failed to load persisted session, logging in fresh", "error", err)
	}

	dc := c.bootstrapDC()
	sess, ack, err := c.dialHello(ctx, dc)
	if err != nil && c.hasAuthBlob() {
		// O blob persistido pode ter sido revogado. Refaz com o token.
		c.logger.Warn("handshake with persisted blob failed, retrying with token", "error", err)
		c.mu.Lock()
		c.authBlob = nil
		c.mu.Unlock()
		sess, ack, err = c.dialHello(ctx, dc)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.homeDC = int(ack.HomeDC)
	if len(ack.AuthBlob) > 0 {
		c.authBlob = ack.AuthBlob
	}
	home := c.homeDC
	persist := c.authBlob
	c.mu.Unlock()

	if len(persist) > 0 {
		if err := c.store.Save(ctx, c.storeName(), persist); err != nil {
			// Persistência falha não derruba o start; o custo é um login
			// completo no próximo restart.
			c.logger.Warn("failed to persist session blob", "error", err)
		}
	}

	if home != dc {
		// O DC de bootstrap não é o home desta identidade. Reconecta direto
		// no home, agora com o blob autorizado.
		sess.Close()
		sess, _, err = c.dialHello(ctx, home)
		if err != nil {
			return fmt.Errorf("connecting to home dc %d: %w", home, err)
		}
	}

	c.pool.put(home, sess)
	c.pool.Start()
	c.logger.Info("upstream client connected", "home_dc", home)
	return nil
}

func (c *Client) hasAuthBlob() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.authBlob) > 0
}

// bootstrapDC escolhe o DC de menor id para o primeiro handshake, quando o
// home ainda não é conhecido.
func (c *Client) bootstrapDC() int {
	c.mu.Lock()
	if c.homeDC != 0 {
		defer c.mu.Unlock()
		return c.homeDC
	}
	c.mu.Unlock()

	lowest := 0
	for dc := range c.cfg.Upstream.Datacenters {
		if lowest == 0 || dc < lowest {
			lowest = dc
		}
	}
	return lowest
}

// dialHello abre a conexão com o DC, executa o handshake NSTP e promove a
// conexão a smux.
func (c *Client) dialHello(ctx context.Context, dc int) (*Session, *protocol.HelloACK, error) {
	addr, ok := c.cfg.Upstream.Datacenters[dc]
	if !ok {
		return nil, nil, fmt.Errorf("%w: dc %d", ErrNoSession, dc)
	}

	dctx, cancel := context.WithTimeout(ctx, c.cfg.Upstream.ConnectTimeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	if c.tlsCfg != nil {
		dialer := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: c.cfg.Upstream.ConnectTimeout},
			Config:    c.tlsCfg,
		}
		conn, err = dialer.DialContext(dctx, "tcp", addr)
	} else {
		dialer := &net.Dialer{Timeout: c.cfg.Upstream.ConnectTimeout}
		conn, err = dialer.DialContext(dctx, "tcp", addr)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dialing dc %d at %s: %w", dc, addr, err)
	}

	// O handshake na conexão crua respeita o mesmo budget do dial.
	if deadline, ok := dctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	hello := &protocol.Hello{
		Version: protocol.ProtocolVersion,
		Flags:   protocol.FlagMediaMode,
		APIID:   c.cfg.Upstream.APIID,
		APIHash: c.cfg.Upstream.APIHash,
	}
	c.mu.Lock()
	if len(c.authBlob) > 0 && (c.homeDC == 0 || dc == c.homeDC) {
		hello.CredentialKind = protocol.CredentialAuthBlob
		hello.AuthBlob = c.authBlob
	} else {
		hello.CredentialKind = protocol.CredentialToken
		hello.Token = c.token
	}
	c.mu.Unlock()

	if err := protocol.WriteHello(conn, hello); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("sending hello to dc %d: %w", dc, err)
	}
	ack, err := protocol.ReadHelloACK(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("reading hello ack from dc %d: %w", dc, err)
	}
	if ack.Status != protocol.HelloStatusOK {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: dc %d rejected handshake: %s", ErrAuthFailed, dc, ack.Message)
	}

	_ = conn.SetDeadline(time.Time{})

	mux, err := smux.Client(conn, smux.DefaultConfig())
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("upgrading dc %d connection to smux: %w", dc, err)
	}

	return newSession(dc, conn, mux, c.logger.With("dc", dc)), ack, nil
}

// openSession cria uma sessão autorizada com um DC qualquer. Para DCs que
// não são o home, executa o handshake export/import: o home exporta bytes de
// autorização e a nova sessão os importa, re-exportando em AUTH_BYTES_INVALID
// até o limite de tentativas.
func (c *Client) openSession(ctx context.Context, dc int) (*Session, error) {
	sess, _, err := c.dialHello(ctx, dc)
	if err != nil {
		return nil, err
	}

	home := c.HomeDC()
	if home == 0 || dc == home {
		return sess, nil
	}

	homeSess, err := c.pool.Acquire(ctx, home)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("acquiring home session for auth export: %w", err)
	}

	for attempt := 1; attempt <= authImportRetries; attempt++ {
		exported, err := homeSess.ExportAuth(ctx, uint16(dc))
		if err != nil {
			sess.Close()
			return nil, fmt.Errorf("exporting auth for dc %d: %w", dc, err)
		}

		err = sess.ImportAuth(ctx, exported)
		if err == nil {
			c.logger.Debug("cross-dc session authorized", "dc", dc, "attempts", attempt)
			return sess, nil
		}

		var we *protocol.WireError
		if errors.As(err, &we) && we.Code == protocol.StatusAuthBytesInvalid {
			c.logger.Debug("auth bytes rejected, re-exporting", "dc", dc, "attempt", attempt)
			continue
		}
		sess.Close()
		return nil, fmt.Errorf("importing auth on dc %d: %w", dc, err)
	}

	sess.Close()
	return nil, fmt.Errorf("%w: dc %d rejected auth bytes %d times", ErrAuthFailed, dc, authImportRetries)
}

// GetMessage resolve os metadados da mídia da mensagem no canal de storage,
// sempre através da sessão home.
func (c *Client) GetMessage(ctx context.Context, msgID int64) (*protocol.MessageInfo, error) {
	home := c.HomeDC()
	if home == 0 {
		return nil, fmt.Errorf("%w: client not connected", ErrNoSession)
	}
	sess, err := c.pool.Acquire(ctx, home)
	if err != nil {
		return nil, err
	}
	return sess.GetMessage(ctx, c.cfg.Bot.StorageChannelID, msgID)
}

// Close encerra o pool e todas as sessões da identidade.
func (c *Client) Close() {
	c.pool.Close()
}
