// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package gateway implementa o frontend HTTP público do nstream-gateway:
// rotas de stream com Range, página de watch, status JSON e log de acesso.
package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/nishisan-dev/n-stream/internal/cache"
	"github.com/nishisan-dev/n-stream/internal/config"
	"github.com/nishisan-dev/n-stream/internal/fileid"
	"github.com/nishisan-dev/n-stream/internal/pki"
	"github.com/nishisan-dev/n-stream/internal/sessionstore"
	"github.com/nishisan-dev/n-stream/internal/upstream"
)

// Gateway amarra a frota upstream, o cache de descriptors e o frontend HTTP.
type Gateway struct {
	cfg       *config.GatewayConfig
	logger    *slog.Logger
	fleet     *upstream.Fleet
	cache     *cache.FilePropCache
	monitor   *SystemMonitor
	accessLog *AccessLog
	startTime time.Time
}

// New monta o gateway sobre uma frota já conectada.
func New(cfg *config.GatewayConfig, logger *slog.Logger, fleet *upstream.Fleet) (*Gateway, error) {
	g := &Gateway{
		cfg:       cfg,
		logger:    logger,
		fleet:     fleet,
		startTime: time.Now(),
	}
	g.cache = cache.New(g.resolveDescriptor, cfg.Streaming.CacheTTL, logger)
	g.monitor = NewSystemMonitor(logger)

	if cfg.HTTP.StreamLogDir != "" {
		if err := os.MkdirAll(cfg.HTTP.StreamLogDir, 0755); err != nil {
			return nil, fmt.Errorf("creating stream log directory: %w", err)
		}
	}

	if cfg.AccessLog.Enabled {
		al, err := NewAccessLog(cfg.AccessLog.File, cfg.AccessLog.MaxLines, cfg.AccessLog.Compression)
		if err != nil {
			return nil, fmt.Errorf("opening access log: %w", err)
		}
		g.accessLog = al
	}

	return g, nil
}

// resolveDescriptor é o resolver do FilePropCache: GetMessage em um client
// da frota e decode do file descriptor, enriquecido com os metadados da
// mensagem.
func (g *Gateway) resolveDescriptor(ctx context.Context, msgID int64) (*fileid.Descriptor, error) {
	_, client := g.fleet.Pick()
	info, err := client.GetMessage(ctx, msgID)
	if err != nil {
		return nil, err
	}

	fd, err := fileid.Decode(info.FileID)
	if err != nil {
		return nil, fmt.Errorf("decoding file descriptor of message %d: %w", msgID, err)
	}

	fd.UniqueID = info.UniqueID
	fd.FileSize = int64(info.Size)
	if fd.MimeType == "" {
		fd.MimeType = info.MimeType
	}
	if fd.FileName == "" {
		fd.FileName = info.FileName
	}
	return fd, nil
}

// Handler monta o router público. O status fica atrás da ACL quando
// status_allow_origins está configurado; as rotas de stream são públicas.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	var status http.Handler = http.HandlerFunc(g.handleStatus)
	if len(g.cfg.HTTP.ParsedStatusCIDRs) > 0 {
		status = NewACL(g.cfg.HTTP.ParsedStatusCIDRs).Middleware(status)
	}
	mux.Handle("GET /{$}", status)

	// Patterns "GET ..." também atendem HEAD; os handlers fazem o branch
	// por método para suprimir o body.
	mux.HandleFunc("GET /watch/", g.handleWatch)
	mux.HandleFunc("GET /", g.handleStream)

	return mux
}

// Start liga os componentes de fundo (monitor de sistema, flush do cache).
func (g *Gateway) Start() {
	g.monitor.Start()
	g.cache.Start()
}

// Close desliga os componentes de fundo e a frota.
func (g *Gateway) Close() {
	g.cache.Stop()
	g.monitor.Stop()
	if g.accessLog != nil {
		g.accessLog.Close()
	}
	g.fleet.Close()
}

// ConnectFleet faz o login de todas as identidades configuradas e monta a
// frota. Qualquer identidade que falhe o login derruba o start: uma frota
// parcial distribuiria carga de forma diferente da configurada.
func ConnectFleet(ctx context.Context, cfg *config.GatewayConfig, logger *slog.Logger) (*upstream.Fleet, error) {
	var tlsCfg *tls.Config
	if cfg.Upstream.TLS.Enabled {
		var err error
		tlsCfg, err = pki.NewUpstreamTLSConfig(cfg.Upstream.TLS.CACert, cfg.Upstream.TLS.ClientCert, cfg.Upstream.TLS.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("configuring upstream TLS: %w", err)
		}
	}

	store, err := sessionstore.NewFromConfig(ctx, cfg.SessionStore)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	tokens := cfg.AllTokens()
	clients := make([]*upstream.Client, 0, len(tokens))
	for i, token := range tokens {
		c := upstream.NewClient(i, token, cfg, tlsCfg, store, logger)
		if err := c.Connect(ctx); err != nil {
			for _, connected := range clients {
				connected.Close()
			}
			return nil, fmt.Errorf("connecting client %d: %w", i, err)
		}
		clients = append(clients, c)
	}

	logger.Info("upstream fleet connected", "clients", len(clients))
	return upstream.NewFleet(clients, cfg.Streaming.GlobalStreamLimit), nil
}

// Run sobe o gateway completo e bloqueia até o context ser cancelado.
func Run(ctx context.Context, cfg *config.GatewayConfig, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", cfg.HTTP.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.HTTP.Listen, err)
	}
	return RunWithListener(ctx, ln, cfg, logger)
}

// RunWithListener sobe o gateway com um listener já existente (para testes).
func RunWithListener(ctx context.Context, ln net.Listener, cfg *config.GatewayConfig, logger *slog.Logger) error {
	fleet, err := ConnectFleet(ctx, cfg, logger)
	if err != nil {
		return err
	}

	g, err := New(cfg, logger, fleet)
	if err != nil {
		fleet.Close()
		return err
	}
	g.Start()
	defer g.Close()

	server := &http.Server{
		Handler:      g.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening", "address", ln.Addr().String())
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving http: %w", err)
	}
	logger.Info("gateway shutdown complete")
	return nil
}
