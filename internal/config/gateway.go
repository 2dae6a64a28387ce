// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config carrega e valida a configuração YAML do nstream-gateway.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GatewayConfig representa a configuração completa do nstream-gateway.
type GatewayConfig struct {
	HTTP         HTTPConfig         `yaml:"http"`
	Upstream     UpstreamConfig     `yaml:"upstream"`
	Bot          BotConfig          `yaml:"bot"`
	Clients      ClientsConfig      `yaml:"clients"`
	Streaming    StreamingConfig    `yaml:"streaming"`
	SessionStore SessionStoreConfig `yaml:"session_store"`
	AccessLog    AccessLogConfig    `yaml:"access_log"`
	Logging      LoggingInfo        `yaml:"logging"`
}

// HTTPConfig configura o frontend HTTP público.
type HTTPConfig struct {
	Listen       string        `yaml:"listen"`        // default: ":8080"
	PublicURL    string        `yaml:"public_url"`    // prefixo das URLs geradas (ex: https://dl.example.com/)
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // 0 = sem limite (streams longos)
	IdleTimeout  time.Duration `yaml:"idle_timeout"`  // default: 120s
	StreamLogDir string        `yaml:"stream_log_dir"`

	// ACL opcional do endpoint de status (IP ou CIDR, deny-by-default
	// quando preenchido; vazio = status público).
	StatusAllowOrigins []string `yaml:"status_allow_origins"`

	// ParsedStatusCIDRs é preenchido em validate(); não vem do YAML.
	ParsedStatusCIDRs []*net.IPNet `yaml:"-"`
}

// UpstreamConfig configura o acesso aos datacenters do backend.
type UpstreamConfig struct {
	APIID          uint32         `yaml:"api_id"`
	APIHash        string         `yaml:"api_hash"`
	Datacenters    map[int]string `yaml:"datacenters"` // dc_id → host:port
	ConnectTimeout time.Duration  `yaml:"connect_timeout"` // default: 30s
	ChunkTimeout   time.Duration  `yaml:"chunk_timeout"`   // default: 120s
	TLS            UpstreamTLS    `yaml:"tls"`
}

// UpstreamTLS configura TLS opcional nas conexões com os datacenters.
type UpstreamTLS struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// BotConfig identifica o bot primário e o canal de armazenamento.
type BotConfig struct {
	Token            string `yaml:"token"`
	Username         string `yaml:"username"`
	StorageChannelID int64  `yaml:"storage_channel_id"`
}

// ClientsConfig configura a frota de identidades upstream.
type ClientsConfig struct {
	Multi  bool     `yaml:"multi"`
	Tokens []string `yaml:"tokens"`
}

// StreamingConfig contém os parâmetros do plano de dados de streaming.
type StreamingConfig struct {
	MinChunk          string `yaml:"min_chunk"` // default: "64kb"
	MaxChunk          string `yaml:"max_chunk"` // default: "512kb"
	MinChunkRaw       int64  `yaml:"-"`
	MaxChunkRaw       int64  `yaml:"-"`
	MaxRetries        int    `yaml:"max_retries"`         // default: 6
	MaxStreamsPerDC   int    `yaml:"max_streams_per_dc"`  // default: 2
	GlobalStreamLimit int    `yaml:"global_stream_limit"` // default: 10

	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"` // default: 300s
	CacheTTL           time.Duration `yaml:"cache_ttl"`            // default: 30m

	// RequestsPerSecond limita RPCs por sessão para evitar FloodWait.
	// 0 = sem limite.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// SessionStoreConfig configura a persistência dos auth blobs por identidade.
type SessionStoreConfig struct {
	Backend string        `yaml:"backend"` // local|s3 (default: local)
	Dir     string        `yaml:"dir"`     // default: "sessions"
	S3      S3StoreConfig `yaml:"s3"`
}

// S3StoreConfig contém as credenciais do backend S3 de session store.
// Endpoint permite stores compatíveis (MinIO etc).
type S3StoreConfig struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Prefix    string `yaml:"prefix"`
}

// AccessLogConfig configura o histórico JSONL de acessos do gateway.
type AccessLogConfig struct {
	Enabled     bool   `yaml:"enabled"`
	File        string `yaml:"file"`        // default: "access.jsonl"
	MaxLines    int    `yaml:"max_lines"`   // default: 10000
	Compression string `yaml:"compression"` // gzip|zst (default: gzip), aplicado ao arquivo rotacionado
}

// LoggingInfo contém as opções de logging estruturado.
type LoggingInfo struct {
	Level  string `yaml:"level"`  // debug|info|warn|error (default: info)
	Format string `yaml:"format"` // json|text (default: json)
	File   string `yaml:"file"`   // vazio = apenas stdout
}

// AllTokens retorna os tokens de todas as identidades: o bot primário mais,
// quando multi-client está habilitado, os tokens adicionais.
func (c *GatewayConfig) AllTokens() []string {
	tokens := []string{c.Bot.Token}
	if c.Clients.Multi {
		tokens = append(tokens, c.Clients.Tokens...)
	}
	return tokens
}

// LoadGatewayConfig lê e valida o arquivo YAML de configuração do gateway.
func LoadGatewayConfig(path string) (*GatewayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading gateway config: %w", err)
	}

	var cfg GatewayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing gateway config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating gateway config: %w", err)
	}

	return &cfg, nil
}

// Validate preenche defaults e rejeita combinações inválidas.
// Exportado porque os testes de integração montam configs em memória.
func (c *GatewayConfig) Validate() error {
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = 30 * time.Second
	}
	if c.HTTP.IdleTimeout <= 0 {
		c.HTTP.IdleTimeout = 120 * time.Second
	}
	for _, origin := range c.HTTP.StatusAllowOrigins {
		_, cidr, err := net.ParseCIDR(origin)
		if err != nil {
			// Tenta como IP único → converte para /32 ou /128
			ip := net.ParseIP(strings.TrimSpace(origin))
			if ip == nil {
				return fmt.Errorf("http.status_allow_origins: %q is not a valid IP or CIDR", origin)
			}
			if ip.To4() != nil {
				_, cidr, _ = net.ParseCIDR(ip.String() + "/32")
			} else {
				_, cidr, _ = net.ParseCIDR(ip.String() + "/128")
			}
		}
		c.HTTP.ParsedStatusCIDRs = append(c.HTTP.ParsedStatusCIDRs, cidr)
	}

	if c.Upstream.APIID == 0 {
		return fmt.Errorf("upstream.api_id is required")
	}
	if c.Upstream.APIHash == "" {
		return fmt.Errorf("upstream.api_hash is required")
	}
	if len(c.Upstream.Datacenters) == 0 {
		return fmt.Errorf("upstream.datacenters must have at least one entry")
	}
	if c.Upstream.ConnectTimeout <= 0 {
		c.Upstream.ConnectTimeout = 30 * time.Second
	}
	if c.Upstream.ChunkTimeout <= 0 {
		c.Upstream.ChunkTimeout = 120 * time.Second
	}
	if c.Upstream.TLS.Enabled {
		if c.Upstream.TLS.CACert == "" {
			return fmt.Errorf("upstream.tls.ca_cert is required when tls is enabled")
		}
		if c.Upstream.TLS.ClientCert == "" || c.Upstream.TLS.ClientKey == "" {
			return fmt.Errorf("upstream.tls.client_cert and client_key are required when tls is enabled")
		}
	}

	if c.Bot.Token == "" {
		return fmt.Errorf("bot.token is required")
	}
	if c.Bot.StorageChannelID == 0 {
		return fmt.Errorf("bot.storage_channel_id is required")
	}
	if c.Clients.Multi && len(c.Clients.Tokens) == 0 {
		return fmt.Errorf("clients.tokens must not be empty when clients.multi is enabled")
	}

	if err := c.validateStreaming(); err != nil {
		return err
	}

	// Session store defaults
	c.SessionStore.Backend = strings.ToLower(strings.TrimSpace(c.SessionStore.Backend))
	switch c.SessionStore.Backend {
	case "":
		c.SessionStore.Backend = "local"
	case "local", "s3":
	default:
		return fmt.Errorf("session_store.backend must be local or s3, got %q", c.SessionStore.Backend)
	}
	if c.SessionStore.Backend == "local" && c.SessionStore.Dir == "" {
		c.SessionStore.Dir = "sessions"
	}
	if c.SessionStore.Backend == "s3" {
		if c.SessionStore.S3.Bucket == "" {
			return fmt.Errorf("session_store.s3.bucket is required for the s3 backend")
		}
		if c.SessionStore.S3.Region == "" {
			c.SessionStore.S3.Region = "us-east-1"
		}
	}

	// Access log defaults
	if c.AccessLog.Enabled {
		if c.AccessLog.File == "" {
			c.AccessLog.File = "access.jsonl"
		}
		if c.AccessLog.MaxLines <= 0 {
			c.AccessLog.MaxLines = 10000
		}
		c.AccessLog.Compression = strings.ToLower(strings.TrimSpace(c.AccessLog.Compression))
		if c.AccessLog.Compression == "" {
			c.AccessLog.Compression = "gzip"
		}
		if c.AccessLog.Compression != "gzip" && c.AccessLog.Compression != "zst" {
			return fmt.Errorf("access_log.compression must be gzip or zst, got %q", c.AccessLog.Compression)
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

func (c *GatewayConfig) validateStreaming() error {
	s := &c.Streaming

	if s.MinChunk == "" {
		s.MinChunk = "64kb"
	}
	if s.MaxChunk == "" {
		s.MaxChunk = "512kb"
	}

	minParsed, err := ParseByteSize(s.MinChunk)
	if err != nil {
		return fmt.Errorf("streaming.min_chunk: %w", err)
	}
	maxParsed, err := ParseByteSize(s.MaxChunk)
	if err != nil {
		return fmt.Errorf("streaming.max_chunk: %w", err)
	}

	// Chunks precisam ser múltiplos de 1KB para alinhamento no upstream.
	if minParsed <= 0 || minParsed%1024 != 0 {
		return fmt.Errorf("streaming.min_chunk must be a positive multiple of 1kb, got %s", s.MinChunk)
	}
	if maxParsed <= 0 || maxParsed%1024 != 0 {
		return fmt.Errorf("streaming.max_chunk must be a positive multiple of 1kb, got %s", s.MaxChunk)
	}
	if minParsed > maxParsed {
		return fmt.Errorf("streaming.min_chunk (%s) must not exceed max_chunk (%s)", s.MinChunk, s.MaxChunk)
	}
	s.MinChunkRaw = minParsed
	s.MaxChunkRaw = maxParsed

	if s.MaxRetries <= 0 {
		s.MaxRetries = 6
	}
	if s.MaxStreamsPerDC <= 0 {
		s.MaxStreamsPerDC = 2
	}
	if s.GlobalStreamLimit <= 0 {
		s.GlobalStreamLimit = 10
	}
	if s.SessionIdleTimeout <= 0 {
		s.SessionIdleTimeout = 300 * time.Second
	}
	if s.CacheTTL <= 0 {
		s.CacheTTL = 30 * time.Minute
	}
	if s.RequestsPerSecond < 0 {
		s.RequestsPerSecond = 0
	}

	return nil
}
