// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package pki fornece a configuração TLS usada nas conexões do gateway com
// os datacenters upstream (client-side, com certificado de client opcional).
package pki

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// NewUpstreamTLSConfig cria uma configuração TLS 1.3 para as conexões com os
// datacenters. clientCertPath/clientKeyPath são opcionais: quando vazios, a
// autenticação acontece apenas no handshake NSTP (token/auth blob).
func NewUpstreamTLSConfig(caCertPath, clientCertPath, clientKeyPath string) (*tls.Config, error) {
	caPool, err := loadCACertPool(caCertPath)
	if err != nil {
		return nil, err
	}

	cfg := &tls.Config{
		MinVersion: tls.VersionTLS13,
		RootCAs:    caPool,
	}

	if clientCertPath != "" && clientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(clientCertPath, clientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

func loadCACertPool(caCertPath string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("parsing CA certificate from %s", caCertPath)
	}
	return pool, nil
}
