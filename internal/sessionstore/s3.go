// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sessionstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/nishisan-dev/n-stream/internal/config"
)

// S3 guarda os blobs em um bucket S3 (ou compatível, via endpoint custom).
// Útil quando o gateway roda em múltiplas réplicas que precisam compartilhar
// as credenciais upstream persistidas.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 monta o client a partir da configuração do gateway. Quando access_key
// está vazio, a cadeia default de credenciais da AWS é usada (env, IAM role).
func NewS3(ctx context.Context, cfg config.S3StoreConfig) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Stores compatíveis (MinIO) normalmente exigem path-style.
			o.UsePathStyle = true
		}
	})

	return &S3{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3) key(name string) string {
	return path.Join(s.prefix, name+".session.zst")
}

// Load busca e descomprime o blob da identidade.
func (s *S3) Load(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching session object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading session object: %w", err)
	}
	return decompress(data)
}

// Save grava o blob comprimido. PutObject no S3 já é atômico por objeto.
func (s *S3) Save(ctx context.Context, name string, blob []byte) error {
	data, err := compress(blob)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("storing session object: %w", err)
	}
	return nil
}

// NewFromConfig escolhe o backend configurado.
func NewFromConfig(ctx context.Context, cfg config.SessionStoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg.Dir)
	case "s3":
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown session store backend %q", cfg.Backend)
	}
}
