// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package protocol implementa o protocolo binário NSTP para comunicação
// entre o gateway e os datacenters upstream sobre TCP (opcionalmente TLS).
//
// O handshake (Hello/HelloACK) acontece na conexão crua; depois do ACK a
// conexão é promovida a uma sessão smux e cada RPC usa um stream dedicado:
// o client abre o stream, escreve um frame de request e lê um frame de
// response.
package protocol

import (
	"errors"
	"fmt"
)

// Magic bytes para identificação de frames.
var (
	MagicHello      = [4]byte{'N', 'S', 'T', 'P'}
	MagicGetMessage = [4]byte{'G', 'M', 'S', 'G'}
	MagicGetChunk   = [4]byte{'G', 'F', 'I', 'L'}
	MagicExportAuth = [4]byte{'A', 'E', 'X', 'P'}
	MagicImportAuth = [4]byte{'A', 'I', 'M', 'P'}
	MagicPing       = [4]byte{'P', 'I', 'N', 'G'}
)

// ProtocolVersion é a versão atual do protocolo.
const ProtocolVersion byte = 0x01

// Flags do Hello.
const (
	// FlagMediaMode marca a sessão como dedicada a transferência de mídia.
	FlagMediaMode byte = 0x01
)

// Tipos de credencial no Hello.
const (
	CredentialToken    byte = 0x00 // bot token em texto
	CredentialAuthBlob byte = 0x01 // blob opaco exportado/persistido
)

// Status codes do HelloACK (Server → Client).
const (
	HelloStatusOK     byte = 0x00 // Sessão autorizada
	HelloStatusReject byte = 0x01 // Credencial inválida
)

// Status codes de response de RPC (Server → Client).
// Qualquer valor diferente de StatusOK é seguido do payload de erro.
const (
	StatusOK                   byte = 0x00
	StatusFloodWait            byte = 0x01 // rate-limit cooperativo, carrega retry_after
	StatusFileReferenceExpired byte = 0x02 // file_reference expirou, re-resolver o descriptor
	StatusAuthBytesInvalid     byte = 0x03 // ImportAuth precisa de bytes re-exportados
	StatusNotFound             byte = 0x04 // mensagem/arquivo inexistente
	StatusInternal             byte = 0x05
)

// Erros do protocolo.
var (
	ErrInvalidMagic   = errors.New("protocol: invalid magic bytes")
	ErrInvalidVersion = errors.New("protocol: unsupported protocol version")
	ErrTruncatedFrame = errors.New("protocol: truncated frame")
)

// Hello representa o frame de handshake enviado pelo gateway.
type Hello struct {
	Version        byte
	Flags          byte
	APIID          uint32
	APIHash        string
	CredentialKind byte
	Token          string // quando CredentialKind == CredentialToken
	AuthBlob       []byte // quando CredentialKind == CredentialAuthBlob
}

// HelloACK representa a resposta do upstream ao handshake.
// AuthBlob é o blob opaco que o gateway persiste e reapresenta em reconexões.
type HelloACK struct {
	Status   byte
	HomeDC   uint16
	AuthBlob []byte
	Message  string
}

// MessageInfo é o payload de resposta do GetMessage: os metadados da mídia
// anexada à mensagem armazenada.
type MessageInfo struct {
	FileID   string // descriptor opaco (decodificado por internal/fileid)
	UniqueID string // identificador estável; os 6 primeiros chars viram o hash da URL
	Size     uint64
	MimeType string
	FileName string
}

// GetChunkRequest é o request de leitura de um chunk alinhado.
type GetChunkRequest struct {
	Offset   uint64
	Limit    uint32
	Location []byte // InputLocation serializado por internal/fileid
}

// WireError é um erro retornado pelo upstream em um frame de response.
type WireError struct {
	Code       byte
	RetryAfter uint32 // segundos, apenas para StatusFloodWait
	Message    string
}

func (e *WireError) Error() string {
	switch e.Code {
	case StatusFloodWait:
		return fmt.Sprintf("upstream flood wait %ds: %s", e.RetryAfter, e.Message)
	case StatusFileReferenceExpired:
		return fmt.Sprintf("upstream file reference expired: %s", e.Message)
	case StatusAuthBytesInvalid:
		return fmt.Sprintf("upstream auth bytes invalid: %s", e.Message)
	case StatusNotFound:
		return fmt.Sprintf("upstream not found: %s", e.Message)
	default:
		return fmt.Sprintf("upstream error (code %d): %s", e.Code, e.Message)
	}
}
