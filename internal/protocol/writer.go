// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// WriteHello escreve o frame de handshake (Client → Server).
// Formato: [Magic "NSTP" 4B] [Version 1B] [Flags 1B] [APIID uint32 4B]
// [APIHash UTF-8 '\n'] [CredKind 1B] [Token '\n' | BlobLen uint16 + Blob]
func WriteHello(w io.Writer, h *Hello) error {
	if _, err := w.Write(MagicHello[:]); err != nil {
		return fmt.Errorf("writing hello magic: %w", err)
	}
	if _, err := w.Write([]byte{h.Version, h.Flags}); err != nil {
		return fmt.Errorf("writing hello version/flags: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, h.APIID); err != nil {
		return fmt.Errorf("writing hello api id: %w", err)
	}
	if err := writeString(w, h.APIHash); err != nil {
		return fmt.Errorf("writing hello api hash: %w", err)
	}
	if _, err := w.Write([]byte{h.CredentialKind}); err != nil {
		return fmt.Errorf("writing hello credential kind: %w", err)
	}
	switch h.CredentialKind {
	case CredentialAuthBlob:
		if err := writeBytes16(w, h.AuthBlob); err != nil {
			return fmt.Errorf("writing hello auth blob: %w", err)
		}
	default:
		if err := writeString(w, h.Token); err != nil {
			return fmt.Errorf("writing hello token: %w", err)
		}
	}
	return nil
}

// WriteHelloACK escreve a resposta do handshake (Server → Client).
// Formato: [Status 1B] [HomeDC uint16 2B] [BlobLen uint16 + Blob] [Message '\n']
func WriteHelloACK(w io.Writer, ack *HelloACK) error {
	if _, err := w.Write([]byte{ack.Status}); err != nil {
		return fmt.Errorf("writing hello ack status: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, ack.HomeDC); err != nil {
		return fmt.Errorf("writing hello ack home dc: %w", err)
	}
	if err := writeBytes16(w, ack.AuthBlob); err != nil {
		return fmt.Errorf("writing hello ack auth blob: %w", err)
	}
	if err := writeString(w, ack.Message); err != nil {
		return fmt.Errorf("writing hello ack message: %w", err)
	}
	return nil
}

// WriteGetMessage escreve o request GetMessage (Client → Server).
// Formato: [Magic "GMSG" 4B] [ChannelID int64 8B] [MsgID int64 8B]
func WriteGetMessage(w io.Writer, channelID, msgID int64) error {
	if _, err := w.Write(MagicGetMessage[:]); err != nil {
		return fmt.Errorf("writing get message magic: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, channelID); err != nil {
		return fmt.Errorf("writing get message channel id: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, msgID); err != nil {
		return fmt.Errorf("writing get message msg id: %w", err)
	}
	return nil
}

// WriteGetChunk escreve o request GetChunk (Client → Server).
// Formato: [Magic "GFIL" 4B] [Offset uint64 8B] [Limit uint32 4B]
// [LocLen uint16 2B] [Location NB]
func WriteGetChunk(w io.Writer, req *GetChunkRequest) error {
	if _, err := w.Write(MagicGetChunk[:]); err != nil {
		return fmt.Errorf("writing get chunk magic: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, req.Offset); err != nil {
		return fmt.Errorf("writing get chunk offset: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, req.Limit); err != nil {
		return fmt.Errorf("writing get chunk limit: %w", err)
	}
	if err := writeBytes16(w, req.Location); err != nil {
		return fmt.Errorf("writing get chunk location: %w", err)
	}
	return nil
}

// WriteExportAuth escreve o request ExportAuth (Client → Server).
// Formato: [Magic "AEXP" 4B] [TargetDC uint16 2B]
func WriteExportAuth(w io.Writer, targetDC uint16) error {
	if _, err := w.Write(MagicExportAuth[:]); err != nil {
		return fmt.Errorf("writing export auth magic: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, targetDC); err != nil {
		return fmt.Errorf("writing export auth target dc: %w", err)
	}
	return nil
}

// WriteImportAuth escreve o request ImportAuth (Client → Server).
// Formato: [Magic "AIMP" 4B] [Len uint16 2B] [Bytes NB]
func WriteImportAuth(w io.Writer, authBytes []byte) error {
	if _, err := w.Write(MagicImportAuth[:]); err != nil {
		return fmt.Errorf("writing import auth magic: %w", err)
	}
	if err := writeBytes16(w, authBytes); err != nil {
		return fmt.Errorf("writing import auth bytes: %w", err)
	}
	return nil
}

// WritePing escreve o frame PING (Client → Server).
func WritePing(w io.Writer) error {
	if _, err := w.Write(MagicPing[:]); err != nil {
		return fmt.Errorf("writing ping: %w", err)
	}
	return nil
}

// WriteOK escreve um response de sucesso sem payload (Server → Client).
func WriteOK(w io.Writer) error {
	if _, err := w.Write([]byte{StatusOK}); err != nil {
		return fmt.Errorf("writing ok status: %w", err)
	}
	return nil
}

// WriteMessageInfo escreve o response do GetMessage (Server → Client).
// Formato: [StatusOK 1B] [FileID '\n'] [UniqueID '\n'] [Size uint64 8B]
// [MimeType '\n'] [FileName '\n']
func WriteMessageInfo(w io.Writer, info *MessageInfo) error {
	if _, err := w.Write([]byte{StatusOK}); err != nil {
		return fmt.Errorf("writing message info status: %w", err)
	}
	if err := writeString(w, info.FileID); err != nil {
		return fmt.Errorf("writing message info file id: %w", err)
	}
	if err := writeString(w, info.UniqueID); err != nil {
		return fmt.Errorf("writing message info unique id: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, info.Size); err != nil {
		return fmt.Errorf("writing message info size: %w", err)
	}
	if err := writeString(w, info.MimeType); err != nil {
		return fmt.Errorf("writing message info mime type: %w", err)
	}
	if err := writeString(w, info.FileName); err != nil {
		return fmt.Errorf("writing message info file name: %w", err)
	}
	return nil
}

// WriteChunk escreve o response do GetChunk (Server → Client).
// Formato: [StatusOK 1B] [Len uint32 4B] [Bytes NB]
func WriteChunk(w io.Writer, data []byte) error {
	if _, err := w.Write([]byte{StatusOK}); err != nil {
		return fmt.Errorf("writing chunk status: %w", err)
	}
	if len(data) > math.MaxUint32 {
		return fmt.Errorf("chunk too large: %d bytes", len(data))
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("writing chunk length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing chunk bytes: %w", err)
	}
	return nil
}

// WriteAuthBytes escreve o response do ExportAuth (Server → Client).
// Formato: [StatusOK 1B] [Len uint16 2B] [Bytes NB]
func WriteAuthBytes(w io.Writer, authBytes []byte) error {
	if _, err := w.Write([]byte{StatusOK}); err != nil {
		return fmt.Errorf("writing auth bytes status: %w", err)
	}
	if err := writeBytes16(w, authBytes); err != nil {
		return fmt.Errorf("writing auth bytes: %w", err)
	}
	return nil
}

// WriteError escreve um response de erro (Server → Client).
// Formato: [Code 1B] [RetryAfter uint32 4B] [Message '\n']
func WriteError(w io.Writer, code byte, retryAfter uint32, message string) error {
	if _, err := w.Write([]byte{code}); err != nil {
		return fmt.Errorf("writing error code: %w", err)
	}
	if err := binary.Write(w, binary.BigEndian, retryAfter); err != nil {
		return fmt.Errorf("writing error retry after: %w", err)
	}
	if err := writeString(w, message); err != nil {
		return fmt.Errorf("writing error message: %w", err)
	}
	return nil
}

// writeString escreve uma string UTF-8 terminada em '\n'.
func writeString(w io.Writer, s string) error {
	if _, err := w.Write([]byte(s)); err != nil {
		return err
	}
	_, err := w.Write([]byte{'\n'})
	return err
}

// writeBytes16 escreve um blob prefixado por tamanho uint16 big-endian.
func writeBytes16(w io.Writer, b []byte) error {
	if len(b) > math.MaxUint16 {
		return fmt.Errorf("blob too large: %d bytes", len(b))
	}
	if err := binary.Write(w, binary.BigEndian, uint16(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}
