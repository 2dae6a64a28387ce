// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxChunkPayload limita o tamanho aceito de um chunk (proteção contra
// frames corrompidos). 1MB cobre com folga o MAX_CHUNK de 512KB.
const maxChunkPayload = 1 << 20

// ReadHello lê e valida o frame de handshake (Client → Server).
func ReadHello(r io.Reader) (*Hello, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("reading hello magic: %w", err)
	}
	if magic != MagicHello {
		return nil, ErrInvalidMagic
	}

	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading hello version/flags: %w", err)
	}
	if header[0] != ProtocolVersion {
		return nil, ErrInvalidVersion
	}

	var apiID uint32
	if err := binary.Read(r, binary.BigEndian, &apiID); err != nil {
		return nil, fmt.Errorf("reading hello api id: %w", err)
	}

	apiHash, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("reading hello api hash: %w", err)
	}

	var kind [1]byte
	if _, err := io.ReadFull(r, kind[:]); err != nil {
		return nil, fmt.Errorf("reading hello credential kind: %w", err)
	}

	h := &Hello{
		Version:        header[0],
		Flags:          header[1],
		APIID:          apiID,
		APIHash:        apiHash,
		CredentialKind: kind[0],
	}

	switch kind[0] {
	case CredentialAuthBlob:
		blob, err := readBytes16(r)
		if err != nil {
			return nil, fmt.Errorf("reading hello auth blob: %w", err)
		}
		h.AuthBlob = blob
	default:
		token, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("reading hello token: %w", err)
		}
		h.Token = token
	}

	return h, nil
}

// ReadHelloACK lê a resposta do handshake (Server → Client).
func ReadHelloACK(r io.Reader) (*HelloACK, error) {
	var status [1]byte
	if _, err := io.ReadFull(r, status[:]); err != nil {
		return nil, fmt.Errorf("reading hello ack status: %w", err)
	}

	var homeDC uint16
	if err := binary.Read(r, binary.BigEndian, &homeDC); err != nil {
		return nil, fmt.Errorf("reading hello ack home dc: %w", err)
	}

	blob, err := readBytes16(r)
	if err != nil {
		return nil, fmt.Errorf("reading hello ack auth blob: %w", err)
	}

	msg, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("reading hello ack message: %w", err)
	}

	return &HelloACK{
		Status:   status[0],
		HomeDC:   homeDC,
		AuthBlob: blob,
		Message:  msg,
	}, nil
}

// ReadRequestMagic lê os 4 bytes de magic de um request (lado server).
func ReadRequestMagic(r io.Reader) ([4]byte, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return magic, fmt.Errorf("reading request magic: %w", err)
	}
	return magic, nil
}

// ReadGetMessage lê o corpo do request GetMessage (após o magic).
func ReadGetMessage(r io.Reader) (channelID, msgID int64, err error) {
	if err = binary.Read(r, binary.BigEndian, &channelID); err != nil {
		return 0, 0, fmt.Errorf("reading get message channel id: %w", err)
	}
	if err = binary.Read(r, binary.BigEndian, &msgID); err != nil {
		return 0, 0, fmt.Errorf("reading get message msg id: %w", err)
	}
	return channelID, msgID, nil
}

// ReadGetChunk lê o corpo do request GetChunk (após o magic).
func ReadGetChunk(r io.Reader) (*GetChunkRequest, error) {
	req := &GetChunkRequest{}
	if err := binary.Read(r, binary.BigEndian, &req.Offset); err != nil {
		return nil, fmt.Errorf("reading get chunk offset: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &req.Limit); err != nil {
		return nil, fmt.Errorf("reading get chunk limit: %w", err)
	}
	loc, err := readBytes16(r)
	if err != nil {
		return nil, fmt.Errorf("reading get chunk location: %w", err)
	}
	req.Location = loc
	return req, nil
}

// ReadExportAuth lê o corpo do request ExportAuth (após o magic).
func ReadExportAuth(r io.Reader) (uint16, error) {
	var targetDC uint16
	if err := binary.Read(r, binary.BigEndian, &targetDC); err != nil {
		return 0, fmt.Errorf("reading export auth target dc: %w", err)
	}
	return targetDC, nil
}

// ReadImportAuth lê o corpo do request ImportAuth (após o magic).
func ReadImportAuth(r io.Reader) ([]byte, error) {
	b, err := readBytes16(r)
	if err != nil {
		return nil, fmt.Errorf("reading import auth bytes: %w", err)
	}
	return b, nil
}

// ReadMessageInfo lê o response do GetMessage (Client ← Server).
// Retorna *WireError quando o status indica erro.
func ReadMessageInfo(r io.Reader) (*MessageInfo, error) {
	if err := readStatus(r); err != nil {
		return nil, err
	}

	fileID, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("reading message info file id: %w", err)
	}
	uniqueID, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("reading message info unique id: %w", err)
	}
	var size uint64
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, fmt.Errorf("reading message info size: %w", err)
	}
	mime, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("reading message info mime type: %w", err)
	}
	name, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("reading message info file name: %w", err)
	}

	return &MessageInfo{
		FileID:   fileID,
		UniqueID: uniqueID,
		Size:     size,
		MimeType: mime,
		FileName: name,
	}, nil
}

// ReadChunk lê o response do GetChunk (Client ← Server).
// Retorna *WireError quando o status indica erro.
func ReadChunk(r io.Reader) ([]byte, error) {
	if err := readStatus(r); err != nil {
		return nil, err
	}

	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("reading chunk length: %w", err)
	}
	if length > maxChunkPayload {
		return nil, fmt.Errorf("chunk payload too large: %d bytes", length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("reading chunk bytes: %w", err)
	}
	return data, nil
}

// ReadAuthBytes lê o response do ExportAuth (Client ← Server).
// Retorna *WireError quando o status indica erro.
func ReadAuthBytes(r io.Reader) ([]byte, error) {
	if err := readStatus(r); err != nil {
		return nil, err
	}
	b, err := readBytes16(r)
	if err != nil {
		return nil, fmt.Errorf("reading auth bytes: %w", err)
	}
	return b, nil
}

// ReadOK lê um response sem payload (Client ← Server).
// Retorna *WireError quando o status indica erro.
func ReadOK(r io.Reader) error {
	return readStatus(r)
}

// readStatus lê o byte de status de um response. StatusOK retorna nil;
// qualquer outro código consome o payload de erro e retorna *WireError.
func readStatus(r io.Reader) error {
	var status [1]byte
	if _, err := io.ReadFull(r, status[:]); err != nil {
		return fmt.Errorf("reading response status: %w", err)
	}
	if status[0] == StatusOK {
		return nil
	}

	var retryAfter uint32
	if err := binary.Read(r, binary.BigEndian, &retryAfter); err != nil {
		return fmt.Errorf("reading error retry after: %w", err)
	}
	msg, err := readString(r)
	if err != nil {
		return fmt.Errorf("reading error message: %w", err)
	}

	return &WireError{Code: status[0], RetryAfter: retryAfter, Message: msg}
}

// readString lê uma string terminada em '\n', byte a byte.
// Frames NSTP são curtos; ler sem bufio evita consumir bytes do frame
// seguinte no mesmo stream.
func readString(r io.Reader) (string, error) {
	var buf []byte
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		if b[0] == '\n' {
			return string(buf), nil
		}
		buf = append(buf, b[0])
		if len(buf) > 4096 {
			return "", ErrTruncatedFrame
		}
	}
}

// readBytes16 lê um blob prefixado por tamanho uint16 big-endian.
func readBytes16(r io.Reader) ([]byte, error) {
	var length uint16
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
