// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package upstreamtest implementa um datacenter NSTP fake em memória para os
// testes do gateway: handshake, smux, GetMessage/GetChunk sobre arquivos
// registrados e injeção de falhas (flood wait, queda de stream, auth bytes
// inválidos).
package upstreamtest

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/xtaci/smux"

	"github.com/nishisan-dev/n-stream/internal/fileid"
	"github.com/nishisan-dev/n-stream/internal/protocol"
)

// StoredFile é um arquivo registrado no DC fake.
type StoredFile struct {
	MsgID      int64
	Data       []byte
	Descriptor *fileid.Descriptor
	Info       protocol.MessageInfo
}

// Server é um datacenter NSTP de teste escutando em 127.0.0.1.
type Server struct {
	dc     int
	homeDC int
	ln     net.Listener

	mu    sync.Mutex
	files map[int64]*StoredFile // por msgID

	requireImport bool
	rejectHello   atomic.Bool

	chunkCalls   atomic.Int64
	messageCalls atomic.Int64
	exportSeq    atomic.Int64

	failChunks    atomic.Int32
	floodChunks   atomic.Int32
	floodSeconds  uint32
	expireChunks  atomic.Int32
	importRejects atomic.Int32

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewServer sobe o DC fake. requireImport força o handshake export/import
// antes de servir chunks, como um DC que não é o home da identidade.
func NewServer(dc int, requireImport bool) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listening: %w", err)
	}
	s := &Server{
		dc:            dc,
		homeDC:        dc,
		ln:            ln,
		files:         make(map[int64]*StoredFile),
		requireImport: requireImport,
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr retorna o endereço host:port do DC fake.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// SetHomeDC define o DC home reportado no HelloACK (default: o próprio).
func (s *Server) SetHomeDC(dc int) { s.homeDC = dc }

// RejectNextHello faz o próximo handshake ser rejeitado.
func (s *Server) RejectNextHello() { s.rejectHello.Store(true) }

// AddFile registra um arquivo e monta o MessageInfo correspondente.
func (s *Server) AddFile(msgID int64, uniqueID string, data []byte, desc *fileid.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[msgID] = &StoredFile{
		MsgID:      msgID,
		Data:       data,
		Descriptor: desc,
		Info: protocol.MessageInfo{
			FileID:   fileid.Encode(desc),
			UniqueID: uniqueID,
			Size:     uint64(len(data)),
			MimeType: desc.MimeType,
			FileName: desc.FileName,
		},
	}
}

// FailNextChunks derruba o stream dos próximos n GetChunk (erro de
// transporte do ponto de vista do client).
func (s *Server) FailNextChunks(n int32) { s.failChunks.Store(n) }

// FloodNextChunks responde FLOOD_WAIT com retryAfter nos próximos n GetChunk.
func (s *Server) FloodNextChunks(n int32, retryAfter uint32) {
	s.floodSeconds = retryAfter
	s.floodChunks.Store(n)
}

// ExpireNextChunks responde FILE_REFERENCE_EXPIRED nos próximos n GetChunk.
func (s *Server) ExpireNextChunks(n int32) { s.expireChunks.Store(n) }

// RejectNextImports responde AUTH_BYTES_INVALID nos próximos n ImportAuth.
func (s *Server) RejectNextImports(n int32) { s.importRejects.Store(n) }

// ChunkCalls retorna quantos GetChunk o DC recebeu.
func (s *Server) ChunkCalls() int64 { return s.chunkCalls.Load() }

// MessageCalls retorna quantos GetMessage o DC recebeu.
func (s *Server) MessageCalls() int64 { return s.messageCalls.Load() }

// Close derruba o listener. Conexões em andamento são abandonadas.
func (s *Server) Close() {
	s.closeOnce.Do(func() { s.ln.Close() })
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	hello, err := protocol.ReadHello(conn)
	if err != nil {
		return
	}

	if s.rejectHello.CompareAndSwap(true, false) {
		_ = protocol.WriteHelloACK(conn, &protocol.HelloACK{
			Status:  protocol.HelloStatusReject,
			Message: "credential rejected",
		})
		return
	}

	// Identidades com token ganham um blob; reconexões com blob o ecoam.
	var blob []byte
	if hello.CredentialKind == protocol.CredentialToken {
		blob = []byte("blob:" + hello.Token)
	} else {
		blob = hello.AuthBlob
	}

	err = protocol.WriteHelloACK(conn, &protocol.HelloACK{
		Status:   protocol.HelloStatusOK,
		HomeDC:   uint16(s.homeDC),
		AuthBlob: blob,
	})
	if err != nil {
		return
	}

	mux, err := smux.Server(conn, smux.DefaultConfig())
	if err != nil {
		return
	}
	defer mux.Close()

	var authorized atomic.Bool
	authorized.Store(!s.requireImport)

	for {
		stream, err := mux.AcceptStream()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleStream(stream, &authorized)
		}()
	}
}

func (s *Server) handleStream(stream io.ReadWriteCloser, authorized *atomic.Bool) {
	defer stream.Close()

	magic, err := protocol.ReadRequestMagic(stream)
	if err != nil {
		return
	}

	switch magic {
	case protocol.MagicGetMessage:
		s.serveGetMessage(stream)
	case protocol.MagicGetChunk:
		s.serveGetChunk(stream, authorized)
	case protocol.MagicExportAuth:
		s.serveExportAuth(stream)
	case protocol.MagicImportAuth:
		s.serveImportAuth(stream, authorized)
	case protocol.MagicPing:
		_ = protocol.WriteOK(stream)
	}
}

func (s *Server) serveGetMessage(stream io.ReadWriter) {
	_, msgID, err := protocol.ReadGetMessage(stream)
	if err != nil {
		return
	}
	s.messageCalls.Add(1)

	s.mu.Lock()
	file := s.files[msgID]
	s.mu.Unlock()

	if file == nil {
		_ = protocol.WriteError(stream, protocol.StatusNotFound, 0, "message not found")
		return
	}
	_ = protocol.WriteMessageInfo(stream, &file.Info)
}

func (s *Server) serveGetChunk(stream io.ReadWriter, authorized *atomic.Bool) {
	req, err := protocol.ReadGetChunk(stream)
	if err != nil {
		return
	}
	s.chunkCalls.Add(1)

	if !authorized.Load() {
		_ = protocol.WriteError(stream, protocol.StatusInternal, 0, "session not authorized on this dc")
		return
	}

	if n := s.failChunks.Load(); n > 0 && s.failChunks.CompareAndSwap(n, n-1) {
		// Retorna sem escrever response: o Close do stream aparece como
		// erro de transporte no client.
		return
	}
	if n := s.floodChunks.Load(); n > 0 && s.floodChunks.CompareAndSwap(n, n-1) {
		_ = protocol.WriteError(stream, protocol.StatusFloodWait, s.floodSeconds, "too many requests")
		return
	}
	if n := s.expireChunks.Load(); n > 0 && s.expireChunks.CompareAndSwap(n, n-1) {
		_ = protocol.WriteError(stream, protocol.StatusFileReferenceExpired, 0, "file reference expired")
		return
	}

	file := s.fileByLocation(req.Location)
	if file == nil {
		_ = protocol.WriteError(stream, protocol.StatusNotFound, 0, "file not found")
		return
	}

	data := file.Data
	offset := int64(req.Offset)
	if offset >= int64(len(data)) {
		_ = protocol.WriteChunk(stream, nil)
		return
	}
	end := offset + int64(req.Limit)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	_ = protocol.WriteChunk(stream, data[offset:end])
}

func (s *Server) serveExportAuth(stream io.ReadWriter) {
	targetDC, err := protocol.ReadExportAuth(stream)
	if err != nil {
		return
	}
	seq := s.exportSeq.Add(1)
	_ = protocol.WriteAuthBytes(stream, []byte(fmt.Sprintf("export:%d:%d", targetDC, seq)))
}

func (s *Server) serveImportAuth(stream io.ReadWriter, authorized *atomic.Bool) {
	if _, err := protocol.ReadImportAuth(stream); err != nil {
		return
	}
	if n := s.importRejects.Load(); n > 0 && s.importRejects.CompareAndSwap(n, n-1) {
		_ = protocol.WriteError(stream, protocol.StatusAuthBytesInvalid, 0, "stale auth bytes")
		return
	}
	authorized.Store(true)
	_ = protocol.WriteOK(stream)
}

// fileByLocation resolve o arquivo endereçado por uma InputLocation
// serializada, comparando ids conforme o kind.
func (s *Server) fileByLocation(raw []byte) *StoredFile {
	loc, err := fileid.DecodeLocation(raw)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.files {
		switch l := loc.(type) {
		case *fileid.DocumentLocation:
			if l.MediaID == f.Descriptor.MediaID && l.AccessHash == f.Descriptor.AccessHash {
				return f
			}
		case *fileid.PhotoLocation:
			if l.MediaID == f.Descriptor.MediaID && l.AccessHash == f.Descriptor.AccessHash {
				return f
			}
		case *fileid.PeerPhotoLocation:
			if l.VolumeID == f.Descriptor.VolumeID && l.LocalID == f.Descriptor.LocalID {
				return f
			}
		}
	}
	return nil
}
