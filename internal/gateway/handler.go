// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/nishisan-dev/n-stream/internal/fileid"
	"github.com/nishisan-dev/n-stream/internal/logging"
	"github.com/nishisan-dev/n-stream/internal/stream"
	"github.com/nishisan-dev/n-stream/internal/upstream"
)

// streamPathRe casa o formato canônico "{hash}/{msg_id}": 6 caracteres
// URL-safe de hash seguidos do id numérico da mensagem.
var (
	streamPathRe = regexp.MustCompile(`^([A-Za-z0-9_-]{6})/(\d+)$`)
	digitsRe     = regexp.MustCompile(`^\d+$`)
)

// parseStreamPath aceita "hash/msgID" ou o formato legado "msgID?hash=h".
func parseStreamPath(path, hashQuery string) (hash string, msgID int64, ok bool) {
	if m := streamPathRe.FindStringSubmatch(path); m != nil {
		id, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return "", 0, false
		}
		return m[1], id, true
	}
	if digitsRe.MatchString(path) {
		id, err := strconv.ParseInt(path, 10, 64)
		if err != nil {
			return "", 0, false
		}
		return hashQuery, id, true
	}
	return "", 0, false
}

func newRequestID() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// resolve busca o descriptor no cache (resolvendo no upstream em miss) e
// aplica o gate de hash. Em erro, escreve o response HTTP apropriado e
// retorna o erro; o caller só precisa retornar.
func (g *Gateway) resolve(w http.ResponseWriter, r *http.Request, msgID int64, hash string) (*fileid.Descriptor, error) {
	fd, err := g.cache.Get(r.Context(), msgID)
	if err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			http.NotFound(w, r)
			g.logAccess(r, http.StatusNotFound, 0, msgID, "", "")
			return nil, err
		}
		g.logger.Error("resolving message", "msg_id", msgID, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		g.logAccess(r, http.StatusInternalServerError, 0, msgID, "", "")
		return nil, err
	}

	// Gate de hash: nenhum byte de mídia sai sem a URL correta.
	if fd.HashPrefix() != hash {
		http.Error(w, "Invalid hash", http.StatusForbidden)
		g.logAccess(r, http.StatusForbidden, 0, msgID, "", "")
		return nil, errors.New("invalid hash")
	}
	return fd, nil
}

// handleStream serve GET|HEAD /{hash}/{msg_id} (e o formato legado por
// query string), com suporte a Range de intervalo único.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	hash, msgID, ok := parseStreamPath(path, r.URL.Query().Get("hash"))
	if !ok {
		http.NotFound(w, r)
		g.logAccess(r, http.StatusNotFound, 0, 0, "", "")
		return
	}

	requestID := newRequestID()
	logger, logCloser, _, err := logging.NewStreamLogger(g.logger, g.cfg.HTTP.StreamLogDir, msgID, requestID)
	if err != nil {
		logger = g.logger
	} else {
		defer logCloser.Close()
	}
	logger = logger.With("request_id", requestID, "msg_id", msgID)

	fd, err := g.resolve(w, r, msgID, hash)
	if err != nil {
		return
	}

	start, end, err := stream.ParseRange(r.Header.Get("Range"), fd.FileSize)
	if err != nil {
		// 416 sem body, só o Content-Range com o tamanho total.
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", fd.FileSize))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		g.logAccess(r, http.StatusRequestedRangeNotSatisfiable, 0, msgID, "", requestID)
		return
	}

	status := http.StatusOK
	if r.Header.Get("Range") != "" {
		status = http.StatusPartialContent
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, fd.FileSize))
	}

	g.setEntityHeaders(w, fd)
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))

	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		g.logAccess(r, status, 0, msgID, "", requestID)
		return
	}

	idx, client := g.fleet.Pick()
	release, err := g.fleet.Begin(r.Context(), idx)
	if err != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		g.logAccess(r, http.StatusServiceUnavailable, 0, msgID, client.Name(), requestID)
		return
	}
	defer release()

	src, err := client.OpenSource(r.Context(), fd)
	if err != nil {
		logger.Error("opening upstream source", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		g.logAccess(r, http.StatusInternalServerError, 0, msgID, client.Name(), requestID)
		return
	}
	defer src.Close()

	chunkSize := g.cfg.Streaming.MaxChunkRaw
	if fd.ThumbSize != "" && chunkSize/2 >= g.cfg.Streaming.MinChunkRaw {
		// Thumbnails são pequenos; metade do chunk evita overfetch.
		chunkSize /= 2
	}
	plan := stream.NewPlan(start, end, chunkSize)

	logger.Debug("stream started",
		"range", fmt.Sprintf("%d-%d", start, end),
		"parts", plan.PartCount,
		"chunk_size", chunkSize,
		"client", client.Name(),
		"dc", fd.DCID)

	bw := &bodyWriter{w: w, status: status}
	written, err := stream.Stream(r.Context(), bw, plan, src)
	if err != nil {
		g.finishWithError(w, r, bw, logger, msgID, client.Name(), requestID, written, err)
		return
	}

	// Range vazio ou HEAD-like: garante que o status sai mesmo sem body.
	bw.ensureHeader()
	logger.Debug("stream finished", "bytes_sent", written)
	g.logAccess(r, status, written, msgID, client.Name(), requestID)
}

// finishWithError trata falhas do stream: referência expirada invalida o
// cache, desconexões do client são silenciosas e o 500 só é possível se o
// body ainda não começou.
func (g *Gateway) finishWithError(w http.ResponseWriter, r *http.Request, bw *bodyWriter, logger *slog.Logger, msgID int64, clientName, requestID string, written int64, err error) {
	if errors.Is(err, upstream.ErrReferenceExpired) {
		// A próxima tentativa re-resolve a mensagem e pega uma referência
		// fresca.
		g.cache.Invalidate(msgID)
	}

	switch {
	case isClientDisconnect(r.Context(), err):
		logger.Debug("client disconnected mid-stream", "bytes_sent", written)
		g.logAccess(r, bw.sentStatus(), written, msgID, clientName, requestID)
	case !bw.wrote:
		logger.Error("stream failed before first byte", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		g.logAccess(r, http.StatusInternalServerError, 0, msgID, clientName, requestID)
	default:
		// Body já começou: não dá para mudar o status, só truncar.
		logger.Error("stream truncated", "bytes_sent", written, "error", err)
		g.logAccess(r, bw.sentStatus(), written, msgID, clientName, requestID)
	}
}

// isClientDisconnect identifica erros causados pelo client fechar a conexão.
// Só contam como desconexão o context do request cancelado e erros marcados
// na escrita do body. Erros de rede do lado upstream (dial recusado, conexão
// com o DC derrubada) não são desconexão do client e seguem para o 500.
func isClientDisconnect(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var we *clientWriteError
	return errors.As(err, &we)
}

// setEntityHeaders escreve os headers da entidade: tipo, disposição e
// suporte a ranges.
func (g *Gateway) setEntityHeaders(w http.ResponseWriter, fd *fileid.Descriptor) {
	mimeType := fd.MimeType
	if mimeType == "" && fd.FileName != "" {
		// Upstream sem mime type: tenta adivinhar pela extensão do nome.
		mimeType = mime.TypeByExtension(filepath.Ext(fd.FileName))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	name := fd.FileName
	if name == "" {
		// Sem nome no upstream: gera um estável o bastante para downloads.
		ext := ""
		if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
		name = fmt.Sprintf("%s_%s%s", fd.Type, newRequestID(), ext)
	}

	disposition := "attachment"
	if strings.HasPrefix(mimeType, "video/") || strings.HasPrefix(mimeType, "audio/") || strings.HasPrefix(mimeType, "image/") {
		disposition = "inline"
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, name))
}

// bodyWriter adia o WriteHeader até o primeiro byte do body, permitindo que
// um erro antes disso ainda vire um response de erro limpo.
type bodyWriter struct {
	w      http.ResponseWriter
	status int
	wrote  bool
}

// clientWriteError marca um erro originado na escrita do body para o client,
// distinguindo-o dos erros de fetch upstream que viajam pela mesma cadeia.
type clientWriteError struct{ err error }

func (e *clientWriteError) Error() string { return e.err.Error() }
func (e *clientWriteError) Unwrap() error { return e.err }

func (b *bodyWriter) Write(p []byte) (int, error) {
	b.ensureHeader()
	n, err := b.w.Write(p)
	if err != nil {
		return n, &clientWriteError{err: err}
	}
	return n, nil
}

func (b *bodyWriter) ensureHeader() {
	if !b.wrote {
		b.w.WriteHeader(b.status)
		b.wrote = true
	}
}

func (b *bodyWriter) sentStatus() int {
	if b.wrote {
		return b.status
	}
	return 0
}

func (g *Gateway) logAccess(r *http.Request, status int, bytesSent int64, msgID int64, clientName, requestID string) {
	if g.accessLog == nil {
		return
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	g.accessLog.Push(AccessEvent{
		RemoteIP:  host,
		Method:    r.Method,
		Path:      r.URL.Path,
		Status:    status,
		BytesSent: bytesSent,
		MsgID:     msgID,
		Client:    clientName,
		RequestID: requestID,
		UserAgent: r.UserAgent(),
	})
}
