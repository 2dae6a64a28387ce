// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gateway

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"
)

//go:embed templates/watch.html
var watchContent embed.FS

var watchTemplate = template.Must(template.ParseFS(watchContent, "templates/watch.html"))

type watchPageData struct {
	Title     string
	StreamURL string
	MimeType  string
	SizeHuman string
	IsVideo   bool
	IsAudio   bool
}

// handleWatch serve a página HTML do player. A validação do path e do hash é
// a mesma da rota de stream; a página só embute a URL de download.
func (g *Gateway) handleWatch(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/watch/")
	hash, msgID, ok := parseStreamPath(rest, r.URL.Query().Get("hash"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	fd, err := g.resolve(w, r, msgID, hash)
	if err != nil {
		return
	}

	streamURL := g.publicStreamURL(fd.HashPrefix(), msgID)
	title := fd.FileName
	if title == "" {
		title = fmt.Sprintf("Message %d", msgID)
	}

	data := watchPageData{
		Title:     title,
		StreamURL: streamURL,
		MimeType:  fd.MimeType,
		SizeHuman: humanBytes(fd.FileSize),
		IsVideo:   strings.HasPrefix(fd.MimeType, "video/"),
		IsAudio:   strings.HasPrefix(fd.MimeType, "audio/"),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if r.Method == http.MethodHead {
		return
	}
	if err := watchTemplate.Execute(w, data); err != nil {
		g.logger.Debug("writing watch page", "error", err)
	}
}

// publicStreamURL monta a URL pública do stream, respeitando public_url
// quando configurada.
func (g *Gateway) publicStreamURL(hash string, msgID int64) string {
	base := strings.TrimSuffix(g.cfg.HTTP.PublicURL, "/")
	return fmt.Sprintf("%s/%s/%d", base, hash, msgID)
}

// humanBytes formata um tamanho para exibição na página.
func humanBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.2f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
