// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Stream License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/nishisan-dev/n-stream/internal/upstream"
)

// Version é preenchida via ldflags no build (-X ...Version=x.y.z).
var Version = "dev"

// StatusResponse é o JSON de GET /.
type StatusResponse struct {
	ServerStatus     string                `json:"server_status"`
	UptimeS          int64                 `json:"uptime_s"`
	Uptime           string                `json:"uptime"`
	BotHandle        string                `json:"bot_handle,omitempty"`
	ConnectedClients int                   `json:"connected_clients"`
	ActiveStreams    int                   `json:"active_streams"`
	Loads            []upstream.ClientLoad `json:"loads"`
	Version          string                `json:"version"`
	System           SystemStats           `json:"system"`
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(g.startTime)

	loads := g.fleet.Loads()
	// Mais carregado primeiro; empate resolvido pelo nome para manter a
	// saída estável.
	sort.SliceStable(loads, func(i, j int) bool {
		if loads[i].Load != loads[j].Load {
			return loads[i].Load > loads[j].Load
		}
		return loads[i].Name < loads[j].Name
	})

	resp := StatusResponse{
		ServerStatus:     "running",
		UptimeS:          int64(uptime.Seconds()),
		Uptime:           humanDuration(uptime),
		ConnectedClients: g.fleet.Size(),
		ActiveStreams:    g.fleet.ActiveStreams(),
		Loads:            loads,
		Version:          Version,
		System:           g.monitor.Stats(),
	}
	if g.cfg.Bot.Username != "" {
		resp.BotHandle = "@" + g.cfg.Bot.Username
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// humanDuration formata um uptime como "2d 3h 4m 5s".
func humanDuration(d time.Duration) string {
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	seconds := d - minutes*time.Minute

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds/time.Second)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds/time.Second)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds/time.Second)
	default:
		return fmt.Sprintf("%ds", seconds/time.Second)
	}
}
