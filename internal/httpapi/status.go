package httpapi

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const backendProbeTimeout = 750 * time.Millisecond

type dialFunc func(ctx context.Context, addr string) error

func defaultDial(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	SpeechProvider string        `json:"speech_provider"`
	SpeechFraming  string        `json:"speech_framing"`
	HistoryMode    string        `json:"history_mode"`
	HubConnected   bool          `json:"hub_connected"`
	Checks         []statusCheck `json:"checks"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	connected := s.hub != nil && s.hub.Connected()
	checks := make([]statusCheck, 0, 6)

	if connected {
		checks = append(checks, statusCheck{ID: "hub", Status: "ok", Label: "Hub connection", Detail: "connected"})
	} else {
		checks = append(checks, statusCheck{
			ID:     "hub",
			Status: "error",
			Label:  "Hub connection",
			Detail: "no hub connected",
			Fix:    "Point the hub integration at ws://<gateway>:" + portString(s.cfg.APIPort) + ".",
		})
	}
	checks = append(checks, s.serverURLCheck())

	provider := strings.ToLower(strings.TrimSpace(s.cfg.SpeechProvider))
	switch provider {
	case "mock":
		checks = append(checks, statusCheck{
			ID:     "speech_mock",
			Status: "warn",
			Label:  "Speech backend is mock",
			Detail: "Announcements are a test tone and replies are canned.",
			Fix:    "Set SPEECH_PROVIDER=wyoming and run whisper and piper.",
		})
	default:
		checks = append(checks,
			s.probe(r.Context(), "whisper", "Wyoming whisper (transcribe)", s.cfg.WhisperAddr(), "WYOMING_WHISPER_HOST/WYOMING_WHISPER_PORT"),
			s.probe(r.Context(), "piper", "Wyoming piper (synthesize)", s.cfg.PiperAddr(), "WYOMING_PIPER_HOST/WYOMING_PIPER_PORT"),
		)
	}

	mode := s.historyMode()
	if mode == "memory" {
		checks = append(checks, statusCheck{
			ID:     "history",
			Status: "warn",
			Label:  "Call history",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL or REDIS_URL to keep call history across restarts.",
		})
	} else {
		checks = append(checks, statusCheck{ID: "history", Status: "ok", Label: "Call history", Detail: mode})
	}

	respondJSON(w, http.StatusOK, statusResponse{
		SpeechProvider: provider,
		SpeechFraming:  s.cfg.SpeechFraming,
		HistoryMode:    mode,
		HubConnected:   connected,
		Checks:         checks,
	})
}

func (s *Server) serverURLCheck() statusCheck {
	raw := strings.TrimSpace(s.cfg.ServerURL)
	u, err := url.Parse(raw)
	if raw == "" || err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return statusCheck{
			ID:     "server_url",
			Status: "error",
			Label:  "Companion server URL",
			Detail: raw,
			Fix:    "Set SERVER_URL to the ws:// address the companion app can reach.",
		}
	}
	return statusCheck{ID: "server_url", Status: "ok", Label: "Companion server URL", Detail: raw}
}

func (s *Server) probe(ctx context.Context, id, label, addr, envHint string) statusCheck {
	ctx, cancel := context.WithTimeout(ctx, backendProbeTimeout)
	defer cancel()
	if err := s.dial(ctx, addr); err != nil {
		return statusCheck{
			ID:     id,
			Status: "error",
			Label:  label,
			Detail: addr + ": " + err.Error(),
			Fix:    "Start the backend or fix " + envHint + ".",
		}
	}
	return statusCheck{ID: id, Status: "ok", Label: label, Detail: addr}
}

func portString(p int) string {
	if p <= 0 {
		return "49189"
	}
	return strconv.Itoa(p)
}
