package notify

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/Himasai10/polymarket/internal/config"
)

// StatusProvider supplies the data behind the status endpoint, the
// "status" chat command, and the snapshot pushed to newly connected
// clients. The orchestrator implements this over its own live state.
type StatusProvider interface {
	Status() StatusSnapshot
}

// Handlers holds the HTTP/WebSocket handler dependencies.
type Handlers struct {
	provider StatusProvider
	cfg      config.HealthConfig
	hub      *Hub
	logger   *slog.Logger
}

// NewHandlers builds the handler set for a given status provider and hub.
func NewHandlers(provider StatusProvider, cfg config.HealthConfig, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		provider: provider,
		cfg:      cfg,
		hub:      hub,
		logger:   logger.With("component", "notify-handlers"),
	}
}

// HandleHealth answers the liveness probe.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleStatus answers the operator status surface used by `--status`.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.provider.Status()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.logger.Error("failed to encode status snapshot", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// HandleKill answers the operator kill-switch surface used by `--kill`.
// Any POST activates the switch: it dispatches the chat command
// "kill confirm" on the caller's behalf, and other methods get 405. No
// operator principal check is made here.
func (h *Handlers) HandleKill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reply := h.hub.commands.HandleCommand("kill confirm")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"result": reply})
}

// HandleWebSocket upgrades the connection and registers a new client,
// pushing it an initial status snapshot.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.cfg.OperatorPrincipal != "" && r.URL.Query().Get("principal") != h.cfg.OperatorPrincipal {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.cfg, req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(h.hub, conn)

	snap := h.provider.Status()
	data, err := json.Marshal(Event{Type: "status", Timestamp: snap.Timestamp, Data: snap})
	if err != nil {
		h.logger.Error("failed to marshal initial status snapshot", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		h.logger.Warn("failed to send initial status snapshot to client")
	}
}

func isOriginAllowed(origin string, cfg config.HealthConfig, reqHost string) bool {
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
