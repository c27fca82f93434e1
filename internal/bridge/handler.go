// Package bridge lets out-of-process callers inject events into the
// broadcast pipeline over HTTP. The credential is a shared token checked by
// equality; it is a coarser server-to-server trust boundary than the
// per-user handshake scheme.
package bridge

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Schlossparktheater-Altrossthal/realtime/internal/broadcast"
	"github.com/Schlossparktheater-Altrossthal/realtime/internal/metrics"
)

const maxBodyBytes = 1 << 20 // 1 MiB

type ingressRequest struct {
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
	Token     string          `json:"token"`
}

type Handler struct {
	logger      *slog.Logger
	token       string
	broadcaster *broadcast.Broadcaster
	metrics     *metrics.Metrics
}

func NewHandler(logger *slog.Logger, token string, bc *broadcast.Broadcaster, m *metrics.Metrics) *Handler {
	return &Handler{
		logger:      logger.With(slog.String("component", "bridge")),
		token:       token,
		broadcaster: bc,
		metrics:     m,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ingressRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.metrics.BridgeEvents.WithLabelValues(metrics.BridgeRejected).Inc()
		h.logger.Warn("Bridge request with unreadable body", slog.Any("error", err))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	// An unconfigured token keeps the ingress closed rather than open.
	if h.token == "" || subtle.ConstantTimeCompare([]byte(req.Token), []byte(h.token)) != 1 {
		h.metrics.BridgeEvents.WithLabelValues(metrics.BridgeUnauthorized).Inc()
		h.logger.Warn("Bridge request with invalid token", slog.String("eventType", req.EventType))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.broadcaster.Dispatch(req.EventType, req.Payload); err != nil {
		h.metrics.BridgeEvents.WithLabelValues(metrics.BridgeRejected).Inc()
		h.logger.Warn("Bridge event rejected",
			slog.String("eventType", req.EventType),
			slog.Any("error", err),
		)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	h.metrics.BridgeEvents.WithLabelValues(metrics.BridgeAccepted).Inc()
	h.logger.Debug("Bridge event accepted", slog.String("eventType", req.EventType))
	w.WriteHeader(http.StatusAccepted)
}
