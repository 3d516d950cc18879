package ws

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CallerHeader carries the caller identity on every request.
const CallerHeader = "X-Caller"

// NegotiateResponse lists the WebSocket endpoints a client may connect to.
type NegotiateResponse struct {
	WebsocketURLs map[string]string `json:"websocket_urls"`
	Protocols     []string          `json:"protocols"`
}

// NegotiateHandler serves the negotiate endpoint.
type NegotiateHandler struct {
	logger *zap.Logger
}

// NewNegotiateHandler creates a new NegotiateHandler.
func NewNegotiateHandler(logger *zap.Logger) *NegotiateHandler {
	return &NegotiateHandler{logger: logger}
}

// HandleNegotiate issues an access token bound to the caller and returns the
// stream URLs. Anonymous callers are allowed; the stream is read-only.
func (h *NegotiateHandler) HandleNegotiate(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get(CallerHeader)
	if caller == "" {
		caller = "anonymous"
	}

	negotiateID := uuid.New().String()
	token := fmt.Sprintf("%s:%s", caller, negotiateID)

	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	baseURL := fmt.Sprintf("%s://%s/ws", scheme, r.Host)

	response := NegotiateResponse{
		WebsocketURLs: map[string]string{
			"prices": fmt.Sprintf("%s/prices?access_token=%s", baseURL, token),
		},
		Protocols: []string{subprotocolJSON, subprotocolProtobuf},
	}

	h.logger.Debug("negotiate successful",
		zap.String("negotiateID", negotiateID),
		zap.String("caller", caller),
	)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode negotiate response", zap.Error(err))
	}
}
