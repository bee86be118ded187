// Package webhook implements the inbound HTTP gateway: handshake
// verification, event envelope parsing, dedup, and dispatch of the
// background pipeline run. The handler acknowledges every accepted event
// with a 200 before any slow work starts, keeping well inside the
// platform's redelivery timeout.
package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/YaHan2020/voice-flow/internal/lark"
)

// maxBodyBytes caps inbound webhook bodies.
const maxBodyBytes = 1 << 20

// Dispatch hands a validated event to the background execution substrate.
// It must not block; a false return means the event was dropped.
type Dispatch func(ev *lark.InboundEvent) bool

// SeenStore is the persistent dedup backing (the event ledger); nil disables it.
type SeenStore interface {
	MarkSeen(messageID, chatID string) (bool, error)
}

// Handler is the webhook gateway.
type Handler struct {
	verificationToken string
	dispatch          Dispatch
	dedupe            *DedupeCache
	limiter           *RateLimiter
	seen              SeenStore
}

// NewHandler creates the gateway. seen may be nil.
func NewHandler(verificationToken string, rateLimitRPM int, dispatch Dispatch, seen SeenStore) *Handler {
	return &Handler{
		verificationToken: verificationToken,
		dispatch:          dispatch,
		dedupe:            NewDedupeCache(20*time.Minute, 5000),
		limiter:           NewRateLimiter(rateLimitRPM),
		seen:              seen,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	var body lark.WebhookBody
	if err := json.Unmarshal(data, &body); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "malformed JSON body: " + err.Error()})
		return
	}

	// One-time subscription handshake: must complete synchronously.
	if body.Type == "url_verification" {
		if body.Token != h.verificationToken {
			http.Error(w, "Invalid Token", http.StatusForbidden)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"challenge": body.Challenge})
		return
	}

	if body.Header.EventType == lark.EventTypeMessageReceive {
		h.handleMessageEvent(&body.Event.Message)
	}

	// Events not of interest still get a 200: anything else triggers
	// platform redelivery.
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

// handleMessageEvent validates, dedups, and dispatches one message event.
// All outcomes are acknowledged upstream; drops are logged only.
func (h *Handler) handleMessageEvent(msg *lark.EventMessage) {
	if msg.MessageID == "" {
		return
	}

	if !h.limiter.Allow(msg.ChatID) {
		slog.Warn("webhook event rate limited", "chat_id", msg.ChatID)
		return
	}

	if h.dedupe.Seen(msg.MessageID) {
		slog.Debug("webhook event deduplicated", "message_id", msg.MessageID)
		return
	}

	if h.seen != nil {
		seen, err := h.seen.MarkSeen(msg.MessageID, msg.ChatID)
		if err != nil {
			// Ledger trouble degrades to in-memory dedup only.
			slog.Warn("ledger dedup check failed", "message_id", msg.MessageID, "error", err)
		} else if seen {
			slog.Debug("webhook event already in ledger", "message_id", msg.MessageID)
			return
		}
	}

	ev := lark.ParseInboundEvent(msg)
	if !h.dispatch(ev) {
		slog.Warn("webhook event dropped, queue full", "message_id", msg.MessageID)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
