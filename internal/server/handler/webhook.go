// Package handler provides the HTTP handlers of the trigger service.
package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sevigo/build-trigger/internal/config"
	"github.com/sevigo/build-trigger/internal/core"
	"github.com/sevigo/build-trigger/internal/metrics"
	"github.com/sevigo/build-trigger/internal/trigger"
)

// WebhookHandler processes incoming webhook deliveries from GitLab.
type WebhookHandler struct {
	cfg     *config.Config
	trigger *trigger.Service
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(cfg *config.Config, svc *trigger.Service, m *metrics.Metrics, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		cfg:     cfg,
		trigger: svc,
		metrics: m,
		logger:  logger,
	}
}

// Handle authenticates and dispatches one webhook delivery. The body is not
// read before the shared secret checks out. Event types this service does not
// act on get a 200 no-op: the provider treats any other status as a delivery
// failure and retries forever.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	eventType := r.Header.Get("X-Gitlab-Event")
	if eventType == "" {
		h.reply(w, "none", http.StatusBadRequest, "X-Gitlab-Event not set")
		return
	}

	token := r.Header.Get("X-Gitlab-Token")
	if token == "" {
		h.reply(w, eventType, http.StatusBadRequest, "X-Gitlab-Token not set")
		return
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.GitLab.WebhookSecret)) != 1 {
		h.reply(w, eventType, http.StatusBadRequest, "X-Gitlab-Token does not match")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.reply(w, eventType, http.StatusBadRequest, "failed to read request body")
		return
	}

	switch eventType {
	case core.EventPush:
		h.handlePush(w, r, body)
	case core.EventMergeRequest:
		if !h.cfg.GitLab.EnableMergeRequestHook {
			h.reply(w, eventType, http.StatusOK, "OK")
			return
		}
		h.handleMergeRequest(w, r, body)
	default:
		h.reply(w, eventType, http.StatusOK, "OK")
	}
}

// Ping is the liveness endpoint.
func (h *WebhookHandler) Ping(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "OK")
}

func (h *WebhookHandler) handlePush(w http.ResponseWriter, r *http.Request, body []byte) {
	ev, err := core.DecodePushEvent(body)
	if err != nil {
		h.logger.Warn("rejecting malformed push payload", "error", err)
		h.reply(w, core.EventPush, http.StatusBadRequest, "invalid push payload")
		return
	}

	msg, err := h.trigger.HandlePush(r.Context(), ev)
	h.respond(w, core.EventPush, msg, err)
}

func (h *WebhookHandler) handleMergeRequest(w http.ResponseWriter, r *http.Request, body []byte) {
	ev, err := core.DecodeMergeRequestEvent(body)
	if err != nil {
		h.logger.Warn("rejecting malformed merge request payload", "error", err)
		h.reply(w, core.EventMergeRequest, http.StatusBadRequest, "invalid merge request payload")
		return
	}

	msg, err := h.trigger.HandleMergeRequest(r.Context(), ev)
	h.respond(w, core.EventMergeRequest, msg, err)
}

// respond converts a trigger outcome into the HTTP contract: every failure
// becomes a status code, no internal error ever reaches the caller.
func (h *WebhookHandler) respond(w http.ResponseWriter, event, msg string, err error) {
	if err == nil {
		h.reply(w, event, http.StatusOK, msg)
		return
	}

	status := core.HTTPStatus(err)
	message := "Internal Server Error"
	var terr *core.Error
	if errors.As(err, &terr) && terr.Kind != core.KindInternal {
		message = terr.Message
	}

	h.logger.Error("webhook delivery failed", "event", event, "status", status, "error", err)
	h.reply(w, event, status, message)
}

func (h *WebhookHandler) reply(w http.ResponseWriter, event string, status int, msg string) {
	h.metrics.CountDelivery(event, strconv.Itoa(status))
	writeMessage(w, status, msg)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
