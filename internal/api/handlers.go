package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

// webhookRequest is the canonical inbound payload a platform bridge posts.
type webhookRequest struct {
	ExternalID     string            `json:"external_id"`
	Platform       models.Platform   `json:"platform,omitempty"`
	PlatformUserID string            `json:"platform_user_id"`
	Text           string            `json:"text"`
	Timestamp      *time.Time        `json:"timestamp,omitempty"`
	RawMetadata    map[string]string `json:"raw_metadata,omitempty"`
}

// webhookResult reports whether the event was new.
type webhookResult struct {
	ExternalID string `json:"external_id"`
	Duplicate  bool   `json:"duplicate"`
}

// webhookHandler handles POST /v1/webhooks/{platform}.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	defer r.Body.Close()

	platform := models.Platform(chi.URLParam(r, "platform"))
	if !models.IsValidPlatform(platform) {
		slog.Warn("Server.webhookHandler: unknown platform", "platform", platform)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrInvalidPlatform.Error()))
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.webhookHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Platform != "" && req.Platform != platform {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("payload platform does not match path"))
		return
	}

	msg := models.CanonicalMessage{
		ExternalID:     req.ExternalID,
		Platform:       platform,
		PlatformUserID: req.PlatformUserID,
		Direction:      models.DirectionIn,
		Text:           req.Text,
		RawMetadata:    req.RawMetadata,
		Timestamp:      s.now().UTC(),
	}
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		msg.Timestamp = req.Timestamp.UTC()
	}

	pushed, err := s.enq.Enqueue(r.Context(), msg)
	if err != nil {
		if errors.Is(err, models.ErrMalformedInbound) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.webhookHandler: enqueue failed", "platform", platform, "externalID", req.ExternalID, "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Failed to accept event"))
		return
	}

	result := webhookResult{ExternalID: msg.ExternalID, Duplicate: !pushed}
	if !pushed {
		slog.Debug("Server.webhookHandler: duplicate event", "platform", platform, "externalID", msg.ExternalID)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("duplicate event ignored", result))
		return
	}
	slog.Info("Server.webhookHandler: event accepted", "platform", platform, "externalID", msg.ExternalID)
	writeJSONResponse(w, http.StatusAccepted, models.Accepted(result))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	}
	statusCode := http.StatusOK
	if s.admin != nil {
		status, err := s.admin.GetAgentStatus(ctx)
		switch {
		case err != nil:
			slog.Warn("Health check: failed to get agent status", "error", err)
			healthData["status"] = "degraded"
			healthData["error"] = "Failed to fetch agent status"
		case !status.Healthy:
			healthData["status"] = "degraded"
			healthData["error"] = status.LastError
		default:
			healthData["queue_depth"] = status.QueueDepth
			healthData["active_runs"] = status.ActiveRuns
		}
		if healthData["status"] == "degraded" {
			statusCode = http.StatusServiceUnavailable
		}
	}
	writeJSONResponse(w, statusCode, healthData)
}
