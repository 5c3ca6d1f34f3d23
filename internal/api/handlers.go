package api

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/child_mon/internal/domain"
)

// PermissionReader reports the blocker's current grants.
type PermissionReader interface {
	Status(ctx context.Context) domain.PermissionStatus
}

// UsageReader returns the latest usage snapshot.
type UsageReader interface {
	Snapshot() domain.UsageSnapshot
}

// SuspendedReader lists packages currently held stopped.
type SuspendedReader interface {
	Suspended() []string
}

// Sources is what the API reports on. Usage and Suspended may be nil.
type Sources struct {
	Session     domain.Enforcer
	Permissions PermissionReader
	Usage       UsageReader
	Suspended   SuspendedReader
	DeviceID    string
	Version     string
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Version   string                `json:"version"`
	DeviceID  string                `json:"deviceId,omitempty"`
	Session   domain.SessionStatus  `json:"session"`
	Usage     *domain.UsageSnapshot `json:"usage,omitempty"`
	Suspended []string              `json:"suspended"`
}

type handlers struct {
	src    Sources
	logger *zap.Logger
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:   h.src.Version,
		DeviceID:  h.src.DeviceID,
		Suspended: []string{},
	}
	if h.src.Session != nil {
		resp.Session = h.src.Session.Status()
	}
	if h.src.Usage != nil {
		snap := h.src.Usage.Snapshot()
		resp.Usage = &snap
	}
	if h.src.Suspended != nil {
		if s := h.src.Suspended.Suspended(); s != nil {
			resp.Suspended = s
		}
	}
	h.writeJSON(w, resp)
}

func (h *handlers) permissions(w http.ResponseWriter, r *http.Request) {
	if h.src.Permissions == nil {
		http.Error(w, "permission checker not configured", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, h.src.Permissions.Status(r.Context()))
}

func (h *handlers) usage(w http.ResponseWriter, r *http.Request) {
	if h.src.Usage == nil {
		http.Error(w, "usage tracking not configured", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, h.src.Usage.Snapshot())
}

func (h *handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}
