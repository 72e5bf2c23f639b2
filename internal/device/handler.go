package device

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/utilities"
)

// Handler exposes the device handshake and liveness endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, logger: logger}
}

type HandshakeRequest struct {
	RestaurantUID string `json:"restaurant_uid"`
	DeviceLabel   string `json:"device_label"`
	Platform      string `json:"platform"`
}

func (h *Handler) Handshake(w http.ResponseWriter, r *http.Request) {
	var req HandshakeRequest
	if err := utilities.DecodeJSON(w, r, &req); err != nil {
		utilities.WriteError(w, err)
		return
	}
	d, err := h.svc.Handshake(r.Context(), req.RestaurantUID, req.DeviceLabel, req.Platform)
	if err != nil {
		h.fail(w, "handshake failed", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, d)
}

type HeartbeatRequest struct {
	RegistrationID string `json:"registration_id"`
}

func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := utilities.DecodeJSON(w, r, &req); err != nil {
		utilities.WriteError(w, err)
		return
	}
	if _, err := h.svc.Heartbeat(r.Context(), req.RegistrationID); err != nil {
		h.fail(w, "heartbeat failed", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	devices, err := h.svc.List(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		h.fail(w, "list devices failed", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, devices)
}

func (h *Handler) MarkOffline(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.MarkOffline(r.Context(), chi.URLParam(r, "registration_id")); err != nil {
		h.fail(w, "mark offline failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if status := utilities.WriteError(w, err); status >= http.StatusInternalServerError {
		h.logger.Warnw(msg, "err", err)
		return
	}
	h.logger.Debugw(msg, "err", err)
}
