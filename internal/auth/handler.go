package auth

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/utilities"
)

// Handler exposes HTTP endpoints for restaurant login and operator unlock.
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

// LoginRequest login payload.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := utilities.DecodeJSON(w, r, &req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		utilities.WriteError(w, err)
		return
	}
	res, err := h.svc.Login(r.Context(), LoginInput{
		Username:  req.Username,
		Password:  req.Password,
		Source:    clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		if status := utilities.WriteError(w, err); status >= http.StatusInternalServerError {
			h.logger.Warnw("login failed", "err", err)
		} else {
			h.logger.Debugw("login rejected", "status", status)
		}
		return
	}
	utilities.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Unlock(r.Context(), chi.URLParam(r, "uid")); err != nil {
		if status := utilities.WriteError(w, err); status >= http.StatusInternalServerError {
			h.logger.Warnw("unlock failed", "err", err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// clientIP returns the host part of RemoteAddr, which the router's RealIP
// middleware has already resolved from proxy headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
