package restaurant

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/utilities"
)

// Handler exposes onboarding and operator endpoints for restaurant identities.
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

// RegisterRequest request body for the onboarding endpoint.
type RegisterRequest struct {
	ExternalRef string `json:"external_ref"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	Address     string `json:"address"`
	CallbackURL string `json:"callback_url"`
	Username    string `json:"username"`
	Password    string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := utilities.DecodeJSON(w, r, &req); err != nil {
		h.logger.Debugw("invalid register payload", "err", err)
		utilities.WriteError(w, err)
		return
	}
	res, err := h.svc.Register(r.Context(), RegisterInput(req))
	if err != nil {
		h.fail(w, "register failed", err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	utilities.WriteJSON(w, status, res)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	row, err := h.svc.Get(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		h.fail(w, "get restaurant failed", err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, row)
}

// CredentialsRequest request body for setting login credentials.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) SetCredentials(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := utilities.DecodeJSON(w, r, &req); err != nil {
		utilities.WriteError(w, err)
		return
	}
	if err := h.svc.SetCredentials(r.Context(), chi.URLParam(r, "uid"), req.Username, req.Password); err != nil {
		h.fail(w, "set credentials failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Deactivate(r.Context(), chi.URLParam(r, "uid")); err != nil {
		h.fail(w, "deactivate failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Reactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reactivate(r.Context(), chi.URLParam(r, "uid")); err != nil {
		h.fail(w, "reactivate failed", err)
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
