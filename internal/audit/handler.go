package audit

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/utilities"
)

// Handler serves the operator view of the audit trail.
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

// List handles GET /v1/audit-log?restaurant_uid=&from=&to=&limit=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		utilities.WriteError(w, err)
		return
	}
	entries, err := h.svc.Query(r.Context(), f)
	if err != nil {
		if status := utilities.WriteError(w, err); status >= http.StatusInternalServerError {
			h.logger.Warnw("audit query failed", "err", err)
		}
		return
	}
	utilities.WriteJSON(w, http.StatusOK, entries)
}

func parseFilter(r *http.Request) (entity.Filter, error) {
	q := r.URL.Query()
	f := entity.Filter{RestaurantUID: q.Get("restaurant_uid")}
	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		return f, apperr.Invalid("from", "must be an RFC3339 timestamp")
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		return f, apperr.Invalid("to", "must be an RFC3339 timestamp")
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			return f, apperr.Invalid("limit", "must be an integer")
		}
	}
	return f, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
