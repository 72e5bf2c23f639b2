package utilities

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ovaphlow/pitchfork/service-restaurant-identity/pkg/apperr"
)

const maxBodyBytes = 1 << 20

// DecodeJSON reads a single JSON object from the request body into v.
// Malformed or oversized bodies yield an apperr.ValidationError on "body".
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperr.Invalid("body", "too large")
		case errors.Is(err, io.EOF):
			return apperr.Invalid("body", "must not be empty")
		default:
			return apperr.Invalid("body", "malformed json")
		}
	}
	return nil
}
