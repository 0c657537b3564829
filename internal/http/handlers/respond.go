package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/memechat/server/internal/apperr"
)

const maxBodyBytes = 256 * 1024

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeJSON reads a bounded JSON body into dst and runs struct validation
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.ErrInvalidArgument.Withf("invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.ErrInvalidArgument.Withf("%s is %s", jsonFieldName(verrs[0]), verrs[0].Tag())
		}
		return apperr.ErrInvalidArgument.Withf("invalid request body")
	}
	return nil
}

func jsonFieldName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return "field"
	}
	return strings.ToLower(name[:1]) + name[1:]
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}

func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// respondWithAppError maps err onto the public taxonomy. Internal errors are logged, not shown.
func respondWithAppError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		log.Error("request failed", "error", err)
	}
	respondWithError(w, status, apperr.PublicMessage(err))
}

type successResponse struct {
	Success bool `json:"success"`
}

func parseUUIDParam(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.ErrInvalidArgument.Withf("%s must be a UUID", name)
	}
	return id, nil
}
