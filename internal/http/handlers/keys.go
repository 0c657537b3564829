package handlers

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/memechat/server/internal/apperr"
	"github.com/memechat/server/internal/keys"
	"github.com/memechat/server/internal/middleware"
	"github.com/memechat/server/internal/model"
)

// KeyHandler serves the public-key directory
type KeyHandler struct {
	dir *keys.Directory
	log *slog.Logger
}

// NewKeyHandler creates a new key handler
func NewKeyHandler(dir *keys.Directory, log *slog.Logger) *KeyHandler {
	if log == nil {
		log = slog.Default()
	}
	return &KeyHandler{dir: dir, log: log}
}

type publishKeyRequest struct {
	PublicKey string `json:"publicKey" validate:"required,base64"`
}

type publishKeyResponse struct {
	KeyVersion int `json:"keyVersion"`
}

type keyResponse struct {
	UserID     string    `json:"userId"`
	PublicKey  string    `json:"publicKey"`
	KeyVersion int       `json:"keyVersion"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// HandlePublish handles PUT /keys (protected)
func (h *KeyHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req publishKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.PublicKey)
	if err != nil {
		respondWithAppError(w, h.log, apperr.ErrInvalidArgument.Withf("publicKey must be base64"))
		return
	}

	rec, err := h.dir.Publish(r.Context(), userID, raw)
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, publishKeyResponse{KeyVersion: rec.KeyVersion})
}

// HandleLookup handles GET /keys/{userId}?version= (protected)
func (h *KeyHandler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUUIDParam(chi.URLParam(r, "userId"), "userId")
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	var rec model.EncryptionKeyRecord
	if v := r.URL.Query().Get("version"); v != "" {
		version, convErr := strconv.Atoi(v)
		if convErr != nil {
			respondWithAppError(w, h.log, apperr.ErrInvalidArgument.Withf("version must be an integer"))
			return
		}
		rec, err = h.dir.LookupVersion(r.Context(), userID, version)
	} else {
		rec, err = h.dir.Lookup(r.Context(), userID)
	}
	if err != nil {
		respondWithAppError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, keyResponse{
		UserID:     rec.UserID.String(),
		PublicKey:  base64.StdEncoding.EncodeToString(rec.PublicKey),
		KeyVersion: rec.KeyVersion,
		UpdatedAt:  rec.UpdatedAt,
	})
}
