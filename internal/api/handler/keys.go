package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	mw "github.com/kiranshivaraju/visionbench/internal/api/middleware"
	"github.com/kiranshivaraju/visionbench/internal/api/response"
	"github.com/kiranshivaraju/visionbench/internal/apikey"
	"github.com/kiranshivaraju/visionbench/internal/store"
	"github.com/kiranshivaraju/visionbench/pkg/models"
)

// KeyStore manages API keys.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

type KeyHandlers struct {
	store KeyStore
}

func NewKeyHandlers(s KeyStore) *KeyHandlers {
	return &KeyHandlers{store: s}
}

// Create handles POST /api/v1/admin/keys. The raw key is only ever returned here.
func (h *KeyHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string   `json:"name"`
		Scopes []string `json:"scopes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
		return
	}
	scopes, err := apikey.ValidateScopes(req.Scopes)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	gen, err := apikey.Generate()
	if err != nil {
		slog.Error("api key generation failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create key", nil)
		return
	}

	now := time.Now().UTC()
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      req.Name,
		KeyHash:   gen.Hash,
		KeyPrefix: gen.Prefix,
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			response.Error(w, http.StatusConflict, "DUPLICATE_KEY", "API key with this name already exists", nil)
			return
		}
		slog.Error("api key create failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create key", nil)
		return
	}
	slog.Info("api key created", "key_id", key.ID, "name", key.Name, "scopes", key.Scopes, "created_by", callerID(r))

	response.Created(w, map[string]any{
		"id":         key.ID,
		"name":       key.Name,
		"key":        gen.Raw,
		"key_prefix": key.KeyPrefix,
		"scopes":     key.Scopes,
		"created_at": key.CreatedAt,
	})
}

// List handles GET /api/v1/admin/keys.
func (h *KeyHandlers) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		slog.Error("api key list failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list keys", nil)
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	response.Collection(w, keys, response.Paged(0, len(keys), len(keys), len(keys)))
}

// Revoke handles DELETE /api/v1/admin/keys/{keyID}.
func (h *KeyHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "keyID")
	if !ok {
		return
	}
	if err := h.store.RevokeAPIKey(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "API key not found", nil)
			return
		}
		slog.Error("api key revoke failed", "key_id", id, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to revoke key", nil)
		return
	}
	slog.Info("api key revoked", "key_id", id, "revoked_by", callerID(r))
	response.NoContent(w)
}

func callerID(r *http.Request) string {
	if id, ok := mw.GetKeyID(r); ok {
		return id.String()
	}
	return ""
}
