package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/visionbench/pkg/models"
)

type contextKey string

const (
	apiKeyKey    contextKey = "api_key"
	keyPrefixKey contextKey = "key_prefix"
)

// GetKeyID returns the id of the API key that authenticated the request.
func GetKeyID(r *http.Request) (uuid.UUID, bool) {
	key, ok := getAPIKey(r)
	if !ok {
		return uuid.Nil, false
	}
	return key.ID, true
}

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

// SetAPIKey stores the key that authenticated the request.
func SetAPIKey(ctx context.Context, key *models.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyKey, key)
}

func getAPIKey(r *http.Request) (*models.APIKey, bool) {
	key, ok := r.Context().Value(apiKeyKey).(*models.APIKey)
	return key, ok
}

// ExportedKeyPrefixKey returns the context key for key_prefix (for testing).
func ExportedKeyPrefixKey() contextKey {
	return keyPrefixKey
}
