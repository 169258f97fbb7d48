package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// ScopeAdmin grants every other scope.
const ScopeAdmin = "admin"

// APIKey authenticates API and CLI callers. The raw key is shown once at
// creation; only its bcrypt hash and a lookup prefix are stored.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}

// Grants reports whether the key may act with scope.
func (k *APIKey) Grants(scope string) bool {
	return k.DeletedAt == nil && (slices.Contains(k.Scopes, scope) || slices.Contains(k.Scopes, ScopeAdmin))
}
