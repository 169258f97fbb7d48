// Package apikey generates API keys. Only the bcrypt hash of a key is stored;
// the raw key is shown once.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"slices"

	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/visionbench/pkg/models"
)

const (
	// PrefixLen is how many leading characters of a raw key are stored in clear for lookup.
	PrefixLen = 8

	ScopeRead  = "read"
	ScopeWrite = "write"
	ScopeAdmin = models.ScopeAdmin

	keyTag = "vb_"
)

// Scopes lists every grantable scope.
var Scopes = []string{ScopeRead, ScopeWrite, ScopeAdmin}

// Generated is a new key. Raw must be handed to the caller and then dropped.
type Generated struct {
	Raw    string
	Prefix string
	Hash   string
}

// Generate creates a random key and its bcrypt hash.
func Generate() (Generated, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return Generated{}, fmt.Errorf("reading random bytes: %w", err)
	}
	raw := keyTag + hex.EncodeToString(buf)
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return Generated{}, fmt.Errorf("hashing key: %w", err)
	}
	return Generated{Raw: raw, Prefix: raw[:PrefixLen], Hash: string(hash)}, nil
}

// ValidateScopes rejects unknown scopes. An empty list means read only.
func ValidateScopes(scopes []string) ([]string, error) {
	if len(scopes) == 0 {
		return []string{ScopeRead}, nil
	}
	for _, s := range scopes {
		if !slices.Contains(Scopes, s) {
			return nil, fmt.Errorf("unknown scope %q", s)
		}
	}
	return scopes, nil
}
