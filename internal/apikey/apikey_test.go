package apikey

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestGenerate(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(a.Raw, keyTag) {
		t.Errorf("raw key %q lacks tag %q", a.Raw, keyTag)
	}
	if a.Prefix != a.Raw[:PrefixLen] {
		t.Errorf("prefix = %q, want %q", a.Prefix, a.Raw[:PrefixLen])
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.Hash), []byte(a.Raw)); err != nil {
		t.Errorf("hash does not match raw key: %v", err)
	}

	b, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a.Raw == b.Raw {
		t.Error("two generated keys are equal")
	}
}

func TestValidateScopes(t *testing.T) {
	got, err := ValidateScopes(nil)
	if err != nil || len(got) != 1 || got[0] != ScopeRead {
		t.Errorf("ValidateScopes(nil) = %v, %v; want [read]", got, err)
	}
	if _, err := ValidateScopes([]string{"write", "admin"}); err != nil {
		t.Errorf("ValidateScopes(write, admin): %v", err)
	}
	if _, err := ValidateScopes([]string{"root"}); err == nil {
		t.Error("ValidateScopes(root) succeeded, want error")
	}
}
