// Package apikey resolves the `X-API-Key` header against the `api_keys`
// table and gates access by endpoint class (spec.md §3's ApiKey entity,
// SPEC_FULL.md §6). Raw keys are high-entropy random tokens, not
// human-chosen passwords, so lookup uses a SHA-256 fingerprint (the only
// way to index a value that must be found by equality) while the
// authoritative comparison uses bcrypt (golang.org/x/crypto/bcrypt), the
// same split GitHub and GitLab use for personal access tokens.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/medicops/medic/infrastructure/errors"
	"github.com/medicops/medic/internal/store"
)

const rawKeyBytes = 32

// Resolver authenticates raw API keys against the store.
type Resolver struct {
	store store.Store
}

// New builds a Resolver.
func New(st store.Store) *Resolver {
	return &Resolver{store: st}
}

func lookupHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Generate creates a new random raw key and its persisted form. The raw key
// is returned to the caller exactly once; Medic never stores it.
func Generate(permittedEndpointClasses []string, rateLimitOverride *int) (raw string, key store.APIKey, err error) {
	buf := make([]byte, rawKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", store.APIKey{}, errors.Wrap(errors.ErrCodeSecurity, "generate api key", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)

	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", store.APIKey{}, errors.Wrap(errors.ErrCodeSecurity, "hash api key", err)
	}

	key = store.APIKey{
		LookupHash:               lookupHash(raw),
		HashedSecret:             string(hashed),
		PermittedEndpointClasses: permittedEndpointClasses,
		RateLimitOverride:        rateLimitOverride,
	}
	return raw, key, nil
}

// Authenticate resolves a raw `X-API-Key` value to its store row. An empty,
// unknown, or mismatched key returns a generic security error with no
// further detail — the caller should not distinguish "not found" from
// "wrong secret" in a response.
func (r *Resolver) Authenticate(ctx context.Context, raw string) (store.APIKey, error) {
	if raw == "" {
		return store.APIKey{}, errors.Security("missing API key")
	}

	candidate, found, err := r.store.GetAPIKeyByHash(ctx, lookupHash(raw))
	if err != nil {
		return store.APIKey{}, errors.Transient("get api key", err)
	}
	if !found {
		return store.APIKey{}, errors.Security("invalid API key")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(candidate.HashedSecret), []byte(raw)); err != nil {
		return store.APIKey{}, errors.Security("invalid API key")
	}
	return candidate, nil
}

// Permits reports whether key is allowed to call an endpoint tagged with
// endpointClass. A key with no configured classes permits nothing; the
// class "*" permits every endpoint (used for admin-provisioned keys).
func Permits(key store.APIKey, endpointClass string) bool {
	for _, c := range key.PermittedEndpointClasses {
		if c == "*" || c == endpointClass {
			return true
		}
	}
	return false
}

// RateLimit returns the key's per-key rate limit override, or the supplied
// default when the key carries none.
func RateLimit(key store.APIKey, defaultLimit int) int {
	if key.RateLimitOverride != nil {
		return *key.RateLimitOverride
	}
	return defaultLimit
}

// Identifier returns the stable string used to bucket rate limiting and
// logging for this key (spec.md §5: "authenticated API key id; else
// ip:<remote_addr>").
func Identifier(key store.APIKey) string {
	return fmt.Sprintf("apikey:%d", key.ID)
}
