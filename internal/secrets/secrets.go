// Package secrets implements AES-256-GCM encryption at rest for Medic's
// named secret store, plus the `${secrets.NAME}` substitution rules used by
// the playbook engine's webhook and script step executors (spec.md §4.8).
package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/medicops/medic/infrastructure/errors"
	"github.com/medicops/medic/internal/store"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 12
	tagSize   = 16
)

// Manager encrypts, decrypts, and substitutes named secrets.
type Manager struct {
	key   []byte
	store store.Store
}

// NewManager builds a Manager from a base64-encoded 32-byte key, as read
// from MEDIC_SECRETS_KEY. A missing, non-base64 or wrong-size key makes
// NewManager itself return an error (spec.md §4.8).
func NewManager(base64Key string, st store.Store) (*Manager, error) {
	if base64Key == "" {
		return nil, errors.Security("MEDIC_SECRETS_KEY is not set")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, errors.Security("MEDIC_SECRETS_KEY is not valid base64")
	}
	if len(key) != keySize {
		return nil, errors.Security("MEDIC_SECRETS_KEY must decode to 32 bytes")
	}
	return &Manager{key: key, store: st}, nil
}

func (m *Manager) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(m.key)
	if err != nil {
		return nil, errors.Security("invalid encryption key")
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext, returning (ciphertext, nonce, tag) per spec.md
// §4.8: a random 12-byte nonce, AES-256-GCM over UTF-8 plaintext, tag is the
// trailing 16 bytes of the sealed output.
func (m *Manager) Encrypt(plaintext string) (ciphertext, nonce, tag []byte, err error) {
	aead, err := m.gcm()
	if err != nil {
		return nil, nil, nil, err
	}
	nonce = make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, nil, errors.Wrap(errors.ErrCodeSecurity, "generate nonce", err)
	}
	sealed := aead.Seal(nil, nonce, []byte(plaintext), nil)
	if len(sealed) < tagSize {
		return nil, nil, nil, errors.Security("encryption produced a short ciphertext")
	}
	split := len(sealed) - tagSize
	ciphertext = sealed[:split]
	tag = sealed[split:]
	return ciphertext, nonce, tag, nil
}

// Decrypt reverses Encrypt. Any authentication failure (wrong key, tampered
// byte) returns a generic decryption error with no further detail, per
// spec.md §4.8 ("any authentication failure → generic decryption error").
func (m *Manager) Decrypt(ciphertext, nonce, tag []byte) (string, error) {
	aead, err := m.gcm()
	if err != nil {
		return "", err
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.Security("secret decryption failed")
	}
	return string(plaintext), nil
}

var nameRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidName reports whether name matches the secret-name grammar
// (`[A-Za-z_][A-Za-z0-9_]*`, spec.md §3).
func ValidName(name string) bool {
	return nameRegexp.MatchString(name)
}

// Put encrypts plaintext and persists the secret under name.
func (m *Manager) Put(ctx context.Context, name, plaintext, description, actor string) error {
	if !ValidName(name) {
		return errors.ValidationField("name", "must match [A-Za-z_][A-Za-z0-9_]*")
	}
	ciphertext, nonce, tag, err := m.Encrypt(plaintext)
	if err != nil {
		return err
	}
	return m.store.PutSecret(ctx, store.Secret{
		Name:        name,
		Ciphertext:  ciphertext,
		Nonce:       nonce,
		Tag:         tag,
		Description: description,
		Actor:       actor,
	})
}

// Get decrypts and returns the named secret's plaintext.
func (m *Manager) Get(ctx context.Context, name string) (string, error) {
	secret, found, err := m.store.GetSecret(ctx, name)
	if err != nil {
		return "", errors.Transient("get secret", err)
	}
	if !found {
		return "", errors.NotFound("secret", name)
	}
	return m.Decrypt(secret.Ciphertext, secret.Nonce, secret.Tag)
}

// Cache memoizes decrypted secrets for the lifetime of a single playbook
// execution. It is never shared across executions, bounding the blast
// radius of a compromised execution context (spec.md §9 design note).
type Cache struct {
	manager *Manager
	values  map[string]string
}

// NewCache builds a per-execution decryption cache.
func NewCache(m *Manager) *Cache {
	return &Cache{manager: m, values: make(map[string]string)}
}

func (c *Cache) resolve(ctx context.Context, name string) (string, error) {
	if v, ok := c.values[name]; ok {
		return v, nil
	}
	v, err := c.manager.Get(ctx, name)
	if err != nil {
		return "", err
	}
	c.values[name] = v
	return v, nil
}

var secretRefRegexp = regexp.MustCompile(`\$\{secrets\.([A-Za-z_][A-Za-z0-9_]*)\}`)

// FindReferences walks a value (string, map, or slice — the shapes a parsed
// YAML playbook step produces) and collects every `${secrets.NAME}`
// reference it contains.
func FindReferences(value interface{}) []string {
	var names []string
	var walk func(interface{})
	walk = func(v interface{}) {
		switch t := v.(type) {
		case string:
			for _, m := range secretRefRegexp.FindAllStringSubmatch(t, -1) {
				names = append(names, m[1])
			}
		case map[string]interface{}:
			for _, child := range t {
				walk(child)
			}
		case []interface{}:
			for _, child := range t {
				walk(child)
			}
		}
	}
	walk(value)
	return names
}

// ValidateReferences returns the subset of referenced secret names that do
// not exist in the store, so the caller can fail the step with a named
// error before attempting substitution.
func (m *Manager) ValidateReferences(ctx context.Context, value interface{}) ([]string, error) {
	var missing []string
	for _, name := range FindReferences(value) {
		_, found, err := m.store.GetSecret(ctx, name)
		if err != nil {
			return nil, errors.Transient("validate secret references", err)
		}
		if !found {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// Substitute replaces every `${secrets.NAME}` reference in s using cache (or
// a fresh one-shot lookup if cache is nil). A reference to a missing secret
// returns a named error that the caller converts into a failed step result.
func (m *Manager) Substitute(ctx context.Context, s string, cache *Cache) (string, error) {
	var firstErr error
	result := secretRefRegexp.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}
		sub := secretRefRegexp.FindStringSubmatch(match)
		name := sub[1]
		var (
			value string
			err   error
		)
		if cache != nil {
			value, err = cache.resolve(ctx, name)
		} else {
			value, err = m.Get(ctx, name)
		}
		if err != nil {
			firstErr = fmt.Errorf("secret %s: %w", name, err)
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// HasSecretReference reports whether s contains at least one
// `${secrets.NAME}` reference, used to decide whether a value needs
// per-execution decryption at all.
func HasSecretReference(s string) bool {
	return strings.Contains(s, "${secrets.")
}
