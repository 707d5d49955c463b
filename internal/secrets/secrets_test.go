package secrets

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/medicops/medic/internal/store"
)

type fakeStore struct {
	store.Store
	secrets map[string]store.Secret
}

func newFakeStore() *fakeStore {
	return &fakeStore{secrets: make(map[string]store.Secret)}
}

func (f *fakeStore) GetSecret(ctx context.Context, name string) (store.Secret, bool, error) {
	s, ok := f.secrets[name]
	return s, ok, nil
}

func (f *fakeStore) PutSecret(ctx context.Context, secret store.Secret) error {
	f.secrets[secret.Name] = secret
	return nil
}

func testKey() string {
	return base64.StdEncoding.EncodeToString(make([]byte, 32))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m, err := NewManager(testKey(), newFakeStore())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	ciphertext, nonce, tag, err := m.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	plaintext, err := m.Decrypt(ciphertext, nonce, tag)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plaintext != "hunter2" {
		t.Errorf("plaintext = %q, want hunter2", plaintext)
	}
}

func TestDecryptTamperedTagFails(t *testing.T) {
	m, _ := NewManager(testKey(), newFakeStore())
	ciphertext, nonce, tag, _ := m.Encrypt("hunter2")
	tag[0] ^= 0xFF

	if _, err := m.Decrypt(ciphertext, nonce, tag); err == nil {
		t.Error("expected decryption error on tampered tag")
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	m1, _ := NewManager(testKey(), newFakeStore())
	ciphertext, nonce, tag, _ := m1.Encrypt("hunter2")

	otherKey := base64.StdEncoding.EncodeToString([]byte("01234567890123456789012345678901"))
	m2, _ := NewManager(otherKey, newFakeStore())

	if _, err := m2.Decrypt(ciphertext, nonce, tag); err == nil {
		t.Error("expected decryption error with wrong key")
	}
}

func TestNewManagerRejectsBadKey(t *testing.T) {
	if _, err := NewManager("", newFakeStore()); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := NewManager("not-base64!!", newFakeStore()); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := NewManager(base64.StdEncoding.EncodeToString([]byte("short")), newFakeStore()); err == nil {
		t.Error("expected error for short key")
	}
}

func TestValidName(t *testing.T) {
	cases := map[string]bool{
		"API_KEY":     true,
		"_secret":     true,
		"a1b2":        true,
		"1bad":        false,
		"bad-name":    false,
		"":            false,
	}
	for name, want := range cases {
		if got := ValidName(name); got != want {
			t.Errorf("ValidName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestFindReferencesWalksNestedStructures(t *testing.T) {
	value := map[string]interface{}{
		"url": "https://example.com/${secrets.API_TOKEN}",
		"headers": []interface{}{
			"Authorization: Bearer ${secrets.BEARER_TOKEN}",
		},
	}
	refs := FindReferences(value)
	if len(refs) != 2 {
		t.Fatalf("found %d references, want 2: %v", len(refs), refs)
	}
}

func TestSubstituteUsesCacheAcrossCalls(t *testing.T) {
	fs := newFakeStore()
	m, _ := NewManager(testKey(), fs)
	if err := m.Put(context.Background(), "API_TOKEN", "s3cr3t", "", "tester"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	cache := NewCache(m)
	out1, err := m.Substitute(context.Background(), "token=${secrets.API_TOKEN}", cache)
	if err != nil {
		t.Fatalf("Substitute: %v", err)
	}
	if out1 != "token=s3cr3t" {
		t.Errorf("out1 = %q", out1)
	}

	out2, err := m.Substitute(context.Background(), "again=${secrets.API_TOKEN}", cache)
	if err != nil {
		t.Fatalf("Substitute: %v", err)
	}
	if out2 != "again=s3cr3t" {
		t.Errorf("out2 = %q", out2)
	}
}

func TestSubstituteMissingSecretFails(t *testing.T) {
	m, _ := NewManager(testKey(), newFakeStore())
	if _, err := m.Substitute(context.Background(), "${secrets.MISSING}", nil); err == nil {
		t.Error("expected error for missing secret")
	}
}

func TestValidateReferencesReportsMissing(t *testing.T) {
	fs := newFakeStore()
	m, _ := NewManager(testKey(), fs)
	_ = m.Put(context.Background(), "PRESENT", "v", "", "tester")

	missing, err := m.ValidateReferences(context.Background(), map[string]interface{}{
		"a": "${secrets.PRESENT}",
		"b": "${secrets.ABSENT}",
	})
	if err != nil {
		t.Fatalf("ValidateReferences: %v", err)
	}
	if len(missing) != 1 || missing[0] != "ABSENT" {
		t.Errorf("missing = %v, want [ABSENT]", missing)
	}
}
