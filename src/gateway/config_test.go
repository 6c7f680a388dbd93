package gateway

import (
	"testing"

	"positionengine/src/security"
)

func TestCredentialsPlaintext(t *testing.T) {
	cfg := Config{APIKey: "key", APISecret: "secret"}

	key, secret, err := cfg.Credentials()
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if key != "key" || secret != "secret" {
		t.Fatalf("unexpected credentials %q %q", key, secret)
	}
}

func TestCredentialsMissing(t *testing.T) {
	if _, _, err := (Config{}).Credentials(); err == nil {
		t.Fatalf("expected error for unset credentials")
	}
}

func TestCredentialsEncryptedTakePrecedence(t *testing.T) {
	masterKey, err := security.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	t.Setenv("EXCHANGE_CREDENTIALS_KEY", masterKey)

	encKey, err := security.EncryptString("real-key")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	encSecret, err := security.EncryptString("real-secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	cfg := Config{
		APIKey:             "stale",
		APISecret:          "stale",
		APIKeyEncrypted:    encKey,
		APISecretEncrypted: encSecret,
	}

	key, secret, err := cfg.Credentials()
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if key != "real-key" || secret != "real-secret" {
		t.Fatalf("unexpected credentials %q %q", key, secret)
	}
}
