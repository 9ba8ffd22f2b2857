package utils

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"
)

func TestSignDownloadWithLocalKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	t.Setenv("GCS_CREDENTIALS_JSON", "")
	t.Setenv("GCS_SIGNER_EMAIL", "exporter@budget.iam.gserviceaccount.com")
	t.Setenv("GCS_SIGNER_PRIVATE_KEY", strings.ReplaceAll(string(pemKey), "\n", "\\n"))

	link, err := SignDownload(context.Background(), "budget-exports", "exports/budget_2025.xlsx", 15*time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !strings.Contains(link.URL, "budget-exports") || !strings.Contains(link.URL, "X-Goog-Signature=") {
		t.Fatalf("unexpected url %s", link.URL)
	}
	if link.ExpiresAt.Before(time.Now().Add(14 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", link.ExpiresAt)
	}

	if _, err := SignDownload(context.Background(), "", "x", time.Minute); err == nil {
		t.Fatalf("expected an empty bucket to fail")
	}
	if _, err := SignDownload(context.Background(), "b", "x", 0); !IsValidationError(err) {
		t.Fatalf("expected ValidationError for a zero lifespan, got %v", err)
	}
}

func TestLoadSignerFromEnvRejectsIncompleteJSON(t *testing.T) {
	t.Setenv("GCS_CREDENTIALS_JSON", `{"client_email": "a@b"}`)
	if _, _, _, err := loadSignerFromEnv(); err == nil {
		t.Fatalf("expected missing private_key to fail")
	}
	t.Setenv("GCS_CREDENTIALS_JSON", "")
	t.Setenv("GCS_SIGNER_EMAIL", "")
	t.Setenv("GCS_SIGNER_PRIVATE_KEY", "")
	if _, _, ok, err := loadSignerFromEnv(); ok || err != nil {
		t.Fatalf("expected no local signer, got ok=%v err=%v", ok, err)
	}
}
