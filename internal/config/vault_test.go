package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewVaultClient_Disabled(t *testing.T) {
	client, err := NewVaultClient(&Vault{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client != nil {
		t.Error("expected nil client when vault is disabled")
	}
}

func TestNewVaultClient_NoToken(t *testing.T) {
	t.Setenv("VAULT_TOKEN", "")
	_, err := NewVaultClient(&Vault{Enabled: true, Address: "http://localhost:8200"})
	if err == nil {
		t.Fatal("expected error when token is not configured")
	}
}

func TestVaultClient_GetSecret_NilClient(t *testing.T) {
	var vc *VaultClient
	_, err := vc.GetSecret(context.Background(), "taskmesh/auth")
	if err == nil || err.Error() != "vault client is not initialized" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestApplyVaultSecrets_NilClient(t *testing.T) {
	cfg := Default()
	cfg.Auth.SigningKey = "original"

	if err := ApplyVaultSecrets(context.Background(), &cfg, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.SigningKey != "original" {
		t.Error("expected signing key to remain unchanged")
	}
}

func TestApplyVaultSecrets_KVv2(t *testing.T) {
	secrets := map[string]map[string]any{
		"/v1/secret/data/taskmesh/auth": {"signing_key": testKey},
		"/v1/secret/data/taskmesh/smtp": {"username": "mailer", "password": "hunter2"},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		data, ok := secrets[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"data": data,
				"metadata": map[string]any{
					"created_time":  "2024-01-01T00:00:00Z",
					"deletion_time": "",
					"destroyed":     false,
					"version":       1,
				},
			},
		})
	}))
	defer srv.Close()

	vc, err := NewVaultClient(&Vault{Enabled: true, Address: srv.URL, Token: "root"})
	if err != nil {
		t.Fatalf("NewVaultClient() error: %v", err)
	}

	cfg := Default()
	cfg.Auth.VaultPath = "taskmesh/auth"
	cfg.Mail.VaultPath = "taskmesh/smtp"

	if err := ApplyVaultSecrets(context.Background(), &cfg, vc); err != nil {
		t.Fatalf("ApplyVaultSecrets() error: %v", err)
	}
	if cfg.Auth.SigningKey != testKey {
		t.Errorf("SigningKey = %q, want value from vault", cfg.Auth.SigningKey)
	}
	if cfg.Mail.Username != "mailer" || cfg.Mail.Password != "hunter2" {
		t.Errorf("Mail credentials = %q/%q", cfg.Mail.Username, cfg.Mail.Password)
	}

	cfg.Auth.VaultPath = "taskmesh/missing"
	if err := ApplyVaultSecrets(context.Background(), &cfg, vc); err == nil {
		t.Error("expected error for missing secret")
	}
}
