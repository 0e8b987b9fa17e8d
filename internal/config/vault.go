package config

import (
	"context"
	"fmt"

	vault "github.com/hashicorp/vault/api"
)

// VaultClient reads secrets from a KVv2 mount
type VaultClient struct {
	client *vault.Client
	mount  string
}

// NewVaultClient returns nil, nil when Vault is disabled
func NewVaultClient(cfg *Vault) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	token, err := cfg.GetVaultToken()
	if err != nil {
		return nil, err
	}
	client.SetToken(token)

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}

	return &VaultClient{client: client, mount: mount}, nil
}

// GetSecret retrieves a secret from Vault
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]any, error) {
	if vc == nil {
		return nil, fmt.Errorf("vault client is not initialized")
	}

	secret, err := vc.client.KVv2(vc.mount).Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from vault: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret not found: %s", path)
	}

	return secret.Data, nil
}

// ApplyVaultSecrets overwrites the signing key and SMTP password with the
// values stored in Vault when their paths are configured.
func ApplyVaultSecrets(ctx context.Context, cfg *Config, vaultClient *VaultClient) error {
	if vaultClient == nil {
		return nil
	}

	if cfg.Auth.VaultPath != "" {
		secret, err := vaultClient.GetSecret(ctx, cfg.Auth.VaultPath)
		if err != nil {
			return fmt.Errorf("failed to get signing key: %w", err)
		}
		if key, ok := secret["signing_key"].(string); ok {
			cfg.Auth.SigningKey = key
		}
	}

	if cfg.Mail.VaultPath != "" {
		secret, err := vaultClient.GetSecret(ctx, cfg.Mail.VaultPath)
		if err != nil {
			return fmt.Errorf("failed to get smtp secrets: %w", err)
		}
		if user, ok := secret["username"].(string); ok {
			cfg.Mail.Username = user
		}
		if password, ok := secret["password"].(string); ok {
			cfg.Mail.Password = password
		}
	}

	return nil
}
