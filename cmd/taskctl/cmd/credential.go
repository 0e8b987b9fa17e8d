package cmd

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const (
	keyringService = "taskctl"
	tokenKey       = "bearer-token"
)

// openKeyring is swapped for an in-memory ring in tests
var openKeyring = func() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/taskctl/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("taskctl-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

func loadToken() (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(tokenKey)
	if err != nil {
		return "", fmt.Errorf("getting stored token: %w", err)
	}
	return string(item.Data), nil
}

func storeToken(token string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}
	if err := ring.Set(keyring.Item{Key: tokenKey, Data: []byte(token), Label: "taskmesh bearer token"}); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	return nil
}

func deleteToken() error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}
	if err := ring.Remove(tokenKey); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting token: %w", err)
	}
	return nil
}
