package qsdk

import (
	"errors"
	"strings"

	"github.com/zalando/go-keyring"
)

const keyringService = "qci"

// normalizeKey converts a baseURL into a stable key name for keyring storage.
func normalizeKey(baseURL string) string {
	s := strings.TrimSpace(baseURL)
	s = strings.TrimRight(s, "/")
	s = strings.ToLower(s)
	return s
}

// SaveToken stores the token in the OS keyring under the normalized baseURL.
func SaveToken(baseURL string, token string) error {
	return keyring.Set(keyringService, normalizeKey(baseURL), token)
}

// LoadToken retrieves the token stored for baseURL. A missing entry is not
// an error; it returns "".
func LoadToken(baseURL string) (string, error) {
	token, err := keyring.Get(keyringService, normalizeKey(baseURL))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	return token, err
}

// DeleteToken removes the token for baseURL. Deleting a missing entry is
// not an error.
func DeleteToken(baseURL string) error {
	err := keyring.Delete(keyringService, normalizeKey(baseURL))
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// ResolveToken prefers an explicit token (flag, QCI_TOKEN or config file)
// over the keyring.
func ResolveToken(cfg *Config) (string, error) {
	if cfg.Token != "" {
		return cfg.Token, nil
	}
	return LoadToken(cfg.BaseURL)
}
