package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Secrets holds the Kite Connect credentials. They live outside the
// environment in a JSON file so a leaked process environment never carries
// them.
type Secrets struct {
	APIKey      string `json:"api_key"`
	APISecret   string `json:"api_secret"`
	AccessToken string `json:"access_token"`
	TOTPSecret  string `json:"totp_secret"`
}

// DefaultSecretsPath is where LoadSecrets looks when no path is configured.
func DefaultSecretsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".kite", "secrets"), nil
}

// LoadSecrets reads and validates the credentials file. An empty path falls
// back to DefaultSecretsPath.
func LoadSecrets(path string) (*Secrets, error) {
	if path == "" {
		p, err := DefaultSecretsPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read secrets %s: %w", path, err)
	}
	var s Secrets
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("config: parse secrets %s: %w", path, err)
	}
	if s.APIKey == "" || s.AccessToken == "" {
		return nil, fmt.Errorf("config: secrets %s must set api_key and access_token", path)
	}
	return &s, nil
}
