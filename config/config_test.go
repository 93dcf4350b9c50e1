package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseSymbols(t *testing.T) {
	c := &Config{Symbols: " NFO:NIFTY, NFO:BANKNIFTY ,,NFO:RELIANCE"}
	got := c.ParseSymbols()
	want := []string{"NFO:NIFTY", "NFO:BANKNIFTY", "NFO:RELIANCE"}
	if len(got) != len(want) {
		t.Fatalf("got %d symbols, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("symbol %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoadSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets")
	body := `{"api_key":"k","api_secret":"s","access_token":"tok","totp_secret":"otp"}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := LoadSecrets(path)
	if err != nil {
		t.Fatalf("LoadSecrets: %v", err)
	}
	if s.APIKey != "k" || s.AccessToken != "tok" || s.TOTPSecret != "otp" {
		t.Errorf("unexpected secrets: %+v", s)
	}
}

func TestLoadSecrets_MissingRequiredFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets")
	if err := os.WriteFile(path, []byte(`{"api_key":"k"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSecrets(path); err == nil {
		t.Fatal("expected error for missing access_token")
	}
}

func TestLoadSecrets_MissingFile(t *testing.T) {
	if _, err := LoadSecrets(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
