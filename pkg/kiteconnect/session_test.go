package kiteconnect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"

	"github.com/pquerna/otp/totp"
)

func TestTwoFACode(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "kite", AccountName: "test"})
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}

	code, err := TwoFACode(key.Secret())
	if err != nil {
		t.Fatalf("TwoFACode: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("expected 6-digit code, got %q", code)
	}
	if !totp.Validate(code, key.Secret()) {
		t.Error("generated code does not validate against the secret")
	}
}

func TestGenerateSession_SendsChecksumAndInstallsToken(t *testing.T) {
	var gotChecksum string
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/session/token" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		r.ParseForm()
		gotChecksum = r.PostForm.Get("checksum")
		fmt.Fprint(w, `{"status":"success","data":{"access_token":"fresh-token","user_id":"AB1234"}}`)
	})

	token, err := c.GenerateSession(context.Background(), "req-token", "api-secret")
	if err != nil {
		t.Fatalf("GenerateSession: %v", err)
	}
	if token != "fresh-token" {
		t.Errorf("token = %q, want fresh-token", token)
	}

	sum := sha256.Sum256([]byte("key" + "req-token" + "api-secret"))
	if gotChecksum != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum = %q, want sha256(api_key+request_token+api_secret)", gotChecksum)
	}
	if c.accessToken != "fresh-token" {
		t.Errorf("access token not installed, got %q", c.accessToken)
	}
}
