package kiteconnect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pquerna/otp/totp"
)

// TwoFACode generates the current TOTP code from the account's 2FA secret.
// Used by automated session renewal flows where no human types the code.
func TwoFACode(secret string) (string, error) {
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		return "", fmt.Errorf("kiteconnect: generate totp: %w", err)
	}
	return code, nil
}

// sessionData is the token payload of /session/token.
type sessionData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
}

// GenerateSession exchanges a request token for an access token using the
// documented checksum scheme (sha256 of api_key + request_token + api_secret)
// and installs the access token on the client.
func (c *Client) GenerateSession(ctx context.Context, requestToken, apiSecret string) (string, error) {
	sum := sha256.Sum256([]byte(c.apiKey + requestToken + apiSecret))

	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("request_token", requestToken)
	params.Set("checksum", hex.EncodeToString(sum[:]))

	resp, err := c.do(ctx, http.MethodPost, "session.token", params)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("kiteconnect: decode session response: %w", err)
	}
	if env.Status != "success" {
		return "", fmt.Errorf("kiteconnect: session failed: %s: %s", env.ErrorType, env.Message)
	}
	var data sessionData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("kiteconnect: decode session data: %w", err)
	}
	if data.AccessToken == "" {
		return "", fmt.Errorf("kiteconnect: session returned empty access token")
	}
	c.SetAccessToken(data.AccessToken)
	return data.AccessToken, nil
}
