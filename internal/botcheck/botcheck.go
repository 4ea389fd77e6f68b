// Package botcheck scores form submissions against a CAPTCHA verification
// API. Registration rejects submissions the service flags as automated.
package botcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrBotSuspected is returned when the verification service rejects the
// submission or scores it below the configured threshold.
var ErrBotSuspected = errors.New("submission flagged as automated")

const defaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

type Client struct {
	secret     string
	verifyURL  string
	minScore   float64
	httpClient *http.Client
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	Action     string   `json:"action"`
	ErrorCodes []string `json:"error-codes"`
}

// NewClient builds a verifier. An empty secret disables verification
// entirely; with a secret set, verification failures reject the request.
func NewClient(secret string, minScore float64) *Client {
	if minScore <= 0 {
		minScore = 0.5
	}
	return &Client{
		secret:    strings.TrimSpace(secret),
		verifyURL: defaultVerifyURL,
		minScore:  minScore,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Enabled() bool {
	return c.secret != ""
}

// Verify checks a client-side token against the verification API. When the
// API names an expected action it must match the one the form declared.
func (c *Client) Verify(ctx context.Context, token, action string) error {
	if !c.Enabled() {
		return nil
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return ErrBotSuspected
	}

	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read verify response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("verify failed with status %d", resp.StatusCode)
	}

	var parsed verifyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decode verify response: %w", err)
	}

	if !parsed.Success {
		return ErrBotSuspected
	}
	if parsed.Score < c.minScore {
		return ErrBotSuspected
	}
	if action != "" && parsed.Action != "" && parsed.Action != action {
		return ErrBotSuspected
	}

	return nil
}
