// Package payment holds the payment-provider boundary: the checkout
// session client, webhook signature verification, and the webhook state
// machine that turns payment events into fulfillment work.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// CreateSessionParams describes one checkout session. Metadata carries
// internal row IDs only, never letter text, addresses, or contact PII.
type CreateSessionParams struct {
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	Metadata    map[string]string `json:"metadata"`
	SuccessURL  string            `json:"success_url"`
	CancelURL   string            `json:"cancel_url"`
}

// Session is the provider's created checkout session.
type Session struct {
	ID          string `json:"id"`
	RedirectURL string `json:"url"`
}

// Provider creates checkout sessions with the external payment processor.
type Provider interface {
	CreateSession(ctx context.Context, params CreateSessionParams) (*Session, error)
}

// HTTPProvider talks to a Stripe-style checkout session API.
type HTTPProvider struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

func NewHTTPProvider(baseURL, secretKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPProvider{
		baseURL:   baseURL,
		secretKey: secretKey,
		client:    &http.Client{Timeout: timeout},
	}
}

var errProviderTransient = errors.New("payment provider transient error")

func (p *HTTPProvider) CreateSession(ctx context.Context, params CreateSessionParams) (*Session, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode session params: %w", err)
	}

	var session Session
	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+p.secretKey)

			resp, err := p.client.Do(req)
			if err != nil {
				return fmt.Errorf("%w: %v", errProviderTransient, err)
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return fmt.Errorf("%w: read response: %v", errProviderTransient, err)
			}

			switch {
			case resp.StatusCode >= 500:
				return fmt.Errorf("%w: status %d", errProviderTransient, resp.StatusCode)
			case resp.StatusCode >= 400:
				return retry.Unrecoverable(fmt.Errorf("payment provider rejected session: status %d: %s", resp.StatusCode, respBody))
			}

			if err := json.Unmarshal(respBody, &session); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode session response: %w", err))
			}
			if session.ID == "" || session.RedirectURL == "" {
				return retry.Unrecoverable(errors.New("payment provider returned an incomplete session"))
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("checkout session creation failed, retrying", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return &session, nil
}
