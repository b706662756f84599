// Package letter sends physical appeal letters through the external mail
// provider and owns the fulfillment dispatch step of the pipeline.
package letter

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

	"github.com/citewise/citewise/internal/catalog"
)

// PermanentError marks a failure no retry can fix (rejected address,
// malformed request). The worker dead-letters immediately instead of
// burning the remaining attempts.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string { return e.Reason }

// SendLetterParams is one physical letter.
type SendLetterParams struct {
	To             catalog.Address
	From           catalog.Address
	Body           string
	Certified      bool
	IdempotencyKey string
}

// SendResult carries the provider's tracking reference.
type SendResult struct {
	TrackingNumber string `json:"tracking_number"`
}

// Sender is the mail-provider boundary.
type Sender interface {
	SendLetter(ctx context.Context, params SendLetterParams) (*SendResult, error)
}

// HTTPSender talks to a Lob-style letter API. Timeouts and 5xx responses
// are transient; 4xx responses are permanent.
type HTTPSender struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPSender(baseURL, apiKey string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSender{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

var errMailTransient = errors.New("mail provider transient error")

func (s *HTTPSender) SendLetter(ctx context.Context, params SendLetterParams) (*SendResult, error) {
	payload := map[string]any{
		"to":        params.To,
		"from":      params.From,
		"body":      params.Body,
		"certified": params.Certified,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &PermanentError{Reason: fmt.Sprintf("encode letter: %v", err)}
	}

	var result SendResult
	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/letters", bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Idempotency-Key", params.IdempotencyKey)
			req.SetBasicAuth(s.apiKey, "")

			resp, err := s.client.Do(req)
			if err != nil {
				// A timeout is indistinguishable from a failure and is
				// treated identically: retry, then dead-letter.
				return fmt.Errorf("%w: %v", errMailTransient, err)
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return fmt.Errorf("%w: read response: %v", errMailTransient, err)
			}

			switch {
			case resp.StatusCode >= 500:
				return fmt.Errorf("%w: status %d", errMailTransient, resp.StatusCode)
			case resp.StatusCode >= 400:
				return retry.Unrecoverable(&PermanentError{
					Reason: fmt.Sprintf("mail provider rejected letter: status %d: %s", resp.StatusCode, respBody),
				})
			}

			if err := json.Unmarshal(respBody, &result); err != nil {
				return fmt.Errorf("%w: decode response: %v", errMailTransient, err)
			}
			if result.TrackingNumber == "" {
				return fmt.Errorf("%w: response carries no tracking number", errMailTransient)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("letter send failed, retrying", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
