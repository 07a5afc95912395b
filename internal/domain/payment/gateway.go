package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Gateway is the external payment provider boundary.
type Gateway interface {
	// Authorize requests an authorization hold for the given amount.
	// Retryable failures are retried up to the configured attempt cap;
	// terminal (4xx) failures are surfaced immediately. The returned
	// *Error always carries the number of attempts made.
	Authorize(ctx context.Context, orderID int64, amount decimal.Decimal) (*AuthResult, error)

	// Void releases a previously granted authorization. Never retried:
	// the caller decides whether to re-drive the cancellation.
	Void(ctx context.Context, authorizationID string) error
}

// AuthResult is a successful authorization.
type AuthResult struct {
	AuthorizationID string
	Attempts        int
}

// ClientConfig configures the HTTP gateway client. The retry predicate
// (retry 5xx/network, never 4xx) is a hard contract and not
// configurable; only the bounds are.
type ClientConfig struct {
	AuthorizeURL  string
	VoidURL       string
	Timeout       time.Duration
	MaxAttempts   int
	RetryDelay    time.Duration
	Currency      string
	PaymentMethod string
}

// Client implements Gateway over HTTP.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient creates a gateway Client. Zero config fields fall back to
// 5s timeout, 3 attempts, 500ms delay, USD/CARD.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.PaymentMethod == "" {
		cfg.PaymentMethod = "CARD"
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type authorizeRequest struct {
	OrderID       int64  `json:"orderId"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"paymentMethod"`
}

type authorizeResponse struct {
	AuthorizationID string `json:"authorizationId"`
	Status          string `json:"status"`
}

type voidRequest struct {
	AuthorizationID string `json:"authorizationId"`
}

// Authorize implements Gateway.
func (c *Client) Authorize(ctx context.Context, orderID int64, amount decimal.Decimal) (*AuthResult, error) {
	var (
		attempts int
		result   AuthResult
	)

	op := func() error {
		attempts++
		err := c.authorizeOnce(ctx, orderID, amount, &result)
		if err == nil {
			return nil
		}
		var gerr *Error
		if errors.As(err, &gerr) && !gerr.Retryable {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), uint64(c.cfg.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, bo); err != nil {
		var gerr *Error
		if errors.As(err, &gerr) {
			gerr.Attempts = attempts
			return nil, gerr
		}
		return nil, &Error{Message: err.Error(), Retryable: true, Attempts: attempts}
	}

	result.Attempts = attempts
	return &result, nil
}

func (c *Client) authorizeOnce(ctx context.Context, orderID int64, amount decimal.Decimal, out *AuthResult) error {
	body := authorizeRequest{
		OrderID:       orderID,
		Amount:        amount.StringFixed(2),
		Currency:      c.cfg.Currency,
		PaymentMethod: c.cfg.PaymentMethod,
	}

	status, respBody, err := c.post(ctx, c.cfg.AuthorizeURL, body)
	if err != nil {
		// Network errors and timeouts are retryable by contract.
		return &Error{Message: err.Error(), Retryable: true}
	}

	switch {
	case status >= 200 && status < 300:
		var resp authorizeResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return &Error{Message: "malformed gateway response: " + err.Error(), Retryable: false, StatusCode: status}
		}
		if resp.AuthorizationID == "" {
			return &Error{Message: "gateway response missing authorizationId", Retryable: false, StatusCode: status}
		}
		out.AuthorizationID = resp.AuthorizationID
		return nil

	case status >= 400 && status < 500:
		return &Error{
			Message:    "payment authorization rejected: " + truncate(respBody, 256),
			Retryable:  false,
			StatusCode: status,
		}

	default:
		return &Error{
			Message:    "payment service unavailable",
			Retryable:  true,
			StatusCode: status,
		}
	}
}

// Void implements Gateway.
func (c *Client) Void(ctx context.Context, authorizationID string) error {
	status, respBody, err := c.post(ctx, c.cfg.VoidURL, voidRequest{AuthorizationID: authorizationID})
	if err != nil {
		return &Error{Message: err.Error(), Retryable: true, Attempts: 1}
	}
	if status >= 200 && status < 300 {
		return nil
	}
	return &Error{
		Message:    "payment void rejected: " + truncate(respBody, 256),
		Retryable:  status >= 500,
		StatusCode: status,
		Attempts:   1,
	}
}

func (c *Client) post(ctx context.Context, url string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "marshal request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, errors.Wrap(err, "read response")
	}
	return resp.StatusCode, respBody, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
