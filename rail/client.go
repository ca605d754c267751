package rail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"rei360.com/oauth"
	"rei360.com/shared"
)

// ErrTimeout means the rail did not answer in time. The request may still
// have been applied; callers must not blindly retry a payment.
var ErrTimeout = errors.New("rail: request timed out")

// ErrNotFound means the rail has no payment under the idempotency key.
var ErrNotFound = errors.New("rail: payment not found")

// DeclinedError is a deterministic rejection by the rail.
type DeclinedError struct {
	Status  int
	Message string
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("rail declined (%d): %s", e.Status, e.Message)
}

// PayoutLeg is one destination of a disbursement.
type PayoutLeg struct {
	Destination string `json:"destination"`
	Amount      int64  `json:"amount"`
}

// PayoutRequest asks the rail to move money. Legs under one idempotency key
// are settled all-or-nothing by the rail; repeating the same key is a no-op
// that returns the original receipt.
type PayoutRequest struct {
	IdempotencyKey string      `json:"idempotencyKey"`
	Currency       string      `json:"currency"`
	Legs           []PayoutLeg `json:"legs"`
}

type Receipt struct {
	ID             string    `json:"id"`
	IdempotencyKey string    `json:"idempotencyKey"`
	Duplicate      bool      `json:"duplicate"`
	ProcessedAt    time.Time `json:"processedAt"`
}

// PartyDestination addresses a platform user's disbursement account.
func PartyDestination(userID uint) string {
	return fmt.Sprintf("party:%d", userID)
}

// PlatformDestination addresses the platform fee account.
func PlatformDestination() string {
	return "platform:fees"
}

// Client talks to the external payout rail over HTTP, authenticating with
// OAuth2 client credentials.
type Client struct {
	baseURL string
	oauth   *oauth.Client
	http    *http.Client
	timeout time.Duration
}

func NewClient(oauthClient *oauth.Client) *Client {
	timeout := 15 * time.Second
	if raw := os.Getenv("PAYOUT_RAIL_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			timeout = d
		}
	}
	return &Client{
		baseURL: os.Getenv("PAYOUT_RAIL_BASE_URL"),
		oauth:   oauthClient,
		http:    shared.HttpClient(),
		timeout: timeout,
	}
}

// Pay submits a disbursement. A duplicate submission under the same
// idempotency key returns the original receipt with Duplicate set.
func (c *Client) Pay(ctx context.Context, req PayoutRequest) (*Receipt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payouts", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if err := c.authorize(httpReq); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if timedOut(err) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return decodeReceipt(resp.Body)
	case resp.StatusCode == http.StatusConflict:
		// Idempotent duplicate; the rail echoes the original receipt.
		receipt, err := decodeReceipt(resp.Body)
		if err != nil {
			return nil, err
		}
		receipt.Duplicate = true
		return receipt, nil
	case resp.StatusCode == http.StatusGatewayTimeout:
		return nil, ErrTimeout
	default:
		msg, _ := io.ReadAll(resp.Body)
		return nil, &DeclinedError{Status: resp.StatusCode, Message: string(msg)}
	}
}

// Lookup fetches the receipt recorded under an idempotency key, if any.
// Used by the reconciliation sweep; never creates a payment.
func (c *Client) Lookup(ctx context.Context, idempotencyKey string) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payouts/"+idempotencyKey, nil)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(httpReq); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if timedOut(err) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeReceipt(resp.Body)
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		msg, _ := io.ReadAll(resp.Body)
		return nil, &DeclinedError{Status: resp.StatusCode, Message: string(msg)}
	}
}

func (c *Client) authorize(req *http.Request) error {
	if c.oauth == nil {
		return nil
	}
	header, err := c.oauth.GetAuthorizationHeader()
	if err != nil {
		return fmt.Errorf("rail auth: %w", err)
	}
	req.Header.Set("Authorization", header)
	return nil
}

func decodeReceipt(r io.Reader) (*Receipt, error) {
	var receipt Receipt
	if err := json.NewDecoder(r).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("rail: malformed receipt: %w", err)
	}
	return &receipt, nil
}

func timedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
