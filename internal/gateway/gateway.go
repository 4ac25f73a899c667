// Package gateway is the thin client for the external Lightning payment
// rail (an LNbits instance). It performs no retries: every call here is a
// billable side effect, so retry and backoff policy stays with the caller.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrUnavailable marks a transport failure or gateway-side error. The
	// caller may retry; no state was committed.
	ErrUnavailable = errors.New("escrow gateway unavailable")
	// ErrInvalidAmount rejects zero or negative amounts before any
	// request is made.
	ErrInvalidAmount = errors.New("amount must be positive")
)

const requestTimeout = 10 * time.Second

type Invoice struct {
	PaymentRequest string `json:"payment_request"`
	PaymentHash    string `json:"payment_hash"`
}

type PayoutLink struct {
	LNURL string `json:"lnurl"`
	ID    string `json:"id"`
}

type Client struct {
	baseURL    string
	invoiceKey string
	adminKey   string
	httpClient *http.Client
}

func NewClient(baseURL, invoiceKey, adminKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		invoiceKey: invoiceKey,
		adminKey:   adminKey,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path, apiKey string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, detail)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// CreateInvoice asks the rail for a stake deposit invoice.
func (c *Client) CreateInvoice(ctx context.Context, amount int64, memo string) (*Invoice, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var inv Invoice
	err := c.do(ctx, http.MethodPost, "/api/v1/payments", c.invoiceKey, map[string]any{
		"out":    false,
		"amount": amount,
		"memo":   memo,
	}, &inv)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// IsPaid polls an invoice by its payment hash. Safe to call repeatedly.
func (c *Client) IsPaid(ctx context.Context, paymentHash string) (bool, error) {
	var status struct {
		Paid bool `json:"paid"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/payments/"+paymentHash, c.invoiceKey, nil, &status); err != nil {
		return false, err
	}
	return status.Paid, nil
}

// CreatePayoutLink mints a single-use LNURL-withdraw link for exactly amount.
func (c *Client) CreatePayoutLink(ctx context.Context, amount int64, memo string) (*PayoutLink, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var link PayoutLink
	err := c.do(ctx, http.MethodPost, "/withdraw/api/v1/links", c.adminKey, map[string]any{
		"title":            memo,
		"min_withdrawable": amount,
		"max_withdrawable": amount,
		"uses":             1,
		"wait_time":        1,
		"is_unique":        false,
	}, &link)
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// IsPayoutClaimed reports whether a withdraw link has been consumed.
func (c *Client) IsPayoutClaimed(ctx context.Context, linkID string) (bool, error) {
	var status struct {
		Used int `json:"used"`
	}
	if err := c.do(ctx, http.MethodGet, "/withdraw/api/v1/links/"+linkID, c.adminKey, nil, &status); err != nil {
		return false, err
	}
	return status.Used >= 1, nil
}
