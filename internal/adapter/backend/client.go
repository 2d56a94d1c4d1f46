// Package backend is the service layer: one HTTP call to the payment and
// cartable backend per domain operation, bearer token attached.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"cartable/internal/domain"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

const (
	maxBodyBytes   = 4 << 20
	maxMessageRune = 200
)

// Observer receives the outcome of every backend call.
type Observer func(operation string, status int, d time.Duration, err error)

// Client calls the backend. It keeps no per-user state and does not retry.
type Client struct {
	baseURL string
	http    *http.Client
	observe Observer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the transport used beneath bearer attachment.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithObserver registers a per-call callback, used for metrics.
func WithObserver(o Observer) Option {
	return func(cl *Client) { cl.observe = o }
}

// New creates a Client for the backend rooted at baseURL.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ domain.Backend = (*Client)(nil)

// SelectAccounts returns the accounts matching q.
func (c *Client) SelectAccounts(ctx context.Context, token string, q domain.AccountQuery) ([]domain.Account, error) {
	var out itemList[domain.Account]
	if err := c.do(ctx, token, "select accounts", http.MethodPost, "/api/accounts/select", q, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Account{}
	}
	return out, nil
}

// ListPaymentOrders returns one page of the user's cartable.
func (c *Client) ListPaymentOrders(ctx context.Context, token string, f domain.PaymentOrderFilter) (*domain.PaymentOrderPage, error) {
	var page domain.PaymentOrderPage
	if err := c.do(ctx, token, "list payment orders", http.MethodPost, "/api/payment-orders/cartable", f, &page); err != nil {
		return nil, err
	}
	if page.Items == nil {
		page.Items = []domain.PaymentOrder{}
	}
	return &page, nil
}

// TransactionProgress returns the per-day transaction tallies for the last
// days days. Days without transactions may be absent.
func (c *Client) TransactionProgress(ctx context.Context, token string, days int) ([]domain.ProgressPoint, error) {
	var out itemList[domain.ProgressPoint]
	path := "/api/dashboard/transaction-progress?" + url.Values{"days": {strconv.Itoa(days)}}.Encode()
	if err := c.do(ctx, token, "transaction progress", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, token, op, method, path string, in, out any) (err error) {
	start := time.Now()
	status := 0
	if c.observe != nil {
		defer func() { c.observe(op, status, time.Since(start), err) }()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: %s: encode: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.bearerClient(ctx, token).Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", op, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	status = resp.StatusCode

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("backend: %s: read body: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.UpstreamError{Operation: "backend: " + op, Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(unwrap(raw), out); err != nil {
		return fmt.Errorf("backend: %s: decode: %w", op, err)
	}
	return nil
}

// bearerClient layers the Authorization header over the configured client.
func (c *Client) bearerClient(ctx context.Context, token string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	hc.Timeout = c.http.Timeout
	return hc
}

// unwrap strips the {"data": ...} envelope some backend endpoints use.
func unwrap(raw []byte) []byte {
	if !gjson.ValidBytes(raw) {
		return raw
	}
	if data := gjson.GetBytes(raw, "data"); data.Exists() && (data.IsObject() || data.IsArray()) {
		return []byte(data.Raw)
	}
	return raw
}

// itemList decodes either a bare JSON array or an {"items": [...]} object.
type itemList[T any] []T

func (l *itemList[T]) UnmarshalJSON(b []byte) error {
	if gjson.ParseBytes(b).IsArray() {
		var items []T
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var wrapped struct {
		Items []T `json:"items"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	*l = wrapped.Items
	return nil
}

func errorMessage(raw []byte) string {
	if gjson.ValidBytes(raw) {
		for _, path := range []string{"message", "error.message", "error", "title", "detail"} {
			if v := gjson.GetBytes(raw, path); v.Exists() && v.Type == gjson.String && v.Str != "" {
				return v.Str
			}
		}
	}
	msg := strings.TrimSpace(string(raw))
	if utf8.RuneCountInString(msg) > maxMessageRune {
		msg = string([]rune(msg)[:maxMessageRune])
	}
	return msg
}
