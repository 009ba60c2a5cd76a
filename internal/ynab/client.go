// Package ynab provides a minimal client for the YNAB v1 REST API.
package ynab

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

	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the public API endpoint.
	DefaultBaseURL = "https://api.ynab.com/v1"

	requestTimeout = 30 * time.Second
	maxBodySize    = 32 << 20 // full budget exports can be large
	rateLimitHdr   = "X-Rate-Limit"
	userAgent      = "github.com/theirongolddev/ynabmon/1.0"
)

var (
	// ErrUnauthorized indicates the access token is expired or invalid.
	ErrUnauthorized = errors.New("ynab: unauthorized (access token expired or invalid)")
	// ErrNotFound indicates the budget does not exist or is not visible to the token.
	ErrNotFound = errors.New("ynab: resource not found")
	// ErrRateLimited indicates the hourly request quota is exhausted.
	ErrRateLimited = errors.New("ynab: rate limited")
	// ErrMissingRateLimit indicates a response without the X-Rate-Limit header.
	ErrMissingRateLimit = errors.New("ynab: response missing X-Rate-Limit header")
	// ErrMalformedResponse indicates a success response whose body has an unexpected shape.
	ErrMalformedResponse = errors.New("ynab: malformed response")
)

// Client talks to the YNAB API with a personal access token.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	baseURL string
	base    *http.Client
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(o *clientOptions) {
		if u != "" {
			o.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient sets the underlying client the bearer transport wraps.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.base = c }
}

// NewClient creates a client for the given access token.
// Returns nil if the token is empty.
func NewClient(token string, opts ...Option) *Client {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	o := clientOptions{baseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(&o)
	}

	ctx := context.Background()
	if o.base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.base)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})

	return &Client{
		baseURL: o.baseURL,
		http:    oauth2.NewClient(ctx, ts),
	}
}

// BaseURL returns the endpoint this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetBudget fetches a budget with all accounts, categories, months and transactions.
func (c *Client) GetBudget(ctx context.Context, budgetID string) (*BudgetDetail, error) {
	resp, err := c.do(ctx, http.MethodGet, "/budgets/"+url.PathEscape(budgetID))
	if err != nil {
		return nil, err
	}
	if err := resp.expect(http.StatusOK); err != nil {
		return nil, err
	}

	var out BudgetDetailResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, fmt.Errorf("ynab: parsing budget: %w", err)
	}
	return &out.Data.Budget, nil
}

// ListBudgets returns the budgets visible to the token.
func (c *Client) ListBudgets(ctx context.Context) ([]BudgetSummary, error) {
	resp, err := c.do(ctx, http.MethodGet, "/budgets")
	if err != nil {
		return nil, err
	}
	if err := resp.expect(http.StatusOK); err != nil {
		return nil, err
	}

	var out BudgetSummaryResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, fmt.Errorf("ynab: parsing budgets: %w", err)
	}
	return out.Data.Budgets, nil
}

// ImportTransactions asks the server to import transactions from linked
// accounts right away. Any deviation from a 200/201 JSON response carrying
// transaction_ids and the rate limit header is reported as an error.
func (c *Client) ImportTransactions(ctx context.Context, budgetID string) (ImportResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/budgets/"+url.PathEscape(budgetID)+"/transactions/import")
	if err != nil {
		return ImportResult{}, err
	}
	if err := resp.expect(http.StatusOK, http.StatusCreated); err != nil {
		return ImportResult{}, err
	}

	var out ImportResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return ImportResult{}, fmt.Errorf("ynab: parsing import: %w", err)
	}
	if out.Data.TransactionIDs == nil {
		return ImportResult{}, fmt.Errorf("%w: import body has no transaction_ids", ErrMalformedResponse)
	}

	limit := resp.header.Get(rateLimitHdr)
	if limit == "" {
		return ImportResult{}, ErrMissingRateLimit
	}

	return ImportResult{
		TransactionIDs: *out.Data.TransactionIDs,
		RateLimit:      limit,
	}, nil
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// expect maps any status outside accepted to an error.
func (r *response) expect(accepted ...int) error {
	for _, s := range accepted {
		if r.status == s {
			return nil
		}
	}

	switch r.status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}

	apiErr := &APIError{Status: r.status}
	var er ErrorResponse
	if err := json.Unmarshal(r.body, &er); err == nil {
		apiErr.ID = er.Error.ID
		apiErr.Name = er.Error.Name
		apiErr.Detail = er.Error.Detail
	}
	return apiErr
}

// do performs an authenticated request and returns the buffered response.
func (c *Client) do(ctx context.Context, method, path string) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("ynab: creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ynab: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("ynab: reading response: %w", err)
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}
