package ynab

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const budgetJSON = `{"data":{"server_knowledge":42,"budget":{
	"id":"b1","name":"Household",
	"currency_format":{"iso_code":"EUR"},
	"accounts":[{"id":"a1","name":"Checking","on_budget":true,"balance":150000}],
	"months":[{"month":"2026-10-01","budgeted":200000,"activity":-50000,"to_be_budgeted":1000,"age_of_money":12,
		"categories":[{"id":"c1","name":"Groceries","balance":-1000,"budgeted":50000}]}],
	"transactions":[{"id":"t1","amount":-1000,"cleared":"uncleared","approved":false}]
}}}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient("secret-token", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	if c == nil {
		t.Fatal("NewClient returned nil")
	}
	return c
}

func TestNewClient_EmptyToken(t *testing.T) {
	if c := NewClient("   "); c != nil {
		t.Fatal("NewClient with blank token should return nil")
	}
}

func TestGetBudget(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/budgets/b1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = w.Write([]byte(budgetJSON))
	})

	b, err := c.GetBudget(context.Background(), "b1")
	if err != nil {
		t.Fatalf("GetBudget: %v", err)
	}
	if b.ID != "b1" || b.CurrencyFormat.ISOCode != "EUR" {
		t.Fatalf("unexpected budget header: %+v", b)
	}
	if len(b.Accounts) != 1 || b.Accounts[0].Balance != 150000 {
		t.Fatalf("accounts = %+v", b.Accounts)
	}
	if len(b.Months) != 1 || b.Months[0].AgeOfMoney == nil || *b.Months[0].AgeOfMoney != 12 {
		t.Fatalf("months = %+v", b.Months)
	}
	if len(b.Transactions) != 1 || b.Transactions[0].Approved == nil || *b.Transactions[0].Approved {
		t.Fatalf("transactions = %+v", b.Transactions)
	}
}

func TestGetBudget_StatusErrors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusTooManyRequests, ErrRateLimited},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		})
		_, err := c.GetBudget(context.Background(), "b1")
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestGetBudget_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"id":"503","name":"service_unavailable","detail":"down"}}`))
	})

	_, err := c.GetBudget(context.Background(), "b1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusServiceUnavailable || apiErr.Name != "service_unavailable" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

func TestImportTransactions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/budgets/b1/transactions/import" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("X-Rate-Limit", "12/200")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"transaction_ids":["t1","t2","t3"]}}`))
	})

	res, err := c.ImportTransactions(context.Background(), "b1")
	if err != nil {
		t.Fatalf("ImportTransactions: %v", err)
	}
	if res.Imported() != 3 {
		t.Errorf("Imported() = %d, want 3", res.Imported())
	}
	if res.RateLimit != "12/200" {
		t.Errorf("RateLimit = %q, want 12/200", res.RateLimit)
	}
}

func TestImportTransactions_Failures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		header string
		body   string
	}{
		{"server error", http.StatusInternalServerError, "1/200", `{}`},
		{"no content", http.StatusNoContent, "1/200", ``},
		{"malformed json", http.StatusOK, "1/200", `{"data":`},
		{"missing ids", http.StatusOK, "1/200", `{"data":{}}`},
		{"missing rate limit header", http.StatusOK, "", `{"data":{"transaction_ids":[]}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				if tc.header != "" {
					w.Header().Set("X-Rate-Limit", tc.header)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			if _, err := c.ImportTransactions(context.Background(), "b1"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestListBudgets(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/budgets" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":{"budgets":[{"id":"b1","name":"Household"},{"id":"b2","name":"Business"}]}}`))
	})

	budgets, err := c.ListBudgets(context.Background())
	if err != nil {
		t.Fatalf("ListBudgets: %v", err)
	}
	if len(budgets) != 2 || budgets[1].Name != "Business" {
		t.Fatalf("budgets = %+v", budgets)
	}
}
