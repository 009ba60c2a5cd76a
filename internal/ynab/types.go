package ynab

import "fmt"

// BudgetDetailResponse is the envelope returned by GET /budgets/{id}.
type BudgetDetailResponse struct {
	Data struct {
		Budget          BudgetDetail `json:"budget"`
		ServerKnowledge int64        `json:"server_knowledge"`
	} `json:"data"`
}

// BudgetDetail is a budget with all related entities. Amounts are milliunits.
type BudgetDetail struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	LastModifiedOn string         `json:"last_modified_on"`
	CurrencyFormat CurrencyFormat `json:"currency_format"`
	Accounts       []Account      `json:"accounts"`
	Months         []Month        `json:"months"`
	Transactions   []Transaction  `json:"transactions"`
}

// CurrencyFormat describes how the budget displays money.
type CurrencyFormat struct {
	ISOCode          string `json:"iso_code"`
	DecimalDigits    int    `json:"decimal_digits"`
	DecimalSeparator string `json:"decimal_separator"`
	SymbolFirst      bool   `json:"symbol_first"`
	GroupSeparator   string `json:"group_separator"`
	CurrencySymbol   string `json:"currency_symbol"`
	DisplaySymbol    bool   `json:"display_symbol"`
}

// Account is a single budget account.
type Account struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	OnBudget bool   `json:"on_budget"`
	Closed   bool   `json:"closed"`
	Balance  int64  `json:"balance"`
	Deleted  bool   `json:"deleted"`
}

// Month is one budget month. Month is formatted as YYYY-MM-01.
// AgeOfMoney is null until the budget has enough history.
type Month struct {
	Month        string     `json:"month"`
	Income       int64      `json:"income"`
	Budgeted     int64      `json:"budgeted"`
	Activity     int64      `json:"activity"`
	ToBeBudgeted int64      `json:"to_be_budgeted"`
	AgeOfMoney   *int       `json:"age_of_money"`
	Deleted      bool       `json:"deleted"`
	Categories   []Category `json:"categories"`
}

// Category is a budget category as reported within a month.
type Category struct {
	ID              string `json:"id"`
	CategoryGroupID string `json:"category_group_id"`
	Name            string `json:"name"`
	Hidden          bool   `json:"hidden"`
	Budgeted        int64  `json:"budgeted"`
	Activity        int64  `json:"activity"`
	Balance         int64  `json:"balance"`
	Deleted         bool   `json:"deleted"`
}

// Transaction carries only the fields the reducer counts on.
// Approved is a pointer so a missing field is distinguishable from false.
type Transaction struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Amount    int64  `json:"amount"`
	Cleared   string `json:"cleared"`
	Approved  *bool  `json:"approved"`
	AccountID string `json:"account_id"`
	Deleted   bool   `json:"deleted"`
}

// Cleared states.
const (
	ClearedCleared    = "cleared"
	ClearedUncleared  = "uncleared"
	ClearedReconciled = "reconciled"
)

// BudgetSummary is an entry in the GET /budgets listing.
type BudgetSummary struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	LastModifiedOn string         `json:"last_modified_on"`
	CurrencyFormat CurrencyFormat `json:"currency_format"`
}

// BudgetSummaryResponse is the envelope returned by GET /budgets.
type BudgetSummaryResponse struct {
	Data struct {
		Budgets []BudgetSummary `json:"budgets"`
	} `json:"data"`
}

// ImportResponse is the envelope returned by the transaction import endpoint.
// TransactionIDs is a pointer so a body without the field is rejected.
type ImportResponse struct {
	Data struct {
		TransactionIDs *[]string `json:"transaction_ids"`
	} `json:"data"`
}

// ImportResult summarizes a forced import.
type ImportResult struct {
	TransactionIDs []string
	RateLimit      string
}

// Imported returns the number of newly imported transactions.
func (r ImportResult) Imported() int {
	return len(r.TransactionIDs)
}

// ErrorResponse is the API error envelope.
type ErrorResponse struct {
	Error struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Detail string `json:"detail"`
	} `json:"error"`
}

// APIError is returned for non-success responses that have no sentinel.
type APIError struct {
	Status int
	ID     string
	Name   string
	Detail string
}

func (e *APIError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("ynab: unexpected status %d (%s: %s)", e.Status, e.Name, e.Detail)
	}
	return fmt.Sprintf("ynab: unexpected status %d", e.Status)
}
