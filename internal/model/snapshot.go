package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the flattened budget state produced by one refresh.
// It is replaced wholesale and never mutated after publication.
type Snapshot struct {
	BudgetID   string    `json:"budget_id"`
	BudgetName string    `json:"budget_name"`
	Month      string    `json:"month"`
	FetchedAt  time.Time `json:"fetched_at"`

	ToBeBudgeted      decimal.Decimal `json:"to_be_budgeted"`
	TotalBalance      decimal.Decimal `json:"total_balance"`
	BudgetedThisMonth decimal.Decimal `json:"budgeted_this_month"`
	ActivityThisMonth decimal.Decimal `json:"activity_this_month"`

	AgeOfMoney            *int `json:"age_of_money"`
	NeedApproval          int  `json:"need_approval"`
	UnclearedTransactions int  `json:"uncleared_transactions"`
	OverspentCategories   int  `json:"overspent_categories"`

	// CurrencyCode and CurrencyDigits come from the budget's currency
	// format. Amounts are shown with CurrencyDigits decimals.
	CurrencyCode   string `json:"currency_code"`
	CurrencyDigits int    `json:"currency_decimal_digits"`

	Accounts   map[string]Account  `json:"accounts"`
	Categories map[string]Category `json:"categories"`
}

// Account is a selected account balance.
type Account struct {
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

// Category is a selected category for the current month.
type Category struct {
	Name     string          `json:"name"`
	Balance  decimal.Decimal `json:"balance"`
	Budgeted decimal.Decimal `json:"budgeted"`
}

// Selection decides which accounts and categories end up in a Snapshot.
type Selection struct {
	BudgetID      string
	Categories    []string
	CategoriesAll bool
	Accounts      []string
	AccountsAll   bool
}

// WantsAccount reports whether an account id is selected.
func (s Selection) WantsAccount(id string) bool {
	return s.AccountsAll || contains(s.Accounts, id)
}

// WantsCategory reports whether a category id is selected.
func (s Selection) WantsCategory(id string) bool {
	return s.CategoriesAll || contains(s.Categories, id)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// MilliunitsToDecimal converts an API milliunit amount to major units.
// The scale is exact; no rounding takes place.
func MilliunitsToDecimal(v int64) decimal.Decimal {
	return decimal.New(v, -3)
}
