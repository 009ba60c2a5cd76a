package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/theirongolddev/ynabmon/internal/model"
	"github.com/theirongolddev/ynabmon/internal/ynab"

	"github.com/shopspring/decimal"
)

var (
	// ErrNilBudget is returned when there is no budget to reduce.
	ErrNilBudget = errors.New("pipeline: nil budget")
	// ErrNoMonths is returned when the budget carries no month entries.
	ErrNoMonths = errors.New("pipeline: budget has no months")
	// ErrNoCurrentMonth is returned when no month entry matches today.
	ErrNoCurrentMonth = errors.New("pipeline: no month entry for current month")
)

// MonthKey returns the month identifier the API uses for the month containing t.
func MonthKey(t time.Time) string {
	return t.Format("2006-01") + "-01"
}

// Reduce flattens a budget into a Snapshot. It has no side effects and
// returns identical output for identical inputs. FetchedAt is set to today.
func Reduce(b *ynab.BudgetDetail, sel model.Selection, today time.Time) (*model.Snapshot, error) {
	if b == nil {
		return nil, ErrNilBudget
	}
	if len(b.Months) == 0 {
		return nil, ErrNoMonths
	}

	key := MonthKey(today)
	current := findMonth(b.Months, key)
	if current == nil {
		return nil, fmt.Errorf("%w (%s)", ErrNoCurrentMonth, key)
	}

	snap := &model.Snapshot{
		BudgetID:       b.ID,
		BudgetName:     b.Name,
		Month:          key,
		FetchedAt:      today,
		ToBeBudgeted:   model.MilliunitsToDecimal(b.Months[0].ToBeBudgeted),
		CurrencyCode:   b.CurrencyFormat.ISOCode,
		CurrencyDigits: b.CurrencyFormat.DecimalDigits,
		Accounts:       make(map[string]model.Account),
		Categories:     make(map[string]model.Category),
	}

	for _, tx := range b.Transactions {
		if tx.Approved == nil || !*tx.Approved {
			snap.NeedApproval++
		}
		if tx.Cleared == ynab.ClearedUncleared {
			snap.UnclearedTransactions++
		}
	}

	var total int64
	for _, a := range b.Accounts {
		if a.OnBudget {
			total += a.Balance
		}
		if !sel.WantsAccount(a.ID) {
			continue
		}
		snap.Accounts[a.ID] = model.Account{
			Name:    a.Name,
			Balance: model.MilliunitsToDecimal(a.Balance),
		}
	}
	snap.TotalBalance = model.MilliunitsToDecimal(total)

	snap.BudgetedThisMonth = model.MilliunitsToDecimal(current.Budgeted)
	snap.ActivityThisMonth = model.MilliunitsToDecimal(current.Activity)
	if current.AgeOfMoney != nil {
		age := *current.AgeOfMoney
		snap.AgeOfMoney = &age
	}

	for _, c := range current.Categories {
		if c.Balance < 0 {
			snap.OverspentCategories++
		}
		if !sel.WantsCategory(c.ID) {
			continue
		}
		snap.Categories[c.ID] = model.Category{
			Name:     c.Name,
			Balance:  model.MilliunitsToDecimal(c.Balance),
			Budgeted: model.MilliunitsToDecimal(c.Budgeted),
		}
	}

	return snap, nil
}

func findMonth(months []ynab.Month, key string) *ynab.Month {
	for i := range months {
		if months[i].Month == key {
			return &months[i]
		}
	}
	return nil
}

// SumBalances adds up the balances of the given accounts.
func SumBalances(accounts map[string]model.Account) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range accounts {
		sum = sum.Add(a.Balance)
	}
	return sum
}
