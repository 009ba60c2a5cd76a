package pipeline

import (
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/theirongolddev/ynabmon/internal/model"
	"github.com/theirongolddev/ynabmon/internal/ynab"

	"github.com/shopspring/decimal"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func fixtureBudget() *ynab.BudgetDetail {
	return &ynab.BudgetDetail{
		ID:             "b1",
		Name:           "Household",
		CurrencyFormat: ynab.CurrencyFormat{ISOCode: "USD", DecimalDigits: 2},
		Accounts: []ynab.Account{
			{ID: "on", Name: "Checking", OnBudget: true, Balance: 150000},
			{ID: "off", Name: "Mortgage", OnBudget: false, Balance: 999000},
		},
		Months: []ynab.Month{
			{Month: "2026-11-01", ToBeBudgeted: 25500},
			{
				Month:      "2026-10-01",
				Budgeted:   200000,
				Activity:   -50000,
				AgeOfMoney: intPtr(12),
				Categories: []ynab.Category{
					{ID: "c1", Name: "Groceries", Balance: -1000, Budgeted: 40000},
					{ID: "c2", Name: "Rent", Balance: 0, Budgeted: 120000},
				},
			},
		},
		Transactions: []ynab.Transaction{
			{ID: "t1", Approved: boolPtr(true), Cleared: ynab.ClearedCleared},
			{ID: "t2", Approved: boolPtr(false), Cleared: ynab.ClearedUncleared},
			{ID: "t3", Approved: nil, Cleared: ynab.ClearedUncleared},
			{ID: "t4", Approved: boolPtr(true), Cleared: ynab.ClearedReconciled},
		},
	}
}

func TestReduce_Scenario(t *testing.T) {
	today := mustDate(t, "2026-10-18")
	snap, err := Reduce(fixtureBudget(), model.Selection{AccountsAll: true, CategoriesAll: true}, today)
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}

	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"TotalBalance", snap.TotalBalance, "150"},
		{"BudgetedThisMonth", snap.BudgetedThisMonth, "200"},
		{"ActivityThisMonth", snap.ActivityThisMonth, "-50"},
		{"ToBeBudgeted", snap.ToBeBudgeted, "25.5"},
	}
	for _, c := range checks {
		if !c.got.Equal(decimal.RequireFromString(c.want)) {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}

	if snap.AgeOfMoney == nil || *snap.AgeOfMoney != 12 {
		t.Errorf("AgeOfMoney = %v, want 12", snap.AgeOfMoney)
	}
	if snap.OverspentCategories != 1 {
		t.Errorf("OverspentCategories = %d, want 1", snap.OverspentCategories)
	}
	if snap.NeedApproval != 2 {
		t.Errorf("NeedApproval = %d, want 2 (false and missing)", snap.NeedApproval)
	}
	if snap.UnclearedTransactions != 2 {
		t.Errorf("UnclearedTransactions = %d, want 2", snap.UnclearedTransactions)
	}
	if snap.CurrencyCode != "USD" || snap.CurrencyDigits != 2 {
		t.Errorf("currency = %q/%d, want USD/2", snap.CurrencyCode, snap.CurrencyDigits)
	}
	if snap.Month != "2026-10-01" {
		t.Errorf("Month = %q, want 2026-10-01", snap.Month)
	}
	if got := snap.Categories["c1"]; got.Name != "Groceries" || !got.Budgeted.Equal(decimal.NewFromInt(40)) || !got.Balance.Equal(decimal.NewFromInt(-1)) {
		t.Errorf("category c1 = %+v", got)
	}
}

func TestReduce_ToBeBudgetedUsesFirstMonth(t *testing.T) {
	b := fixtureBudget()
	b.Months[1].ToBeBudgeted = 777000

	snap, err := Reduce(b, model.Selection{}, mustDate(t, "2026-10-02"))
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if !snap.ToBeBudgeted.Equal(decimal.RequireFromString("25.5")) {
		t.Fatalf("ToBeBudgeted = %s, want 25.5 from months[0]", snap.ToBeBudgeted)
	}
}

func TestReduce_NoCurrentMonth(t *testing.T) {
	_, err := Reduce(fixtureBudget(), model.Selection{}, mustDate(t, "2027-03-01"))
	if !errors.Is(err, ErrNoCurrentMonth) {
		t.Fatalf("err = %v, want ErrNoCurrentMonth", err)
	}
}

func TestReduce_NoMonthsAndNil(t *testing.T) {
	b := fixtureBudget()
	b.Months = nil
	if _, err := Reduce(b, model.Selection{}, mustDate(t, "2026-10-18")); !errors.Is(err, ErrNoMonths) {
		t.Fatalf("err = %v, want ErrNoMonths", err)
	}
	if _, err := Reduce(nil, model.Selection{}, mustDate(t, "2026-10-18")); !errors.Is(err, ErrNilBudget) {
		t.Fatalf("err = %v, want ErrNilBudget", err)
	}
}

func TestReduce_AccountAllowlistIntersection(t *testing.T) {
	sel := model.Selection{Accounts: []string{"off", "ghost"}}
	snap, err := Reduce(fixtureBudget(), sel, mustDate(t, "2026-10-18"))
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}

	if got := keys(snap.Accounts); !reflect.DeepEqual(got, []string{"off"}) {
		t.Fatalf("account keys = %v, want [off]", got)
	}
	// Total balance still covers every on-budget account.
	if !snap.TotalBalance.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("TotalBalance = %s, want 150", snap.TotalBalance)
	}
}

func TestReduce_CategoriesAllIgnoresAllowlist(t *testing.T) {
	sel := model.Selection{Categories: []string{"c2"}, CategoriesAll: true}
	snap, err := Reduce(fixtureBudget(), sel, mustDate(t, "2026-10-18"))
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if got := keys(snap.Categories); !reflect.DeepEqual(got, []string{"c1", "c2"}) {
		t.Fatalf("category keys = %v, want [c1 c2]", got)
	}
	if len(snap.Accounts) != 0 {
		t.Fatalf("accounts = %v, want none selected", snap.Accounts)
	}
}

func TestReduce_Idempotent(t *testing.T) {
	b := fixtureBudget()
	sel := model.Selection{Accounts: []string{"on"}, Categories: []string{"c1"}}
	today := mustDate(t, "2026-10-18")

	first, err := Reduce(b, sel, today)
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	second, err := Reduce(b, sel, today)
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("snapshots differ:\n%+v\n%+v", first, second)
	}
}

func TestMilliunitScaleIsExact(t *testing.T) {
	for _, x := range []int64{0, 1, -1, 999, 1000, 1001, -50000, 123456789, 9007199254740993} {
		got := model.MilliunitsToDecimal(x)
		back := got.Mul(decimal.NewFromInt(1000))
		if !back.Equal(decimal.NewFromInt(x)) {
			t.Errorf("scale(%d) = %s, round-trip %s", x, got, back)
		}
	}
}

func TestMonthKey(t *testing.T) {
	if got := MonthKey(mustDate(t, "2026-01-31")); got != "2026-01-01" {
		t.Fatalf("MonthKey = %q, want 2026-01-01", got)
	}
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
