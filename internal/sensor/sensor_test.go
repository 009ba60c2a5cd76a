package sensor

import (
	"errors"
	"testing"

	"github.com/theirongolddev/ynabmon/internal/coordinator"
	"github.com/theirongolddev/ynabmon/internal/model"

	"github.com/shopspring/decimal"
)

func snapshot() *model.Snapshot {
	age := 12
	return &model.Snapshot{
		BudgetID:              "b1",
		BudgetName:            "Household",
		ToBeBudgeted:          decimal.RequireFromString("25.5"),
		TotalBalance:          decimal.NewFromInt(150),
		BudgetedThisMonth:     decimal.NewFromInt(200),
		ActivityThisMonth:     decimal.NewFromInt(-50),
		AgeOfMoney:            &age,
		NeedApproval:          2,
		UnclearedTransactions: 1,
		OverspentCategories:   1,
		CurrencyCode:          "USD",
		CurrencyDigits:        2,
		Accounts: map[string]model.Account{
			"a1": {Name: "Checking", Balance: decimal.NewFromInt(150)},
			"a2": {Name: "Savings", Balance: decimal.NewFromInt(900)},
		},
		Categories: map[string]model.Category{
			"c1": {Name: "Groceries", Balance: decimal.NewFromInt(-1), Budgeted: decimal.NewFromInt(40)},
		},
	}
}

// fakeSource records registrations and renders immediately, like the coordinator.
type fakeSource struct {
	snap      *model.Snapshot
	down      bool
	observers []coordinator.Observer
}

func (f *fakeSource) Current() *model.Snapshot { return f.snap }

func (f *fakeSource) Available() bool { return f.snap != nil && !f.down }

func (f *fakeSource) Register(o coordinator.Observer) (func(), error) {
	if f.snap == nil {
		return nil, coordinator.ErrNotReady
	}
	f.observers = append(f.observers, o)
	o.Update(f.snap)
	return func() {}, nil
}

func (f *fakeSource) publish(s *model.Snapshot) {
	f.snap = s
	for _, o := range f.observers {
		o.Update(s)
	}
}

func TestBudgetSensor(t *testing.T) {
	s := NewBudgetSensor("b1", "Household")
	if s.ID() != "budget_b1" {
		t.Fatalf("ID = %q, want budget_b1", s.ID())
	}

	s.Update(snapshot())
	st := s.State()
	if !st.Value.Equal(decimal.RequireFromString("25.5")) || st.Unit != "USD" || st.Precision != 2 || !st.Available {
		t.Fatalf("state = %+v", st)
	}
	for _, key := range []string{
		"budgeted_this_month", "activity_this_month", "age_of_money", "total_balance",
		"need_approval", "uncleared_transactions", "overspent_categories",
	} {
		if _, ok := st.Attributes[key]; !ok {
			t.Errorf("missing attribute %q", key)
		}
	}
	if st.Attributes["need_approval"] != 2 {
		t.Errorf("need_approval = %v, want 2", st.Attributes["need_approval"])
	}
}

func TestBalanceSensorCategory(t *testing.T) {
	s := NewBalanceSensor("Household", KindCategories, "c1")
	if s.ID() != "Household_categories_c1" {
		t.Fatalf("ID = %q", s.ID())
	}

	s.Update(snapshot())
	st := s.State()
	if st.Name != "Groceries" || !st.Value.Equal(decimal.NewFromInt(-1)) {
		t.Fatalf("state = %+v", st)
	}
	budgeted, ok := st.Attributes["budgeted"].(decimal.Decimal)
	if !ok || !budgeted.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("budgeted attribute = %v", st.Attributes["budgeted"])
	}
}

func TestBalanceSensorDisappearingItem(t *testing.T) {
	s := NewBalanceSensor("Household", KindAccounts, "a2")
	s.Update(snapshot())

	next := snapshot()
	delete(next.Accounts, "a2")
	s.Update(next)

	st := s.State()
	if st.Available {
		t.Fatal("sensor should be unavailable once its account disappears")
	}
	if !st.Value.Equal(decimal.NewFromInt(900)) || st.Name != "Savings" {
		t.Fatalf("last value not kept: %+v", st)
	}

	s.Update(snapshot())
	if !s.State().Available {
		t.Fatal("sensor should recover when the account returns")
	}
}

func TestStateIsACopy(t *testing.T) {
	s := NewBalanceSensor("Household", KindCategories, "c1")
	s.Update(snapshot())

	st := s.State()
	st.Attributes["budgeted"] = "tampered"
	if _, ok := s.State().Attributes["budgeted"].(decimal.Decimal); !ok {
		t.Fatal("State() leaked internal attribute map")
	}
}

func TestRegistrySetupAll(t *testing.T) {
	src := &fakeSource{snap: snapshot()}
	r := NewRegistry()
	err := r.Setup(src, Options{
		BudgetID:  "b1",
		Selection: model.Selection{CategoriesAll: true, AccountsAll: true},
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	states := r.States()
	want := []string{"Household_accounts_a1", "Household_accounts_a2", "Household_categories_c1", "budget_b1"}
	if len(states) != len(want) {
		t.Fatalf("states = %d, want %d", len(states), len(want))
	}
	for i, id := range want {
		if states[i].ID != id {
			t.Errorf("states[%d].ID = %q, want %q", i, states[i].ID, id)
		}
		if !states[i].Available {
			t.Errorf("%s not available after setup", id)
		}
	}
	if len(src.observers) != 4 {
		t.Fatalf("registered observers = %d, want 4", len(src.observers))
	}
}

func TestRegistrySetupAllowlist(t *testing.T) {
	src := &fakeSource{snap: snapshot()}
	r := NewRegistry()
	err := r.Setup(src, Options{
		BudgetID:   "b1",
		BudgetName: "Home",
		Selection:  model.Selection{Accounts: []string{"a1", "ghost"}},
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}

	ghost, ok := r.Get("Home_accounts_ghost")
	if !ok || ghost.Available {
		t.Fatalf("ghost sensor = %+v, ok=%v", ghost, ok)
	}

	next := snapshot()
	next.Accounts["a1"] = model.Account{Name: "Checking", Balance: decimal.NewFromInt(75)}
	src.publish(next)

	a1, _ := r.Get("Home_accounts_a1")
	if !a1.Value.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("a1 value = %s, want 75", a1.Value)
	}
}

func TestRegistrySetupNotReady(t *testing.T) {
	r := NewRegistry()
	if err := r.Setup(&fakeSource{}, Options{}); !errors.Is(err, coordinator.ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestRegistryFollowsSourceAvailability(t *testing.T) {
	src := &fakeSource{snap: snapshot()}
	r := NewRegistry()
	if err := r.Setup(src, Options{BudgetID: "b1", Selection: model.Selection{AccountsAll: true}}); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	src.down = true
	for _, st := range r.States() {
		if st.Available {
			t.Errorf("%s available while source is down", st.ID)
		}
	}
	if st, _ := r.Get("budget_b1"); st.Available {
		t.Error("Get reports available while source is down")
	}

	src.down = false
	src.publish(snapshot())
	for _, st := range r.States() {
		if !st.Available {
			t.Errorf("%s still unavailable after recovery", st.ID)
		}
	}
}
