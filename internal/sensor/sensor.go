// Package sensor turns snapshots into individually addressable data points.
package sensor

import (
	"sync"
	"time"

	"github.com/theirongolddev/ynabmon/internal/model"

	"github.com/shopspring/decimal"
)

// Kind names the snapshot collection a BalanceSensor reads from.
type Kind string

const (
	KindAccounts   Kind = "accounts"
	KindCategories Kind = "categories"
)

const (
	deviceClassMonetary = "monetary"
	stateClassTotal     = "total"
)

// State is the externally visible reading of one sensor.
type State struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Value       decimal.Decimal `json:"value"`
	Unit        string          `json:"unit"`
	Precision   int             `json:"precision"`
	DeviceClass string          `json:"device_class"`
	StateClass  string          `json:"state_class"`
	Attributes  map[string]any  `json:"attributes"`
	Available   bool            `json:"available"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Sensor is an observer that exposes a State.
type Sensor interface {
	ID() string
	Update(snap *model.Snapshot)
	State() State
}

type base struct {
	mu    sync.RWMutex
	state State
	now   func() time.Time
}

func newBase(id, name string) base {
	return base{
		state: State{
			ID:          id,
			Name:        name,
			DeviceClass: deviceClassMonetary,
			StateClass:  stateClassTotal,
			Attributes:  map[string]any{},
		},
		now: time.Now,
	}
}

func (b *base) ID() string {
	return b.state.ID
}

// State returns a copy safe to hand to other goroutines.
func (b *base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := b.state
	out.Attributes = make(map[string]any, len(b.state.Attributes))
	for k, v := range b.state.Attributes {
		out.Attributes[k] = v
	}
	return out
}

// BudgetSensor reports the amount left to budget, with the monthly summary
// as attributes.
type BudgetSensor struct {
	base
}

// NewBudgetSensor returns a sensor with id budget_<budgetID>.
func NewBudgetSensor(budgetID, budgetName string) *BudgetSensor {
	return &BudgetSensor{base: newBase("budget_"+budgetID, budgetName)}
}

// Update implements coordinator.Observer.
func (s *BudgetSensor) Update(snap *model.Snapshot) {
	if snap == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Value = snap.ToBeBudgeted
	s.state.Unit = snap.CurrencyCode
	s.state.Precision = snap.CurrencyDigits
	s.state.Available = true
	s.state.UpdatedAt = s.now()
	s.state.Attributes = map[string]any{
		"budgeted_this_month":    snap.BudgetedThisMonth,
		"activity_this_month":    snap.ActivityThisMonth,
		"age_of_money":           snap.AgeOfMoney,
		"total_balance":          snap.TotalBalance,
		"need_approval":          snap.NeedApproval,
		"uncleared_transactions": snap.UnclearedTransactions,
		"overspent_categories":   snap.OverspentCategories,
	}
}

// BalanceSensor reports the balance of one account or category.
type BalanceSensor struct {
	base
	kind   Kind
	itemID string
}

// NewBalanceSensor returns a sensor with id <budgetName>_<kind>_<itemID>.
func NewBalanceSensor(budgetName string, kind Kind, itemID string) *BalanceSensor {
	id := budgetName + "_" + string(kind) + "_" + itemID
	return &BalanceSensor{
		base:   newBase(id, itemID),
		kind:   kind,
		itemID: itemID,
	}
}

// Kind returns the collection this sensor reads.
func (s *BalanceSensor) Kind() Kind { return s.kind }

// ItemID returns the account or category id.
func (s *BalanceSensor) ItemID() string { return s.itemID }

// Update implements coordinator.Observer. When the item is absent from
// snap the last value is kept and the sensor turns unavailable.
func (s *BalanceSensor) Update(snap *model.Snapshot) {
	if snap == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Unit = snap.CurrencyCode
	s.state.Precision = snap.CurrencyDigits
	s.state.UpdatedAt = s.now()

	switch s.kind {
	case KindAccounts:
		a, ok := snap.Accounts[s.itemID]
		if !ok {
			s.state.Available = false
			return
		}
		s.state.Name = a.Name
		s.state.Value = a.Balance
	case KindCategories:
		c, ok := snap.Categories[s.itemID]
		if !ok {
			s.state.Available = false
			return
		}
		s.state.Name = c.Name
		s.state.Value = c.Balance
		s.state.Attributes = map[string]any{"budgeted": c.Budgeted}
	}
	s.state.Available = true
}
