package sensor

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/theirongolddev/ynabmon/internal/coordinator"
	"github.com/theirongolddev/ynabmon/internal/model"
)

// Source is where sensors get their snapshots from. Available reports
// whether the last refresh succeeded.
type Source interface {
	Current() *model.Snapshot
	Available() bool
	Register(o coordinator.Observer) (unregister func(), err error)
}

// Options selects which sensors Setup creates.
type Options struct {
	BudgetID   string
	BudgetName string
	Selection  model.Selection
}

// Registry holds the sensors of one budget.
type Registry struct {
	mu         sync.RWMutex
	src        Source
	sensors    map[string]Sensor
	unregister []func()
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sensors: make(map[string]Sensor)}
}

// Setup creates the budget sensor plus one balance sensor per selected
// category and account and registers each with src. With an *_all flag the
// ids come from the current snapshot, otherwise from the allowlist.
// src must already hold a snapshot.
func (r *Registry) Setup(src Source, opts Options) error {
	snap := src.Current()
	if snap == nil {
		return coordinator.ErrNotReady
	}

	r.mu.Lock()
	r.src = src
	r.mu.Unlock()

	name := opts.BudgetName
	if name == "" {
		name = snap.BudgetName
	}
	budgetID := opts.BudgetID
	if budgetID == "" {
		budgetID = snap.BudgetID
	}

	sensors := []Sensor{NewBudgetSensor(budgetID, name)}

	categories := opts.Selection.Categories
	if opts.Selection.CategoriesAll {
		categories = sortedKeys(snap.Categories)
	}
	for _, id := range categories {
		sensors = append(sensors, NewBalanceSensor(name, KindCategories, id))
	}

	accounts := opts.Selection.Accounts
	if opts.Selection.AccountsAll {
		accounts = sortedKeys(snap.Accounts)
	}
	for _, id := range accounts {
		sensors = append(sensors, NewBalanceSensor(name, KindAccounts, id))
	}

	var errs []error
	for _, s := range sensors {
		if err := r.add(src, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) add(src Source, s Sensor) error {
	r.mu.Lock()
	if _, dup := r.sensors[s.ID()]; dup {
		r.mu.Unlock()
		return nil
	}
	r.sensors[s.ID()] = s
	r.mu.Unlock()

	unregister, err := src.Register(s)
	if err != nil {
		r.mu.Lock()
		delete(r.sensors, s.ID())
		r.mu.Unlock()
		return fmt.Errorf("register %s: %w", s.ID(), err)
	}

	r.mu.Lock()
	r.unregister = append(r.unregister, unregister)
	r.mu.Unlock()
	return nil
}

// States returns every sensor state, sorted by id. While the source is
// failing every sensor reads as unavailable.
func (r *Registry) States() []State {
	r.mu.RLock()
	up := r.sourceUp()
	out := make([]State, 0, len(r.sensors))
	for _, s := range r.sensors {
		st := s.State()
		st.Available = st.Available && up
		out = append(out, st)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the state of one sensor.
func (r *Registry) Get(id string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sensors[id]
	if !ok {
		return State{}, false
	}
	st := s.State()
	st.Available = st.Available && r.sourceUp()
	return st, true
}

// sourceUp must be called with r.mu held.
func (r *Registry) sourceUp() bool {
	return r.src == nil || r.src.Available()
}

// Len returns the number of sensors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sensors)
}

// Close detaches every sensor from its source.
func (r *Registry) Close() {
	r.mu.Lock()
	fns := r.unregister
	r.unregister = nil
	r.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
