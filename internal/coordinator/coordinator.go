// Package coordinator owns the periodic budget refresh. It forces a
// transaction import, fetches the budget, reduces it to a snapshot and
// notifies every registered observer.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/theirongolddev/ynabmon/internal/events"
	"github.com/theirongolddev/ynabmon/internal/model"
	"github.com/theirongolddev/ynabmon/internal/pipeline"
	"github.com/theirongolddev/ynabmon/internal/ynab"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

// DefaultInterval is the poll interval when none is configured.
const DefaultInterval = 300 * time.Second

// ErrNotReady is returned by Register before the first successful refresh.
var ErrNotReady = errors.New("coordinator: no snapshot available yet")

// BudgetClient is the subset of the API client the coordinator needs.
type BudgetClient interface {
	GetBudget(ctx context.Context, budgetID string) (*ynab.BudgetDetail, error)
	ImportTransactions(ctx context.Context, budgetID string) (ynab.ImportResult, error)
}

// Observer is notified with every newly published snapshot.
type Observer interface {
	Update(snap *model.Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(snap *model.Snapshot)

// Update implements Observer.
func (f ObserverFunc) Update(snap *model.Snapshot) { f(snap) }

// FailureObserver is an Observer that also hears about failed refreshes.
// The published snapshot is unchanged when RefreshFailed is called.
type FailureObserver interface {
	Observer
	RefreshFailed(err error)
}

// Status describes the health of the refresh loop.
type Status struct {
	Interval      time.Duration `json:"-"`
	IntervalSec   int           `json:"interval_sec"`
	LastRefreshAt time.Time     `json:"last_refresh_at"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	RefreshCount  int64         `json:"refresh_count"`
	LastError     string        `json:"last_error,omitempty"`
	Available     bool          `json:"available"`
	Observers     int           `json:"observers"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithInterval sets the poll interval. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLocation evaluates the current month in loc instead of the local zone.
func WithLocation(loc *time.Location) Option {
	return func(c *Coordinator) { c.loc = loc }
}

// WithPublisher sets where import events go.
func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) {
		if p != nil {
			c.publisher = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

type registration struct {
	id  int
	obs Observer
}

// Coordinator is safe for concurrent use. There is a single writer of the
// snapshot and any number of readers.
type Coordinator struct {
	client    BudgetClient
	sel       model.Selection
	interval  time.Duration
	now       func() time.Time
	loc       *time.Location
	publisher events.Publisher
	logger    *log.Logger
	retryBase time.Duration

	flight singleflight.Group

	// notifyMu orders observer deliveries, so a first render from Register
	// never lands after a newer refresh.
	notifyMu sync.Mutex

	mu            sync.RWMutex
	snapshot      *model.Snapshot
	observers     []registration
	nextObserver  int
	lastRefreshAt time.Time
	lastSuccessAt time.Time
	refreshCount  int64
	lastError     string
}

// New returns a coordinator for the budget named in sel.
func New(client BudgetClient, sel model.Selection, opts ...Option) *Coordinator {
	c := &Coordinator{
		client:    client,
		sel:       sel,
		interval:  DefaultInterval,
		now:       time.Now,
		publisher: events.Discard{},
		logger:    log.Default(),
		retryBase: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithPrefix("coordinator")
	return c
}

// Interval returns the configured poll interval.
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// Selection returns the selection the coordinator was built with.
func (c *Coordinator) Selection() model.Selection {
	return c.sel
}

// Current returns the latest published snapshot, or nil before the first
// successful refresh.
func (c *Coordinator) Current() *model.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Refresh runs one import, fetch and reduce cycle and publishes the result.
// Concurrent callers share a single in-flight cycle. If ctx ends first the
// caller stops waiting but the cycle still completes.
func (c *Coordinator) Refresh(ctx context.Context) (*model.Snapshot, error) {
	ch := c.flight.DoChan(c.sel.BudgetID, func() (any, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Snapshot), nil
	}
}

func (c *Coordinator) refresh(ctx context.Context) (*model.Snapshot, error) {
	start := c.now()
	c.importTransactions(ctx)

	budget, err := c.client.GetBudget(ctx, c.sel.BudgetID)
	if err != nil {
		return nil, c.fail(start, fmt.Errorf("fetch budget: %w", err))
	}

	snap, err := pipeline.Reduce(budget, c.sel, c.today())
	if err != nil {
		return nil, c.fail(start, fmt.Errorf("reduce budget: %w", err))
	}
	c.logSnapshot(snap)

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	c.snapshot = snap
	c.lastRefreshAt = start
	c.lastSuccessAt = c.now()
	c.refreshCount++
	c.lastError = ""
	observers := make([]Observer, len(c.observers))
	for i, r := range c.observers {
		observers[i] = r.obs
	}
	c.mu.Unlock()

	for _, o := range observers {
		o.Update(snap)
	}
	return snap, nil
}

func (c *Coordinator) fail(start time.Time, err error) error {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	c.lastRefreshAt = start
	c.refreshCount++
	c.lastError = err.Error()
	var observers []FailureObserver
	for _, r := range c.observers {
		if fo, ok := r.obs.(FailureObserver); ok {
			observers = append(observers, fo)
		}
	}
	c.mu.Unlock()

	for _, o := range observers {
		o.RefreshFailed(err)
	}
	return err
}

// importTransactions is best effort. Failures are logged and dropped.
func (c *Coordinator) importTransactions(ctx context.Context) {
	res, err := c.client.ImportTransactions(ctx, c.sel.BudgetID)
	if err != nil {
		c.logger.Debug("transaction import failed", "budget", c.sel.BudgetID, "err", err)
		return
	}

	n := res.Imported()
	c.logger.Debug("transaction import", "imported", n, "rate_limit", res.RateLimit)
	if n == 0 {
		return
	}

	ev := events.Event{
		Topic:     events.TopicYNAB,
		Timestamp: c.now(),
		Data:      map[string]any{"transactions_imported": n},
	}
	if err := c.publisher.Publish(ctx, ev); err != nil {
		c.logger.Warn("publish import event", "err", err)
	}
}

func (c *Coordinator) today() time.Time {
	t := c.now()
	if c.loc != nil {
		t = t.In(c.loc)
	}
	return t
}

func (c *Coordinator) logSnapshot(s *model.Snapshot) {
	age := "n/a"
	if s.AgeOfMoney != nil {
		age = fmt.Sprintf("%d", *s.AgeOfMoney)
	}
	c.logger.Debug("budget reduced",
		"month", s.Month,
		"to_be_budgeted", s.ToBeBudgeted,
		"total_balance", s.TotalBalance,
		"budgeted_this_month", s.BudgetedThisMonth,
		"activity_this_month", s.ActivityThisMonth,
		"age_of_money", age,
		"need_approval", s.NeedApproval,
		"uncleared_transactions", s.UnclearedTransactions,
		"overspent_categories", s.OverspentCategories,
		"accounts", len(s.Accounts),
		"categories", len(s.Categories),
	)
}

// Register adds o to the observer set and renders it once with the current
// snapshot. The returned function removes it again. Observers must not call
// Register or Refresh from Update.
func (c *Coordinator) Register(o Observer) (unregister func(), err error) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	snap := c.snapshot
	if snap == nil {
		c.mu.Unlock()
		return nil, ErrNotReady
	}
	c.nextObserver++
	id := c.nextObserver
	c.observers = append(c.observers, registration{id: id, obs: o})
	c.mu.Unlock()

	o.Update(snap)

	var once sync.Once
	return func() {
		once.Do(func() { c.remove(id) })
	}, nil
}

func (c *Coordinator) remove(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.observers {
		if r.id == id {
			c.observers = append(c.observers[:i], c.observers[i+1:]...)
			return
		}
	}
}

// Available reports whether a snapshot is published and the last refresh
// succeeded.
func (c *Coordinator) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available()
}

func (c *Coordinator) available() bool {
	return c.snapshot != nil && c.lastError == ""
}

// Status returns a point-in-time view of the refresh loop.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		Interval:      c.interval,
		IntervalSec:   int(c.interval.Seconds()),
		LastRefreshAt: c.lastRefreshAt,
		LastSuccessAt: c.lastSuccessAt,
		RefreshCount:  c.refreshCount,
		LastError:     c.lastError,
		Available:     c.available(),
		Observers:     len(c.observers),
	}
}

// FirstRefresh retries Refresh until it succeeds or ctx ends. The delay
// starts at one second and doubles up to the poll interval.
func (c *Coordinator) FirstRefresh(ctx context.Context) (*model.Snapshot, error) {
	for attempt := 0; ; attempt++ {
		snap, err := c.Refresh(ctx)
		if err == nil {
			return snap, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		wait := c.backoff(attempt)
		c.logger.Warn("initial refresh failed, retrying", "err", err, "in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Coordinator) backoff(attempt int) time.Duration {
	d := c.retryBase
	for i := 0; i < attempt && d < c.interval; i++ {
		d *= 2
	}
	if d > c.interval {
		d = c.interval
	}
	return d
}

// Run refreshes on every tick until ctx is canceled. Failures are logged and
// recorded in Status; the previous snapshot stays published.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("refresh failed", "err", err)
			}
		}
	}
}
