// Package daemon provides the long-running budget monitor service.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/theirongolddev/ynabmon/internal/coordinator"
	"github.com/theirongolddev/ynabmon/internal/events"
	"github.com/theirongolddev/ynabmon/internal/model"
	"github.com/theirongolddev/ynabmon/internal/sensor"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Config controls the daemon runtime behavior.
type Config struct {
	Addr string
	// RefreshEvery is the minimum spacing of on-demand refreshes.
	RefreshEvery time.Duration
	RefreshBurst int
	Sensors      sensor.Options
}

// Summary is the compact budget state included in /v1/status.
type Summary struct {
	Month                 string    `json:"month"`
	FetchedAt             time.Time `json:"fetched_at"`
	ToBeBudgeted          string    `json:"to_be_budgeted"`
	TotalBalance          string    `json:"total_balance"`
	NeedApproval          int       `json:"need_approval"`
	UnclearedTransactions int       `json:"uncleared_transactions"`
	OverspentCategories   int       `json:"overspent_categories"`
	CurrencyCode          string    `json:"currency_code"`
}

// Status is served at /v1/status.
type Status struct {
	StartedAt       time.Time          `json:"started_at"`
	BudgetID        string             `json:"budget_id"`
	Refresh         coordinator.Status `json:"refresh"`
	Summary         *Summary           `json:"summary,omitempty"`
	SensorCount     int                `json:"sensor_count"`
	EventCount      int                `json:"event_count"`
	SubscriberCount int                `json:"subscriber_count"`
}

// Service provides the daemon runtime and HTTP API.
type Service struct {
	cfg       Config
	coord     *coordinator.Coordinator
	sensors   *sensor.Registry
	bus       *events.Bus
	limiter   *rate.Limiter
	logger    *log.Logger
	startedAt time.Time
}

// New returns a daemon service. bus should be the same bus the coordinator
// publishes to, so import events show up on the stream.
func New(cfg Config, coord *coordinator.Coordinator, bus *events.Bus, logger *log.Logger) *Service {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8787"
	}
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = 30 * time.Second
	}
	if cfg.RefreshBurst < 1 {
		cfg.RefreshBurst = 1
	}
	if bus == nil {
		bus = events.NewBus(0)
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		cfg:       cfg,
		coord:     coord,
		sensors:   sensor.NewRegistry(),
		bus:       bus,
		limiter:   rate.NewLimiter(rate.Every(cfg.RefreshEvery), cfg.RefreshBurst),
		logger:    logger.WithPrefix("daemon"),
		startedAt: time.Now(),
	}
}

// Sensors returns the registry the service exposes.
func (s *Service) Sensors() *sensor.Registry {
	return s.sensors
}

// Run serves HTTP and drives the refresh loop until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("listening", "addr", s.cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("daemon http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return s.poll(gctx)
	})

	return g.Wait()
}

// poll waits for the first good refresh, builds the sensors and then hands
// over to the coordinator's ticker.
func (s *Service) poll(ctx context.Context) error {
	if _, err := s.coord.FirstRefresh(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	if err := s.Start(); err != nil {
		s.logger.Warn("sensor setup incomplete", "err", err)
	}
	s.logger.Info("sensors ready", "count", s.sensors.Len())

	return s.coord.Run(ctx)
}

// Start creates the sensors and begins streaming their updates. The
// coordinator must already hold a snapshot.
func (s *Service) Start() error {
	err := s.sensors.Setup(s.coord, s.cfg.Sensors)

	_, regErr := s.coord.Register(streamObserver{s})
	return errors.Join(err, regErr)
}

// streamObserver pushes sensor states to the bus after every refresh,
// including failed ones so stream clients see the sensors go unavailable.
type streamObserver struct {
	s *Service
}

func (o streamObserver) Update(snap *model.Snapshot) {
	o.s.publishSensorUpdate(map[string]any{
		"month":     snap.Month,
		"available": true,
	})
}

func (o streamObserver) RefreshFailed(err error) {
	o.s.publishSensorUpdate(map[string]any{
		"available": false,
		"error":     err.Error(),
	})
}

func (s *Service) publishSensorUpdate(data map[string]any) {
	data["sensors"] = s.sensors.States()
	_ = s.bus.Publish(context.Background(), events.Event{
		Topic: events.TopicSensorUpdate,
		Data:  data,
	})
}

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/sensors", s.handleSensors)
		r.Get("/sensors/{id}", s.handleSensor)
		r.Get("/events", s.handleEvents)
		r.Get("/stream", s.handleStream)
		r.Post("/refresh", s.handleRefresh)
	})
	return r
}

func (s *Service) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"took", time.Since(start).Round(time.Microsecond),
		)
	})
}

func (s *Service) status() Status {
	st := Status{
		StartedAt:       s.startedAt,
		BudgetID:        s.coord.Selection().BudgetID,
		Refresh:         s.coord.Status(),
		SensorCount:     s.sensors.Len(),
		EventCount:      s.bus.Len(),
		SubscriberCount: s.bus.Subscribers(),
	}
	if snap := s.coord.Current(); snap != nil {
		st.Summary = &Summary{
			Month:                 snap.Month,
			FetchedAt:             snap.FetchedAt,
			ToBeBudgeted:          snap.ToBeBudgeted.String(),
			TotalBalance:          snap.TotalBalance.String(),
			NeedApproval:          snap.NeedApproval,
			UnclearedTransactions: snap.UnclearedTransactions,
			OverspentCategories:   snap.OverspentCategories,
			CurrencyCode:          snap.CurrencyCode,
		}
	}
	return st
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Service) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap := s.coord.Current()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no budget data yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Service) handleSensors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sensors.States())
}

func (s *Service) handleSensor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.sensors.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown sensor %q", id))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	all := s.bus.Recent()
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeJSON(w, http.StatusOK, all)
		return
	}

	filtered := make([]events.Event, 0, len(all))
	for _, ev := range all {
		if ev.Topic == topic {
			filtered = append(filtered, ev)
		}
	}
	writeJSON(w, http.StatusOK, filtered)
}

func (s *Service) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(s.cfg.RefreshEvery.Seconds())))
		writeError(w, http.StatusTooManyRequests, "refresh rate limit exceeded")
		return
	}

	snap, err := s.coord.Refresh(r.Context())
	if err != nil {
		s.logger.Warn("on-demand refresh failed", "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan events.Event, 16)
	cancel := s.bus.Subscribe(ch)
	defer cancel()

	// Send current sensor states immediately.
	writeSSE(w, events.Event{
		Topic:     events.TopicSensorUpdate,
		Timestamp: time.Now(),
		Data:      map[string]any{"sensors": s.sensors.States()},
	})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if ev.ID > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", ev.ID)
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Topic)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
