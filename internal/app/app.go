package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"libralend/internal/circulation"
	"libralend/internal/config"
	"libralend/internal/eventstore"
	"libralend/internal/metrics"
)

// Version is reported by /healthz and attached to exported traces.
const Version = "0.3.0"

// App wires the lending service to its journal, metrics, sweeper and ops
// server.
type App struct {
	cfg    config.Config
	logger *log.Entry

	Service  circulation.Service
	Journal  *eventstore.EventStore
	Registry *prometheus.Registry
	Sweeper  *circulation.OverdueSweeper

	wg sync.WaitGroup
}

// Option configures an App.
type Option func(*options)

type options struct {
	logger *log.Entry
	clock  func() time.Time
}

// WithLogger sets the root logger.
func WithLogger(logger *log.Entry) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock sets the clock shared by the service and the sweeper.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// New builds the application from cfg. Nothing runs until Start.
func New(cfg config.Config, opts ...Option) *App {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	journal := eventstore.NewEventStore(eventstore.WithClock(o.clock))

	serviceOpts := []circulation.Option{
		circulation.WithClock(o.clock),
		circulation.WithLogger(logger.WithField("component", "lending")),
		circulation.WithEventStore(journal),
		circulation.WithMetrics(metrics.NewLendingMetrics(registry)),
	}
	if cfg.RegistrationRate > 0 {
		perSecond := rate.Limit(cfg.RegistrationRate / 60)
		serviceOpts = append(serviceOpts, circulation.WithRegistrationLimiter(rate.NewLimiter(perSecond, cfg.RegistrationBurst)))
	}
	svc := circulation.NewService(serviceOpts...)

	return &App{
		cfg:      cfg,
		logger:   logger,
		Service:  svc,
		Journal:  journal,
		Registry: registry,
		Sweeper: circulation.NewOverdueSweeper(svc,
			circulation.WithSweepLogger(logger.WithField("component", "overdue-sweeper")),
			circulation.WithSweepInterval(cfg.SweepInterval),
			circulation.WithSweepClock(o.clock),
		),
	}
}

// Router returns the ops HTTP handler: /metrics, /healthz and /livez.
func (a *App) Router() http.Handler {
	health := NewHealthHandler(Version)
	health.Register("consistency", a.Service.ConsistencyViolations)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry}))
	r.Method(http.MethodGet, "/healthz", health)
	r.Get("/livez", LivenessHandler)
	return r
}

// Start launches the overdue sweeper and, when configured, the ops server.
// Both stop when ctx is cancelled; Wait blocks until they have.
func (a *App) Start(ctx context.Context) error {
	var listener net.Listener
	if a.cfg.OpsAddr != "" {
		var err error
		listener, err = net.Listen("tcp", a.cfg.OpsAddr)
		if err != nil {
			return err
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Sweeper.Run(ctx)
	}()

	if listener != nil {
		srv := &http.Server{Handler: a.Router(), ReadHeaderTimeout: 5 * time.Second}
		a.wg.Add(2)
		go func() {
			defer a.wg.Done()
			a.logger.Infof("ops server listening on %s (/metrics, /healthz, /livez)", listener.Addr())
			if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.WithError(err).Warn("ops server failed")
			}
		}()
		go func() {
			defer a.wg.Done()
			<-ctx.Done()
			shutdownHTTP(srv, a.logger)
		}()
	}
	return nil
}

// Wait blocks until everything started by Start has stopped.
func (a *App) Wait() {
	a.wg.Wait()
}

func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("ops server shutdown with error")
	}
}
