// Package workflowengine wires the workflow engine daemon: trace store,
// integrations, scheduler, bus trigger, event stream and health endpoints.
package workflowengine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bufbuild/httplb"
	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cordum/flowline/core/controlplane/scheduler"
	"github.com/cordum/flowline/core/infra/bus"
	"github.com/cordum/flowline/core/infra/config"
	"github.com/cordum/flowline/core/infra/logging"
	"github.com/cordum/flowline/core/infra/metrics"
	"github.com/cordum/flowline/core/infra/secrets"
	"github.com/cordum/flowline/core/infra/templates"
	"github.com/cordum/flowline/core/integrations"
	"github.com/cordum/flowline/core/workflow"
)

const (
	logComponent     = "flowline-engine"
	metricsNamespace = "flowline"

	defaultReadTimeout     = 5 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 3 * time.Second
	integrationTimeout     = 30 * time.Second

	// secret://NAME in a node config reads FLOWLINE_SECRET_NAME.
	secretEnvPrefix = "FLOWLINE_SECRET_"
)

// Daemon owns every long-lived component of the engine process.
type Daemon struct {
	cfg       *config.Config
	engineCfg *config.EngineConfig

	store   workflow.Store
	redis   redis.UniversalClient
	httpc   *httplb.Client
	bus     *bus.NatsBus
	service *workflow.Service
	sched   *scheduler.Scheduler
	hub     *Hub
	health  *health.Server
	catalog *templates.Catalog
}

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func Run(cfg *config.Config) error {
	if cfg == nil {
		cfg = config.Load()
	}
	engineCfg, err := config.LoadEngineConfig(cfg.EngineConfigPath)
	if err != nil {
		return fmt.Errorf("load engine config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := New(ctx, cfg, engineCfg)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Run(ctx)
}

// New connects the store and bus and assembles the engine. Nothing is
// served until Run.
func New(ctx context.Context, cfg *config.Config, engineCfg *config.EngineConfig) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if engineCfg == nil {
		engineCfg = config.DefaultEngineConfig()
	}
	d := &Daemon{cfg: cfg, engineCfg: engineCfg, hub: NewHub(), health: health.NewServer()}

	store, client, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d.store, d.redis = store, client

	sinks := fanout{d.hub}
	if cfg.NatsEnabled {
		nb, err := bus.NewNatsBus(cfg.NatsURL)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		d.bus = nb
		sinks = append(sinks, bus.NewEventPublisher(nb))
	}

	catalog, err := templates.Builtin()
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("load templates: %w", err)
	}
	d.catalog = catalog

	d.httpc = httplb.NewClient(httplb.WithDefaultTimeout(integrationTimeout))
	reg := workflow.NewRegistry()
	integrations.RegisterDefaults(reg, integrations.Deps{
		HTTP:            d.httpc,
		Redis:           d.redis,
		Mailers:         mailers(ctx, cfg),
		SlackWebhookURL: cfg.SlackWebhookURL,
	})

	engine := workflow.NewEngine(d.store, reg).
		WithRetry(engineCfg.Retry.MaxRetries, engineCfg.Retry.Backoff).
		WithLoopLimits(engineCfg.Loops.MaxIterations, engineCfg.Loops.DefaultCount).
		WithTimeoutEnforcement(engineCfg.Nodes.EnforceTimeouts).
		WithMetrics(metrics.NewWorkflowProm(metricsNamespace)).
		WithSecrets(secrets.EnvLookup(secretEnvPrefix)).
		WithEvents(sinks)
	d.service = workflow.NewService(d.store, engine)

	if !engineCfg.Scheduler.Disabled {
		d.sched = scheduler.New(d.store, d.service).
			WithTickInterval(engineCfg.Scheduler.TickInterval).
			WithMetrics(metrics.NewSchedulerProm(metricsNamespace))
	}
	return d, nil
}

// Service exposes the on-demand trigger.
func (d *Daemon) Service() *workflow.Service { return d.service }

// Run recovers state, starts the scheduler and serves until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.prepare(ctx); err != nil {
		return err
	}
	apiLn, err := net.Listen("tcp", d.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	grpcLn, err := net.Listen("tcp", d.cfg.GRPCAddr)
	if err != nil {
		_ = apiLn.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	mux := d.routes()
	servers := []*http.Server{newHTTPServer(mux)}
	listeners := []net.Listener{apiLn}
	if d.cfg.MetricsAddr != "" && d.cfg.MetricsAddr != d.cfg.HTTPAddr {
		metricsLn, err := net.Listen("tcp", d.cfg.MetricsAddr)
		if err != nil {
			_ = apiLn.Close()
			_ = grpcLn.Close()
			return fmt.Errorf("listen metrics: %w", err)
		}
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		servers = append(servers, newHTTPServer(metricsMux))
		listeners = append(listeners, metricsLn)
	} else {
		mux.Handle("/metrics", metrics.Handler())
	}

	if err := d.start(ctx); err != nil {
		for _, ln := range append(listeners, grpcLn) {
			_ = ln.Close()
		}
		return err
	}

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, d.health)
	d.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.hub.Run(gctx)
		return nil
	})
	for i := range servers {
		srv, ln := servers[i], listeners[i]
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", ln.Addr(), err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		d.health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			_ = srv.Shutdown(shutdownCtx)
		}
		grpcServer.GracefulStop()
		return nil
	})

	logging.Info(logComponent, "started",
		"http", apiLn.Addr().String(),
		"grpc", grpcLn.Addr().String(),
		"store", d.cfg.Store,
		"nats", d.bus != nil,
		"scheduler", d.sched != nil,
	)
	err = g.Wait()
	d.drain()
	logging.Info(logComponent, "stopped")
	return err
}

// Close releases connections. Safe to call after a failed New.
func (d *Daemon) Close() {
	if d.bus != nil {
		d.bus.Close()
	}
	if d.httpc != nil {
		_ = d.httpc.Close()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			logging.Warn(logComponent, "close store", "error", err)
		}
	}
	// The Redis store owns the shared client.
	if d.redis != nil && d.cfg.Store != config.StoreRedis {
		_ = d.redis.Close()
	}
}

func (d *Daemon) prepare(ctx context.Context) error {
	if d.engineCfg.Recovery.FailOrphaned {
		n, err := d.service.FailOrphaned(ctx)
		if err != nil {
			return fmt.Errorf("fail orphaned executions: %w", err)
		}
		if n > 0 {
			logging.Warn(logComponent, "marked orphaned executions failed", "count", n)
		}
	}
	if d.engineCfg.Templates.Seed {
		existing, err := d.store.ListWorkflows(ctx)
		if err != nil {
			return fmt.Errorf("list workflows: %w", err)
		}
		if len(existing) == 0 {
			n, err := d.catalog.Seed(ctx, d.service)
			if err != nil {
				return err
			}
			logging.Info(logComponent, "seeded template workflows", "count", n)
		}
	}
	return nil
}

// start attaches the bus trigger and starts the scheduler.
func (d *Daemon) start(ctx context.Context) error {
	if d.bus != nil {
		if err := newRunTrigger(ctx, d.service).subscribe(d.bus); err != nil {
			return err
		}
	}
	if d.sched != nil {
		if err := d.sched.Init(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}
	return nil
}

// drain stops scheduling and waits for background runs within the
// scheduler's shutdown budget.
func (d *Daemon) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), d.engineCfg.Scheduler.ShutdownTimeout)
	defer cancel()
	if d.sched != nil {
		if err := d.sched.Shutdown(ctx); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
			logging.Warn(logComponent, "scheduler shutdown", "error", err)
		}
	}
	done := make(chan struct{})
	go func() {
		d.service.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn(logComponent, "background executions still running at shutdown")
	}
}

type healthReport struct {
	Status        string `json:"status"`
	Store         string `json:"store"`
	Bus           string `json:"bus,omitempty"`
	ScheduledJobs int    `json:"scheduledJobs"`
	StreamClients int    `json:"streamClients"`
}

func (d *Daemon) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		report := healthReport{Status: "ok", Store: d.cfg.Store, StreamClients: d.hub.Clients()}
		if d.bus != nil {
			report.Bus = d.bus.Status()
		}
		if d.sched != nil {
			report.ScheduledJobs = len(d.sched.Jobs())
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
	})
	mux.Handle("/stream", d.hub)
	return mux
}

func newHTTPServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: defaultReadTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
}

func mailers(ctx context.Context, cfg *config.Config) map[string]integrations.Mailer {
	out := map[string]integrations.Mailer{}
	if cfg.SMTP.Host != "" {
		out["smtp"] = integrations.NewSMTPMailer(integrations.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	}
	if cfg.SES.From != "" {
		ses, err := integrations.NewSESMailer(ctx, integrations.SESConfig{Region: cfg.SES.Region, From: cfg.SES.From})
		if err != nil {
			logging.Warn(logComponent, "ses mailer disabled", "error", err)
		} else {
			out["ses"] = ses
		}
	}
	return out
}
