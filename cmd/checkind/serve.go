package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"goa.design/clue/health"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	"goa.design/checkin/features/mcp/tools"
	"goa.design/checkin/features/model/anthropic"
	"goa.design/checkin/features/model/bedrock"
	"goa.design/checkin/features/model/middleware"
	"goa.design/checkin/features/model/openai"
	pulsenotify "goa.design/checkin/features/notify/pulse"
	clientspulse "goa.design/checkin/features/notify/pulse/clients/pulse"
	"goa.design/checkin/features/schedule/temporal"
	mongostore "goa.design/checkin/features/store/mongo"
	redisstore "goa.design/checkin/features/store/redis"
	"goa.design/checkin/features/store/sqlite"
	"goa.design/checkin/runtime/checkin/audit"
	"goa.design/checkin/runtime/checkin/engine"
	"goa.design/checkin/runtime/checkin/hooks"
	"goa.design/checkin/runtime/checkin/message"
	"goa.design/checkin/runtime/checkin/model"
	"goa.design/checkin/runtime/checkin/notify"
	"goa.design/checkin/runtime/checkin/signal"
	"goa.design/checkin/runtime/checkin/store"
	"goa.design/checkin/runtime/checkin/store/inmem"
	"goa.design/checkin/runtime/checkin/telemetry"
)

const shutdownTimeout = 10 * time.Second

// daemon holds the wired components and the cleanup stack run on exit.
type daemon struct {
	cfg     Config
	getenv  func(string) string
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	rdb     *redis.Client
	bus     hooks.Bus
	pingers []health.Pinger
	closers []func(context.Context)
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		mcpStdio   bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the check-in engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath, os.Getenv)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if mcpStdio {
				// stdout carries the MCP protocol.
				ctx = log.Context(ctx, log.WithOutput(os.Stderr))
			}
			return serve(ctx, cfg, os.Getenv, mcpStdio)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file")
	cmd.Flags().BoolVar(&mcpStdio, "mcp", false, "Serve the check-in MCP tools over stdio")
	return cmd
}

func serve(ctx context.Context, cfg Config, getenv func(string) string, mcpStdio bool) error {
	d := &daemon{
		cfg:     cfg,
		getenv:  getenv,
		logger:  telemetry.NewClueLogger(),
		metrics: telemetry.NewClueMetrics(),
		tracer:  telemetry.NewClueTracer(),
		bus:     hooks.NewBus(),
	}
	defer d.close(ctx)

	eng, err := d.engine(ctx)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	d.onClose(func(context.Context) { eng.Stop() })

	if cfg.Schedule.Backend == "temporal" {
		if err := d.schedule(ctx, eng); err != nil {
			return err
		}
	}
	if cfg.HealthAddr != "" {
		d.serveHealth(ctx)
	}
	d.logger.Info(ctx, "checkin engine started", "user", cfg.UserID, "store", cfg.Store.Backend, "model", cfg.Model.Provider)

	if mcpStdio {
		srv := server.NewStdioServer(tools.NewServer(eng, version))
		if err := srv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp stdio: %w", err)
		}
		return nil
	}
	<-ctx.Done()
	return nil
}

func (d *daemon) engine(ctx context.Context) (*engine.Engine, error) {
	cfg := d.cfg
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		d.rdb = redis.NewClient(opts)
		d.onClose(func(context.Context) { _ = d.rdb.Close() })
	}
	st, err := d.store(ctx)
	if err != nil {
		return nil, err
	}
	if p, ok := st.(health.Pinger); ok {
		d.pingers = append(d.pingers, p)
	}
	source, err := d.source(ctx)
	if err != nil {
		return nil, err
	}
	cat, err := loadCatalog(cfg.Catalog)
	if err != nil {
		return nil, err
	}
	mc, err := d.model(ctx)
	if err != nil {
		return nil, err
	}
	notifier, caregiver, err := d.notifiers()
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Options{
		Store:     st,
		Source:    source,
		Crafter:   message.New(message.Options{Client: mc, Model: cfg.Model.Model, Timeout: cfg.Model.Timeout, MaxTokens: cfg.Model.MaxTokens}),
		Notifier:  notifier,
		Caregiver: caregiver,
		Audit:     audit.NewLogSink(d.logger),
		Logger:    d.logger,
		Metrics:   d.metrics,
		Tracer:    d.tracer,
		Bus:       d.bus,
		Catalog:   cat,
		Location:  cfg.location(),
		User:      message.UserContext{Name: cfg.User.Name, Preferences: cfg.User.Preferences},

		TickInterval:    cfg.Engine.TickInterval,
		GlobalMaxPerDay: cfg.Engine.GlobalMaxPerDay,
		CheckInTTL:      cfg.Engine.CheckInTTL,
		SnoozeBuffer:    cfg.Engine.SnoozeBuffer,
	})
}

func (d *daemon) store(ctx context.Context) (store.Store, error) {
	cfg := d.cfg
	switch cfg.Store.Backend {
	case "sqlite":
		s, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		d.onClose(func(context.Context) { _ = s.Close() })
		return s, nil
	case "redis":
		return redisstore.New(redisstore.Options{Client: d.rdb, Prefix: "checkin:" + cfg.UserID + ":"})
	case "mongo":
		s, err := mongostore.Connect(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase, cfg.UserID)
		if err != nil {
			return nil, err
		}
		d.onClose(func(ctx context.Context) { _ = s.Disconnect(ctx) })
		return s, nil
	default:
		return inmem.New(), nil
	}
}

func (d *daemon) source(ctx context.Context) (signal.Source, error) {
	if d.cfg.Signals == "" {
		return signal.NewStaticSource(time.Now), nil
	}
	return newSignalsFile(ctx, d.cfg.Signals, time.Now, d.logger)
}

// model builds the provider client wrapped with the adaptive rate limiter
// and instrumentation. It returns nil for the offline crafter.
func (d *daemon) model(ctx context.Context) (model.Client, error) {
	cfg := d.cfg.Model
	var (
		c   model.Client
		err error
	)
	switch cfg.Provider {
	case "anthropic":
		c, err = anthropic.NewFromAPIKey(cfg.APIKey, cfg.Model, cfg.MaxTokens)
	case "openai":
		c, err = openai.NewFromAPIKey(cfg.APIKey, cfg.Model, cfg.MaxTokens)
	case "bedrock":
		c, err = bedrock.New(bedrock.Options{
			Runtime: bedrock.NewRuntime(cfg.Region, bedrock.Credentials{
				AccessKeyID:     d.getenv("AWS_ACCESS_KEY_ID"),
				SecretAccessKey: d.getenv("AWS_SECRET_ACCESS_KEY"),
				SessionToken:    d.getenv("AWS_SESSION_TOKEN"),
			}),
			DefaultModel: cfg.Model,
			MaxTokens:    cfg.MaxTokens,
		})
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s client: %w", cfg.Provider, err)
	}

	var budget *rmap.Map
	if d.rdb != nil {
		budget, err = rmap.Join(ctx, "checkin-model-budget", d.rdb)
		if err != nil {
			return nil, fmt.Errorf("join model budget map: %w", err)
		}
		d.onClose(func(context.Context) { budget.Close() })
	}
	limiter := middleware.NewAdaptiveRateLimiter(ctx, budget, cfg.Provider+":"+cfg.Model, cfg.TokensPerMinute, cfg.MaxTokensPerMinute)
	c = limiter.Middleware()(c)
	return middleware.Instrument(cfg.Provider, d.logger, d.metrics, d.tracer)(c), nil
}

func (d *daemon) notifiers() (notify.Notifier, notify.Caregiver, error) {
	if d.cfg.Notify.Backend != "pulse" {
		return notify.NewLogNotifier(d.logger), notify.NewLogCaregiver(d.logger), nil
	}
	pc, err := clientspulse.New(clientspulse.Options{Redis: d.rdb, StreamMaxLen: d.cfg.Notify.StreamMaxLen})
	if err != nil {
		return nil, nil, err
	}
	opts := pulsenotify.Options{Client: pc, UserID: d.cfg.UserID}
	notifier, err := pulsenotify.NewNotifier(opts)
	if err != nil {
		return nil, nil, err
	}
	caregiver, err := pulsenotify.NewCaregiver(opts)
	if err != nil {
		return nil, nil, err
	}
	events, err := pulsenotify.NewEventSink(pc, d.cfg.UserID)
	if err != nil {
		return nil, nil, err
	}
	sub, err := d.bus.Register(events)
	if err != nil {
		return nil, nil, fmt.Errorf("register event sink: %w", err)
	}
	d.onClose(func(context.Context) { _ = sub.Close() })
	return notifier, caregiver, nil
}

func (d *daemon) schedule(ctx context.Context, eng *engine.Engine) error {
	cfg := d.cfg.Schedule
	sched, err := temporal.New(temporal.Options{
		ClientOptions: &client.Options{HostPort: cfg.HostPort, Namespace: cfg.Namespace},
		TaskQueue:     cfg.TaskQueue,
		Logger:        d.logger,
	})
	if err != nil {
		return fmt.Errorf("temporal scheduler: %w", err)
	}
	d.onClose(func(context.Context) { sched.Close() })
	reg, err := eng.RegisterBackground(ctx, sched)
	if err != nil {
		return fmt.Errorf("register background wake: %w", err)
	}
	d.onClose(func(ctx context.Context) {
		if err := reg.Cancel(ctx); err != nil {
			log.Errorf(ctx, err, "cancel background wake")
		}
	})
	return nil
}

func (d *daemon) serveHealth(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/livez", health.Handler(health.NewChecker(d.pingers...)))
	srv := &http.Server{Addr: d.cfg.HealthAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf(ctx, err, "health server")
		}
	}()
	d.onClose(func(ctx context.Context) { _ = srv.Shutdown(ctx) })
}

func (d *daemon) onClose(fn func(context.Context)) {
	d.closers = append(d.closers, fn)
}

// close runs the cleanup stack in reverse order.
func (d *daemon) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	for _, fn := range slices.Backward(d.closers) {
		fn(ctx)
	}
}
