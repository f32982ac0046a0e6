// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/scenecorpus/internal/api"
	"github.com/starford/scenecorpus/internal/artifact"
	"github.com/starford/scenecorpus/internal/assemble"
	"github.com/starford/scenecorpus/internal/dataset"
	"github.com/starford/scenecorpus/internal/index"
	"github.com/starford/scenecorpus/internal/mcpserver"
	"github.com/starford/scenecorpus/internal/report"
	"github.com/starford/scenecorpus/internal/source"
	"github.com/starford/scenecorpus/internal/sse"
	"github.com/starford/scenecorpus/internal/storage"
	"github.com/starford/scenecorpus/internal/validate"
	"github.com/starford/scenecorpus/internal/watch"
)

// runtime is the wired component graph shared by every command.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	reg    *source.Registry
	store  *artifact.Store
	db     *index.DB
	asm    *assemble.Assembler
	svc    *dataset.Service
}

func (rt *runtime) Close() {
	rt.svc.Close()
	if err := rt.db.Close(); err != nil {
		rt.logger.Warn("close index failed", slog.String("error", err.Error()))
	}
}

// setup applies opts and wires the components. observer, if non-nil,
// receives assembler events.
func setup(opts []Option, observer assemble.Observer) (*runtime, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("output_dir", cfg.Pipeline.OutputDir),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Int("sources", len(cfg.Sources)),
		slog.Bool("sandbox", cfg.Sandbox.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure output directory exists.
	if err := os.MkdirAll(cfg.Pipeline.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	fs, err := storage.NewFS(cfg.Pipeline.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	store := artifact.NewStore(fs)

	reg, err := source.Load(cfg.Sources, logger)
	if err != nil {
		return nil, fmt.Errorf("init sources: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	validator := validate.New(cfg.Pipeline.ValidateOptions(cfg.Sandbox), logger)
	var asmOpts []assemble.Option
	if observer != nil {
		asmOpts = append(asmOpts, assemble.WithObserver(observer))
	}
	asm := assemble.New(reg, store, validator, assemble.Config{
		Parallelism:   cfg.Pipeline.Parallelism,
		ExportParquet: cfg.Pipeline.ExportParquet,
		ExportChat:    cfg.Pipeline.ExportChat,
		ReportXLSX:    cfg.Pipeline.ReportXLSX,
		SystemPrompt:  cfg.Pipeline.SystemPrompt,
	}, logger, asmOpts...)

	return &runtime{
		cfg:    cfg,
		logger: logger,
		reg:    reg,
		store:  store,
		db:     db,
		asm:    asm,
		svc:    dataset.NewService(db, store, asm, logger),
	}, nil
}

// RunPipeline performs one pipeline run and returns its report. The report is
// returned alongside the error when no source succeeded.
func RunPipeline(ctx context.Context, runOpts assemble.Options, opts ...Option) (*report.Report, error) {
	rt, err := setup(opts, nil)
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	res, err := rt.svc.Run(ctx, runOpts)
	if res == nil {
		return nil, err
	}
	return res.Report, err
}

// ListSources writes the configured sources and their cache state to w.
func ListSources(ctx context.Context, w io.Writer, opts ...Option) error {
	rt, err := setup(opts, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.svc.Refresh(ctx); err != nil {
		rt.logger.Warn("catalog refresh failed", slog.String("error", err.Error()))
	}
	infos, err := rt.svc.Sources(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tPRIORITY\tCACHED\tRECORDS")
	for _, s := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%d\n", s.ID, s.Kind, s.Priority, s.Cached, s.Records)
	}
	return tw.Flush()
}

// ServeMCP runs the MCP server on stdin/stdout until the client disconnects.
func ServeMCP(ctx context.Context, opts ...Option) error {
	rt, err := setup(append(opts, WithLogOutput(os.Stderr)), nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.svc.Refresh(ctx); err != nil {
		rt.logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}
	rt.logger.Info("MCP server starting on stdio")
	return mcpserver.New(rt.svc).ServeStdio()
}

// Watch re-runs file-backed sources whenever their inputs change.
func Watch(ctx context.Context, opts ...Option) error {
	rt, err := setup(opts, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	targets := watch.Targets(rt.cfg.Sources)
	if len(targets) == 0 {
		return fmt.Errorf("watch: no file-backed sources configured")
	}
	return watch.Watch(ctx, rt.svc, targets, rt.cfg.Pipeline.WatchDebounce, rt.logger)
}

// progressOf converts an assembler event into an SSE progress payload.
func progressOf(e assemble.Event) sse.Progress {
	p := sse.Progress{Kind: e.Kind, RunID: e.RunID, Source: e.Source, Error: e.Error}
	switch e.Kind {
	case assemble.EventSourceStarted:
		p.Phase = sse.PhaseSourceStarted
	case assemble.EventSourceFinished:
		p.Phase = sse.PhaseSourceFinished
	case assemble.EventSourceFailed:
		p.Phase = sse.PhaseSourceFailed
	case assemble.EventRunFinished:
		p.Phase = sse.PhaseRunFinished
	}
	if e.Stats != nil {
		p.Extracted = e.Stats.Extracted
		p.Surviving = e.Stats.Surviving
	}
	if e.Report != nil {
		p.FinalCount = e.Report.FinalCount
	}
	return p
}

// Run starts the HTTP server with the given options. When watchInputs is set,
// file-backed sources are re-run on change while serving.
func Run(ctx context.Context, watchInputs bool, opts ...Option) error {
	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	rt, err := setup(opts, func(e assemble.Event) {
		broker.PublishProgress(progressOf(e))
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.cfg
	logger := rt.logger

	// Run initial sync.
	if err := rt.svc.Refresh(ctx); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes (SSE included) under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	if watchInputs {
		targets := watch.Targets(cfg.Sources)
		g.Go(func() error {
			if len(targets) == 0 {
				logger.Info("no file-backed sources to watch")
				return nil
			}
			return watch.Watch(gCtx, rt.svc, targets, cfg.Pipeline.WatchDebounce, logger)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
