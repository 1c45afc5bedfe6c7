package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/caffeineduck/lam/executor"
	"github.com/caffeineduck/lam/internal/config"
	"github.com/caffeineduck/lam/internal/metrics"
	"github.com/caffeineduck/lam/state"
	"github.com/caffeineduck/lam/store"
)

const requestIDHeader = "X-Request-Id"

func newServeCmd(a *app) *cobra.Command {
	var configPath string
	flagCfg := config.DefaultServe()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Handle HTTP requests with a script file",
		Long: `Start an HTTP server that runs one script per request.

Endpoints:
  POST /         Run the script with the request body as input. 200 with the
                 result text on success, 400 with an empty body on failure.
  GET  /health   Health check
  GET  /metrics  Prometheus metrics

All requests share one state, committed to the store after every successful
evaluation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := flagCfg
			if configPath != "" {
				fileCfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = mergeServeConfig(cmd, fileCfg, flagCfg)
			}
			if cfg.Store == "" {
				cfg.Store = a.storeSpec
			}
			if cfg.File == "" {
				return errors.New("a script is required: use --file or set file in --config")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), a, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "Config file (.toml, .yaml)")
	flags.StringVar(&flagCfg.Bind, "bind", flagCfg.Bind, "Address to listen on")
	flags.StringVarP(&flagCfg.File, "file", "f", "", "Script path")
	flags.Var(newSecondsValue(&flagCfg.Timeout.Duration, flagCfg.Timeout.Duration), "timeout", "Time budget per request in seconds, or a duration such as 1m30s")
	flags.Float64Var(&flagCfg.RateLimit, "rate-limit", 0, "Requests per second, 0 for unlimited")
	flags.IntVar(&flagCfg.Burst, "burst", flagCfg.Burst, "Rate limit burst")
	flags.Int64Var(&flagCfg.MaxBodyBytes, "max-body", flagCfg.MaxBodyBytes, "Maximum request body size in bytes")
	return cmd
}

// mergeServeConfig applies explicitly set flags over the file config.
func mergeServeConfig(cmd *cobra.Command, fileCfg, flagCfg config.Serve) config.Serve {
	cfg := fileCfg
	flags := cmd.Flags()
	if flags.Changed("bind") {
		cfg.Bind = flagCfg.Bind
	}
	if flags.Changed("file") {
		cfg.File = flagCfg.File
	}
	if flags.Changed("timeout") {
		cfg.Timeout = flagCfg.Timeout
	}
	if flags.Changed("rate-limit") {
		cfg.RateLimit = flagCfg.RateLimit
	}
	if flags.Changed("burst") {
		cfg.Burst = flagCfg.Burst
	}
	if flags.Changed("max-body") {
		cfg.MaxBodyBytes = flagCfg.MaxBodyBytes
	}
	return cfg
}

func runServe(ctx context.Context, a *app, cfg config.Serve) error {
	script, err := os.ReadFile(cfg.File)
	if err != nil {
		return err
	}

	st, err := a.openStore(ctx, cfg.Store, true)
	if err != nil {
		return err
	}
	defer st.Close()

	shared, err := loadState(ctx, st)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector("lam")
	exec := executor.New(nil,
		executor.WithDefaultBudget(cfg.Timeout.Duration),
		executor.WithLogger(a.logger),
		executor.WithObserver(collector),
	)
	defer exec.Close()

	if _, err := exec.Compile(cfg.File, string(script)); err != nil {
		return err
	}

	srv := newServer(exec, string(script), cfg, shared, st, collector, a.logger)

	ln, err := net.Listen("tcp", cfg.Bind)
	if err != nil {
		return err
	}
	a.logger.Info("serving lua script", "bind", ln.Addr().String(), "file", cfg.File, "timeout", cfg.Timeout.Duration)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type server struct {
	exec    *executor.Executor
	script  string
	name    string
	budget  time.Duration
	maxBody int64

	shared  *state.Shared
	store   store.Store
	commit  sync.Mutex
	limiter *rate.Limiter
	metrics *metrics.Collector
	logger  *slog.Logger
}

func newServer(exec *executor.Executor, script string, cfg config.Serve, shared *state.Shared, st store.Store, m *metrics.Collector, logger *slog.Logger) *server {
	s := &server{
		exec:    exec,
		script:  script,
		name:    cfg.File,
		budget:  cfg.Timeout.Duration,
		maxBody: cfg.MaxBodyBytes,
		shared:  shared,
		store:   st,
		metrics: m,
		logger:  logger,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}
	return s
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", s.handleEval)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

func (s *server) handleEval(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, id)
	log := s.logger.With("id", id)

	if s.limiter != nil && !s.limiter.Allow() {
		s.reply(w, http.StatusTooManyRequests, "")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		log.Warn("failed to read request body", "error", err)
		s.reply(w, http.StatusBadRequest, "")
		return
	}

	result := s.exec.Run(r.Context(), executor.Evaluation{
		Script: s.script,
		Name:   s.name,
		Input:  bytes.NewReader(body),
		Budget: s.budget,
		State:  s.shared,
	}, executor.WithID(id))
	if result.Error != nil {
		log.Error("failed to run Lua script", "error", result.Error)
		s.reply(w, http.StatusBadRequest, "")
		return
	}

	s.commitState(r.Context(), log)
	s.reply(w, http.StatusOK, result.Output)
}

// commitState writes the shared state to the store. A failed commit is
// logged but does not fail the request: the evaluation already happened.
func (s *server) commitState(ctx context.Context, log *slog.Logger) {
	s.commit.Lock()
	defer s.commit.Unlock()

	err := s.store.Commit(context.WithoutCancel(ctx), s.shared)
	s.metrics.RecordCommit(s.shared.Len(), err)
	if err != nil {
		log.Error("failed to commit state", "error", err)
	}
}

func (s *server) reply(w http.ResponseWriter, code int, body string) {
	s.metrics.RecordRequest(code)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	if body != "" {
		fmt.Fprint(w, body)
	}
}
