// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package service wires every component (A1-C9) into a single running
// process: it owns construction order, the HTTP listener, startup
// recovery of in-flight runs, and a graceful drain on shutdown.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/flowforge/orchestrator/internal/api"
	"github.com/flowforge/orchestrator/internal/approval"
	"github.com/flowforge/orchestrator/internal/backend"
	"github.com/flowforge/orchestrator/internal/backend/memory"
	"github.com/flowforge/orchestrator/internal/backend/postgres"
	"github.com/flowforge/orchestrator/internal/config"
	"github.com/flowforge/orchestrator/internal/events"
	"github.com/flowforge/orchestrator/internal/executor"
	"github.com/flowforge/orchestrator/internal/notify"
	"github.com/flowforge/orchestrator/internal/observability"
	"github.com/flowforge/orchestrator/internal/safety"
	"github.com/flowforge/orchestrator/internal/scheduler"
	"github.com/flowforge/orchestrator/internal/webhook"
	orcherrors "github.com/flowforge/orchestrator/pkg/errors"
	"github.com/flowforge/orchestrator/pkg/model"
)

// Options carries build metadata reported by the version command and
// included in logs at startup.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// recoveryStatuses are the non-terminal run statuses a fresh process
// must resume on startup, in the order they're scanned.
var recoveryStatuses = []model.RunStatus{
	model.RunPending,
	model.RunRunning,
	model.RunWaitingApproval,
}

// recoveryScanLimit bounds how many runs of each status the startup
// scan re-dispatches in one pass. A deployment with more than this many
// simultaneously in-flight runs is already past the scheduler's
// concurrency envelope (C9) and needs operator attention, not a bigger
// scan.
const recoveryScanLimit = 500

// Service owns every long-lived component and the HTTP listener built
// over them.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger
	opts   Options

	store     backend.Backend
	bus       *events.Bus
	obs       *observability.Provider
	scheduler *scheduler.Scheduler
	server    *http.Server

	mu      sync.Mutex
	started bool
}

// New constructs every component and wires them together, but does not
// start listening or dispatching runs; call Start for that.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, orcherrors.Wrap(err, "construct backend")
	}

	bus := events.New(events.Config{
		Addr:   cfg.Events.Addr,
		Logger: logger,
	})

	baseRunner := executor.New(executor.Runtime(cfg.Executor.Runtime), logger)
	runner := safety.NewBreakerRunner(baseRunner, safety.BreakerConfig{
		Name:                "executor",
		ConsecutiveFailures: cfg.Safety.CircuitBreaker.FailureThreshold,
		Timeout:             cfg.Safety.CircuitBreaker.OpenTimeout,
		MaxHalfOpenRequests: cfg.Safety.CircuitBreaker.HalfOpenMaxRequests,
	})

	// scheduler and the approval coordinator refer to each other: the
	// coordinator needs a Resumer to wake a waiting run, and the
	// scheduler needs the coordinator to check pending approvals. s is
	// declared first and closed over by a thin resumer so the
	// coordinator can be built before the scheduler exists; New fills s
	// in below.
	var s *scheduler.Scheduler
	resumer := resumerFunc{
		nodeApproved: func(runID, nodeID string) {
			if s != nil {
				s.NodeApproved(runID, nodeID)
			}
		},
		runRejected: func(runID, nodeID string) {
			if s != nil {
				s.RunRejected(runID, nodeID)
			}
		},
	}
	coord := approval.New(store, store, bus, resumer)

	s = scheduler.New(store, bus, runner, coord, int64(cfg.Scheduler.MaxConcurrentNodesPerRun), logger)

	var obs *observability.Provider
	if cfg.Observability.Enabled {
		obs, err = observability.New(ctx, observability.Config{
			ServiceName:  cfg.Observability.ServiceName,
			OTLPEndpoint: cfg.Observability.OTLPEndpoint,
			SampleRatio:  cfg.Observability.SampleRatio,
		})
		if err != nil {
			return nil, orcherrors.Wrap(err, "construct observability provider")
		}
		s.SetObservability(obs)
	}

	// Without Slack enabled the router gets no token, so every notification
	// goes to the console sink.
	slackToken := ""
	if cfg.Notifications.Slack.Enabled {
		slackToken = cfg.Notifications.Slack.BotToken
	}
	s.SetNotifier(notify.New(slackToken, cfg.Notifications.Slack.Channel, logger))

	rateLimiter := safety.NewRateLimiter(safety.RateLimitConfig{
		RequestsPerMinute: cfg.Safety.RateLimit.RequestsPerSecond * 60,
		BurstSize:         cfg.Safety.RateLimit.Burst,
	})

	mapper := webhook.NewMapper(store, s, defaultProjectID, logger)

	deps := api.Deps{
		Store:              store,
		Scheduler:          s,
		Approvals:          coord,
		Mapper:             mapper,
		Alertmanager:       &webhook.AlertmanagerHandler{},
		Grafana:            &webhook.GrafanaHandler{},
		AlertmanagerSecret: webhookSecret(cfg, "alertmanager"),
		GrafanaSecret:      webhookSecret(cfg, "grafana"),
		RateLimiter:        rateLimiter,
		DatabaseHealthy:    databaseProbe(store),
		EventBusHealthy:    func(context.Context) bool { return bus.IsConnected() },
		Logger:             logger,
	}
	if obs != nil {
		deps.Metrics = obs.Handler()
	}

	router := api.NewRouter(deps)

	return &Service{
		cfg:       cfg,
		logger:    logger,
		opts:      opts,
		store:     store,
		bus:       bus,
		obs:       obs,
		scheduler: s,
		server: &http.Server{
			Addr:         cfg.HTTP.ListenAddr,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

// defaultProjectID scopes the single-tenant webhook mapper (C7). A
// multi-project deployment would source this from the matched
// WebhookRoute instead; SPEC_FULL.md's webhook routing is single-project.
const defaultProjectID = 1

func newBackend(ctx context.Context, cfg *config.Config) (backend.Backend, error) {
	switch cfg.Backend.Type {
	case "postgres":
		return postgres.New(ctx, postgres.Config{
			ConnectionString: cfg.Backend.Postgres.ConnectionString,
			MaxConns:         cfg.Backend.Postgres.MaxConns,
			MinConns:         cfg.Backend.Postgres.MinConns,
			ConnMaxLifetime:  cfg.Backend.Postgres.ConnMaxLifetime,
		})
	case "memory", "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}
}

func webhookSecret(cfg *config.Config, source string) string {
	for _, route := range cfg.Webhooks.Routes {
		if route.Source == source {
			return route.Secret
		}
	}
	return ""
}

// databaseProbe returns nil for the in-memory backend, which has no
// connection to lose, and a round-trip probe for postgres.
func databaseProbe(store backend.Backend) func(context.Context) bool {
	pg, ok := store.(*postgres.Backend)
	if !ok {
		return nil
	}
	return func(ctx context.Context) bool {
		return pg.Ping(ctx) == nil
	}
}

type resumerFunc struct {
	nodeApproved func(runID, nodeID string)
	runRejected  func(runID, nodeID string)
}

func (r resumerFunc) NodeApproved(runID, nodeID string) { r.nodeApproved(runID, nodeID) }
func (r resumerFunc) RunRejected(runID, nodeID string)  { r.runRejected(runID, nodeID) }

// Start begins serving HTTP, resumes any runs left non-terminal by a
// prior process, and blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("service already started")
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("starting orchestrator",
		"version", s.opts.Version,
		"commit", s.opts.Commit,
		"listen_addr", s.cfg.HTTP.ListenAddr,
	)

	s.resumeInterruptedRuns(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// resumeInterruptedRuns re-invokes ExecuteRun for every run this process
// did not itself start, recovering work left mid-flight by a crash or
// restart. ExecuteRun is safe to call against a run in any non-terminal
// status: it reloads persisted state and resumes from wherever the run
// actually is.
func (s *Service) resumeInterruptedRuns(ctx context.Context) {
	for _, status := range recoveryStatuses {
		runs, err := s.store.ListRunsByStatus(ctx, status, recoveryScanLimit)
		if err != nil {
			s.logger.Error("recovery scan failed", "status", status, "error", err)
			continue
		}
		for _, run := range runs {
			runID := run.ID
			go func() {
				if err := s.scheduler.ExecuteRun(context.Background(), runID); err != nil {
					s.logger.Error("resume run failed", "run_id", runID, "error", err)
				}
			}()
		}
		if len(runs) > 0 {
			s.logger.Info("resuming interrupted runs", "status", status, "count", len(runs))
		}
	}
}

// Shutdown drains in-flight HTTP requests, stops accepting new ones, and
// releases every owned resource. The HTTP drain and the observability
// flush are each bounded by a timeout; the event bus and backend closes
// are not.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	drainTimeout := s.cfg.HTTP.ShutdownTimeout
	if drainTimeout <= 0 {
		drainTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	var errs []error
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, orcherrors.Wrap(err, "http server shutdown"))
	}

	if s.obs != nil {
		obsCtx, obsCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer obsCancel()
		if err := s.obs.Shutdown(obsCtx); err != nil {
			errs = append(errs, orcherrors.Wrap(err, "observability shutdown"))
		}
	}

	if err := s.bus.Close(); err != nil {
		errs = append(errs, orcherrors.Wrap(err, "event bus close"))
	}

	if err := s.store.Close(); err != nil {
		errs = append(errs, orcherrors.Wrap(err, "backend close"))
	}

	s.logger.Info("orchestrator stopped")
	return errors.Join(errs...)
}
