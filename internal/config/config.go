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

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	orcherrors "github.com/flowforge/orchestrator/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete orchestrator service configuration.
type Config struct {
	// Version indicates the config format version (1 = initial release).
	Version int `yaml:"version,omitempty"`

	Log           LogConfig           `yaml:"log"`
	HTTP          HTTPConfig          `yaml:"http"`
	Backend       BackendConfig       `yaml:"backend"`
	Events        EventsConfig        `yaml:"events"`
	Executor      ExecutorConfig      `yaml:"executor"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Safety        SafetyConfig        `yaml:"safety"`
	Webhooks      WebhooksConfig      `yaml:"webhooks,omitempty"`
	Notifications NotificationsConfig `yaml:"notifications,omitempty"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	// Environment: ORCHESTRATOR_LOG_LEVEL
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: ORCHESTRATOR_LOG_FORMAT
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: ORCHESTRATOR_LOG_SOURCE
	AddSource bool `yaml:"add_source"`
}

// HTTPConfig configures the API transport (§6.1).
type HTTPConfig struct {
	// ListenAddr is the address the HTTP API listens on (e.g. ":8080").
	// Environment: ORCHESTRATOR_HTTP_ADDR
	ListenAddr string `yaml:"listen_addr"`

	// ShutdownTimeout bounds how long in-flight requests are given to
	// finish when the server is asked to drain.
	// Environment: ORCHESTRATOR_HTTP_SHUTDOWN_TIMEOUT
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BackendConfig selects and configures the persistence backend (C1).
type BackendConfig struct {
	// Type is the backend type: "memory" or "postgres".
	// Environment: ORCHESTRATOR_BACKEND
	Type string `yaml:"type"`

	Postgres PostgresConfig `yaml:"postgres,omitempty"`
}

// PostgresConfig contains pgx connection pool settings.
type PostgresConfig struct {
	// ConnectionString is the Postgres DSN.
	// Environment: ORCHESTRATOR_DATABASE_URL
	ConnectionString string `yaml:"connection_string,omitempty"`

	// MaxConns caps the pgxpool connection pool size.
	MaxConns int32 `yaml:"max_conns,omitempty"`

	// MinConns keeps this many idle connections warm.
	MinConns int32 `yaml:"min_conns,omitempty"`

	// ConnMaxLifetime bounds how long a pooled connection is reused.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty"`
}

// EventsConfig configures the event bus (C2).
type EventsConfig struct {
	// Addr is the redis address used for workflow.run.*/workflow.agent.*/
	// workflow.approval.* pub/sub.
	// Environment: ORCHESTRATOR_REDIS_ADDR
	Addr string `yaml:"addr"`

	// Stream is the Redis pub/sub channel prefix for event subjects.
	Stream string `yaml:"stream,omitempty"`

	// PublishTimeout bounds a single publish call.
	PublishTimeout time.Duration `yaml:"publish_timeout,omitempty"`
}

// ExecutorConfig configures container-sandboxed agent execution (C3).
type ExecutorConfig struct {
	// Runtime selects the container CLI to shell out to: "docker" or "podman".
	// Environment: ORCHESTRATOR_CONTAINER_RUNTIME
	Runtime string `yaml:"runtime"`

	// NetworkMode is passed as --network to the container runtime ("none" by default).
	NetworkMode string `yaml:"network_mode,omitempty"`

	// MemoryLimitMB caps container memory (--memory).
	MemoryLimitMB int `yaml:"memory_limit_mb,omitempty"`

	// CPUs caps container CPU shares (--cpus).
	CPUs float64 `yaml:"cpus,omitempty"`

	// DefaultTimeout bounds a single agent invocation when the node doesn't
	// override it.
	DefaultTimeout time.Duration `yaml:"default_timeout,omitempty"`

	// PullPolicy controls image pulling: "always", "missing", or "never".
	PullPolicy string `yaml:"pull_policy,omitempty"`
}

// SchedulerConfig configures run-level concurrency (§5).
type SchedulerConfig struct {
	// MaxConcurrentNodesPerRun bounds how many ready nodes dispatch at once.
	// The scheduler applies it as one bound shared by all runs of the
	// process, not separately per run.
	// Environment: ORCHESTRATOR_MAX_CONCURRENT_NODES
	MaxConcurrentNodesPerRun int `yaml:"max_concurrent_nodes_per_run"`

	// MaxConcurrentRuns bounds how many runs this instance schedules at once.
	// Environment: ORCHESTRATOR_MAX_CONCURRENT_RUNS
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	// DrainTimeout bounds how long a shutdown waits for in-flight runs to
	// reach a checkpoint before the scheduler loop is cancelled.
	// Environment: ORCHESTRATOR_DRAIN_TIMEOUT
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// ApprovalPollInterval is how often a waiting run rechecks approval state
	// when the backend has no LISTEN/NOTIFY support (memory backend).
	ApprovalPollInterval time.Duration `yaml:"approval_poll_interval,omitempty"`
}

// SafetyConfig configures the rate limiter and circuit breaker (C9).
type SafetyConfig struct {
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RateLimitConfig configures the HTTP token bucket kept per caller identity.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained token-bucket refill rate.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the token-bucket capacity.
	Burst int `yaml:"burst"`
}

// CircuitBreakerConfig configures the single gobreaker instance around the
// container runtime, shared by all agents.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that trips the
	// breaker from CLOSED to OPEN.
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// OpenTimeout is how long the breaker stays OPEN before probing
	// HALF_OPEN.
	OpenTimeout time.Duration `yaml:"open_timeout"`

	// HalfOpenMaxRequests bounds how many trial requests are admitted while
	// HALF_OPEN.
	HalfOpenMaxRequests uint32 `yaml:"half_open_max_requests"`
}

// WebhooksConfig configures inbound alert webhook routing (C7).
type WebhooksConfig struct {
	// Routes maps an inbound webhook path to the workflow it triggers.
	Routes []WebhookRoute `yaml:"routes,omitempty"`
}

// WebhookRoute binds a webhook path to a workflow and alert-to-context
// mapping (§6.4 alert envelope mapping).
type WebhookRoute struct {
	// Path is the URL path (e.g. "/webhooks/alertmanager").
	Path string `yaml:"path"`

	// Source is the alert source: "alertmanager" or "grafana".
	Source string `yaml:"source"`

	// Workflow is the workflow name to trigger.
	Workflow string `yaml:"workflow"`

	// Secret verifies the webhook signature, when the source supports one.
	Secret string `yaml:"secret,omitempty"`
}

// NotificationsConfig configures the notification channel router that
// delivers alert-notification node outputs (§4.7). Approval requests and
// run status are not sent through it.
type NotificationsConfig struct {
	Slack SlackConfig `yaml:"slack,omitempty"`
}

// SlackConfig configures the Slack notification channel.
type SlackConfig struct {
	// Enabled activates Slack notifications.
	Enabled bool `yaml:"enabled"`

	// BotToken authenticates with the Slack API.
	// Environment: ORCHESTRATOR_SLACK_BOT_TOKEN
	BotToken string `yaml:"bot_token,omitempty"`

	// Channel is the Slack channel alert notifications are posted to.
	Channel string `yaml:"channel,omitempty"`
}

// ObservabilityConfig configures OTel tracing and Prometheus metrics (C8).
type ObservabilityConfig struct {
	// Enabled activates tracing export and Prometheus metrics. When false,
	// GET /metrics is not served.
	Enabled bool `yaml:"enabled"`

	// ServiceName identifies this service in traces and metrics.
	ServiceName string `yaml:"service_name"`

	// OTLPEndpoint is the OTLP/gRPC collector endpoint.
	// Environment: ORCHESTRATOR_OTLP_ENDPOINT
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	// SampleRatio is the fraction of traces sampled (0.0-1.0).
	SampleRatio float64 `yaml:"sample_ratio,omitempty"`

	// MetricsAddr is the address the Prometheus /metrics endpoint binds to,
	// when served on a separate port from HTTP.ListenAddr. Empty means
	// metrics are served on the main HTTP listener.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Backend: BackendConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns:        10,
				MinConns:        2,
				ConnMaxLifetime: time.Hour,
			},
		},
		Events: EventsConfig{
			Addr:           "localhost:6379",
			Stream:         "orchestrator",
			PublishTimeout: 5 * time.Second,
		},
		Executor: ExecutorConfig{
			Runtime:        "docker",
			NetworkMode:    "none",
			MemoryLimitMB:  512,
			CPUs:           1.0,
			DefaultTimeout: 5 * time.Minute,
			PullPolicy:     "missing",
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentNodesPerRun: 8,
			MaxConcurrentRuns:        50,
			DrainTimeout:             30 * time.Second,
			ApprovalPollInterval:     5 * time.Second,
		},
		Safety: SafetyConfig{
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100.0 / 60,
				Burst:             10,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:    5,
				OpenTimeout:         60 * time.Second,
				HalfOpenMaxRequests: 3,
			},
		},
		Observability: ObservabilityConfig{
			Enabled:     false,
			ServiceName: "orchestrator",
			SampleRatio: 1.0,
		},
	}
}

// Load loads configuration from a YAML file, then applies environment
// variable overrides, then validates the result. If configPath is empty,
// only defaults and environment variables apply.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &orcherrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &orcherrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("ORCHESTRATOR_LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("ORCHESTRATOR_LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("ORCHESTRATOR_LOG_SOURCE"); val != "" {
		c.Log.AddSource = isTruthy(val)
	}

	if val := os.Getenv("ORCHESTRATOR_HTTP_ADDR"); val != "" {
		c.HTTP.ListenAddr = val
	}
	if val := os.Getenv("ORCHESTRATOR_HTTP_SHUTDOWN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.HTTP.ShutdownTimeout = d
		}
	}

	if val := os.Getenv("ORCHESTRATOR_BACKEND"); val != "" {
		c.Backend.Type = strings.ToLower(val)
	}
	if val := os.Getenv("ORCHESTRATOR_DATABASE_URL"); val != "" {
		c.Backend.Postgres.ConnectionString = val
	}

	if val := os.Getenv("ORCHESTRATOR_REDIS_ADDR"); val != "" {
		c.Events.Addr = val
	}

	if val := os.Getenv("ORCHESTRATOR_CONTAINER_RUNTIME"); val != "" {
		c.Executor.Runtime = strings.ToLower(val)
	}

	if val := os.Getenv("ORCHESTRATOR_MAX_CONCURRENT_NODES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Scheduler.MaxConcurrentNodesPerRun = n
		}
	}
	if val := os.Getenv("ORCHESTRATOR_MAX_CONCURRENT_RUNS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Scheduler.MaxConcurrentRuns = n
		}
	}
	if val := os.Getenv("ORCHESTRATOR_DRAIN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Scheduler.DrainTimeout = d
		}
	}

	if val := os.Getenv("ORCHESTRATOR_SLACK_BOT_TOKEN"); val != "" {
		c.Notifications.Slack.Enabled = true
		c.Notifications.Slack.BotToken = val
	}

	if val := os.Getenv("ORCHESTRATOR_OTLP_ENDPOINT"); val != "" {
		c.Observability.Enabled = true
		c.Observability.OTLPEndpoint = val
	}
}

func isTruthy(val string) bool {
	return val == "1" || strings.EqualFold(val, "true")
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	validBackends := map[string]bool{"memory": true, "postgres": true}
	if !validBackends[c.Backend.Type] {
		errs = append(errs, fmt.Sprintf("backend.type must be one of [memory, postgres], got %q", c.Backend.Type))
	}
	if c.Backend.Type == "postgres" && c.Backend.Postgres.ConnectionString == "" {
		errs = append(errs, "backend.postgres.connection_string is required when backend.type is postgres")
	}

	validRuntimes := map[string]bool{"docker": true, "podman": true}
	if !validRuntimes[c.Executor.Runtime] {
		errs = append(errs, fmt.Sprintf("executor.runtime must be one of [docker, podman], got %q", c.Executor.Runtime))
	}

	if c.Scheduler.MaxConcurrentNodesPerRun <= 0 {
		errs = append(errs, "scheduler.max_concurrent_nodes_per_run must be positive")
	}
	if c.Scheduler.MaxConcurrentRuns <= 0 {
		errs = append(errs, "scheduler.max_concurrent_runs must be positive")
	}

	if c.Safety.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, "safety.rate_limit.requests_per_second must be positive")
	}
	if c.Safety.CircuitBreaker.FailureThreshold == 0 {
		errs = append(errs, "safety.circuit_breaker.failure_threshold must be positive")
	}

	for i, route := range c.Webhooks.Routes {
		if route.Path == "" {
			errs = append(errs, fmt.Sprintf("webhooks.routes[%d]: path is required", i))
		}
		if route.Workflow == "" {
			errs = append(errs, fmt.Sprintf("webhooks.routes[%d]: workflow is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}
