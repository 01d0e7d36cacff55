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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowforge/orchestrator/internal/backend/postgres"
	"github.com/flowforge/orchestrator/internal/config"
	orclog "github.com/flowforge/orchestrator/internal/log"
	"github.com/flowforge/orchestrator/internal/service"
	orcherrors "github.com/flowforge/orchestrator/pkg/errors"
)

// Version information, injected via ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:           "orchestratord",
		Short:         "Agent workflow orchestrator daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable output")

	cmd.AddCommand(newServeCommand(&configPath))
	cmd.AddCommand(newMigrateCommand(&configPath))
	cmd.AddCommand(newVersionCommand(&jsonOutput))

	return cmd
}

func newServeCommand(configPath *string) *cobra.Command {
	var (
		backendType string
		listenAddr  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return orcherrors.Wrap(err, "load config")
			}
			if backendType != "" {
				cfg.Backend.Type = backendType
			}
			if listenAddr != "" {
				cfg.HTTP.ListenAddr = listenAddr
			}

			logger := orclog.New(&orclog.Config{
				Level:     cfg.Log.Level,
				Format:    orclog.Format(cfg.Log.Format),
				Output:    os.Stderr,
				AddSource: cfg.Log.AddSource,
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := service.New(ctx, cfg, logger, service.Options{
				Version:   version,
				Commit:    commit,
				BuildDate: buildDate,
			})
			if err != nil {
				return orcherrors.Wrap(err, "construct service")
			}

			errCh := make(chan error, 1)
			go func() { errCh <- svc.Start(ctx) }()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					return orcherrors.Wrap(err, "serve")
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return svc.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&backendType, "backend", "", "storage backend override (memory, postgres)")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address override")
	return cmd
}

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return orcherrors.Wrap(err, "load config")
			}
			if cfg.Backend.Type != "postgres" {
				return fmt.Errorf("migrate requires backend.type=postgres, got %q", cfg.Backend.Type)
			}

			// postgres.New runs every pending migration as part of
			// opening the pool, so migrating is just construct-then-close.
			pg, err := postgres.New(cmd.Context(), postgres.Config{
				ConnectionString: cfg.Backend.Postgres.ConnectionString,
				MaxConns:         cfg.Backend.Postgres.MaxConns,
				MinConns:         cfg.Backend.Postgres.MinConns,
				ConnMaxLifetime:  cfg.Backend.Postgres.ConnMaxLifetime,
			})
			if err != nil {
				return orcherrors.Wrap(err, "run migrations")
			}
			defer pg.Close()

			cmd.Println("migrations applied")
			return nil
		},
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

func newVersionCommand(jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{Version: version, Commit: commit, BuildDate: buildDate}
			if *jsonOutput {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return orcherrors.Wrap(err, "marshal version info")
				}
				cmd.Println(string(data))
				return nil
			}
			cmd.Printf("orchestratord version %s\n", info.Version)
			cmd.Printf("  commit:     %s\n", info.Commit)
			cmd.Printf("  build date: %s\n", info.BuildDate)
			return nil
		},
	}
}
