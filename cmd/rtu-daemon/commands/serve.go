// Copyright (c) 2026 John Earle
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

package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/noteable-io/origami-go/internal/auditstore"
	"github.com/noteable-io/origami-go/internal/config"
	"github.com/noteable-io/origami-go/internal/dedup"
	"github.com/noteable-io/origami-go/internal/metrics"
	"github.com/noteable-io/origami-go/internal/rtu"
)

var serveFileID string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open a notebook's realtime connection and hold it open until interrupted",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFileID, "file-id", "", "notebook file id to open (required)")
	serveCmd.MarkFlagRequired("file-id")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := GetConfigFile()
	if cfgPath == "" {
		cfgPath = os.Getenv("RTU_CONFIG")
	}
	if cfgPath == "" {
		cfgPath = "rtu-daemon.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)

	var dedupFilter *dedup.Filter
	if cfg.DedupRedisURL != "" {
		opts, err := redis.ParseURL(cfg.DedupRedisURL)
		if err != nil {
			return fmt.Errorf("parse dedup redis url: %w", err)
		}
		dedupFilter = dedup.NewFilter(redis.NewClient(opts))
	} else {
		dedupFilter = dedup.NewFilter(nil)
	}

	var audit *auditstore.Store
	if cfg.AuditPostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.AuditPostgresDSN)
		if err != nil {
			return fmt.Errorf("connect audit postgres: %w", err)
		}
		defer pool.Close()
		audit, err = auditstore.NewStore(ctx, pool)
		if err != nil {
			return fmt.Errorf("init audit store: %w", err)
		}
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				cmd.PrintErrln("metrics server stopped:", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	client, err := rtu.New(rtu.Config{
		APIBaseURL:           cfg.APIBaseURL,
		TokenSource:          oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AuthorizationToken}),
		CreatorClientType:    cfg.CreatorClientType,
		FileSubscribeTimeout: cfg.FileSubscribeTimeout,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		Dedup:                dedupFilter,
		Audit:                audit,
		Metrics:              m,
	})
	if err != nil {
		return fmt.Errorf("build rtu client: %w", err)
	}

	if err := client.Initialize(ctx, serveFileID); err != nil {
		return fmt.Errorf("initialize notebook connection: %w", err)
	}
	cmd.Printf("rtu-daemon: connected to file %s, state=%s\n", serveFileID, client.State())

	<-ctx.Done()
	cmd.Println("rtu-daemon: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Shutdown(shutdownCtx, false); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
