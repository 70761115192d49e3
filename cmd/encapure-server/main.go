/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/dannyavrs/encapure/pkg/config"
	"github.com/dannyavrs/encapure/pkg/metrics"
	"github.com/dannyavrs/encapure/pkg/server"
	"github.com/dannyavrs/encapure/pkg/startup"
)

// metricsLoggingInterval is how often the structured-log metrics beat
// fires, for operators who don't scrape /metrics.
const metricsLoggingInterval = 60 * time.Second

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := klog.FromContext(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	if err := run(ctx); err != nil {
		logger.Error(err, "encapure-server exited with an error")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logger := klog.FromContext(ctx)

	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger.Info("configuration loaded", "host", cfg.Host, "port", cfg.Port, "mode", cfg.Mode)

	app, err := startup.Run(ctx, cfg)
	if err != nil {
		return fmt.Errorf("starting up: %w", err)
	}

	metrics.StartMetricsLogging(ctx, metricsLoggingInterval)

	srv := &server.Server{
		Engine:    app.Engine,
		ReadyFlag: app.ReadyFlag,
		Version:   version(),
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       1 * time.Minute,
		WriteTimeout:      1 * time.Minute,
	}

	go func() {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "http server error")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down encapure-server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func version() string {
	if v := os.Getenv("ENCAPURE_VERSION"); v != "" {
		return v
	}
	return "dev"
}
