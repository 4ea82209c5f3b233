// Tencent is pleased to support the open source community by making mcpgateway available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// mcpgateway is licensed under the Apache License Version 2.0.

// Command mcpgateway runs the authenticating OAuth gateway in front of the
// MCP server.
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

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"mcpgateway/internal/config"
	"mcpgateway/internal/gateway"
	"mcpgateway/internal/gateway/router"
	"mcpgateway/internal/idp"
	"mcpgateway/internal/mcpserv"
	"mcpgateway/internal/obo"
	"mcpgateway/internal/todo"
	"mcpgateway/internal/verifier"
)

const (
	serverName    = "mcpgateway"
	serverVersion = "0.1.0"

	shutdownTimeout = 10 * time.Second
	selfCheckWindow = 15 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:          serverName,
		Short:        "OAuth 2.1 gateway for an MCP server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", zap.Error(err))
		return err
	}

	meterProvider, err := newMeterProvider()
	if err != nil {
		return fmt.Errorf("failed to create meter provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = meterProvider.Shutdown(shutdownCtx)
	}()
	otel.SetMeterProvider(meterProvider)

	metrics, err := gateway.NewMetrics(otel.Meter(serverName))
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	tokenVerifier, err := verifier.New(ctx, verifier.Options{
		JWKSURI:  cfg.JWKSURI(),
		Issuer:   cfg.Issuer(),
		Audience: cfg.TokenAudience(),
	})
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}

	// Fail fast when the IdP key set is unreachable rather than serving
	// requests that can only 401
	checkCtx, cancel := context.WithTimeout(ctx, selfCheckWindow)
	err = tokenVerifier.Warm(checkCtx)
	cancel()
	if err != nil {
		logger.Error("startup self-check failed", zap.String("jwks_uri", cfg.JWKSURI()), zap.Error(err))
		return err
	}

	idpClient := idp.New(cfg)
	registry := gateway.NewClientRegistry(0)
	store := gateway.NewTransactionStore()
	defer store.Close()

	mcpServer := mcpserv.NewServer(serverName, serverVersion, logger)
	exchanger := obo.New(idpClient, logger)
	todo.NewTools(todo.NewMemoryStore(), exchanger, cfg.OBOExportScope).Register(mcpServer)

	mux := router.New(router.Options{
		Config:           cfg,
		Registry:         registry,
		Store:            store,
		IdP:              idpClient,
		Verifier:         tokenVerifier,
		Logger:           logger,
		Metrics:          metrics,
		MCPHandler:       mcpServer,
		MCPStreamHandler: mcpServer.StreamHandler(),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("issuer", cfg.Issuer()),
			zap.String("resource", cfg.MCPEndpointURL()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

func newMeterProvider() (*sdkmetric.MeterProvider, error) {
	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, err
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(time.Minute))
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), nil
}
