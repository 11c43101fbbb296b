package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joseph-ayodele/cutlist-extractor/internal/app"
	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/server"
)

func main() {
	cfg := common.LoadConfig()
	logger := app.NewLogger(cfg.Log, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	if !cfg.LLMConfigured() {
		logger.Warn("no API key for the configured LLM provider; extraction requests will be rejected", "provider", cfg.LLM.Provider)
	}

	// Context with signal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("wiring failed", "error", err)
		os.Exit(1)
	}

	stopSweeper, err := a.Merger.StartSweeper(cfg.Sessions.SweepSchedule)
	if err != nil {
		logger.Error("session sweeper", "error", err)
		os.Exit(1)
	}

	health := server.NewHealth(a.OCR, cfg.OCR.HealthTimeout, logger)
	if err := health.StartProbe(cfg.Server.OCRProbeSchedule); err != nil {
		logger.Error("ocr probe", "error", err)
		os.Exit(1)
	}

	// gRPC health
	grpcServer := health.NewGRPCServer()
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("grpc listen", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	go func() {
		logger.Info("gRPC health serving", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc serve", "error", err)
			stop()
		}
	}()

	// HTTP API
	api := &server.API{
		Processor:      a.Processor,
		Sessions:       a.Merger,
		Exporter:       a.Exporter,
		Health:         health,
		MaxUploadBytes: int64(cfg.Extraction.MaxUploadBytes),
		Logger:         logger,
	}
	httpServer := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: api.Handler()}
	go func() {
		logger.Info("HTTP serving", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	health.Stop()
	grpcServer.GracefulStop()
	stopSweeper()
	if err := a.Close(shutdownCtx); err != nil {
		logger.Warn("close", "error", err)
	}
	logger.Info("stopped")
}
