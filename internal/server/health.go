package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
)

// OCRServiceName is the health sub-service tracking the remote OCR service.
const OCRServiceName = "ocr"

// OCRProbe is the part of the OCR client the health probe needs.
type OCRProbe interface {
	IsConfigured() bool
	HealthCheck(ctx context.Context) bool
}

// Health owns the gRPC health service. The overall status is SERVING while
// the process runs; the "ocr" status follows a periodic probe.
type Health struct {
	*health.Server
	ocr     OCRProbe
	timeout time.Duration
	logger  *slog.Logger
	cron    *cron.Cron
}

func NewHealth(ocr OCRProbe, timeout time.Duration, logger *slog.Logger) *Health {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	h := &Health{Server: health.NewServer(), ocr: ocr, timeout: timeout, logger: logger}
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus(OCRServiceName, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
	return h
}

// NewGRPCServer returns a gRPC server exposing the health service.
func (h *Health) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	gs := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(gs, h.Server)
	// reflection for grpcurl
	reflection.Register(gs)
	return gs
}

// ProbeOCR refreshes the "ocr" status once.
func (h *Health) ProbeOCR(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	if h.ocr != nil && h.ocr.IsConfigured() {
		ctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		st = healthpb.HealthCheckResponse_NOT_SERVING
		if h.ocr.HealthCheck(ctx) {
			st = healthpb.HealthCheckResponse_SERVING
		}
	}
	prev := h.Status(ctx, OCRServiceName)
	h.SetServingStatus(OCRServiceName, st)
	if prev != st {
		h.logger.Info("health.ocr.changed", "from", prev.String(), "to", st.String())
	}
	return st
}

// StartProbe probes once now and then on schedule.
func (h *Health) StartProbe(schedule string) error {
	h.ProbeOCR(context.Background())
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { h.ProbeOCR(context.Background()) }); err != nil {
		return common.NewAppError(common.CodeConfig, fmt.Sprintf("invalid OCR probe schedule %q", schedule), err)
	}
	c.Start()
	h.cron = c
	return nil
}

// Stop halts the probe and marks everything NOT_SERVING.
func (h *Health) Stop() {
	if h.cron != nil {
		<-h.cron.Stop().Done()
	}
	h.Shutdown()
}

// Status reads the current status of service ("" is overall).
func (h *Health) Status(ctx context.Context, service string) healthpb.HealthCheckResponse_ServingStatus {
	resp, err := h.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	}
	return resp.GetStatus()
}
