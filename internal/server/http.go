package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/cutlist-extractor/constants"
	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
	"github.com/joseph-ayodele/cutlist-extractor/internal/extraction"
	"github.com/joseph-ayodele/cutlist-extractor/internal/pipeline"
)

// Processor runs one upload end to end.
type Processor interface {
	Process(ctx context.Context, req extraction.Request) (*pipeline.Result, error)
}

// Sessions exposes stored sessions and explicit merges.
type Sessions interface {
	Get(ctx context.Context, id string) (*entity.ParseSession, error)
	MergeSession(ctx context.Context, id string) (*entity.MergeResult, error)
}

// Exporter renders a merged session as XLSX.
type Exporter interface {
	ExportSessionXLSX(ctx context.Context, sessionID string) ([]byte, error)
}

// API is the HTTP surface of the extractor.
type API struct {
	Processor      Processor
	Sessions       Sessions
	Exporter       Exporter
	Health         *Health
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// Handler builds the router.
func (a *API) Handler() http.Handler {
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
	if a.MaxUploadBytes <= 0 {
		a.MaxUploadBytes = constants.MaxUploadBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(a.requestID)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthz)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/orgs/{orgID}/extract", a.extract)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", a.getSession)
			r.Post("/merge", a.mergeSession)
			r.Get("/export.xlsx", a.exportSession)
		})
	})
	return r
}

func (a *API) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := strings.TrimSpace(r.Header.Get("X-Request-ID")); id != "" {
			ctx = common.WithRequestID(ctx, id)
		}
		ctx, id := common.EnsureRequestID(ctx)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.Logger.Info("http.request",
			"req_id", common.RequestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

type errorBody struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Remediation []string `json:"remediation,omitempty"`
	RequestID   string   `json:"request_id,omitempty"`
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Code: "INTERNAL", Message: "internal error", RequestID: common.RequestIDFromContext(r.Context())}
	if ae, ok := common.AsAppError(err); ok {
		body.Code, body.Message, body.Remediation = ae.Code, ae.Message, ae.Remediation
	}
	st := common.HTTPStatus(err)
	if st >= 500 {
		a.Logger.Error("http.error", "req_id", body.RequestID, "path", r.URL.Path, "code", body.Code, "error", err)
	}
	writeJSON(w, st, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// extract accepts a multipart upload with a "file" part. Optional form
// fields: user_id, default_material_id, default_thickness_mm,
// expand_on_truncation.
func (a *API) extract(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if err := common.ValidateAndReturnError(common.NewValidator().Field("org_id", orgID, common.Required, common.Identifier)); err != nil {
		a.writeError(w, r, err)
		return
	}

	// headroom for the multipart envelope; the orchestrator enforces the real ceiling
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			a.writeError(w, r, common.NewAppError(common.CodeInputTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", a.MaxUploadBytes), common.ErrInvalidInput))
			return
		}
		a.writeError(w, r, common.NewAppError(common.CodeValidation, "expected a multipart form with a file part", common.ErrInvalidInput))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		a.writeError(w, r, common.NewAppError(common.CodeInputEmpty, "no file uploaded", common.ErrInvalidInput))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, a.MaxUploadBytes+1))
	if err != nil {
		a.writeError(w, r, common.NewAppError(common.CodeValidation, "read upload", err))
		return
	}

	req := extraction.Request{
		OrgID:              orgID,
		UserID:             r.FormValue("user_id"),
		Filename:           hdr.Filename,
		MIMEType:           hdr.Header.Get("Content-Type"),
		Data:               data,
		DefaultMaterialID:  r.FormValue("default_material_id"),
		ExpandOnTruncation: r.FormValue("expand_on_truncation") == "true",
	}
	if v := r.FormValue("default_thickness_mm"); v != "" {
		t, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64)
		if err != nil || t < 0 {
			a.writeError(w, r, common.NewAppError(common.CodeValidation, "default_thickness_mm must be a non-negative number", common.ErrValidation))
			return
		}
		req.DefaultThicknessMm = t
	}

	ctx := common.WithOrgID(r.Context(), orgID)
	if req.UserID != "" {
		ctx = common.WithUserID(ctx, req.UserID)
	}
	res, err := a.Processor.Process(ctx, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) mergeSession(w http.ResponseWriter, r *http.Request) {
	res, err := a.Sessions.MergeSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) exportSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := a.Exporter.ExportSessionXLSX(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "cutlist-"+id+".xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": healthpb.HealthCheckResponse_SERVING.String()}
	st := http.StatusOK
	if a.Health != nil {
		overall := a.Health.Status(r.Context(), "")
		body["status"] = overall.String()
		body[OCRServiceName] = a.Health.Status(r.Context(), OCRServiceName).String()
		if overall != healthpb.HealthCheckResponse_SERVING {
			st = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, st, body)
}
