// Package extraction drives the per-file fallback chain: local text and remote
// OCR raced for PDFs, a vision call for images, then native-document and
// raster fallbacks when text is unusable or too weak.
package extraction

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/cutlist-extractor/constants"
	"github.com/joseph-ayodele/cutlist-extractor/internal/async"
	"github.com/joseph-ayodele/cutlist-extractor/internal/chunker"
	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
	"github.com/joseph-ayodele/cutlist-extractor/internal/imageopt"
	"github.com/joseph-ayodele/cutlist-extractor/internal/llm"
	"github.com/joseph-ayodele/cutlist-extractor/internal/quality"
	"github.com/joseph-ayodele/cutlist-extractor/internal/ratelimit"
	"github.com/joseph-ayodele/cutlist-extractor/internal/template"
)

// TextExtractor is the local fast PDF text extractor. It fails fast and never
// touches the network.
type TextExtractor interface {
	ExtractText(ctx context.Context, pdf []byte) (entity.TextExtraction, error)
}

// Renderer rasterizes PDF pages locally.
type Renderer interface {
	Render(ctx context.Context, pdf []byte, scale float64, maxPages int) ([][]byte, error)
}

// OCRService is the remote OCR microservice.
type OCRService interface {
	IsConfigured() bool
	HealthCheck(ctx context.Context) bool
	ExtractByPage(ctx context.Context, file []byte, filename string) (entity.TextExtraction, error)
	ExtractAsImages(ctx context.Context, file []byte, filename string) ([][]byte, error)
}

// TemplateDetector recognizes organization templates. It never fails.
type TemplateDetector interface {
	Detect(ctx context.Context, in template.Input) template.Detection
}

// ShortcodeResolver enriches parts with organization-specific operation lookups.
type ShortcodeResolver interface {
	Resolve(ctx context.Context, orgID string, parts []entity.ExtractedPart) ([]entity.ExtractedPart, error)
}

// FileSaver keeps the uploaded bytes.
type FileSaver interface {
	Save(ctx context.Context, orgID, fileID, filename string, data []byte) (string, error)
}

// AuditWriter stores extraction diagnostics.
type AuditWriter interface {
	WriteAudit(ctx context.Context, a entity.ExtractionAudit) error
}

// Config tunes the orchestrator. Zero values take defaults.
type Config struct {
	MaxUploadBytes     int           // default 20MB
	PageConcurrency    int           // pages in flight, default 10
	ChunkConcurrency   int           // chunks in flight, default 3
	ChunkRowThreshold  int           // estimated rows above which text is chunked, default 40
	DetectTimeout      time.Duration // default 4s
	ResolveTimeout     time.Duration // shortcode resolution budget, default 5s
	RenderScale        float64       // default 1
	MaxRenderPages     int           // default 20
	Image              imageopt.Options
	DefaultMaterialID  string
	DefaultThicknessMm float64
}

func (c *Config) defaults() {
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = constants.MaxUploadBytes
	}
	if c.PageConcurrency <= 0 {
		c.PageConcurrency = 10
	}
	if c.ChunkConcurrency <= 0 {
		c.ChunkConcurrency = 3
	}
	if c.ChunkRowThreshold <= 0 {
		c.ChunkRowThreshold = 40
	}
	if c.DetectTimeout <= 0 {
		c.DetectTimeout = 4 * time.Second
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 5 * time.Second
	}
	if c.RenderScale <= 0 {
		c.RenderScale = 1
	}
	if c.MaxRenderPages <= 0 {
		c.MaxRenderPages = 20
	}
}

// Deps are the collaborators. Provider is required; everything else may be nil
// and the corresponding strategy or side effect is skipped.
type Deps struct {
	Provider llm.Provider
	Text     TextExtractor
	Renderer Renderer
	OCR      OCRService
	Detector TemplateDetector
	Gate     *quality.Gate
	Chunker  *chunker.Chunker
	Limiter  *ratelimit.Limiter
	Retry    ratelimit.Policy
	Resolver ShortcodeResolver
	Files    FileSaver
	Audit    AuditWriter
	Effects  async.Runner
}

type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

func New(cfg Config, deps Deps, logger *slog.Logger) *Orchestrator {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Gate == nil {
		deps.Gate = quality.NewGate(quality.Config{})
	}
	if deps.Chunker == nil {
		deps.Chunker = chunker.New(chunker.Options{})
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New(nil, ratelimit.ProviderLimits{}, logger)
	}
	if deps.Effects == nil {
		deps.Effects = async.Inline{Logger: logger}
	}
	return &Orchestrator{cfg: cfg, deps: deps, logger: logger}
}

// Request is one uploaded file.
type Request struct {
	OrgID    string
	UserID   string
	FileID   string // minted when empty
	Filename string
	MIMEType string
	Data     []byte

	DefaultMaterialID  string
	DefaultThicknessMm float64
	ExpandOnTruncation bool
}

// run is the per-request state shared by the strategies of one file.
type run struct {
	req   Request
	reqID string
	start time.Time
	class constants.FileClass
	mime  string
	opts  llm.ParseOptions
	match *entity.TemplateMatch

	mu       sync.Mutex
	attempts []entity.ExtractionAttempt
	warnings []string
}

func (r *run) record(a entity.ExtractionAttempt) {
	r.mu.Lock()
	r.attempts = append(r.attempts, a)
	r.mu.Unlock()
}

func (r *run) warn(format string, args ...any) {
	r.mu.Lock()
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *run) audits() []entity.AttemptAudit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entity.AttemptAudit, 0, len(r.attempts))
	for _, a := range r.attempts {
		out = append(out, a.Audit())
	}
	return out
}

// Extract runs the fallback chain for one file. It returns a candidate with at
// least one part, or an *common.AppError describing why not.
func (o *Orchestrator) Extract(ctx context.Context, req Request) (*entity.DocumentCandidate, error) {
	ctx, reqID := common.EnsureRequestID(ctx)
	r := &run{req: req, reqID: reqID, start: time.Now()}

	if err := o.admit(r); err != nil {
		o.logger.Warn("extract.rejected", "req_id", reqID, "org_id", req.OrgID, "filename", req.Filename, "code", common.ErrorCode(err))
		return nil, err
	}
	if r.req.FileID == "" {
		r.req.FileID = uuid.NewString()
	}
	r.opts = llm.ParseOptions{
		ExtractMetadata:    true,
		DefaultMaterialID:  firstNonEmpty(req.DefaultMaterialID, o.cfg.DefaultMaterialID),
		DefaultThicknessMm: firstPositive(req.DefaultThicknessMm, o.cfg.DefaultThicknessMm),
		ExpandOnTruncation: req.ExpandOnTruncation,
		Filename:           req.Filename,
	}
	o.logger.Info("extract.start",
		"req_id", reqID,
		"org_id", req.OrgID,
		"file_id", r.req.FileID,
		"filename", req.Filename,
		"class", r.class,
		"bytes", len(req.Data),
	)
	o.saveUpload(ctx, r)

	var cand *entity.DocumentCandidate
	var err error
	switch r.class {
	case constants.IMAGE:
		cand, err = o.extractImage(ctx, r)
	default:
		cand, err = o.extractPDF(ctx, r)
	}
	if err != nil {
		o.writeAudit(ctx, r, nil, err)
		o.logger.Warn("extract.failed",
			"req_id", reqID,
			"file_id", r.req.FileID,
			"code", common.ErrorCode(err),
			"attempts", len(r.attempts),
			"elapsed_ms", time.Since(r.start).Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	o.finish(ctx, r, cand)
	o.writeAudit(ctx, r, cand, nil)
	o.logger.Info("extract.done",
		"req_id", reqID,
		"file_id", cand.FileID,
		"strategy", cand.Strategy,
		"parts", len(cand.Parts),
		"confidence", cand.Confidence,
		"escalated", cand.Escalated,
		"warnings", len(cand.Warnings),
		"elapsed_ms", cand.ProcessingTimeMs,
	)
	return cand, nil
}

// admit rejects input errors and an unconfigured provider before any work.
func (o *Orchestrator) admit(r *run) error {
	data := r.req.Data
	if len(data) == 0 {
		return common.NewAppError(common.CodeInputEmpty, "uploaded file is empty", common.ErrInvalidInput)
	}
	if len(data) > o.cfg.MaxUploadBytes {
		return common.NewAppError(common.CodeInputTooLarge,
			fmt.Sprintf("file is %d bytes; the limit is %d", len(data), o.cfg.MaxUploadBytes), common.ErrInvalidInput)
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	r.class, r.mime = constants.ClassifyUpload(r.req.Filename, r.req.MIMEType, head)
	if r.class == constants.UNSUPPORTED && isWorkbook(data) {
		r.class = constants.SPREADSHEET
	}
	switch r.class {
	case constants.SPREADSHEET:
		return common.NewAppError(common.CodeSpreadsheetRouted,
			"spreadsheets are imported by the spreadsheet parser, not the document pipeline", common.ErrInvalidInput)
	case constants.UNSUPPORTED:
		return common.NewAppError(common.CodeUnsupportedType,
			"unsupported file type; upload a PDF or a JPEG, PNG, WebP or GIF image", common.ErrInvalidInput)
	}
	if o.deps.Provider == nil || !o.deps.Provider.IsConfigured() {
		return common.NewAppError(common.CodeNotConfigured, "no vision model provider is configured", common.ErrNotConfigured)
	}
	return nil
}

// isWorkbook catches spreadsheets uploaded without a telling name or MIME type.
func isWorkbook(data []byte) bool {
	if _, err := zip.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
		return false
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	return len(f.GetSheetList()) > 0
}

// finish applies the post-processing shared by every successful path.
func (o *Orchestrator) finish(ctx context.Context, r *run, c *entity.DocumentCandidate) {
	c.FileID = r.req.FileID
	c.Filename = r.req.Filename
	c.FileClass = r.class
	c.Template = r.match
	if c.Metadata.TemplateID == "" && r.match != nil && r.match.Status != entity.TemplateNone {
		c.Metadata.TemplateID = r.match.TemplateID
	}
	if o.deps.Resolver != nil {
		rctx, cancel := context.WithTimeout(ctx, o.cfg.ResolveTimeout)
		parts, err := o.deps.Resolver.Resolve(rctx, r.req.OrgID, c.Parts)
		cancel()
		switch {
		case err != nil:
			o.logger.Warn("extract.shortcodes.failed", "req_id", r.reqID, "org_id", r.req.OrgID, "error", err)
		case len(parts) == len(c.Parts):
			c.Parts = parts
		default:
			o.logger.Warn("extract.shortcodes.discarded", "req_id", r.reqID, "want", len(c.Parts), "got", len(parts))
		}
	}
	for _, w := range quality.DuplicateWarnings(c.Parts, quality.DefaultDuplicateRun) {
		r.warn("%s", w)
	}
	r.mu.Lock()
	c.Warnings = append(c.Warnings, r.warnings...)
	r.mu.Unlock()
	c.Attempts = r.audits()
	c.ProcessingTimeMs = time.Since(r.start).Milliseconds()
}

// newCandidate assembles a candidate from ordered piece results.
func newCandidate(strategy constants.Strategy, pageCount int, results []llm.ParseResult) *entity.DocumentCandidate {
	c := &entity.DocumentCandidate{Strategy: strategy, PageCount: pageCount}
	var confSum float64
	for _, res := range results {
		for _, p := range res.Parts {
			p.Provenance.Strategy = strategy
			c.Parts = append(c.Parts, p)
		}
		confSum += res.Confidence
		c.Truncated = c.Truncated || res.Truncated
		mergeMetadata(&c.Metadata, res.Metadata)
	}
	if len(results) > 0 {
		c.Confidence = confSum / float64(len(results))
	}
	return c
}

func mergeMetadata(dst *entity.ParseMetadata, src entity.ParseMetadata) {
	if dst.ProjectCode == "" {
		dst.ProjectCode = src.ProjectCode
	}
	if dst.PageNumber == 0 {
		dst.PageNumber = src.PageNumber
	}
	if src.TotalPages > dst.TotalPages {
		dst.TotalPages = src.TotalPages
	}
	if dst.TemplateID == "" {
		dst.TemplateID = src.TemplateID
	}
}

// providerError converts a vision call failure into the caller-facing error.
func providerError(err error, what string) error {
	if errors.Is(err, common.ErrNotConfigured) || common.ErrorCode(err) == common.CodeNotConfigured {
		return err
	}
	if llm.IsImageFormatError(err) {
		return common.NewContentError(common.CodeUnreadableImage,
			"the image could not be read by the vision model",
			"Photograph the sheet again in good light with the whole table in frame",
			"Upload the photo as JPEG or PNG",
		)
	}
	return common.NewAppError(common.CodeProviderFailed, what, err)
}

func isFatal(err error) bool {
	return err != nil && (errors.Is(err, common.ErrNotConfigured) || common.ErrorCode(err) == common.CodeNotConfigured)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(vals ...float64) float64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
