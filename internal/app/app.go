// Package app wires the extractor's collaborators from configuration. The
// daemon and the CLI share it so both run the same fallback chain.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joseph-ayodele/cutlist-extractor/internal/async"
	"github.com/joseph-ayodele/cutlist-extractor/internal/chunker"
	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/export"
	"github.com/joseph-ayodele/cutlist-extractor/internal/extraction"
	"github.com/joseph-ayodele/cutlist-extractor/internal/imageopt"
	"github.com/joseph-ayodele/cutlist-extractor/internal/llm"
	"github.com/joseph-ayodele/cutlist-extractor/internal/llm/anthropic"
	"github.com/joseph-ayodele/cutlist-extractor/internal/llm/openai"
	"github.com/joseph-ayodele/cutlist-extractor/internal/ocr"
	"github.com/joseph-ayodele/cutlist-extractor/internal/ocrservice"
	"github.com/joseph-ayodele/cutlist-extractor/internal/pipeline"
	"github.com/joseph-ayodele/cutlist-extractor/internal/quality"
	"github.com/joseph-ayodele/cutlist-extractor/internal/ratelimit"
	repo "github.com/joseph-ayodele/cutlist-extractor/internal/repository"
	"github.com/joseph-ayodele/cutlist-extractor/internal/server"
	"github.com/joseph-ayodele/cutlist-extractor/internal/session"
	"github.com/joseph-ayodele/cutlist-extractor/internal/storage"
	"github.com/joseph-ayodele/cutlist-extractor/internal/template"
)

// Options adjust wiring for short-lived callers.
type Options struct {
	// InlineEffects runs storage and audit writes on the caller's goroutine
	// so nothing is lost when the process exits right after a request.
	InlineEffects bool
	// CacheTemplates memoizes template lookups for the life of the App.
	CacheTemplates bool
	// SkipDatabase ignores DB_URL.
	SkipDatabase bool
}

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config       *common.Config
	Logger       *slog.Logger
	Pool         *pgxpool.Pool
	Local        *ocr.Extractor
	OCR          *ocrservice.Client
	Templates    template.Store
	Orchestrator *extraction.Orchestrator
	Merger       *session.Merger
	Processor    *pipeline.Processor
	Exporter     *export.Service

	queue    *async.Queue
	sessions *repo.SessionStore
}

// NewLogger builds the process logger from LOG_FORMAT and LOG_LEVEL.
func NewLogger(cfg common.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Build wires every component. On error everything opened so far is closed.
func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if !opts.SkipDatabase {
		pool, err := server.ConnectDB(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		a.Pool = pool
	}

	a.Local = ocr.NewExtractor(ocr.Config{
		Pdftotext:     cfg.Local.Pdftotext,
		Pdftoppm:      cfg.Local.Pdftoppm,
		Tesseract:     cfg.Local.Tesseract,
		TesseractLang: cfg.Local.TesseractLang,
		TessdataDir:   cfg.Local.TessdataDir,
		PSM:           6,
		DPI:           cfg.Local.RenderDPI,
		MaxPages:      cfg.Local.MaxPages,
	}, logger)
	a.OCR = ocrservice.NewClient(ocrservice.Config{
		BaseURL:       cfg.OCR.BaseURL,
		APIKey:        cfg.OCR.APIKey,
		HealthTimeout: cfg.OCR.HealthTimeout,
		Timeout:       cfg.OCR.Timeout,
	}, logger)

	templates, err := a.templateStore(cfg, opts)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Templates = templates

	limiter := ratelimit.New(map[string]ratelimit.ProviderLimits{
		cfg.LLM.Provider: {Concurrency: cfg.Limits.LLMConcurrency, RequestsPerMinute: cfg.Limits.LLMRequestsPerMin},
		"ocr":            {Concurrency: cfg.Limits.OCRConcurrency},
	}, ratelimit.ProviderLimits{}, logger)
	retry := ratelimit.Policy{
		MaxAttempts: cfg.Limits.RetryMaxAttempts,
		BaseDelay:   cfg.Limits.RetryBaseDelay,
		MaxDelay:    cfg.Limits.RetryMaxDelay,
	}

	deps := extraction.Deps{
		Provider: llm.WithLimiter(newProvider(cfg.LLM, logger), limiter, retry, logger),
		Text:     a.Local,
		Renderer: a.Local,
		OCR:      a.OCR,
		Detector: template.NewDetector(templates, a.Local, logger),
		Gate:     quality.NewGate(quality.Config{}),
		Chunker:  chunker.New(chunker.Options{MaxRows: cfg.Extraction.ChunkMaxRows}),
		Limiter:  limiter,
		Retry:    retry,
	}
	if a.Pool != nil {
		deps.Resolver = &repo.ShortcodeResolver{Source: repo.NewShortcodeRepository(a.Pool, logger), Logger: logger}
		deps.Audit = repo.NewAuditRepository(a.Pool, logger)
	}
	if cfg.Storage.Root != "" {
		deps.Files = storage.NewFileStore(cfg.Storage.Root, logger)
	}
	if opts.InlineEffects {
		deps.Effects = async.Inline{Logger: logger}
	} else {
		a.queue = async.NewQueue(logger,
			async.WithWorkers(cfg.Server.SideEffectWorkers),
			async.WithTaskTimeout(cfg.Extraction.SideEffectTimeout),
		)
		deps.Effects = a.queue
	}

	a.Orchestrator = extraction.New(extraction.Config{
		MaxUploadBytes:    cfg.Extraction.MaxUploadBytes,
		PageConcurrency:   cfg.Extraction.PageConcurrency,
		ChunkConcurrency:  cfg.Extraction.ChunkConcurrency,
		ChunkRowThreshold: cfg.Extraction.ChunkRowThreshold,
		DetectTimeout:     cfg.Extraction.DetectTimeout,
		MaxRenderPages:    cfg.Local.MaxPages,
		Image: imageopt.Options{
			MaxDimension: cfg.Extraction.ImageMaxDimension,
			TargetBytes:  cfg.Extraction.ImageTargetBytes,
		},
	}, deps, logger)

	var store session.Store
	if cfg.Sessions.DBPath != "" {
		ss, err := repo.OpenSessionStore(ctx, cfg.Sessions.DBPath, logger)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.sessions = ss
		store = ss
	}
	a.Merger = session.NewMerger(session.Config{
		TTL:             cfg.Sessions.TTL,
		MergedRetention: cfg.Sessions.MergedRetention,
		Policy: session.Policy{
			Threshold: cfg.Sessions.AutoAcceptThreshold,
			PartFloor: cfg.Sessions.PartConfidenceFloor,
		},
	}, store, logger)

	a.Processor = pipeline.NewProcessor(logger, a.Orchestrator, a.Merger)
	a.Exporter = export.NewService(a.Merger, logger)
	return a, nil
}

func (a *App) templateStore(cfg *common.Config, opts Options) (template.Store, error) {
	var chain template.Chain
	if cfg.Templates.File != "" {
		fs, err := template.LoadFile(cfg.Templates.File)
		if err != nil {
			return nil, err
		}
		a.Logger.Info("templates.loaded", "file", cfg.Templates.File, "count", fs.Count())
		chain = append(chain, fs)
	}
	if a.Pool != nil {
		chain = append(chain, repo.NewTemplateRepository(a.Pool, a.Logger))
	}
	if len(chain) == 0 {
		a.Logger.Warn("no template sources configured; every detected template will be reported as unconfigured")
	}
	if opts.CacheTemplates {
		return template.NewRequestCache(chain), nil
	}
	return chain, nil
}

func newProvider(cfg common.LLMConfig, logger *slog.Logger) llm.Provider {
	if cfg.Provider == "anthropic" {
		return anthropic.NewClient(anthropic.Config{
			APIKey:          cfg.AnthropicKey,
			Model:           cfg.Model,
			Timeout:         cfg.Timeout,
			MaxOutputTokens: cfg.MaxOutputTokens,
		}, logger)
	}
	return openai.NewClient(openai.Config{
		APIKey:          cfg.OpenAIKey,
		BaseURL:         cfg.OpenAIBaseURL,
		Model:           cfg.Model,
		Temperature:     cfg.Temperature,
		Timeout:         cfg.Timeout,
		MaxOutputTokens: cfg.MaxOutputTokens,
		ImageDetail:     cfg.ImageDetail,
	}, logger)
}

// Close drains queued side effects and closes the stores.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.queue != nil {
		a.queue.Shutdown(ctx)
	}
	if a.sessions != nil {
		if err := a.sessions.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	server.CloseDB(a.Pool, a.Logger)
	return errors.Join(errs...)
}
