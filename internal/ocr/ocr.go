// Package ocr holds the local, network-free collaborators of the extraction
// pipeline: fast PDF text extraction, PDF-to-image rendering and image text
// recognition. Command-line tools are reached through a stubbable Runner.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrNoText is returned when a PDF has no extractable text layer.
var ErrNoText = errors.New("no text layer")

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	TessdataDir   string
	PSM           int // e.g., 6 is good for uniform block of text
	OEM           int // 1 = LSTM; leave 0 to use default

	DPI      int // rasterization DPI, default 150
	MaxPages int // 0 = no limit

	// DisablePdftotext skips the layout-preserving pass and uses pdfcpu only.
	DisablePdftotext bool
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
	// pages reads per-page text from the PDF content streams.
	pages func(pdf []byte) ([]string, error)
}

type Option func(*Extractor)

// WithRunner replaces the command runner (tests).
func WithRunner(r Runner) Option {
	return func(e *Extractor) { e.runner = r }
}

func NewExtractor(cfg Config, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 150
	}
	e := &Extractor{cfg: cfg, runner: execRunner{logger: logger}, logger: logger, pages: pdfcpuPages}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// withTempFile writes b to a private temp dir and hands its path to fn.
func withTempFile(b []byte, name string, fn func(dir, path string) error) error {
	dir, err := os.MkdirTemp("", "cutlist-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(dir) }()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write temp input: %w", err)
	}
	return fn(dir, path)
}

// Ping reports whether the configured binaries can be started.
func (e *Extractor) Ping(ctx context.Context) map[string]error {
	out := map[string]error{}
	for _, bin := range []string{e.cfg.Pdftotext, e.cfg.Pdftoppm, e.cfg.Tesseract} {
		_, _, err := e.runner.Run(ctx, bin, "-v")
		out[bin] = err
	}
	return out
}
