package extraction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/cutlist-extractor/constants"
	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
	"github.com/joseph-ayodele/cutlist-extractor/internal/imageopt"
	"github.com/joseph-ayodele/cutlist-extractor/internal/llm"
	"github.com/joseph-ayodele/cutlist-extractor/internal/quality"
	"github.com/joseph-ayodele/cutlist-extractor/internal/ratelimit"
	"github.com/joseph-ayodele/cutlist-extractor/internal/template"
)

const ocrProvider = "ocr"

var (
	errOCRUnhealthy = errors.New("ocr service failed its health check")
	errNotAvailable = errors.New("not configured")
	errNoImages     = errors.New("no page images could be produced")
)

// piece is the parse outcome of one page or chunk.
type piece struct {
	number int
	res    llm.ParseResult
	err    error
	empty  bool
}

func (o *Orchestrator) extractPDF(ctx context.Context, r *run) (*entity.DocumentCandidate, error) {
	local, remote, ocrUp := o.raceText(ctx, r)
	pageCount := max(local.PageCount, remote.PageCount)

	winner, ok := o.deps.Gate.Choose(local, remote)
	text := winner.Text
	if !ok {
		text = local.Text
		if len(strings.TrimSpace(remote.Text)) > len(strings.TrimSpace(text)) {
			text = remote.Text
		}
	}
	o.detect(ctx, r, template.Input{OrgID: r.req.OrgID, Filename: r.req.Filename, Text: text})

	if !ok {
		if blank := quality.LikelyBlankTemplate(text, pageCount); blank.Match {
			o.logger.Info("extract.pdf.blank_template", "req_id", r.reqID, "confidence", blank.Confidence, "signals", blank.Signals)
			return nil, blankTemplateError()
		}
		o.logger.Info("extract.pdf.no_text", "req_id", r.reqID, "pages", pageCount)
		return o.fallback(ctx, r, pageCount, ocrUp, nil)
	}
	o.logger.Info("extract.pdf.winner",
		"req_id", r.reqID,
		"strategy", winner.Strategy,
		"method", winner.Method,
		"confidence", winner.Confidence,
		"text_len", winner.TextLength(),
		"pages", pageCount,
	)

	cand, err := o.parseText(ctx, r, winner, pageCount)
	if isFatal(err) {
		return nil, err
	}
	if err != nil {
		o.logger.Warn("extract.pdf.text_parse_failed", "req_id", r.reqID, "error", err)
		return o.fallback(ctx, r, pageCount, ocrUp, err)
	}

	gate := o.deps.Gate
	weak := gate.ShouldEscalate(winner, pageCount)
	few := gate.NeedsMoreParts(len(cand.Parts))
	if !gate.Sufficient(len(cand.Parts)) && (weak || few) {
		o.logger.Info("extract.pdf.escalate", "req_id", r.reqID, "weak_text", weak, "parts", len(cand.Parts))
		cand.Escalated = true
		raster, err := o.raster(ctx, r, pageCount, ocrUp)
		if isFatal(err) {
			return nil, err
		}
		if raster != nil && len(raster.Parts) > len(cand.Parts) {
			raster.Escalated = true
			raster.Warnings = append(raster.Warnings, fmt.Sprintf(
				"page images yielded %d parts against %d from text; using the image result", len(raster.Parts), len(cand.Parts)))
			cand = raster
		}
	}
	if len(cand.Parts) == 0 {
		return nil, noPartsError(text, pageCount)
	}
	cand.Metrics = metricsPtr(quality.Metrics(winner.Text, pageCount))
	return cand, nil
}

// raceText runs local extraction and remote OCR concurrently. Neither is
// cancelled when the other finishes; the gate judges both.
func (o *Orchestrator) raceText(ctx context.Context, r *run) (local, remote entity.ExtractionAttempt, ocrUp bool) {
	var g errgroup.Group
	g.Go(func() error {
		local = o.localText(ctx, r)
		return nil
	})
	g.Go(func() error {
		remote, ocrUp = o.remoteText(ctx, r)
		return nil
	})
	_ = g.Wait()
	r.record(local)
	r.record(remote)
	return local, remote, ocrUp
}

func (o *Orchestrator) localText(ctx context.Context, r *run) entity.ExtractionAttempt {
	a := entity.ExtractionAttempt{Strategy: constants.StrategyLocalText, StartedAt: time.Now()}
	if o.deps.Text == nil {
		a.Skipped, a.Err = true, errNotAvailable
		return a
	}
	res, err := o.deps.Text.ExtractText(ctx, r.req.Data)
	a.Duration = time.Since(a.StartedAt)
	a.Method = res.Method
	a.Text = res.Text
	a.Pages = res.Pages
	a.PageCount = res.PageCount
	a.Confidence = quality.TextConfidence(res.Text)
	a.Success = err == nil
	a.Err = err
	o.logger.Info("extract.pdf.local",
		"req_id", r.reqID,
		"ok", a.Success,
		"method", a.Method,
		"pages", a.PageCount,
		"text_len", a.TextLength(),
		"elapsed_ms", a.Duration.Milliseconds(),
	)
	return a
}

func (o *Orchestrator) remoteText(ctx context.Context, r *run) (entity.ExtractionAttempt, bool) {
	a := entity.ExtractionAttempt{Strategy: constants.StrategyRemoteOCR, StartedAt: time.Now()}
	svc := o.deps.OCR
	if svc == nil || !svc.IsConfigured() {
		a.Skipped, a.Err = true, errNotAvailable
		return a, false
	}
	if !svc.HealthCheck(ctx) {
		a.Skipped, a.Err = true, errOCRUnhealthy
		a.Duration = time.Since(a.StartedAt)
		o.logger.Warn("extract.pdf.ocr_skipped", "req_id", r.reqID, "elapsed_ms", a.Duration.Milliseconds())
		return a, false
	}
	res, err := ratelimit.Do(ctx, o.deps.Limiter, ocrProvider, o.deps.Retry, func(ctx context.Context) (entity.TextExtraction, error) {
		return svc.ExtractByPage(ctx, r.req.Data, r.req.Filename)
	})
	a.Duration = time.Since(a.StartedAt)
	a.Method = firstNonEmpty(res.Method, "ocr_service")
	a.Text = res.Text
	a.Pages = res.Pages
	a.PageCount = res.PageCount
	a.Confidence = res.Confidence
	if a.Confidence <= 0 {
		a.Confidence = quality.TextConfidence(res.Text)
	}
	a.Success = err == nil
	a.Err = err
	o.logger.Info("extract.pdf.ocr",
		"req_id", r.reqID,
		"ok", a.Success,
		"method", a.Method,
		"pages", a.PageCount,
		"text_len", a.TextLength(),
		"confidence", a.Confidence,
		"elapsed_ms", a.Duration.Milliseconds(),
	)
	return a, true
}

// parseText turns the winning text into parts: page by page when the source
// kept page boundaries, in chunks when the text is long, otherwise in one call.
func (o *Orchestrator) parseText(ctx context.Context, r *run, winner entity.ExtractionAttempt, pageCount int) (*entity.DocumentCandidate, error) {
	start := time.Now()
	method := "llm:" + o.deps.Provider.Name()

	if len(winner.Pages) > 1 {
		pieces := mapOrdered(ctx, winner.Pages, o.cfg.PageConcurrency, func(ctx context.Context, _ int, pg entity.PageText) piece {
			if strings.TrimSpace(pg.Text) == "" {
				return piece{number: pg.PageNumber, empty: true}
			}
			opts := r.opts
			opts.Page = pg.PageNumber
			opts.SkipChunking = true
			res, err := o.deps.Provider.ParseText(ctx, pg.Text, opts)
			return piece{number: pg.PageNumber, res: res, err: err}
		})
		return o.assemble(r, winner.Strategy, method, "page", pageCount, pieces, start)
	}

	text := winner.Text
	if rows := o.deps.Chunker.EstimateRows(text); rows > o.cfg.ChunkRowThreshold {
		chunks := o.deps.Chunker.Split(text)
		o.logger.Info("extract.pdf.chunked", "req_id", r.reqID, "rows", rows, "chunks", len(chunks))
		pieces := mapOrdered(ctx, chunks, o.cfg.ChunkConcurrency, func(ctx context.Context, i int, chunk string) piece {
			opts := r.opts
			opts.Chunk = i + 1
			opts.SkipChunking = true
			res, err := o.deps.Provider.ParseText(ctx, chunk, opts)
			return piece{number: i + 1, res: res, err: err}
		})
		return o.assemble(r, winner.Strategy, method, "chunk", pageCount, pieces, start)
	}

	opts := r.opts
	if pageCount == 1 {
		opts.Page = 1
	}
	res, err := o.deps.Provider.ParseText(ctx, text, opts)
	return o.assemble(r, winner.Strategy, method, "page", pageCount, []piece{{number: opts.Page, res: res, err: err}}, start)
}

// fallback runs native document vision, then page images. cause is the text
// parse error that led here, if any.
func (o *Orchestrator) fallback(ctx context.Context, r *run, pageCount int, ocrUp bool, cause error) (*entity.DocumentCandidate, error) {
	if dp, ok := o.deps.Provider.(llm.DocumentParser); ok {
		start := time.Now()
		opts := r.opts
		opts.SkipChunking = true
		res, err := dp.ParseDocument(ctx, r.req.Data, opts)
		cand, err := o.assemble(r, constants.StrategyNativeDocument, "llm:"+o.deps.Provider.Name(), "document", pageCount,
			[]piece{{number: 1, res: res, err: err}}, start)
		if isFatal(err) {
			return nil, err
		}
		if cand != nil && len(cand.Parts) > 0 {
			return cand, nil
		}
		if err != nil && cause == nil {
			cause = err
		}
	}

	cand, err := o.raster(ctx, r, pageCount, ocrUp)
	if isFatal(err) {
		return nil, err
	}
	if cand != nil && len(cand.Parts) > 0 {
		return cand, nil
	}
	if r.match != nil && r.match.Status != entity.TemplateNone {
		return nil, blankTemplateError()
	}
	if cause != nil {
		return nil, providerError(cause, "every extraction strategy failed")
	}
	return nil, noTextError()
}

// raster renders pages to images (locally first, then through the OCR
// service) and parses each page with the vision model.
func (o *Orchestrator) raster(ctx context.Context, r *run, pageCount int, ocrUp bool) (*entity.DocumentCandidate, error) {
	start := time.Now()
	images, method, err := o.rasterize(ctx, r, ocrUp)
	if err != nil {
		r.record(entity.ExtractionAttempt{
			Strategy:  constants.StrategyRasterVision,
			Method:    method,
			StartedAt: start,
			Duration:  time.Since(start),
			Err:       err,
		})
		o.logger.Warn("extract.raster.unavailable", "req_id", r.reqID, "error", err)
		return nil, nil
	}
	pieces := mapOrdered(ctx, images, o.cfg.PageConcurrency, func(ctx context.Context, i int, img []byte) piece {
		data, mime := img, http.DetectContentType(img)
		if opt, err := imageopt.Optimize(img, o.cfg.Image); err == nil {
			data, mime = opt.Data, opt.MIMEType
		}
		opts := r.opts
		opts.Page = i + 1
		opts.SkipChunking = true
		res, err := o.deps.Provider.ParseImage(ctx, data, mime, opts)
		return piece{number: i + 1, res: res, err: err}
	})
	return o.assemble(r, constants.StrategyRasterVision, method, "page", max(pageCount, len(images)), pieces, start)
}

func (o *Orchestrator) rasterize(ctx context.Context, r *run, ocrUp bool) ([][]byte, string, error) {
	var errs []error
	if o.deps.Renderer != nil {
		images, err := o.deps.Renderer.Render(ctx, r.req.Data, o.cfg.RenderScale, o.cfg.MaxRenderPages)
		if err == nil && len(images) > 0 {
			return images, "local_render", nil
		}
		errs = append(errs, fmt.Errorf("local render: %w", orNoImages(err)))
	}
	if o.deps.OCR != nil && ocrUp {
		images, err := ratelimit.Do(ctx, o.deps.Limiter, ocrProvider, o.deps.Retry, func(ctx context.Context) ([][]byte, error) {
			return o.deps.OCR.ExtractAsImages(ctx, r.req.Data, r.req.Filename)
		})
		if err == nil && len(images) > 0 {
			if len(images) > o.cfg.MaxRenderPages {
				images = images[:o.cfg.MaxRenderPages]
			}
			return images, "ocr_images", nil
		}
		errs = append(errs, fmt.Errorf("ocr images: %w", orNoImages(err)))
	}
	if len(errs) == 0 {
		return nil, "", errNoImages
	}
	return nil, "", errors.Join(errs...)
}

func orNoImages(err error) error {
	if err == nil {
		return errNoImages
	}
	return err
}

// assemble folds ordered piece results into one candidate and records the
// attempt. Failed and empty pieces become warnings; only a configuration
// error or the failure of every piece is returned.
func (o *Orchestrator) assemble(r *run, strategy constants.Strategy, method, unit string, pageCount int, pieces []piece, start time.Time) (*entity.DocumentCandidate, error) {
	var results []llm.ParseResult
	var warnings []string
	var firstErr error
	for _, p := range pieces {
		label := fmt.Sprintf("%s %d", unit, p.number)
		switch {
		case p.empty:
			warnings = append(warnings, label+": no text extracted; no parts from this "+unit)
			continue
		case p.err != nil:
			if isFatal(p.err) {
				return nil, p.err
			}
			if firstErr == nil {
				firstErr = p.err
			}
			warnings = append(warnings, fmt.Sprintf("%s: extraction failed: %v", label, p.err))
			continue
		}
		results = append(results, p.res)
		if len(p.res.Parts) == 0 {
			warnings = append(warnings, label+": no parts found")
		}
		for _, w := range p.res.Warnings {
			warnings = append(warnings, label+": "+w)
		}
	}

	a := entity.ExtractionAttempt{
		Strategy:  strategy,
		Method:    method,
		PageCount: pageCount,
		StartedAt: start,
		Duration:  time.Since(start),
	}
	if len(results) == 0 {
		if firstErr == nil {
			firstErr = errors.New("no " + unit + " produced a result")
		}
		a.Err = firstErr
		r.record(a)
		return nil, firstErr
	}
	c := newCandidate(strategy, pageCount, results)
	c.Warnings = warnings
	a.Parts = c.Parts
	a.Confidence = c.Confidence
	a.Success = true
	r.record(a)
	o.logger.Info("extract.parsed",
		"req_id", r.reqID,
		"strategy", strategy,
		"unit", unit,
		"pieces", len(pieces),
		"ok", len(results),
		"parts", len(c.Parts),
		"elapsed_ms", a.Duration.Milliseconds(),
	)
	return c, nil
}

func metricsPtr(m entity.TextMetrics) *entity.TextMetrics { return &m }

func blankTemplateError() error {
	return common.NewContentError(common.CodeBlankTemplate,
		"this looks like a scanned or blank cutlist template: the header is present but no rows could be read",
		"Photograph the filled-in sheet and upload the photo as an image",
		"If the rows are handwritten, upload a photo rather than a scan",
	)
}

func noTextError() error {
	return common.NewContentError(common.CodeNoText,
		"no text could be extracted from this PDF",
		"Upload a photo of each page as an image",
		"Export the PDF again from the program that created it",
	)
}

func noPartsError(text string, pageCount int) error {
	if quality.LikelyBlankTemplate(text, pageCount).Match {
		return blankTemplateError()
	}
	return common.NewContentError(common.CodeNoParts,
		"no cutlist rows were found in this document",
		"Check that the file contains the cutlist table",
		"Upload a clearer scan or a photo of each page",
	)
}
