package extraction

import (
	"context"
	"time"

	"github.com/joseph-ayodele/cutlist-extractor/constants"
	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
	"github.com/joseph-ayodele/cutlist-extractor/internal/imageopt"
	"github.com/joseph-ayodele/cutlist-extractor/internal/llm"
	"github.com/joseph-ayodele/cutlist-extractor/internal/template"
)

// extractImage: template detection, optimization, then one vision call.
func (o *Orchestrator) extractImage(ctx context.Context, r *run) (*entity.DocumentCandidate, error) {
	o.detect(ctx, r, template.Input{OrgID: r.req.OrgID, Filename: r.req.Filename, Image: r.req.Data})

	data, mime := r.req.Data, r.mime
	if opt, err := imageopt.Optimize(data, o.cfg.Image); err != nil {
		// Sent as-is; the provider decides whether it can read it.
		o.logger.Warn("extract.image.optimize_failed", "req_id", r.reqID, "file_id", r.req.FileID, "error", err)
	} else {
		data, mime = opt.Data, opt.MIMEType
		if opt.Resized || opt.Quality > 0 {
			o.logger.Debug("extract.image.optimized",
				"req_id", r.reqID,
				"bytes_in", len(r.req.Data),
				"bytes_out", len(opt.Data),
				"width", opt.Width,
				"height", opt.Height,
				"quality", opt.Quality,
			)
		}
	}

	start := time.Now()
	res, err := o.deps.Provider.ParseImage(ctx, data, mime, r.opts)
	a := entity.ExtractionAttempt{
		Strategy:   constants.StrategyVision,
		Method:     o.deps.Provider.Name(),
		PageCount:  1,
		Parts:      res.Parts,
		Confidence: res.Confidence,
		StartedAt:  start,
		Duration:   time.Since(start),
		Success:    err == nil,
		Err:        err,
	}
	r.record(a)
	if err != nil {
		return nil, providerError(err, "vision model could not parse the image")
	}
	for _, w := range res.Warnings {
		r.warn("%s", w)
	}
	if len(res.Parts) == 0 {
		return nil, common.NewContentError(common.CodeNoParts,
			"no cutlist rows were found in the image",
			"Make sure the photo shows the cutlist table with its rows",
			"Photograph the sheet again closer and in focus",
		)
	}
	c := newCandidate(constants.StrategyVision, 1, []llm.ParseResult{res})
	return c, nil
}

// detect runs template detection under its own deadline and folds the result
// into the parse options. Detection never fails the request.
func (o *Orchestrator) detect(ctx context.Context, r *run, in template.Input) {
	if o.deps.Detector == nil {
		return
	}
	dctx, cancel := context.WithTimeout(ctx, o.cfg.DetectTimeout)
	defer cancel()
	det := o.deps.Detector.Detect(dctx, in)
	m := det.Match
	r.match = &m
	switch m.Status {
	case entity.TemplateRecognized:
		r.opts.TemplateID = m.TemplateID
		r.opts.TemplateConfig = det.Descriptor
		r.opts.DeterministicPrompt = det.Prompt
	case entity.TemplateUnconfigured:
		r.opts.TemplateID = m.TemplateID
		r.warn("template %s is not configured for this organization; extracted with the generic layout", m.TemplateID)
	}
}
