package extraction

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/cutlist-extractor/internal/async"
	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

// saveUpload stores the original bytes as a detached task.
func (o *Orchestrator) saveUpload(ctx context.Context, r *run) {
	if o.deps.Files == nil {
		return
	}
	req := r.req
	o.deps.Effects.Submit(ctx, async.Task{
		Name:   "storage.save",
		OrgID:  req.OrgID,
		FileID: req.FileID,
		Run: func(tctx context.Context) error {
			_, err := o.deps.Files.Save(tctx, req.OrgID, req.FileID, req.Filename, req.Data)
			return err
		},
	})
}

// writeAudit records every attempt of this file as a detached task.
func (o *Orchestrator) writeAudit(ctx context.Context, r *run, c *entity.DocumentCandidate, failure error) {
	if o.deps.Audit == nil {
		return
	}
	a := entity.ExtractionAudit{
		ID:         uuid.NewString(),
		RequestID:  r.reqID,
		OrgID:      r.req.OrgID,
		FileID:     r.req.FileID,
		Filename:   r.req.Filename,
		Outcome:    "ok",
		Attempts:   r.audits(),
		DurationMs: time.Since(r.start).Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if c != nil {
		a.Strategy = c.Strategy
		a.PartCount = len(c.Parts)
		a.Confidence = c.Confidence
	}
	if failure != nil {
		a.Outcome = common.ErrorCode(failure)
		if a.Outcome == "" {
			a.Outcome = common.CodeProviderFailed
		}
	}
	o.deps.Effects.Submit(ctx, async.Task{
		Name:   "audit.write",
		OrgID:  a.OrgID,
		FileID: a.FileID,
		Run:    func(tctx context.Context) error { return o.deps.Audit.WriteAudit(tctx, a) },
	})
}
