package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
	"github.com/joseph-ayodele/cutlist-extractor/internal/extraction"
	"github.com/joseph-ayodele/cutlist-extractor/internal/session"
)

// Extractor turns one upload into a candidate.
type Extractor interface {
	Extract(ctx context.Context, req extraction.Request) (*entity.DocumentCandidate, error)
}

// Sessions is the multi-page merger as seen by the processor.
type Sessions interface {
	RegisterPage(ctx context.Context, reg session.Registration) (session.RegisterResult, error)
	MergeSession(ctx context.Context, id string) (*entity.MergeResult, error)
	Policy() session.Policy
}

// Result is what the caller of an upload gets back.
type Result struct {
	Candidate     *entity.DocumentCandidate `json:"candidate"`
	Session       *session.RegisterResult   `json:"session,omitempty"`
	Merged        *entity.MergeResult       `json:"merged,omitempty"`
	AutoAccept    bool                      `json:"auto_accept"`
	ReviewReasons []string                  `json:"review_reasons,omitempty"`
}

// Processor coordinates extraction then session registration.
type Processor struct {
	Logger    *slog.Logger
	Extractor Extractor
	Sessions  Sessions
}

func NewProcessor(logger *slog.Logger, extractor Extractor, sessions Sessions) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{Logger: logger, Extractor: extractor, Sessions: sessions}
}

// Process extracts one file. Results that belong to a template or carry a
// project code are keyed into a session, which is merged as soon as every
// expected page has arrived; anything else is judged as a single document.
func (p *Processor) Process(ctx context.Context, req extraction.Request) (*Result, error) {
	ctx, reqID := common.EnsureRequestID(ctx)
	start := time.Now()

	cand, err := p.Extractor.Extract(ctx, req)
	if err != nil {
		p.Logger.Error("processor.extract.failed", "req_id", reqID, "org_id", req.OrgID, "code", common.ErrorCode(err), "err", err)
		return nil, err
	}
	res := &Result{Candidate: cand}

	inSession := belongsToSession(cand)
	if p.Sessions != nil && inSession {
		reg, err := p.registerPages(ctx, req, cand)
		if err != nil {
			p.Logger.Error("processor.session.failed", "req_id", reqID, "file_id", cand.FileID, "err", err)
			cand.Warnings = append(cand.Warnings, fmt.Sprintf("could not add this page to its project session: %v", err))
		} else {
			res.Session = &reg
			p.Logger.Info("processor.session.ok",
				"req_id", reqID,
				"session_id", reg.SessionID,
				"page", reg.CurrentPage,
				"expected_pages", reg.TotalExpectedPages,
				"ready", reg.ReadyToMerge,
			)
		}
	}

	switch {
	case res.Session != nil && res.Session.ReadyToMerge:
		merged, err := p.Sessions.MergeSession(ctx, res.Session.SessionID)
		if err != nil {
			return nil, fmt.Errorf("merge session %s: %w", res.Session.SessionID, err)
		}
		res.Merged = merged
		res.AutoAccept, res.ReviewReasons = merged.AutoAccept, merged.ReviewReasons
	case res.Session != nil && (res.Session.IsMultiPage || cand.Metadata.ProjectCode != ""):
		res.ReviewReasons = []string{pendingReason(res.Session)}
	case inSession && cand.Metadata.ProjectCode != "":
		// the page could not be keyed into its project; never accept it alone
		res.ReviewReasons = []string{fmt.Sprintf("page of project %s was not added to its session", cand.Metadata.ProjectCode)}
	default:
		res.AutoAccept, res.ReviewReasons = p.policy().Decide(cand.Parts, cand.Confidence)
	}

	p.Logger.Info("processor.done",
		"req_id", reqID,
		"file_id", cand.FileID,
		"parts", len(cand.Parts),
		"auto_accept", res.AutoAccept,
		"merged", res.Merged != nil,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (p *Processor) policy() session.Policy {
	if p.Sessions == nil {
		return session.Policy{}
	}
	return p.Sessions.Policy()
}

// belongsToSession reports whether a candidate is one page, or a run of
// pages, of a larger project. A file that starts at page 1 and holds every
// page it claims stands alone.
func belongsToSession(c *entity.DocumentCandidate) bool {
	md := c.Metadata
	if c.PageCount > 1 {
		return md.TotalPages > c.PageCount || md.PageNumber > 1
	}
	if md.ProjectCode != "" || md.TotalPages > 1 {
		return true
	}
	return c.Template != nil && c.Template.Status != entity.TemplateNone
}

// registerPages keys every physical page of the upload into the session so
// each one counts toward the expected total. It returns the state after the
// last page.
func (p *Processor) registerPages(ctx context.Context, req extraction.Request, c *entity.DocumentCandidate) (session.RegisterResult, error) {
	var last session.RegisterResult
	pages := pageParses(c)
	for _, pp := range pages {
		reg, err := p.Sessions.RegisterPage(ctx, session.Registration{
			OrgID:            req.OrgID,
			UserID:           req.UserID,
			TemplateID:       c.Metadata.TemplateID,
			FileID:           c.FileID,
			Result:           pp,
			ProcessingTimeMs: c.ProcessingTimeMs / int64(len(pages)),
		})
		if err != nil {
			return session.RegisterResult{}, err
		}
		last = reg
	}
	return last, nil
}

// pageParses splits a candidate into one PageParse per physical page using
// each part's provenance. Parts without a page stay on the first page. Page
// numbers continue from the page number printed on the first page; when it
// is unknown the session assigns the next free numbers.
func pageParses(c *entity.DocumentCandidate) []entity.PageParse {
	md := c.Metadata
	n := c.PageCount
	if n < 1 {
		n = 1
	}
	out := make([]entity.PageParse, n)
	for i := range out {
		number := 0
		if md.PageNumber > 0 {
			number = md.PageNumber + i
		}
		out[i] = entity.PageParse{
			ProjectCode: md.ProjectCode,
			PageNumber:  number,
			TotalPages:  md.TotalPages,
			Confidence:  c.Confidence,
			Strategy:    c.Strategy,
		}
	}
	out[0].Warnings = c.Warnings
	for _, part := range c.Parts {
		i := part.Provenance.Page - 1
		if i < 0 {
			i = 0
		}
		if i >= n {
			i = n - 1
		}
		out[i].Parts = append(out[i].Parts, part)
	}
	for i := range out {
		if conf, ok := meanConfidence(out[i].Parts); ok && n > 1 {
			out[i].Confidence = conf
		}
	}
	return out
}

func meanConfidence(parts []entity.ExtractedPart) (float64, bool) {
	if len(parts) == 0 {
		return 0, false
	}
	var sum float64
	for _, p := range parts {
		sum += p.Confidence
	}
	return sum / float64(len(parts)), true
}

func pendingReason(r *session.RegisterResult) string {
	if r.TotalExpectedPages == 0 {
		return fmt.Sprintf("%d page(s) received; total page count unknown, merge the session when all pages are uploaded", r.PagesReceived)
	}
	return fmt.Sprintf("waiting for pages: %d of %d received", r.PagesReceived, r.TotalExpectedPages)
}
