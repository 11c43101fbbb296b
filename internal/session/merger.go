package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/joseph-ayodele/cutlist-extractor/constants"
	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
	"github.com/joseph-ayodele/cutlist-extractor/internal/quality"
)

const singlePagePrefix = "single:"

// Config controls session lifetime and the auto-accept policy.
type Config struct {
	// TTL is how long an unmerged session may sit idle before it is swept.
	TTL time.Duration
	// MergedRetention keeps merged sessions this long for idempotent re-merge.
	// Zero keeps them until deleted by hand.
	MergedRetention time.Duration
	Policy          Policy
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Minute
	}
	if c.MergedRetention < 0 {
		c.MergedRetention = 0
	}
	c.Policy = c.Policy.withDefaults()
	return c
}

// Registration is one page handed to RegisterPage.
type Registration struct {
	OrgID            string
	UserID           string
	TemplateID       string
	FileID           string
	Result           entity.PageParse
	ProcessingTimeMs int64
}

// RegisterResult reports where a page landed.
type RegisterResult struct {
	SessionID          string `json:"session_id"`
	IsMultiPage        bool   `json:"is_multi_page"`
	CurrentPage        int    `json:"current_page"`
	TotalExpectedPages int    `json:"total_expected_pages,omitempty"`
	PagesReceived      int    `json:"pages_received"`
	ReadyToMerge       bool   `json:"ready_to_merge"`
	Replaced           bool   `json:"replaced,omitempty"`
	Reopened           bool   `json:"reopened,omitempty"`
}

// Merger reassembles pages uploaded separately into one document per
// (organization, project code). Updates are serialized per session key.
type Merger struct {
	cfg    Config
	store  Store
	locks  *keyedMutex
	logger *slog.Logger
	now    func() time.Time
}

func NewMerger(cfg Config, store Store, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Merger{
		cfg:    cfg.withDefaults(),
		store:  store,
		locks:  newKeyedMutex(),
		logger: logger,
		now:    time.Now,
	}
}

// Policy is the auto-accept policy shared with single-document results.
func (m *Merger) Policy() Policy { return m.cfg.Policy }

// Key is the store key of a session.
func Key(orgID, projectCode string) string {
	return orgID + "|" + projectCode
}

// NormalizeProjectCode upper-cases and collapses whitespace so codes read
// off different pages still match.
func NormalizeProjectCode(code string) string {
	return strings.ToUpper(strings.Join(strings.Fields(code), " "))
}

// RegisterPage upserts a page into the session for its project code,
// creating the session on first sight. A page without a project code gets
// a session of its own.
func (m *Merger) RegisterPage(ctx context.Context, reg Registration) (RegisterResult, error) {
	v := common.NewValidator()
	v.Field("org_id", reg.OrgID, common.Required, common.Identifier).
		Field("file_id", reg.FileID, common.Required, common.Identifier).
		Field("page_number", reg.Result.PageNumber, common.NonNegative).
		Field("total_pages", reg.Result.TotalPages, common.NonNegative)
	if err := common.ValidateAndReturnError(v); err != nil {
		return RegisterResult{}, err
	}

	code := NormalizeProjectCode(reg.Result.ProjectCode)
	if code == "" {
		code = singlePagePrefix + reg.FileID
	}
	key := Key(reg.OrgID, code)
	unlock := m.locks.Lock(key)
	defer unlock()

	now := m.now()
	s, err := m.store.FindByKey(ctx, reg.OrgID, code)
	switch {
	case errors.Is(err, common.ErrNotFound):
		s = &entity.ParseSession{
			ID:          uuid.NewString(),
			OrgID:       reg.OrgID,
			ProjectCode: code,
			Status:      constants.SessionCollecting,
			CreatedAt:   now,
		}
		m.logger.Info("session.created", "session_id", s.ID, "org_id", reg.OrgID, "project_code", code)
	case err != nil:
		return RegisterResult{}, fmt.Errorf("load session %s: %w", key, err)
	}

	reopened := false
	if s.Status == constants.SessionMerged {
		s.Merged = nil
		reopened = true
		m.logger.Info("session.reopened", "session_id", s.ID, "file_id", reg.FileID)
	}

	page := reg.Result.PageNumber
	if page == 0 {
		page = nextPage(s)
	}
	pr := reg.Result
	pr.ProjectCode = code
	pr.PageNumber = page
	replaced := s.UpsertPage(entity.PageRegistration{
		PageNumber:       page,
		FileID:           reg.FileID,
		UserID:           reg.UserID,
		TemplateID:       reg.TemplateID,
		Result:           pr,
		ProcessingTimeMs: reg.ProcessingTimeMs,
		RegisteredAt:     now,
	})
	if s.ExpectedPages == 0 && reg.Result.TotalPages > 0 {
		s.ExpectedPages = reg.Result.TotalPages
	}
	if s.TemplateID == "" {
		s.TemplateID = reg.TemplateID
	}
	s.Status = constants.SessionCollecting
	if s.ReadyToMerge() {
		s.Status = constants.SessionComplete
	}
	s.UpdatedAt = now

	if err := m.store.Put(ctx, s); err != nil {
		return RegisterResult{}, fmt.Errorf("save session %s: %w", s.ID, err)
	}

	res := RegisterResult{
		SessionID:          s.ID,
		IsMultiPage:        !strings.HasPrefix(code, singlePagePrefix) && (s.ExpectedPages > 1 || len(s.Pages) > 1),
		CurrentPage:        page,
		TotalExpectedPages: s.ExpectedPages,
		PagesReceived:      len(s.Pages),
		ReadyToMerge:       s.ReadyToMerge(),
		Replaced:           replaced,
		Reopened:           reopened,
	}
	m.logger.Info("session.page_registered",
		"session_id", s.ID,
		"page", page,
		"pages_received", res.PagesReceived,
		"expected_pages", s.ExpectedPages,
		"replaced", replaced,
		"ready", res.ReadyToMerge)
	return res, nil
}

func nextPage(s *entity.ParseSession) int {
	max := 0
	for _, p := range s.Pages {
		if p.PageNumber > max {
			max = p.PageNumber
		}
	}
	return max + 1
}

// Get returns a snapshot of the session.
func (m *Merger) Get(ctx context.Context, id string) (*entity.ParseSession, error) {
	s, err := m.store.Get(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NewAppError(common.CodeNotFound, fmt.Sprintf("session %s not found", id), common.ErrNotFound)
	}
	return s, err
}

// MergeSession merges the collected pages in page order. Merging an already
// merged session returns the stored result unchanged.
func (m *Merger) MergeSession(ctx context.Context, id string) (*entity.MergeResult, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(Key(s.OrgID, s.ProjectCode))
	defer unlock()

	// reload under the key lock; a page may have landed meanwhile
	if s, err = m.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.Status == constants.SessionMerged && s.Merged != nil {
		return s.Clone().Merged, nil
	}

	res := m.merge(s)
	s.Merged = res
	s.Status = constants.SessionMerged
	s.UpdatedAt = res.MergedAt
	if err := m.store.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("save merged session %s: %w", s.ID, err)
	}
	m.logger.Info("session.merged",
		"session_id", s.ID,
		"pages", res.PageCount,
		"parts", len(res.Parts),
		"missing_pages", res.MissingPages,
		"avg_confidence", res.AverageConfidence,
		"auto_accept", res.AutoAccept)
	return s.Clone().Merged, nil
}

func (m *Merger) merge(s *entity.ParseSession) *entity.MergeResult {
	res := &entity.MergeResult{
		SessionID:   s.ID,
		ProjectCode: s.ProjectCode,
		PageCount:   len(s.Pages),
		MergedAt:    m.now(),
	}

	present := make(map[int]bool, len(s.Pages))
	last := s.ExpectedPages
	var confSum float64
	for _, p := range s.Pages { // already ordered by UpsertPage
		present[p.PageNumber] = true
		if p.PageNumber > last {
			last = p.PageNumber
		}
		confSum += p.Result.Confidence
		res.Parts = append(res.Parts, p.Result.Parts...)
		for _, w := range p.Result.Warnings {
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: %s", p.PageNumber, w))
		}
	}
	for n := 1; n <= last; n++ {
		if !present[n] {
			res.MissingPages = append(res.MissingPages, n)
		}
	}
	if len(res.MissingPages) > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("missing pages: %s", joinInts(res.MissingPages)))
	}
	if len(s.Pages) > 0 {
		res.AverageConfidence = confSum / float64(len(s.Pages))
	}
	res.Warnings = append(res.Warnings, quality.DuplicateWarnings(res.Parts, quality.DefaultDuplicateRun)...)
	res.AutoAccept, res.ReviewReasons = m.cfg.Policy.Decide(res.Parts, res.AverageConfidence)
	return res
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}

// Sweep deletes unmerged sessions idle past the TTL. Merged sessions stay
// unless a MergedRetention is configured. It returns the number removed.
func (m *Merger) Sweep(ctx context.Context) (int, error) {
	now := m.now()
	stale, err := m.store.ListUpdatedBefore(ctx, now.Add(-m.cfg.TTL))
	if err != nil {
		return 0, fmt.Errorf("list stale sessions: %w", err)
	}
	removed := 0
	for _, candidate := range stale {
		ok, err := m.sweepOne(ctx, candidate, now)
		if err != nil {
			m.logger.Warn("session.sweep_failed", "session_id", candidate.ID, "error", err)
			continue
		}
		if ok {
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("session.swept", "removed", removed, "examined", len(stale))
	}
	return removed, nil
}

func (m *Merger) sweepOne(ctx context.Context, candidate *entity.ParseSession, now time.Time) (bool, error) {
	unlock := m.locks.Lock(Key(candidate.OrgID, candidate.ProjectCode))
	defer unlock()

	s, err := m.store.Get(ctx, candidate.ID)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !m.expired(s, now) {
		return false, nil
	}
	if err := m.store.Delete(ctx, s.ID); err != nil && !errors.Is(err, common.ErrNotFound) {
		return false, err
	}
	return true, nil
}

func (m *Merger) expired(s *entity.ParseSession, now time.Time) bool {
	idle := now.Sub(s.UpdatedAt)
	if s.Status == constants.SessionMerged {
		return m.cfg.MergedRetention > 0 && idle > m.cfg.MergedRetention
	}
	return idle > m.cfg.TTL
}

// StartSweeper runs Sweep on a cron schedule such as "@every 5m". The
// returned func stops the schedule and waits for a running sweep.
func (m *Merger) StartSweeper(schedule string) (func(), error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := m.Sweep(ctx); err != nil {
			m.logger.Error("session.sweep_failed", "error", err)
		}
	})
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, fmt.Sprintf("invalid sweep schedule %q", schedule), err)
	}
	c.Start()
	m.logger.Info("session.sweeper_started", "schedule", schedule)
	return func() { <-c.Stop().Done() }, nil
}
