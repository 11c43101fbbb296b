package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

// AuditRepository appends extraction diagnostics.
type AuditRepository struct {
	db     DBTX
	logger *slog.Logger
}

func NewAuditRepository(db DBTX, logger *slog.Logger) *AuditRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditRepository{db: db, logger: logger}
}

const insertAudit = `
INSERT INTO extraction_audit
    (id, request_id, org_id, file_id, filename, strategy, outcome, part_count, confidence, attempts, duration_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func (r *AuditRepository) WriteAudit(ctx context.Context, a entity.ExtractionAudit) error {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		id = uuid.New()
	}
	attempts, err := json.Marshal(a.Attempts)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, insertAudit,
		id, a.RequestID, a.OrgID, a.FileID, a.Filename, string(a.Strategy), a.Outcome,
		a.PartCount, a.Confidence, attempts, a.DurationMs, a.CreatedAt)
	if err != nil {
		r.logger.Error("failed to write extraction audit", "file_id", a.FileID, "error", err)
		return fmt.Errorf("%w: %w", common.ErrDatabase, err)
	}
	return nil
}
