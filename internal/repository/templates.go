package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

// TemplateRepository serves template descriptors from Postgres. It satisfies
// template.Store.
type TemplateRepository struct {
	db     DBTX
	logger *slog.Logger
}

func NewTemplateRepository(db DBTX, logger *slog.Logger) *TemplateRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateRepository{db: db, logger: logger}
}

const selectTemplate = `
SELECT template_id, org_id, version, name, columns, shortcodes
FROM cutlist_templates
WHERE org_id = $1 AND template_id = $2 AND ($3 = 0 OR version = $3)
ORDER BY version DESC
LIMIT 1`

// Get returns the requested version, or the highest one when version is 0.
func (r *TemplateRepository) Get(ctx context.Context, orgID, templateID string, version int) (*entity.TemplateDescriptor, error) {
	var (
		d              entity.TemplateDescriptor
		cols, codesRaw []byte
	)
	err := r.db.QueryRow(ctx, selectTemplate, orgID, templateID, version).
		Scan(&d.ID, &d.OrgID, &d.Version, &d.Name, &cols, &codesRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		r.logger.Error("failed to get template", "org_id", orgID, "template_id", templateID, "version", version, "error", err)
		return nil, fmt.Errorf("%w: %w", common.ErrDatabase, err)
	}
	if err := json.Unmarshal(cols, &d.Columns); err != nil {
		return nil, common.NewAppError(common.CodeValidation, "template columns", err)
	}
	if len(codesRaw) > 0 {
		if err := json.Unmarshal(codesRaw, &d.Shortcodes); err != nil {
			return nil, common.NewAppError(common.CodeValidation, "template shortcodes", err)
		}
	}
	return &d, nil
}

const upsertTemplate = `
INSERT INTO cutlist_templates (org_id, template_id, version, name, columns, shortcodes)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (org_id, template_id, version)
DO UPDATE SET name = EXCLUDED.name, columns = EXCLUDED.columns, shortcodes = EXCLUDED.shortcodes`

// Upsert stores one descriptor version.
func (r *TemplateRepository) Upsert(ctx context.Context, d entity.TemplateDescriptor) error {
	cols, err := json.Marshal(d.Columns)
	if err != nil {
		return err
	}
	codes, err := json.Marshal(d.Shortcodes)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, upsertTemplate, d.OrgID, d.ID, d.Version, d.Name, cols, codes); err != nil {
		r.logger.Error("failed to upsert template", "org_id", d.OrgID, "template_id", d.ID, "error", err)
		return fmt.Errorf("%w: %w", common.ErrDatabase, err)
	}
	return nil
}
