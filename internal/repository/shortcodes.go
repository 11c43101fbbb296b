package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/cutlist-extractor/constants"
	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

// ShortcodeSource lists an organization's operation shortcodes.
type ShortcodeSource interface {
	ListShortcodes(ctx context.Context, orgID string) ([]entity.Shortcode, error)
}

// ShortcodeRepository reads org_shortcodes.
type ShortcodeRepository struct {
	db     DBTX
	logger *slog.Logger
}

func NewShortcodeRepository(db DBTX, logger *slog.Logger) *ShortcodeRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShortcodeRepository{db: db, logger: logger}
}

func (r *ShortcodeRepository) ListShortcodes(ctx context.Context, orgID string) ([]entity.Shortcode, error) {
	rows, err := r.db.Query(ctx, `SELECT code, kind, meaning FROM org_shortcodes WHERE org_id = $1 ORDER BY code`, orgID)
	if err != nil {
		r.logger.Error("failed to list shortcodes", "org_id", orgID, "error", err)
		return nil, fmt.Errorf("%w: %w", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []entity.Shortcode
	for rows.Next() {
		var (
			sc   entity.Shortcode
			kind string
		)
		if err := rows.Scan(&sc.Code, &kind, &sc.Meaning); err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrDatabase, err)
		}
		sc.Kind = constants.OperationKind(kind)
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDatabase, err)
	}
	return out, nil
}

// ShortcodeResolver rewrites part operations using the organization's own
// shortcodes. It satisfies extraction.ShortcodeResolver.
type ShortcodeResolver struct {
	Source ShortcodeSource
	Logger *slog.Logger
}

// Resolve returns copies of parts whose operation codes the organization
// defines, with kind and meaning taken from the definition. Parts are never
// added or removed.
func (r *ShortcodeResolver) Resolve(ctx context.Context, orgID string, parts []entity.ExtractedPart) ([]entity.ExtractedPart, error) {
	codes, err := r.Source.ListShortcodes(ctx, orgID)
	if err != nil {
		return parts, err
	}
	if len(codes) == 0 {
		return parts, nil
	}
	byCode := make(map[string]entity.Shortcode, len(codes))
	for _, sc := range codes {
		byCode[strings.ToUpper(strings.TrimSpace(sc.Code))] = sc
	}

	out := make([]entity.ExtractedPart, len(parts))
	resolved := 0
	for i, p := range parts {
		ops := make([]entity.Operation, len(p.Operations))
		for j, op := range p.Operations {
			if sc, ok := byCode[strings.ToUpper(strings.TrimSpace(op.Code))]; ok && op.Code != "" {
				if op.Kind == "" || op.Kind == constants.OpOther || op.Detail == "" {
					op.Detail = sc.Meaning
				}
				op.Kind = sc.Kind
				resolved++
			}
			ops[j] = op
		}
		p.Operations = ops
		out[i] = p
	}
	if r.Logger != nil && resolved > 0 {
		r.Logger.Debug("shortcodes resolved", "org_id", orgID, "operations", resolved)
	}
	return out, nil
}
