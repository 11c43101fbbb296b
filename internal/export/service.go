package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/cutlist-extractor/constants"
	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

// SessionSource loads a session snapshot.
type SessionSource interface {
	Get(ctx context.Context, id string) (*entity.ParseSession, error)
}

// Service produces XLSX bytes for merged cutlists.
type Service struct {
	sessions SessionSource
	logger   *slog.Logger
}

func NewService(sessions SessionSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{sessions: sessions, logger: logger}
}

// ExportSessionXLSX returns the merged parts of a session as a workbook. The
// session must have been merged.
func (s *Service) ExportSessionXLSX(ctx context.Context, sessionID string) ([]byte, error) {
	start := time.Now()
	ps, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ps.Status != constants.SessionMerged || ps.Merged == nil {
		return nil, common.NewAppError(common.CodeValidation,
			fmt.Sprintf("session %s is %s; merge it before exporting", sessionID, ps.Status), common.ErrValidation)
	}

	buf, err := PartsXLSX(ps.ProjectCode, ps.Merged.Parts, summary{
		"Session":            ps.ID,
		"Project code":       ps.ProjectCode,
		"Template":           ps.TemplateID,
		"Pages":              fmt.Sprint(ps.Merged.PageCount),
		"Missing pages":      joinInts(ps.Merged.MissingPages),
		"Average confidence": fmt.Sprintf("%.2f", ps.Merged.AverageConfidence),
		"Auto-accepted":      yesNo(ps.Merged.AutoAccept),
		"Merged at":          ps.Merged.MergedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("export.xlsx.ok",
		"session_id", sessionID,
		"rows", len(ps.Merged.Parts),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf, nil
}

type summary map[string]string

var summaryOrder = []string{"Session", "Project code", "Template", "Pages", "Missing pages", "Average confidence", "Auto-accepted", "Merged at", "File", "Strategy"}

// PartsXLSX renders parts to a "Parts" sheet and, when info is non-empty, a
// "Summary" sheet.
func PartsXLSX(title string, parts []entity.ExtractedPart, info map[string]string) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const sheet = "Parts"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	headers := []string{
		"#", "Label", "Length (mm)", "Width (mm)", "Thickness (mm)", "Qty", "Material",
		"Edging", "Grooving", "Drilling", "CNC", "Other", "Notes", "Confidence", "Page",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(sheet, 1, 1, style)
	}

	row := 2
	for i, p := range parts {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		ops := operationsByKind(p.Operations)

		write(1, i+1)
		write(2, p.Label)
		write(3, p.Length)
		write(4, p.Width)
		if p.Thickness > 0 {
			write(5, p.Thickness)
		}
		write(6, p.Quantity)
		write(7, p.MaterialRef)
		write(8, ops[constants.OpEdging])
		write(9, ops[constants.OpGrooving])
		write(10, ops[constants.OpDrilling])
		write(11, ops[constants.OpCNC])
		write(12, ops[constants.OpOther])
		write(13, truncate(p.Notes, 140))
		write(14, p.Confidence)
		if p.Provenance.Page > 0 {
			write(15, p.Provenance.Page)
		}
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 6)
	_ = f.SetColWidth(sheet, "B", "B", 28) // label
	_ = f.SetColWidth(sheet, "C", "F", 14) // dimensions
	_ = f.SetColWidth(sheet, "G", "G", 22) // material
	_ = f.SetColWidth(sheet, "H", "L", 18) // operations
	_ = f.SetColWidth(sheet, "M", "M", 48) // notes
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if len(info) > 0 {
		const ssheet = "Summary"
		if _, err := f.NewSheet(ssheet); err != nil {
			return nil, err
		}
		r := 1
		if title != "" {
			_ = f.SetCellValue(ssheet, "A1", title)
			r = 3
		}
		for _, k := range summaryOrder {
			v, ok := info[k]
			if !ok || v == "" {
				continue
			}
			_ = f.SetCellValue(ssheet, fmt.Sprintf("A%d", r), k)
			_ = f.SetCellValue(ssheet, fmt.Sprintf("B%d", r), v)
			r++
		}
		_ = f.SetColWidth(ssheet, "A", "A", 22)
		_ = f.SetColWidth(ssheet, "B", "B", 40)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// operationsByKind joins operation codes (or details when there is no code) per kind.
func operationsByKind(ops []entity.Operation) map[constants.OperationKind]string {
	grouped := map[constants.OperationKind][]string{}
	for _, op := range ops {
		kind := op.Kind
		if kind == "" {
			kind = constants.OpOther
		}
		v := op.Code
		if v == "" {
			v = op.Detail
		}
		if v != "" {
			grouped[kind] = append(grouped[kind], v)
		}
	}
	out := make(map[constants.OperationKind]string, len(grouped))
	for k, vs := range grouped {
		out[k] = strings.Join(vs, ", ")
	}
	return out
}

func joinInts(ns []int) string {
	s := make([]string, len(ns))
	for i, n := range ns {
		s[i] = fmt.Sprint(n)
	}
	return strings.Join(s, ", ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
