package export

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/cutlist-extractor/constants"
	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

type sessionMap map[string]*entity.ParseSession

func (m sessionMap) Get(_ context.Context, id string) (*entity.ParseSession, error) {
	s, ok := m[id]
	if !ok {
		return nil, common.NewAppError(common.CodeNotFound, "session not found", common.ErrNotFound)
	}
	return s, nil
}

func TestExportSessionXLSX(t *testing.T) {
	merged := &entity.ParseSession{
		ID:          "s1",
		ProjectCode: "KIT-42",
		Status:      constants.SessionMerged,
		Merged: &entity.MergeResult{
			PageCount:         2,
			MissingPages:      []int{3},
			AverageConfidence: 0.91,
			MergedAt:          time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC),
			Parts: []entity.ExtractedPart{
				{Label: "Side", Length: 720, Width: 560, Thickness: 18, Quantity: 2, MaterialRef: "MEL-W18",
					Operations: []entity.Operation{
						{Kind: constants.OpEdging, Code: "2L2W"},
						{Kind: constants.OpDrilling, Code: "K4"},
						{Kind: constants.OpEdging, Code: "1L"},
					},
					Confidence: 0.9, Provenance: entity.Provenance{Page: 1}},
				{Label: "Shelf", Length: 560, Width: 540, Quantity: 3, Confidence: 0.92, Provenance: entity.Provenance{Page: 2}},
			},
		},
	}
	svc := NewService(sessionMap{"s1": merged, "open": {ID: "open", Status: constants.SessionCollecting}}, nil)

	b, err := svc.ExportSessionXLSX(context.Background(), "s1")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Parts")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Label", rows[0][1])
	assert.Equal(t, "Side", rows[1][1])
	assert.Equal(t, "720", rows[1][2])
	assert.Equal(t, "2L2W, 1L", rows[1][7])
	assert.Equal(t, "K4", rows[1][9])
	assert.Equal(t, "Shelf", rows[2][1])

	summary, err := f.GetRows("Summary")
	require.NoError(t, err)
	assert.Equal(t, "KIT-42", summary[0][0])
	flat := map[string]string{}
	for _, r := range summary[1:] {
		if len(r) == 2 {
			flat[r[0]] = r[1]
		}
	}
	assert.Equal(t, "3", flat["Missing pages"])
	assert.Equal(t, "no", flat["Auto-accepted"])

	_, err = svc.ExportSessionXLSX(context.Background(), "open")
	require.Error(t, err)
	assert.Equal(t, common.CodeValidation, common.ErrorCode(err))

	_, err = svc.ExportSessionXLSX(context.Background(), "missing")
	assert.Equal(t, common.CodeNotFound, common.ErrorCode(err))
}
