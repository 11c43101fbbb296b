package template

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/cutlist-extractor/constants"
	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

const templatesYAML = `
templates:
  - id: TPL-ACME01
    org_id: org-1
    version: 1
    name: Acme carcass sheet
    columns:
      - {key: label, header: Part}
      - {key: length, header: L}
      - {key: width, header: W}
      - {key: quantity, header: Qty}
  - id: tpl_acme01
    org_id: org-1
    version: 2
    columns:
      - {key: label, header: Part}
      - {key: length, header: "L (cm)", unit: cm}
      - {key: width, header: W}
      - {key: quantity, header: Qty}
      - {key: operations, header: Edge}
    shortcodes:
      - {code: 2L2W, kind: edging, meaning: two long and two short edges}
`

func qrPNG(t *testing.T, payload string) []byte {
	t.Helper()
	img, err := qrcode.NewQRCodeWriter().Encode(payload, gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func loadStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := ParseYAML([]byte(templatesYAML))
	require.NoError(t, err)
	return s
}

func TestFindMarker(t *testing.T) {
	tests := map[string]Ref{
		"Sheet TPL-ACME01 page 1":  {ID: "TPL-ACME01"},
		"tpl_acme01 v2":            {ID: "TPL-ACME01", Version: 2},
		"TPL-ACME01-V3.pdf":        {ID: "TPL-ACME01", Version: 3},
		"scan_tplBOX9_photo.jpg":   {},
		"order TPLXYZ12 continued": {ID: "TPL-XYZ12"},
	}
	for in, want := range tests {
		got, ok := FindMarker(in)
		assert.Equal(t, want.ID != "", ok, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParsePayload(t *testing.T) {
	ref, ok := ParsePayload(`{"template_id":"TPL-ACME01","version":"v2"}`)
	require.True(t, ok)
	assert.Equal(t, Ref{ID: "TPL-ACME01", Version: 2}, ref)

	ref, ok = ParsePayload("https://shop.example/t?tpl=ACME01x&v=4")
	assert.False(t, ok, "tpl parameter without the TPL prefix is not a marker")

	ref, ok = ParsePayload("https://shop.example/t?tpl=TPL-ACME01&v=4")
	require.True(t, ok)
	assert.Equal(t, Ref{ID: "TPL-ACME01", Version: 4}, ref)

	_, ok = ParsePayload("https://example.com/menu")
	assert.False(t, ok)
}

func TestFileStore(t *testing.T) {
	s := loadStore(t)
	assert.Equal(t, 2, s.Count())
	ds := s.Descriptors()
	require.Len(t, ds, 2)
	assert.Equal(t, []int{1, 2}, []int{ds[0].Version, ds[1].Version})

	d, err := s.Get(context.Background(), "org-1", "TPL-ACME01", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Version)

	d, err = s.Get(context.Background(), "org-1", "tpl-acme01", 1)
	require.NoError(t, err)
	assert.Equal(t, "Acme carcass sheet", d.Name)

	_, err = s.Get(context.Background(), "org-1", "TPL-ACME01", 9)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = s.Get(context.Background(), "org-2", "TPL-ACME01", 0)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestValidate(t *testing.T) {
	_, err := ParseYAML([]byte(`
templates:
  - id: ACME
    org_id: "bad org"
    version: 0
    columns:
      - {key: colour, header: C}
    shortcodes:
      - {code: "", kind: edging}
`))
	require.Error(t, err)
	assert.Equal(t, common.CodeValidation, common.ErrorCode(err))
	for _, want := range []string{"templates[0].id", "templates[0].org_id", "templates[0].version", "columns[0].key", "shortcodes[0].code"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestDeterministicPrompt(t *testing.T) {
	d, err := loadStore(t).Get(context.Background(), "org-1", "TPL-ACME01", 2)
	require.NoError(t, err)
	p := BuildDeterministicPrompt(d)
	assert.Contains(t, p, "TPL-ACME01 version 2")
	assert.Contains(t, p, `2. "L (cm)" -> length in cm`)
	assert.Contains(t, p, "2L2W = edging: two long and two short edges")
	assert.Empty(t, BuildDeterministicPrompt(nil))
}

type fakeReader struct {
	text  string
	block bool
}

func (f fakeReader) Recognize(ctx context.Context, _ []byte) (string, float64, error) {
	if f.block {
		<-ctx.Done()
		return "", 0, ctx.Err()
	}
	return f.text, 0.9, nil
}

func TestDetect_QRRecognized(t *testing.T) {
	det := NewDetector(loadStore(t), nil, nil)
	got := det.Detect(context.Background(), Input{OrgID: "org-1", Image: qrPNG(t, "TPL-ACME01-V2")})
	assert.Equal(t, entity.TemplateRecognized, got.Match.Status)
	assert.Equal(t, SourceQR, got.Match.Source)
	require.NotNil(t, got.Descriptor)
	assert.Equal(t, constants.OpEdging, got.Descriptor.Shortcodes[0].Kind)
	assert.Contains(t, got.Prompt, "TPL-ACME01 version 2")
}

func TestDetect_RecognizedButUnconfigured(t *testing.T) {
	det := NewDetector(loadStore(t), fakeReader{text: "Cut list  TPL-BOXCO7\n1 Side 720 560 2"}, nil)
	got := det.Detect(context.Background(), Input{OrgID: "org-1", Filename: "TPL-BOXCO7.jpg", Image: []byte("not decodable")})
	assert.Equal(t, entity.TemplateUnconfigured, got.Match.Status)
	assert.Equal(t, "TPL-BOXCO7", got.Match.TemplateID)
	assert.Equal(t, SourceMarker, got.Match.Source)
	assert.Nil(t, got.Descriptor)
	assert.Empty(t, got.Prompt)
}

func TestDetect_FilenameAndNone(t *testing.T) {
	det := NewDetector(loadStore(t), nil, nil)
	got := det.Detect(context.Background(), Input{OrgID: "org-1", Filename: "job42_TPL-ACME01.pdf", Text: "1 Side 720 560 2"})
	assert.Equal(t, entity.TemplateRecognized, got.Match.Status)
	assert.Equal(t, SourceFilename, got.Match.Source)

	got = det.Detect(context.Background(), Input{OrgID: "org-1", Filename: "photo.jpg", Text: "1 Side 720 560 2"})
	assert.Equal(t, entity.TemplateNone, got.Match.Status)
}

func TestDetect_TimeoutFallsBackToNone(t *testing.T) {
	det := NewDetector(loadStore(t), fakeReader{block: true}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	got := det.Detect(ctx, Input{OrgID: "org-1", Image: []byte("x")})
	assert.Equal(t, entity.TemplateNone, got.Match.Status)
	assert.Less(t, time.Since(start), time.Second)
}

type countingStore struct {
	calls int
	err   error
}

func (c *countingStore) Get(context.Context, string, string, int) (*entity.TemplateDescriptor, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &entity.TemplateDescriptor{ID: "TPL-X01", Version: 1}, nil
}

func TestRequestCacheAndChain(t *testing.T) {
	miss := &countingStore{err: common.ErrNotFound}
	cache := NewRequestCache(miss)
	for i := 0; i < 3; i++ {
		_, err := cache.Get(context.Background(), "org", "TPL-X01", 0)
		assert.ErrorIs(t, err, common.ErrNotFound)
	}
	assert.Equal(t, 1, miss.calls)

	broken := &countingStore{err: errors.New("db down")}
	hit := &countingStore{}
	d, err := Chain{broken, nil, hit}.Get(context.Background(), "org", "TPL-X01", 0)
	require.NoError(t, err)
	assert.Equal(t, "TPL-X01", d.ID)

	_, err = Chain{broken, miss}.Get(context.Background(), "org", "TPL-X01", 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrNotFound)
}
