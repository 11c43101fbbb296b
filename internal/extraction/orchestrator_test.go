package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/cutlist-extractor/constants"
	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
	"github.com/joseph-ayodele/cutlist-extractor/internal/llm"
	"github.com/joseph-ayodele/cutlist-extractor/internal/ratelimit"
	"github.com/joseph-ayodele/cutlist-extractor/internal/template"
)

var pdfBytes = []byte("%PDF-1.7\n%cutlist test\n")

type fakeProvider struct {
	configured bool
	text       func(ctx context.Context, text string, opts llm.ParseOptions) (llm.ParseResult, error)
	image      func(ctx context.Context, img []byte, mime string, opts llm.ParseOptions) (llm.ParseResult, error)

	mu         sync.Mutex
	textCalls  []llm.ParseOptions
	texts      []string
	imageCalls []llm.ParseOptions

	inFlight atomic.Int32
	peak     atomic.Int32
}

func (p *fakeProvider) Name() string       { return "fake" }
func (p *fakeProvider) IsConfigured() bool { return p.configured }

func (p *fakeProvider) enter() {
	n := p.inFlight.Add(1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			return
		}
	}
}

func (p *fakeProvider) ParseText(ctx context.Context, text string, opts llm.ParseOptions) (llm.ParseResult, error) {
	p.enter()
	defer p.inFlight.Add(-1)
	p.mu.Lock()
	p.textCalls = append(p.textCalls, opts)
	p.texts = append(p.texts, text)
	p.mu.Unlock()
	if p.text == nil {
		return llm.ParseResult{}, errors.New("unexpected text call")
	}
	return p.text(ctx, text, opts)
}

func (p *fakeProvider) ParseImage(ctx context.Context, img []byte, mime string, opts llm.ParseOptions) (llm.ParseResult, error) {
	p.enter()
	defer p.inFlight.Add(-1)
	p.mu.Lock()
	p.imageCalls = append(p.imageCalls, opts)
	p.mu.Unlock()
	if p.image == nil {
		return llm.ParseResult{}, errors.New("unexpected image call")
	}
	return p.image(ctx, img, mime, opts)
}

type docProvider struct {
	*fakeProvider
	doc   func(opts llm.ParseOptions) (llm.ParseResult, error)
	calls atomic.Int32
}

func (p *docProvider) ParseDocument(_ context.Context, _ []byte, opts llm.ParseOptions) (llm.ParseResult, error) {
	p.calls.Add(1)
	return p.doc(opts)
}

type fakeText struct {
	res   entity.TextExtraction
	err   error
	calls atomic.Int32
}

func (f *fakeText) ExtractText(context.Context, []byte) (entity.TextExtraction, error) {
	f.calls.Add(1)
	return f.res, f.err
}

type fakeOCR struct {
	configured bool
	healthy    bool
	res        entity.TextExtraction
	err        error
	images     [][]byte

	byPage atomic.Int32
	asImg  atomic.Int32
}

func (f *fakeOCR) IsConfigured() bool { return f.configured }

func (f *fakeOCR) HealthCheck(context.Context) bool { return f.healthy }

func (f *fakeOCR) ExtractByPage(context.Context, []byte, string) (entity.TextExtraction, error) {
	f.byPage.Add(1)
	return f.res, f.err
}

func (f *fakeOCR) ExtractAsImages(context.Context, []byte, string) ([][]byte, error) {
	f.asImg.Add(1)
	if len(f.images) == 0 {
		return nil, errors.New("no images")
	}
	return f.images, nil
}

type fakeRenderer struct {
	images [][]byte
	err    error
	calls  atomic.Int32
}

func (f *fakeRenderer) Render(context.Context, []byte, float64, int) ([][]byte, error) {
	f.calls.Add(1)
	return f.images, f.err
}

type fakeReader struct{ text string }

func (f fakeReader) Recognize(context.Context, []byte) (string, float64, error) {
	return f.text, 0.9, nil
}

type recordingAudit struct {
	mu     sync.Mutex
	audits []entity.ExtractionAudit
}

func (a *recordingAudit) WriteAudit(_ context.Context, x entity.ExtractionAudit) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audits = append(a.audits, x)
	return nil
}

type failingFiles struct{ calls atomic.Int32 }

func (f *failingFiles) Save(context.Context, string, string, string, []byte) (string, error) {
	f.calls.Add(1)
	return "", errors.New("bucket unavailable")
}

type resolverFunc func(ctx context.Context, orgID string, parts []entity.ExtractedPart) ([]entity.ExtractedPart, error)

func (f resolverFunc) Resolve(ctx context.Context, orgID string, parts []entity.ExtractedPart) ([]entity.ExtractedPart, error) {
	return f(ctx, orgID, parts)
}

func makeParts(n int, opts llm.ParseOptions, label string) []entity.ExtractedPart {
	out := make([]entity.ExtractedPart, n)
	for i := range out {
		out[i] = entity.ExtractedPart{
			Label:      fmt.Sprintf("%s-%d", label, i+1),
			Length:     float64(700 + i),
			Width:      500,
			Quantity:   1,
			Confidence: 0.9,
			Provenance: entity.Provenance{Page: opts.Page, Chunk: opts.Chunk},
		}
	}
	return out
}

func partsPerCall(n int) func(context.Context, string, llm.ParseOptions) (llm.ParseResult, error) {
	return func(_ context.Context, _ string, opts llm.ParseOptions) (llm.ParseResult, error) {
		return llm.ParseResult{Parts: makeParts(n, opts, fmt.Sprintf("p%d", opts.Page)), Confidence: 0.9}, nil
	}
}

func imagePartsPerCall(n int) func(context.Context, []byte, string, llm.ParseOptions) (llm.ParseResult, error) {
	return func(_ context.Context, _ []byte, _ string, opts llm.ParseOptions) (llm.ParseResult, error) {
		return llm.ParseResult{Parts: makeParts(n, opts, fmt.Sprintf("img%d", opts.Page)), Confidence: 0.85}, nil
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 24, 16))))
	return buf.Bytes()
}

const pageText = "Part  Length  Width  Qty  Material\n" +
	"1  Side panel left carcass  720  560  2  MDF\n" +
	"2  Top panel carcass  800  560  1  MDF\n" +
	"3  Adjustable shelf  764  540  3  MDF\n" +
	"4  Back panel  780  720  1  HDF"

func findAttempt(c []entity.AttemptAudit, s constants.Strategy) (entity.AttemptAudit, bool) {
	for _, a := range c {
		if a.Strategy == s {
			return a, true
		}
	}
	return entity.AttemptAudit{}, false
}

func TestExtract_RejectsInputBeforeAnyWork(t *testing.T) {
	prov := &fakeProvider{configured: true}
	text := &fakeText{}
	o := New(Config{MaxUploadBytes: 64}, Deps{Provider: prov, Text: text}, nil)

	book := excelize.NewFile()
	buf, err := book.WriteToBuffer()
	require.NoError(t, err)

	cases := []struct {
		name string
		req  Request
		code string
	}{
		{"empty", Request{Filename: "a.pdf"}, common.CodeInputEmpty},
		{"too large", Request{Filename: "a.pdf", Data: bytes.Repeat([]byte("x"), 65)}, common.CodeInputTooLarge},
		{"spreadsheet by name", Request{Filename: "parts.xlsx", Data: []byte("PK")}, common.CodeSpreadsheetRouted},
		{"unsupported", Request{Filename: "notes.txt", MIMEType: "text/plain", Data: []byte("hello")}, common.CodeUnsupportedType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := o.Extract(context.Background(), tc.req)
			assert.Equal(t, tc.code, common.ErrorCode(err))
		})
	}

	big := New(Config{}, Deps{Provider: prov, Text: text}, nil)
	_, err = big.Extract(context.Background(), Request{Filename: "upload.bin", Data: buf.Bytes()})
	assert.Equal(t, common.CodeSpreadsheetRouted, common.ErrorCode(err))
	assert.Zero(t, text.calls.Load())
}

func TestExtract_NotConfiguredFailsFast(t *testing.T) {
	text := &fakeText{}
	o := New(Config{}, Deps{Provider: &fakeProvider{}, Text: text}, nil)
	_, err := o.Extract(context.Background(), Request{Filename: "a.pdf", Data: pdfBytes})
	assert.Equal(t, common.CodeNotConfigured, common.ErrorCode(err))
	assert.ErrorIs(t, err, common.ErrNotConfigured)
	assert.Zero(t, text.calls.Load())
}

func TestExtract_ThreePagePDFWithEmptyMiddlePage(t *testing.T) {
	prov := &fakeProvider{configured: true, text: partsPerCall(2)}
	text := &fakeText{res: entity.TextExtraction{
		Text:      pageText + "\n\n\n" + pageText,
		PageCount: 3,
		Pages:     []entity.PageText{{PageNumber: 1, Text: pageText}, {PageNumber: 2, Text: "  "}, {PageNumber: 3, Text: pageText}},
		Method:    "pdftotext",
	}}
	render := &fakeRenderer{}
	o := New(Config{}, Deps{Provider: prov, Text: text, Renderer: render}, nil)

	cand, err := o.Extract(context.Background(), Request{OrgID: "org-1", Filename: "job.pdf", Data: pdfBytes})
	require.NoError(t, err)

	assert.Equal(t, constants.StrategyLocalText, cand.Strategy)
	require.Len(t, cand.Parts, 4)
	assert.Equal(t, 1, cand.Parts[0].Provenance.Page)
	assert.Equal(t, 3, cand.Parts[3].Provenance.Page)
	assert.Equal(t, constants.StrategyLocalText, cand.Parts[0].Provenance.Strategy)
	assert.Equal(t, 3, cand.PageCount)
	assert.False(t, cand.Escalated)
	assert.Zero(t, render.calls.Load())

	joined := strings.Join(cand.Warnings, "\n")
	assert.Contains(t, joined, "page 2: no text extracted")
	assert.NotContains(t, joined, "page 1")

	var pages []int
	for _, opts := range prov.textCalls {
		assert.True(t, opts.SkipChunking)
		assert.True(t, opts.ExtractMetadata)
		pages = append(pages, opts.Page)
	}
	sort.Ints(pages)
	assert.Equal(t, []int{1, 3}, pages)

	ocr, ok := findAttempt(cand.Attempts, constants.StrategyRemoteOCR)
	require.True(t, ok)
	assert.True(t, ocr.Skipped)
	assert.NotEmpty(t, cand.FileID)
}

func TestExtract_PrefersHealthyOCR(t *testing.T) {
	prov := &fakeProvider{configured: true, text: partsPerCall(4)}
	text := &fakeText{res: entity.TextExtraction{Text: pageText, PageCount: 1, Method: "pdfcpu"}}
	ocrText := strings.ReplaceAll(pageText, "MDF", "MFC")
	svc := &fakeOCR{configured: true, healthy: true, res: entity.TextExtraction{Text: ocrText, PageCount: 1, Confidence: 0.9, Method: "paddle"}}
	o := New(Config{}, Deps{Provider: prov, Text: text, OCR: svc}, nil)

	cand, err := o.Extract(context.Background(), Request{Filename: "job.pdf", Data: pdfBytes})
	require.NoError(t, err)
	assert.Equal(t, constants.StrategyRemoteOCR, cand.Strategy)
	require.Len(t, prov.texts, 1)
	assert.Equal(t, ocrText, prov.texts[0])
	assert.Equal(t, 1, prov.textCalls[0].Page)
	assert.False(t, prov.textCalls[0].SkipChunking)
	assert.EqualValues(t, 1, text.calls.Load(), "local extraction still runs to completion")
}

func TestExtract_UnhealthyOCRIsSkipped(t *testing.T) {
	prov := &fakeProvider{configured: true, text: partsPerCall(4)}
	text := &fakeText{res: entity.TextExtraction{Text: pageText, PageCount: 1}}
	svc := &fakeOCR{configured: true, healthy: false}
	o := New(Config{}, Deps{Provider: prov, Text: text, OCR: svc}, nil)

	cand, err := o.Extract(context.Background(), Request{Filename: "job.pdf", Data: pdfBytes})
	require.NoError(t, err)
	assert.Equal(t, constants.StrategyLocalText, cand.Strategy)
	assert.Zero(t, svc.byPage.Load())
	a, ok := findAttempt(cand.Attempts, constants.StrategyRemoteOCR)
	require.True(t, ok)
	assert.True(t, a.Skipped)
	assert.Contains(t, a.Error, "health check")
}

func TestExtract_PagesBoundedAndOrdered(t *testing.T) {
	const n = 12
	prov := &fakeProvider{configured: true}
	prov.text = func(_ context.Context, _ string, opts llm.ParseOptions) (llm.ParseResult, error) {
		time.Sleep(time.Duration(n-opts.Page) * 2 * time.Millisecond)
		return llm.ParseResult{Parts: makeParts(1, opts, fmt.Sprintf("page%02d", opts.Page)), Confidence: 0.9}, nil
	}
	pages := make([]entity.PageText, n)
	for i := range pages {
		pages[i] = entity.PageText{PageNumber: i + 1, Text: pageText}
	}
	text := &fakeText{res: entity.TextExtraction{Text: strings.Repeat(pageText+"\n", n), PageCount: n, Pages: pages}}
	o := New(Config{PageConcurrency: 4}, Deps{Provider: prov, Text: text}, nil)

	cand, err := o.Extract(context.Background(), Request{Filename: "job.pdf", Data: pdfBytes})
	require.NoError(t, err)
	require.Len(t, cand.Parts, n)
	for i, p := range cand.Parts {
		assert.Equal(t, i+1, p.Provenance.Page)
		assert.Equal(t, fmt.Sprintf("page%02d-1", i+1), p.Label)
	}
	assert.LessOrEqual(t, prov.peak.Load(), int32(4))
	assert.Greater(t, prov.peak.Load(), int32(1))
}

func TestExtract_ChunksLongSinglePageText(t *testing.T) {
	var b strings.Builder
	b.WriteString("Part  Length  Width  Qty\n")
	for i := 1; i <= 60; i++ {
		fmt.Fprintf(&b, "%d  Side panel  %d  560  2\n", i, 700+i)
	}
	prov := &fakeProvider{configured: true}
	prov.text = func(_ context.Context, text string, opts llm.ParseOptions) (llm.ParseResult, error) {
		time.Sleep(time.Duration(4-opts.Chunk) * 3 * time.Millisecond)
		return llm.ParseResult{Parts: makeParts(2, opts, fmt.Sprintf("chunk%d", opts.Chunk)), Confidence: 0.9}, nil
	}
	text := &fakeText{res: entity.TextExtraction{Text: b.String(), PageCount: 1}}
	o := New(Config{}, Deps{Provider: prov, Text: text}, nil)

	cand, err := o.Extract(context.Background(), Request{Filename: "long.pdf", Data: pdfBytes})
	require.NoError(t, err)
	require.Len(t, prov.textCalls, 3)
	for _, opts := range prov.textCalls {
		assert.True(t, opts.SkipChunking)
	}
	for _, chunk := range prov.texts {
		assert.True(t, strings.HasPrefix(chunk, "Part  Length  Width  Qty\n"), "every chunk repeats the header")
	}
	require.Len(t, cand.Parts, 6)
	assert.Equal(t, "chunk1-1", cand.Parts[0].Label)
	assert.Equal(t, "chunk3-2", cand.Parts[5].Label)
	assert.LessOrEqual(t, prov.peak.Load(), int32(3))
}

func TestExtract_BlankTemplateSkipsFallbacks(t *testing.T) {
	prov := &docProvider{fakeProvider: &fakeProvider{configured: true}, doc: func(llm.ParseOptions) (llm.ParseResult, error) {
		return llm.ParseResult{}, errors.New("must not be called")
	}}
	text := &fakeText{res: entity.TextExtraction{Text: "CUTTING LIST\nPart  Length  Width  Qty  Material  Edge", PageCount: 1}}
	render := &fakeRenderer{}
	o := New(Config{}, Deps{Provider: prov, Text: text, Renderer: render}, nil)

	_, err := o.Extract(context.Background(), Request{Filename: "scan.pdf", Data: pdfBytes})
	require.Error(t, err)
	assert.Equal(t, common.CodeBlankTemplate, common.ErrorCode(err))
	assert.ErrorIs(t, err, common.ErrContent)
	ae, _ := common.AsAppError(err)
	assert.NotEmpty(t, ae.Remediation)
	assert.Zero(t, prov.calls.Load())
	assert.Zero(t, render.calls.Load())
}

func TestExtract_NativeDocumentFallback(t *testing.T) {
	prov := &docProvider{fakeProvider: &fakeProvider{configured: true}}
	prov.doc = func(opts llm.ParseOptions) (llm.ParseResult, error) {
		return llm.ParseResult{Parts: makeParts(3, opts, "doc"), Confidence: 0.8}, nil
	}
	text := &fakeText{res: entity.TextExtraction{PageCount: 2}, err: errors.New("no extractable text")}
	render := &fakeRenderer{}
	o := New(Config{}, Deps{Provider: prov, Text: text, Renderer: render}, nil)

	cand, err := o.Extract(context.Background(), Request{Filename: "scan.pdf", Data: pdfBytes})
	require.NoError(t, err)
	assert.Equal(t, constants.StrategyNativeDocument, cand.Strategy)
	assert.Len(t, cand.Parts, 3)
	assert.Equal(t, 2, cand.PageCount)
	assert.Zero(t, render.calls.Load())
}

func TestExtract_RasterFallbackPerPage(t *testing.T) {
	prov := &fakeProvider{configured: true, image: imagePartsPerCall(2)}
	text := &fakeText{res: entity.TextExtraction{PageCount: 2}, err: errors.New("no extractable text")}
	img := pngBytes(t)
	render := &fakeRenderer{images: [][]byte{img, img}}
	o := New(Config{}, Deps{Provider: prov, Text: text, Renderer: render}, nil)

	cand, err := o.Extract(context.Background(), Request{Filename: "scan.pdf", Data: pdfBytes})
	require.NoError(t, err)
	assert.Equal(t, constants.StrategyRasterVision, cand.Strategy)
	require.Len(t, cand.Parts, 4)
	assert.Equal(t, "img1-1", cand.Parts[0].Label)
	assert.Equal(t, "img2-2", cand.Parts[3].Label)
	for _, opts := range prov.imageCalls {
		assert.True(t, opts.SkipChunking)
	}
	a, ok := findAttempt(cand.Attempts, constants.StrategyRasterVision)
	require.True(t, ok)
	assert.Equal(t, "local_render", a.Method)
}

func TestExtract_RasterFallsBackToOCRImages(t *testing.T) {
	prov := &fakeProvider{configured: true, image: imagePartsPerCall(3)}
	text := &fakeText{err: errors.New("no extractable text")}
	svc := &fakeOCR{configured: true, healthy: true, res: entity.TextExtraction{PageCount: 1}, images: [][]byte{pngBytes(t)}}
	render := &fakeRenderer{err: errors.New("pdftoppm: not found")}
	o := New(Config{}, Deps{Provider: prov, Text: text, OCR: svc, Renderer: render}, nil)

	cand, err := o.Extract(context.Background(), Request{Filename: "scan.pdf", Data: pdfBytes})
	require.NoError(t, err)
	assert.Len(t, cand.Parts, 3)
	assert.EqualValues(t, 1, render.calls.Load())
	assert.EqualValues(t, 1, svc.asImg.Load())
	a, ok := findAttempt(cand.Attempts, constants.StrategyRasterVision)
	require.True(t, ok)
	assert.Equal(t, "ocr_images", a.Method)
}

func TestExtract_NothingWorks(t *testing.T) {
	prov := &fakeProvider{configured: true}
	text := &fakeText{err: errors.New("no extractable text")}

	o := New(Config{}, Deps{Provider: prov, Text: text}, nil)
	_, err := o.Extract(context.Background(), Request{Filename: "scan.pdf", Data: pdfBytes})
	assert.Equal(t, common.CodeNoText, common.ErrorCode(err))

	// A marked template with nothing readable is a blank or scanned template.
	withDetector := New(Config{}, Deps{Provider: prov, Text: text, Detector: template.NewDetector(nil, nil, nil)}, nil)
	_, err = withDetector.Extract(context.Background(), Request{Filename: "TPL-ACME01.pdf", Data: pdfBytes})
	assert.Equal(t, common.CodeBlankTemplate, common.ErrorCode(err))
}

func TestExtract_EscalatesWhenTooFewParts(t *testing.T) {
	prov := &fakeProvider{configured: true, text: partsPerCall(1), image: imagePartsPerCall(3)}
	text := &fakeText{res: entity.TextExtraction{Text: pageText, PageCount: 2}}
	img := pngBytes(t)
	render := &fakeRenderer{images: [][]byte{img, img}}
	o := New(Config{}, Deps{Provider: prov, Text: text, Renderer: render}, nil)

	cand, err := o.Extract(context.Background(), Request{Filename: "job.pdf", Data: pdfBytes})
	require.NoError(t, err)
	assert.True(t, cand.Escalated)
	assert.Equal(t, constants.StrategyRasterVision, cand.Strategy)
	assert.Len(t, cand.Parts, 6)
	assert.Contains(t, strings.Join(cand.Warnings, "\n"), "using the image result")
}

func TestExtract_NoEscalationWhenPartsSufficient(t *testing.T) {
	prov := &fakeProvider{configured: true, text: partsPerCall(12)}
	text := &fakeText{res: entity.TextExtraction{Text: pageText, PageCount: 1}}
	render := &fakeRenderer{images: [][]byte{pngBytes(t)}}
	o := New(Config{}, Deps{Provider: prov, Text: text, Renderer: render}, nil)

	cand, err := o.Extract(context.Background(), Request{Filename: "job.pdf", Data: pdfBytes})
	require.NoError(t, err)
	assert.False(t, cand.Escalated)
	assert.Len(t, cand.Parts, 12)
	assert.Zero(t, render.calls.Load())
}

func TestExtract_ImageWithUnconfiguredTemplate(t *testing.T) {
	store, err := template.ParseYAML([]byte("templates: []\n"))
	require.NoError(t, err)
	det := template.NewDetector(store, fakeReader{text: "CUT LIST  TPL-BOXCO7\n1 Side 720 560 2"}, nil)
	prov := &fakeProvider{configured: true, image: imagePartsPerCall(2)}
	o := New(Config{}, Deps{Provider: prov, Detector: det}, nil)

	cand, err := o.Extract(context.Background(), Request{OrgID: "org-1", Filename: "TPL-BOXCO7.jpg", Data: pngBytes(t)})
	require.NoError(t, err)
	require.NotNil(t, cand.Template)
	assert.Equal(t, entity.TemplateUnconfigured, cand.Template.Status)
	assert.Equal(t, "TPL-BOXCO7", cand.Template.TemplateID)
	assert.Equal(t, "TPL-BOXCO7", cand.Metadata.TemplateID)
	assert.Equal(t, constants.StrategyVision, cand.Strategy)
	assert.Equal(t, constants.IMAGE, cand.FileClass)
	require.Len(t, prov.imageCalls, 1)
	assert.Equal(t, "TPL-BOXCO7", prov.imageCalls[0].TemplateID)
	assert.Empty(t, prov.imageCalls[0].DeterministicPrompt)
	assert.Nil(t, prov.imageCalls[0].TemplateConfig)
	assert.Contains(t, strings.Join(cand.Warnings, "\n"), "not configured")
}

func TestExtract_ImageFormatErrorIsActionable(t *testing.T) {
	prov := &fakeProvider{configured: true}
	prov.image = func(context.Context, []byte, string, llm.ParseOptions) (llm.ParseResult, error) {
		return llm.ParseResult{}, &ratelimit.StatusError{Provider: "fake", StatusCode: 400, Body: `{"error":{"message":"Invalid image format"}}`}
	}
	o := New(Config{}, Deps{Provider: prov}, nil)
	_, err := o.Extract(context.Background(), Request{Filename: "photo.png", Data: pngBytes(t)})
	assert.Equal(t, common.CodeUnreadableImage, common.ErrorCode(err))
	ae, ok := common.AsAppError(err)
	require.True(t, ok)
	assert.NotEmpty(t, ae.Remediation)
}

func TestExtract_SideEffectsNeverFailTheParse(t *testing.T) {
	prov := &fakeProvider{configured: true, text: partsPerCall(4)}
	text := &fakeText{res: entity.TextExtraction{Text: pageText, PageCount: 1}}
	audit := &recordingAudit{}
	files := &failingFiles{}
	resolveErr := resolverFunc(func(context.Context, string, []entity.ExtractedPart) ([]entity.ExtractedPart, error) {
		return nil, errors.New("shortcode table locked")
	})
	o := New(Config{}, Deps{Provider: prov, Text: text, Audit: audit, Files: files, Resolver: resolveErr}, nil)

	cand, err := o.Extract(context.Background(), Request{OrgID: "org-1", Filename: "job.pdf", Data: pdfBytes})
	require.NoError(t, err)
	assert.Len(t, cand.Parts, 4)
	assert.EqualValues(t, 1, files.calls.Load())
	require.Len(t, audit.audits, 1)
	assert.Equal(t, "ok", audit.audits[0].Outcome)
	assert.Equal(t, 4, audit.audits[0].PartCount)
	assert.Equal(t, cand.FileID, audit.audits[0].FileID)
	assert.NotEmpty(t, audit.audits[0].Attempts)

	failing := New(Config{}, Deps{Provider: prov, Text: &fakeText{err: errors.New("broken")}, Audit: audit}, nil)
	_, err = failing.Extract(context.Background(), Request{Filename: "job.pdf", Data: pdfBytes})
	require.Error(t, err)
	require.Len(t, audit.audits, 2)
	assert.Equal(t, common.CodeNoText, audit.audits[1].Outcome)
}

func TestExtract_ResolverEnrichesParts(t *testing.T) {
	prov := &fakeProvider{configured: true, text: partsPerCall(3)}
	text := &fakeText{res: entity.TextExtraction{Text: pageText, PageCount: 1}}
	resolver := resolverFunc(func(_ context.Context, orgID string, parts []entity.ExtractedPart) ([]entity.ExtractedPart, error) {
		out := append([]entity.ExtractedPart(nil), parts...)
		for i := range out {
			out[i].Notes = "resolved for " + orgID
		}
		return out, nil
	})
	o := New(Config{}, Deps{Provider: prov, Text: text, Resolver: resolver}, nil)
	cand, err := o.Extract(context.Background(), Request{OrgID: "org-7", Filename: "job.pdf", Data: pdfBytes})
	require.NoError(t, err)
	assert.Equal(t, "resolved for org-7", cand.Parts[2].Notes)
}

func TestExtract_DuplicateRowsOnlyWarn(t *testing.T) {
	prov := &fakeProvider{configured: true}
	prov.text = func(_ context.Context, _ string, opts llm.ParseOptions) (llm.ParseResult, error) {
		parts := makeParts(11, opts, "dup")
		for i := range parts {
			parts[i].Length = 720
		}
		return llm.ParseResult{Parts: parts, Confidence: 0.9}, nil
	}
	text := &fakeText{res: entity.TextExtraction{Text: pageText, PageCount: 1}}
	o := New(Config{}, Deps{Provider: prov, Text: text}, nil)
	cand, err := o.Extract(context.Background(), Request{Filename: "job.pdf", Data: pdfBytes})
	require.NoError(t, err)
	assert.Len(t, cand.Parts, 11)
	assert.Contains(t, strings.Join(cand.Warnings, "\n"), "11 consecutive rows")
}
