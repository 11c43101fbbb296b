package ocr

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	calls [][]string
	run   func(name string, args []string) ([]byte, []byte, error)
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	return s.run(name, args)
}

func newTestExtractor(r Runner, pages func([]byte) ([]string, error)) *Extractor {
	e := NewExtractor(Config{}, nil, WithRunner(r))
	e.pages = pages
	return e
}

func TestExtractText_PrefersLayoutText(t *testing.T) {
	r := &stubRunner{run: func(name string, _ []string) ([]byte, []byte, error) {
		require.Equal(t, "pdftotext", name)
		return []byte("Part  L  W  Qty\n1  Side  720  560  2\f\f2  Shelf  500  300  3\f"), nil, nil
	}}
	e := newTestExtractor(r, func([]byte) ([]string, error) {
		return []string{"Part L W Qty 1 Side 720 560 2", "", "2 Shelf 500 300 3"}, nil
	})

	res, err := e.ExtractText(context.Background(), []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, "pdftotext", res.Method)
	assert.Equal(t, 3, res.PageCount)
	require.Len(t, res.Pages, 3)
	assert.Equal(t, 2, res.Pages[1].PageNumber)
	assert.Empty(t, res.Pages[1].Text)
	assert.Equal(t, "2  Shelf  500  300  3", res.Pages[2].Text)
	assert.Contains(t, res.Text, "1  Side  720  560  2")
}

func TestExtractText_FallsBackToContentStreams(t *testing.T) {
	r := &stubRunner{run: func(string, []string) ([]byte, []byte, error) {
		return nil, []byte("not found"), errors.New("exec: not found")
	}}
	e := newTestExtractor(r, func([]byte) ([]string, error) {
		return []string{"Side 720 560 2"}, nil
	})
	res, err := e.ExtractText(context.Background(), []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, "pdfcpu", res.Method)
	assert.Equal(t, "Side 720 560 2", res.Text)
}

func TestExtractText_NoTextKeepsPageCount(t *testing.T) {
	r := &stubRunner{run: func(string, []string) ([]byte, []byte, error) {
		return []byte("\f\f"), nil, nil
	}}
	e := newTestExtractor(r, func([]byte) ([]string, error) { return []string{"", ""}, nil })
	res, err := e.ExtractText(context.Background(), []byte("%PDF-1.7"))
	assert.ErrorIs(t, err, ErrNoText)
	assert.Equal(t, 2, res.PageCount)
}

func TestExtractText_UnreadablePDF(t *testing.T) {
	r := &stubRunner{run: func(string, []string) ([]byte, []byte, error) {
		return nil, nil, errors.New("syntax error")
	}}
	e := newTestExtractor(r, func([]byte) ([]string, error) { return nil, errors.New("pdfcpu read: bad xref") })
	_, err := e.ExtractText(context.Background(), []byte("junk"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoText)
}

func TestRender_ReturnsPagesInOrder(t *testing.T) {
	r := &stubRunner{run: func(name string, args []string) ([]byte, []byte, error) {
		require.Equal(t, "pdftoppm", name)
		prefix := args[len(args)-1]
		for _, n := range []string{"10", "2", "1"} {
			require.NoError(t, os.WriteFile(prefix+"-"+n+".jpg", []byte("img"+n), 0o600))
		}
		return nil, nil, nil
	}}
	e := newTestExtractor(r, nil)
	images, err := e.Render(context.Background(), []byte("%PDF"), 2, 0)
	require.NoError(t, err)
	require.Len(t, images, 3)
	assert.Equal(t, "img1", string(images[0]))
	assert.Equal(t, "img2", string(images[1]))
	assert.Equal(t, "img10", string(images[2]))
	assert.Contains(t, strings.Join(r.calls[0], " "), "-r 300")

	images, err = e.Render(context.Background(), []byte("%PDF"), 1, 2)
	require.NoError(t, err)
	assert.Len(t, images, 2)
	assert.Contains(t, strings.Join(r.calls[1], " "), "-l 2")
}

func TestRender_NoOutput(t *testing.T) {
	r := &stubRunner{run: func(string, []string) ([]byte, []byte, error) { return nil, nil, nil }}
	_, err := newTestExtractor(r, nil).Render(context.Background(), []byte("%PDF"), 1, 0)
	assert.Error(t, err)
}

func TestRecognize_ParsesTSV(t *testing.T) {
	tsv := strings.Join([]string{
		"level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext",
		"5\t1\t1\t1\t1\t1\t0\t0\t10\t10\t90\tTPL-ACME01",
		"5\t1\t1\t1\t1\t2\t0\t0\t10\t10\t80\tV2",
		"4\t1\t1\t1\t2\t0\t0\t0\t10\t10\t-1\t",
		"5\t1\t1\t1\t2\t1\t0\t0\t10\t10\t70\tSide",
	}, "\n")
	r := &stubRunner{run: func(name string, args []string) ([]byte, []byte, error) {
		require.Equal(t, "tesseract", name)
		assert.Equal(t, "tsv", args[len(args)-1])
		return []byte(tsv), nil, nil
	}}
	text, conf, err := newTestExtractor(r, nil).Recognize(context.Background(), []byte{0xff, 0xd8})
	require.NoError(t, err)
	assert.Equal(t, "TPL-ACME01 V2\nSide", text)
	assert.InDelta(t, 0.8, conf, 1e-9)
}

func TestNormalize(t *testing.T) {
	in := "Part\tL\tW\r\n------\r\n01  Side     720\n\n\n\n02 Top 800   \n"
	assert.Equal(t, "Part  L  W\n\n01  Side  720\n\n02 Top 800", Normalize(in))
}

func TestStreamText(t *testing.T) {
	stream := "BT\n/F1 10 Tf\n72 700 Td\n(Side) Tj\n(720) Tj\n0 -12 Td\n[(Sh) -20 (elf)] TJ\n(500\\051) Tj\nET\n"
	assert.Equal(t, "Side 720\nShelf 500)", streamText([]byte(stream)))
}
