package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/joseph-ayodele/cutlist-extractor/internal/entity"
)

// ExtractText is the fast local strategy: pdfcpu reads the page tree and the
// content-stream text; pdftotext -layout then replaces the page texts when it
// is available, since it keeps table columns aligned. No network, fails fast.
func (e *Extractor) ExtractText(ctx context.Context, pdf []byte) (entity.TextExtraction, error) {
	start := time.Now()
	pages, err := e.pages(pdf)
	if err != nil {
		e.logger.Warn("ocr.text.pdfcpu_failed", "error", err)
	}
	method := "pdfcpu"

	if !e.cfg.DisablePdftotext {
		if layout, lerr := e.pdftotext(ctx, pdf); lerr == nil && strings.TrimSpace(strings.Join(layout, "")) != "" {
			// pdfcpu's count wins when it read the file; pdftotext adds a trailing \f.
			if len(pages) == 0 || len(layout) >= len(pages) {
				pages = layout
				method = "pdftotext"
			}
		} else if lerr != nil {
			e.logger.Debug("ocr.text.pdftotext_unavailable", "error", lerr)
		}
	}
	if err != nil && method == "pdfcpu" {
		return entity.TextExtraction{}, fmt.Errorf("read pdf: %w", err)
	}

	out := entity.TextExtraction{Method: method, PageCount: len(pages)}
	var all strings.Builder
	for i, p := range pages {
		p = Normalize(p)
		out.Pages = append(out.Pages, entity.PageText{PageNumber: i + 1, Text: p})
		if p == "" {
			continue
		}
		if all.Len() > 0 {
			all.WriteString("\n\n")
		}
		all.WriteString(p)
	}
	out.Text = all.String()

	e.logger.Info("ocr.text.done",
		"method", method,
		"pages", out.PageCount,
		"chars", len(out.Text),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if out.Text == "" {
		return out, ErrNoText
	}
	return out, nil
}

func (e *Extractor) pdftotext(ctx context.Context, pdf []byte) ([]string, error) {
	var pages []string
	err := withTempFile(pdf, "in.pdf", func(_, path string) error {
		args := []string{"-layout", "-enc", "UTF-8", "-eol", "unix"}
		if e.cfg.MaxPages > 0 {
			args = append(args, "-l", fmt.Sprint(e.cfg.MaxPages))
		}
		// pdftotext -layout -enc UTF-8 -eol unix <path> -
		out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, append(args, path, "-")...)
		if err != nil {
			return fmt.Errorf("pdftotext: %w: %s", err, truncate(string(errb), 512))
		}
		// A form-feed \f is used as page separator; the last page is followed by one too.
		pages = strings.Split(strings.TrimSuffix(string(out), "\f"), "\f")
		return nil
	})
	return pages, err
}

// PageCount reads only the page tree.
func PageCount(pdf []byte) (int, error) {
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(pdf), model.NewDefaultConfiguration())
	if err != nil {
		return 0, fmt.Errorf("pdfcpu read: %w", err)
	}
	return ctx.PageCount, nil
}

func pdfcpuPages(pdf []byte) ([]string, error) {
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(pdf), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}
	pages := make([]string, 0, ctx.PageCount)
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		pages = append(pages, pageStreamText(ctx, pageNr))
	}
	return pages, nil
}

func pageStreamText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return streamText(data)
}

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// streamText keeps text-showing operators and turns line moves into newlines,
// so each table row of a generated cutlist lands on its own line.
func streamText(data []byte) string {
	var sb strings.Builder
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		switch {
		case len(line) == 0:
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodePDFString(m[1]))
			}
			sb.WriteByte(' ')
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			sb.WriteByte('\n')
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")), bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		case bytes.Equal(line, []byte("ET")):
			sb.WriteByte('\n')
		}
	}
	return cleanStreamText(sb.String())
}

// decodePDFString handles basic PDF escape sequences.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			// Octal escape (e.g. \040 for space).
			if raw[i] < '0' || raw[i] > '7' {
				sb.WriteByte(raw[i])
				continue
			}
			val := int(raw[i] - '0')
			for k := 0; k < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; k++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}

// cleanStreamText collapses runs of spaces within lines and drops empty lines.
func cleanStreamText(text string) string {
	var lines []string
	for _, ln := range strings.Split(text, "\n") {
		ln = strings.Join(strings.FieldsFunc(ln, unicode.IsSpace), " ")
		if ln != "" {
			lines = append(lines, ln)
		}
	}
	return strings.Join(lines, "\n")
}
