package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Recognize runs tesseract over one image and returns normalized text with
// the mean word confidence in 0..1 (0 when tesseract reports none).
func (e *Extractor) Recognize(ctx context.Context, image []byte) (string, float64, error) {
	var text string
	var conf float64
	err := withTempFile(image, "in.img", func(_, path string) error {
		args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
		if e.cfg.PSM > 0 {
			args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
		}
		if e.cfg.OEM > 0 {
			args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
		}
		if e.cfg.TessdataDir != "" {
			args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
		}
		// TSV output carries both words and confidences in one pass.
		out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, append(args, "tsv")...)
		if err != nil {
			return fmt.Errorf("tesseract: %w: %s", err, truncate(string(errb), 512))
		}
		text, conf = parseTSV(string(out))
		return nil
	})
	if err != nil {
		return "", 0, err
	}
	return Normalize(text), conf, nil
}

// parseTSV rebuilds lines from tesseract TSV rows and averages word confidence.
// Columns: level page_num block_num par_num line_num word_num left top width height conf text
func parseTSV(tsv string) (string, float64) {
	var b strings.Builder
	var sum, n float64
	lastLine := ""
	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || len(ln) == 0 {
			continue
		} // skip header
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}
		lineKey := strings.Join(cols[1:5], ".")
		switch {
		case b.Len() == 0:
		case lineKey != lastLine:
			b.WriteByte('\n')
		default:
			b.WriteByte(' ')
		}
		lastLine = lineKey
		b.WriteString(word)

		confStr := cols[10]
		if confStr == "" || confStr == "-1" {
			continue
		}
		if v, err := strconv.ParseFloat(confStr, 64); err == nil && v >= 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return b.String(), 0
	}
	return b.String(), sum / n / 100.0
}
