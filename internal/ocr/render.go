package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Render rasterizes up to maxPages pages of a PDF to JPEG with pdftoppm.
// scale multiplies the configured DPI (1.0 = Config.DPI). Pages come back in
// page order.
func (e *Extractor) Render(ctx context.Context, pdf []byte, scale float64, maxPages int) ([][]byte, error) {
	start := time.Now()
	if scale <= 0 {
		scale = 1
	}
	if maxPages <= 0 {
		maxPages = e.cfg.MaxPages
	}
	dpi := int(float64(e.cfg.DPI) * scale)

	var images [][]byte
	err := withTempFile(pdf, "in.pdf", func(dir, path string) error {
		prefix := filepath.Join(dir, "page")
		args := []string{"-r", strconv.Itoa(dpi), "-jpeg", "-jpegopt", "quality=85"}
		if maxPages > 0 {
			args = append(args, "-l", strconv.Itoa(maxPages))
		}
		// pdftoppm -r 150 -jpeg <in.pdf> <tmp/page>
		_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, append(args, path, prefix)...)
		if err != nil {
			return fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
		}

		// collect generated files (page-1.jpg, page-2.jpg, ... or zero padded)
		matches, _ := filepath.Glob(prefix + "-*.jpg")
		sort.Slice(matches, func(i, j int) bool { return pageIndex(matches[i]) < pageIndex(matches[j]) })
		if maxPages > 0 && len(matches) > maxPages {
			matches = matches[:maxPages]
		}
		if len(matches) == 0 {
			return fmt.Errorf("pdftoppm produced no images")
		}
		for _, m := range matches {
			b, err := os.ReadFile(m)
			if err != nil {
				return fmt.Errorf("read rendered page: %w", err)
			}
			images = append(images, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("ocr.render.done", "pages", len(images), "dpi", dpi, "elapsed_ms", time.Since(start).Milliseconds())
	return images, nil
}

func pageIndex(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	i := strings.LastIndexByte(base, '-')
	n, err := strconv.Atoi(base[i+1:])
	if err != nil {
		return 1 << 30
	}
	return n
}
