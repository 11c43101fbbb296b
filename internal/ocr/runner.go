package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
)

// ErrToolMissing wraps a failure to find pdftotext, pdftoppm or tesseract on PATH.
var ErrToolMissing = errors.New("ocr tool not installed")

// stderr beyond this is dropped; tesseract can be very chatty on noisy scans
const maxStderr = 8 << 10

// a killed child may leave grandchildren holding the pipes open
const waitDelay = 3 * time.Second

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	logger *slog.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout bytes.Buffer
	stderr := &cappedBuffer{max: maxStderr}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	attrs := append(common.LogAttrs(ctx),
		"tool", name,
		"argc", len(args),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case errors.Is(err, exec.ErrNotFound):
		err = fmt.Errorf("%w: %s", ErrToolMissing, name)
		r.logger.Warn("ocr.exec.missing", attrs...)
	case err != nil:
		if ctx.Err() != nil {
			err = fmt.Errorf("%s: %w", name, ctx.Err())
		}
		r.logger.Error("ocr.exec.failed", append(attrs, "error", err, "stderr", stderr.String())...)
	default:
		r.logger.Debug("ocr.exec.ok", append(attrs, "stdout_bytes", stdout.Len())...)
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

// cappedBuffer keeps the first max bytes written and silently discards the rest.
type cappedBuffer struct {
	bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.Len(); room < len(p) {
		b.truncated = true
		if room > 0 {
			b.Buffer.Write(p[:room])
		}
		return len(p), nil
	}
	return b.Buffer.Write(p)
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.Buffer.String() + "...(truncated)"
	}
	return b.Buffer.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
