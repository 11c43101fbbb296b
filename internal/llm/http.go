package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/joseph-ayodele/cutlist-extractor/internal/common"
	"github.com/joseph-ayodele/cutlist-extractor/internal/ratelimit"
)

// MaxResponseBytes caps how much of a provider reply is read. A cutlist
// response at the largest token budget stays well below it.
const MaxResponseBytes = 4 << 20

// ErrResponseTooLarge is returned when a provider reply exceeds MaxResponseBytes.
var ErrResponseTooLarge = errors.New("provider response too large")

// JSONRequest is one POST to a provider endpoint.
type JSONRequest struct {
	Provider string
	URL      string
	Body     any
	Headers  map[string]string
}

// PostJSON encodes req.Body, posts it and returns the raw reply. Non-2xx
// replies come back as *ratelimit.StatusError together with the body so the
// retry policy can classify them and callers can still log the payload.
func PostJSON(ctx context.Context, client *http.Client, req JSONRequest, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	ctx, rid := common.EnsureRequestID(ctx)
	log := logger.With("req_id", rid, "provider", req.Provider)

	payload, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", req.Provider, err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.Provider, err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("X-Request-Id", rid)
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := client.Do(hreq)
	if err != nil {
		log.Error("llm.http.send_failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warn("llm.http.close_failed", "error", cerr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Provider, err)
	}
	if len(raw) > MaxResponseBytes {
		log.Error("llm.http.too_large", "status", resp.StatusCode)
		return nil, ErrResponseTooLarge
	}

	log.Info("llm.http.response",
		"status", resp.StatusCode,
		"sent_bytes", len(payload),
		"recv_bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return raw, ratelimit.NewStatusError(req.Provider, resp, raw)
	}
	return raw, nil
}
