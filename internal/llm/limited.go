package llm

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/cutlist-extractor/internal/ratelimit"
)

type limited struct {
	next    Provider
	limiter *ratelimit.Limiter
	policy  ratelimit.Policy
	logger  *slog.Logger
}

type limitedDocument struct {
	*limited
	doc DocumentParser
}

// WithLimiter routes every call of p through the limiter and retry policy.
// The returned provider keeps p's native document support, if any.
func WithLimiter(p Provider, l *ratelimit.Limiter, policy ratelimit.Policy, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	base := &limited{next: p, limiter: l, policy: policy, logger: logger}
	if dp, ok := p.(DocumentParser); ok {
		return &limitedDocument{limited: base, doc: dp}
	}
	return base
}

func (l *limited) Name() string       { return l.next.Name() }
func (l *limited) IsConfigured() bool { return l.next.IsConfigured() }

func (l *limited) ParseText(ctx context.Context, text string, opts ParseOptions) (ParseResult, error) {
	return l.run(ctx, opts, func(ctx context.Context, o ParseOptions) (ParseResult, error) {
		return l.next.ParseText(ctx, text, o)
	})
}

func (l *limited) ParseImage(ctx context.Context, image []byte, mimeType string, opts ParseOptions) (ParseResult, error) {
	return l.run(ctx, opts, func(ctx context.Context, o ParseOptions) (ParseResult, error) {
		return l.next.ParseImage(ctx, image, mimeType, o)
	})
}

func (l *limitedDocument) ParseDocument(ctx context.Context, pdf []byte, opts ParseOptions) (ParseResult, error) {
	return l.run(ctx, opts, func(ctx context.Context, o ParseOptions) (ParseResult, error) {
		return l.doc.ParseDocument(ctx, pdf, o)
	})
}

// run admits and retries one call. A truncated result is re-run once with a
// larger output budget only when the caller opted in.
func (l *limited) run(ctx context.Context, opts ParseOptions, call func(context.Context, ParseOptions) (ParseResult, error)) (ParseResult, error) {
	res, err := ratelimit.Do(ctx, l.limiter, l.next.Name(), l.policy, func(ctx context.Context) (ParseResult, error) {
		return call(ctx, opts)
	})
	if err != nil || !res.Truncated || !opts.ExpandOnTruncation || opts.MaxOutputTokens >= ExpandedMaxOutputTokens {
		return res, err
	}
	l.logger.Info("llm.parse.expand_budget", "provider", l.next.Name(), "page", opts.Page, "chunk", opts.Chunk, "max_tokens", ExpandedMaxOutputTokens)
	expanded := opts
	expanded.MaxOutputTokens = ExpandedMaxOutputTokens
	again, err2 := ratelimit.Do(ctx, l.limiter, l.next.Name(), l.policy, func(ctx context.Context) (ParseResult, error) {
		return call(ctx, expanded)
	})
	if err2 != nil || len(again.Parts) < len(res.Parts) {
		return res, nil
	}
	return again, nil
}
