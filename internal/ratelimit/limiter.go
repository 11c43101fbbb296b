// Package ratelimit is the single admission point for calls to external
// providers: a per-provider in-flight bound, an optional requests-per-minute
// budget, and retry with exponential backoff for transient failures.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ProviderLimits bounds one provider.
type ProviderLimits struct {
	Concurrency       int // in-flight calls, default 4
	RequestsPerMinute int // 0 disables the per-minute budget
}

type provider struct {
	sem      *semaphore.Weighted
	rpm      *rate.Limiter
	inFlight atomic.Int64
	waiting  atomic.Int64
}

type Limiter struct {
	mu        sync.Mutex
	providers map[string]*provider
	limits    map[string]ProviderLimits
	fallback  ProviderLimits
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error
}

// New builds a limiter. Providers missing from limits use fallback.
func New(limits map[string]ProviderLimits, fallback ProviderLimits, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	if fallback.Concurrency <= 0 {
		fallback.Concurrency = 4
	}
	cp := make(map[string]ProviderLimits, len(limits))
	for k, v := range limits {
		cp[k] = v
	}
	return &Limiter{
		providers: make(map[string]*provider),
		limits:    cp,
		fallback:  fallback,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

func (l *Limiter) get(name string) *provider {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.providers[name]; ok {
		return p
	}
	lim, ok := l.limits[name]
	if !ok {
		lim = l.fallback
	}
	if lim.Concurrency <= 0 {
		lim.Concurrency = l.fallback.Concurrency
	}
	p := &provider{sem: semaphore.NewWeighted(int64(lim.Concurrency))}
	if lim.RequestsPerMinute > 0 {
		p.rpm = rate.NewLimiter(rate.Limit(float64(lim.RequestsPerMinute)/60.0), max(1, lim.Concurrency))
	}
	l.providers[name] = p
	return p
}

// Acquire blocks until the provider admits one more call. It fails only when
// ctx is done. The returned release must be called exactly once.
func (l *Limiter) Acquire(ctx context.Context, name string) (func(), error) {
	p := l.get(name)
	p.waiting.Add(1)
	start := time.Now()
	err := p.sem.Acquire(ctx, 1)
	p.waiting.Add(-1)
	if err != nil {
		return nil, err
	}
	if p.rpm != nil {
		if err := p.rpm.Wait(ctx); err != nil {
			p.sem.Release(1)
			return nil, err
		}
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		l.logger.Debug("ratelimit.admitted", "provider", name, "waited_ms", waited.Milliseconds())
	}
	p.inFlight.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			p.inFlight.Add(-1)
			p.sem.Release(1)
		})
	}, nil
}

// InFlight reports admitted calls not yet released.
func (l *Limiter) InFlight(name string) int { return int(l.get(name).inFlight.Load()) }

// Waiting reports callers blocked on admission.
func (l *Limiter) Waiting(name string) int { return int(l.get(name).waiting.Load()) }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
