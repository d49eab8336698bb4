package catalog

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces calls per endpoint key (the URL host). Burst is 1, so
// concurrent callers against one host are serialized at the pacing
// interval.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	limiters map[string]*rate.Limiter
}

func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{interval: interval, limiters: make(map[string]*rate.Limiter)}
}

func (p *Pacer) limiter(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[key]
	if !ok {
		lim := rate.Inf
		if p.interval > 0 {
			lim = rate.Every(p.interval)
		}
		l = rate.NewLimiter(lim, 1)
		p.limiters[key] = l
	}
	return l
}

// Wait blocks until a call to key is allowed or ctx is done.
func (p *Pacer) Wait(ctx context.Context, key string) error {
	if p == nil {
		return ctx.Err()
	}
	return p.limiter(key).Wait(ctx)
}
