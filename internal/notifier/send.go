package notifier

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"fcfswatch/internal/eventbus"
	"fcfswatch/internal/transport"
	logx "fcfswatch/pkg/logx"
)

// maxRetryAfter bounds how long a flood-control hint may stall one send.
const maxRetryAfter = time.Minute

// Send delivers n synchronously through the limiter and retry policy.
func (s *Service) Send(ctx context.Context, n transport.Notification) error {
	return s.SendObserved(ctx, n, nil)
}

// SendObserved is Send with a callback invoked after every transport call.
func (s *Service) SendObserved(ctx context.Context, n transport.Notification, observe func(Attempt)) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	return s.deliver(ctx, n, "", observe)
}

func (s *Service) deliver(ctx context.Context, n transport.Notification, key string, observe func(Attempt)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	ad := s.adapter
	log := s.log
	s.mu.Unlock()

	if ad == nil {
		return ErrNoAdapter
	}
	text := prefixForPriority(n.Priority) + n.Text
	if text == "" {
		return nil
	}

	maxAttempts := 1 + max(cfg.RetryMax, 0)
	var (
		lastErr  error
		attempts int
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				if lastErr == nil {
					lastErr = err
				}
				break
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := ad.SendText(callCtx, n.Target, text, n.Options)
		cancel()
		attempts = attempt
		if observe != nil {
			observe(Attempt{N: attempt, At: time.Now(), Err: err})
		}
		if err == nil {
			s.recent.add(n, text)
			s.publish(eventbus.TopicNotifySent, n, key, attempt, nil)
			return nil
		}
		lastErr = err
		log.Debug("send failed",
			logx.String("channel", n.Channel),
			logx.Int64("chat_id", n.Target.ChatID),
			logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts),
			logx.Err(err),
		)

		if attempt >= maxAttempts || transport.IsPermanent(err) {
			break
		}
		delay := retryDelay(cfg, attempt)
		var ra *transport.RetryAfterError
		if errors.As(err, &ra) {
			if ra.After > maxRetryAfter {
				break
			}
			delay = max(delay, ra.After)
		}
		if !sleepCtx(ctx, delay) {
			break
		}
	}

	log.Warn("send gave up",
		logx.String("channel", n.Channel),
		logx.Int64("chat_id", n.Target.ChatID),
		logx.Int("attempts", attempts),
		logx.Err(lastErr),
	)
	s.publish(eventbus.TopicNotifyFailed, n, key, attempts, lastErr)
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func prefixForPriority(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "ℹ️ "
	default:
		return ""
	}
}

// retryDelay is the wait before attempt+1: base*2^(attempt-1) capped at
// RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	return min(d, maxD)
}
