package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fcfswatch/internal/eventbus"
	"fcfswatch/internal/storage"
	"fcfswatch/internal/transport"
	logx "fcfswatch/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	errs  []error // consumed in order; nil entries succeed
	sent  []string
	calls int
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                          { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return transport.MessageRef{}, err
		}
	}
	f.sent = append(f.sent, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: f.calls}, nil
}

func (f *fakeAdapter) snapshot() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]string(nil), f.sent...)
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		QueueSize:     8,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		SendTimeout:   time.Second,
	}
}

func TestSendRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{errs: []error{errors.New("timeout"), nil}}
	s := New(testConfig(), ad, logx.Nop(), nil, nil)

	var attempts []Attempt
	err := s.SendObserved(context.Background(), transport.Notification{Channel: "campaign", Target: transport.ChatTarget{ChatID: 1}, Text: "hi"}, func(a Attempt) {
		attempts = append(attempts, a)
	})
	if err != nil {
		t.Fatalf("SendObserved: %v", err)
	}
	if len(attempts) != 2 || attempts[0].Err == nil || attempts[1].Err != nil {
		t.Fatalf("attempts = %+v", attempts)
	}
	if calls, sent := ad.snapshot(); calls != 2 || len(sent) != 1 || sent[0] != "hi" {
		t.Fatalf("calls=%d sent=%v", calls, sent)
	}
}

func TestSendStopsOnPermanentError(t *testing.T) {
	t.Parallel()
	perm := &transport.PermanentError{Err: errors.New("bot was blocked by the user")}
	ad := &fakeAdapter{errs: []error{perm, nil}}
	s := New(testConfig(), ad, logx.Nop(), nil, nil)

	err := s.Send(context.Background(), transport.Notification{Target: transport.ChatTarget{ChatID: 1}, Text: "x"})
	if !transport.IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
	if calls, _ := ad.snapshot(); calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestSendHonorsRetryAfter(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{errs: []error{&transport.RetryAfterError{After: 60 * time.Millisecond, Err: errors.New("flood")}, nil}}
	s := New(testConfig(), ad, logx.Nop(), nil, nil)

	start := time.Now()
	if err := s.Send(context.Background(), transport.Notification{Target: transport.ChatTarget{ChatID: 1}, Text: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if el := time.Since(start); el < 60*time.Millisecond {
		t.Fatalf("retry after not honored: %s", el)
	}

	ad2 := &fakeAdapter{errs: []error{&transport.RetryAfterError{After: 2 * time.Minute, Err: errors.New("flood")}}}
	s2 := New(testConfig(), ad2, logx.Nop(), nil, nil)
	if err := s2.Send(context.Background(), transport.Notification{Target: transport.ChatTarget{ChatID: 1}, Text: "x"}); err == nil {
		t.Fatalf("expected give-up on long retry-after")
	}
	if calls, _ := ad2.snapshot(); calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestSendExhaustsRetriesAndPublishesFailure(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	boom := errors.New("boom")
	ad := &fakeAdapter{errs: []error{boom, boom, boom, boom}}
	s := New(testConfig(), ad, logx.Nop(), bus, nil)
	err := s.Send(context.Background(), transport.Notification{Channel: "campaign", Target: transport.ChatTarget{ChatID: 5}, Text: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if calls, _ := ad.snapshot(); calls != 3 {
		t.Fatalf("calls = %d, want 1 + RetryMax", calls)
	}
	select {
	case ev := <-events:
		ne, ok := ev.Data.(NotificationEvent)
		if ev.Type != eventbus.TopicNotifyFailed || !ok || ne.Attempts != 3 || ne.ChatID != 5 {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("no failure event")
	}
}

func TestNotifyQueueDedupAndDrain(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.DedupWindow = time.Minute
	cfg.PersistDedup = true
	st := storage.NewMemory()
	ad := &fakeAdapter{}
	s := New(cfg, ad, logx.Nop(), nil, st)
	s.Start(context.Background())

	n := transport.Notification{Channel: "advisory", Priority: 7, Target: transport.ChatTarget{ChatID: 9}, Text: "source down"}
	for i := 0; i < 3; i++ {
		if err := s.Notify(context.Background(), n); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	calls, sent := ad.snapshot()
	if calls != 1 || sent[0] != "⚠️ source down" {
		t.Fatalf("calls=%d sent=%v", calls, sent)
	}
	if err := s.Notify(context.Background(), n); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify after stop = %v", err)
	}
	if h := s.Snapshot(); len(h) != 1 || h[0].Channel != "advisory" {
		t.Fatalf("history = %+v", h)
	}
}

func TestNotifyDisabled(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, &fakeAdapter{}, logx.Nop(), nil, nil)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), transport.Notification{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v", err)
	}
	if err := s.Send(context.Background(), transport.Notification{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v", err)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("attempt %d delay %s out of bounds", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay %s outside jitter band", d)
	}
}
