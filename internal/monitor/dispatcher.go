package monitor

import (
	"context"
	"sync"
	"time"

	"fcfswatch/internal/campaign"
	"fcfswatch/internal/notifier"
	"fcfswatch/internal/storage"
	"fcfswatch/internal/transport"
	logx "fcfswatch/pkg/logx"
)

// DefaultSendPacing is the gap between consecutive sends of one scan.
const DefaultSendPacing = 500 * time.Millisecond

// Clock is injected so pacing can be tested without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RealClock is the wall clock.
func RealClock() Clock { return realClock{} }

// Sender delivers one message with retries, reporting every attempt.
type Sender interface {
	SendObserved(ctx context.Context, n transport.Notification, observe func(notifier.Attempt)) error
}

type Delivery struct {
	Recipient int64
	Campaign  campaign.Campaign
}

type DispatchReport struct {
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Records   int `json:"records"`
	Cancelled int `json:"cancelled,omitempty"`
}

type DispatchOptions struct {
	Pacing      time.Duration
	Location    *time.Location
	LinkPreview bool
}

// Dispatcher works through one scan's deliveries in order, one at a time.
type Dispatcher struct {
	sender Sender
	store  storage.Store
	clock  Clock
	log    logx.Logger

	mu   sync.RWMutex
	opts DispatchOptions
}

func NewDispatcher(sender Sender, st storage.Store, clock Clock, opts DispatchOptions, log logx.Logger) *Dispatcher {
	if clock == nil {
		clock = realClock{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{sender: sender, store: st, clock: clock, opts: opts, log: log.With(logx.String("comp", "dispatcher"))}
}

func (d *Dispatcher) SetOptions(opts DispatchOptions) {
	d.mu.Lock()
	d.opts = opts
	d.mu.Unlock()
}

func (d *Dispatcher) options() DispatchOptions {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.opts
}

// Dispatch never aborts on a failed send. Cancellation stops the queue
// between items; the rest are counted as cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, ds []Delivery) DispatchReport {
	var rep DispatchReport
	opts := d.options()
	rendered := make(map[string]string)

	for i, dl := range ds {
		if i > 0 && opts.Pacing > 0 {
			if err := d.clock.Sleep(ctx, opts.Pacing); err != nil {
				rep.Cancelled = len(ds) - i
				break
			}
		}
		if ctx.Err() != nil {
			rep.Cancelled = len(ds) - i
			break
		}
		text, ok := rendered[dl.Campaign.ID]
		if !ok {
			text = FormatCampaign(dl.Campaign, opts.Location)
			rendered[dl.Campaign.ID] = text
		}
		if d.deliver(ctx, dl, text, opts, &rep) {
			rep.Sent++
		} else {
			rep.Failed++
		}
	}
	if rep.Cancelled > 0 {
		d.log.Warn("dispatch cancelled", logx.Int("cancelled", rep.Cancelled), logx.Int("sent", rep.Sent))
	}
	return rep
}

func (d *Dispatcher) deliver(ctx context.Context, dl Delivery, text string, opts DispatchOptions, rep *DispatchReport) bool {
	n := transport.Notification{
		Channel: "campaign",
		Target:  transport.ChatTarget{ChatID: dl.Recipient},
		Text:    text,
		Options: &transport.SendOptions{ParseMode: "HTML", DisablePreview: !opts.LinkPreview},
	}
	// records outlive a cancelled scan
	recCtx := context.WithoutCancel(ctx)
	attempts := 0
	err := d.sender.SendObserved(ctx, n, func(a notifier.Attempt) {
		attempts++
		d.record(recCtx, dl, a.At, a.Err, rep)
	})
	if err != nil && attempts == 0 {
		d.record(recCtx, dl, d.clock.Now(), err, rep)
	}
	if err != nil {
		d.log.Warn("notification failed",
			logx.Int64("recipient", dl.Recipient),
			logx.String("campaign_id", dl.Campaign.ID),
			logx.Int("attempts", attempts),
			logx.Err(err),
		)
		return false
	}
	d.log.Debug("notification sent", logx.Int64("recipient", dl.Recipient), logx.String("campaign_id", dl.Campaign.ID))
	return true
}

func (d *Dispatcher) record(ctx context.Context, dl Delivery, at time.Time, sendErr error, rep *DispatchReport) {
	if at.IsZero() {
		at = d.clock.Now()
	}
	r := storage.NotificationRecord{Recipient: dl.Recipient, CampaignID: dl.Campaign.ID, OK: sendErr == nil, At: at}
	if sendErr != nil {
		r.Error = sendErr.Error()
	}
	if err := d.store.AppendNotification(ctx, r); err != nil {
		d.log.Warn("notification record failed", logx.String("campaign_id", dl.Campaign.ID), logx.Err(err))
		return
	}
	rep.Records++
}
