package storage

import (
	"context"
	"errors"
	"time"

	"fcfswatch/internal/campaign"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values: "memory" (default), "sqlite", "postgres", "redis".
type Config struct {
	Driver      string
	Path        string        // sqlite file
	DSN         string        // postgres / redis URL
	BusyTimeout time.Duration // sqlite only; 0 means default
	Prefix      string        // redis key prefix
}

type Subscription struct {
	Recipient int64
	Space     campaign.Space
	CreatedAt time.Time
}

type DetectedCampaign struct {
	Campaign   campaign.Campaign
	DetectedAt time.Time
}

// NotificationRecord is one delivery attempt. Failed attempts are kept.
type NotificationRecord struct {
	Recipient  int64
	CampaignID string
	OK         bool
	Error      string
	At         time.Time
}

type Counts struct {
	ActiveRecipients int64 `json:"active_recipients"`
	Spaces           int64 `json:"spaces"`
	Detected         int64 `json:"detected"`
	Notified         int64 `json:"notified"`
}

// Store is the persistence API used by the monitor.
type Store interface {
	SetMonitoring(ctx context.Context, recipient int64, active bool) error
	IsMonitoring(ctx context.Context, recipient int64) (bool, error)
	// ActiveRecipients is sorted ascending.
	ActiveRecipients(ctx context.Context) ([]int64, error)

	// AddSubscription reports false when the pair already existed.
	AddSubscription(ctx context.Context, s Subscription) (bool, error)
	RemoveSubscription(ctx context.Context, recipient int64, spaceID string) (bool, error)
	// ListSubscriptions is ordered by creation time, then space id.
	ListSubscriptions(ctx context.Context, recipient int64) ([]Subscription, error)
	// Subscriptions lists every pair, ordered by recipient then creation.
	Subscriptions(ctx context.Context) ([]Subscription, error)
	// WatchedSpaces lists distinct space ids, sorted.
	WatchedSpaces(ctx context.Context) ([]string, error)

	// InsertDetected is insert-if-absent; false means the id was known.
	InsertDetected(ctx context.Context, d DetectedCampaign) (bool, error)
	IsDetected(ctx context.Context, campaignID string) (bool, error)

	AppendNotification(ctx context.Context, r NotificationRecord) error
	// ListNotifications returns the attempts for one campaign, oldest first.
	ListNotifications(ctx context.Context, campaignID string) ([]NotificationRecord, error)
	Counts(ctx context.Context) (Counts, error)

	// Dedup keys suppress repeated notices across restarts.
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}
