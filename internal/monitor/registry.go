package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"fcfswatch/internal/campaign"
	"fcfswatch/internal/storage"
)

const DefaultMaxSpaces = 10

var (
	ErrInvalidSpace   = errors.New("invalid space id")
	ErrAlreadyWatched = errors.New("space already watched")
)

// CapError reports a rejected add because the recipient is at the cap.
type CapError struct {
	Recipient int64
	Limit     int
}

func (e *CapError) Error() string {
	return fmt.Sprintf("recipient %d already watches the maximum of %d spaces", e.Recipient, e.Limit)
}

// Scope is what the next scan should cover.
type Scope struct {
	Active   []int64
	Spaces   []string // distinct spaces of active recipients, sorted
	WatchAll bool     // some active recipient has no explicit spaces
}

// Registry manages subscriptions on top of the store.
type Registry struct {
	store storage.Store
	max   int
	// serializes count-then-add so the cap holds under concurrency
	mu sync.Mutex
}

func NewRegistry(st storage.Store, maxSpaces int) *Registry {
	if maxSpaces <= 0 {
		maxSpaces = DefaultMaxSpaces
	}
	return &Registry{store: st, max: maxSpaces}
}

func (r *Registry) Limit() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.max
}

// SetLimit changes the cap for future adds. Existing subscriptions above
// the new cap are kept.
func (r *Registry) SetLimit(n int) {
	if n <= 0 {
		n = DefaultMaxSpaces
	}
	r.mu.Lock()
	r.max = n
	r.mu.Unlock()
}

func (r *Registry) Add(ctx context.Context, recipient int64, space campaign.Space) error {
	if !campaign.ValidSpaceID(space.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidSpace, space.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, err := r.store.ListSubscriptions(ctx, recipient)
	if err != nil {
		return err
	}
	for _, s := range subs {
		if s.Space.ID == space.ID {
			return ErrAlreadyWatched
		}
	}
	if len(subs) >= r.max {
		return &CapError{Recipient: recipient, Limit: r.max}
	}
	added, err := r.store.AddSubscription(ctx, storage.Subscription{Recipient: recipient, Space: space, CreatedAt: time.Now()})
	if err != nil {
		return err
	}
	if !added {
		return ErrAlreadyWatched
	}
	return nil
}

// Remove reports false when the recipient did not watch the space.
func (r *Registry) Remove(ctx context.Context, recipient int64, spaceID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.RemoveSubscription(ctx, recipient, spaceID)
}

func (r *Registry) List(ctx context.Context, recipient int64) ([]storage.Subscription, error) {
	return r.store.ListSubscriptions(ctx, recipient)
}

func (r *Registry) WatchedSpaces(ctx context.Context) ([]string, error) {
	return r.store.WatchedSpaces(ctx)
}

func (r *Registry) SetActive(ctx context.Context, recipient int64, active bool) error {
	return r.store.SetMonitoring(ctx, recipient, active)
}

func (r *Registry) IsActive(ctx context.Context, recipient int64) (bool, error) {
	return r.store.IsMonitoring(ctx, recipient)
}

func (r *Registry) Active(ctx context.Context) ([]int64, error) {
	return r.store.ActiveRecipients(ctx)
}

// ActiveScope derives the scan scope from active recipients only.
func (r *Registry) ActiveScope(ctx context.Context) (Scope, error) {
	active, err := r.store.ActiveRecipients(ctx)
	if err != nil {
		return Scope{}, err
	}
	sc := Scope{Active: active}
	if len(active) == 0 {
		return sc, nil
	}
	subs, err := r.store.Subscriptions(ctx)
	if err != nil {
		return Scope{}, err
	}
	bySub := make(map[int64]bool, len(subs))
	for _, s := range subs {
		if _, ok := slices.BinarySearch(active, s.Recipient); !ok {
			continue
		}
		bySub[s.Recipient] = true
		sc.Spaces = append(sc.Spaces, s.Space.ID)
	}
	slices.Sort(sc.Spaces)
	sc.Spaces = slices.Compact(sc.Spaces)
	sc.WatchAll = len(bySub) < len(active)
	return sc, nil
}

// Interested returns active recipients that watch spaceID explicitly or
// watch everything, sorted ascending.
func (r *Registry) Interested(ctx context.Context, spaceID string) ([]int64, error) {
	active, err := r.store.ActiveRecipients(ctx)
	if err != nil || len(active) == 0 {
		return nil, err
	}
	subs, err := r.store.Subscriptions(ctx)
	if err != nil {
		return nil, err
	}
	hasSpaces := make(map[int64]bool)
	watches := make(map[int64]bool)
	for _, s := range subs {
		hasSpaces[s.Recipient] = true
		if spaceID != "" && s.Space.ID == spaceID {
			watches[s.Recipient] = true
		}
	}
	out := make([]int64, 0, len(active))
	for _, r := range active {
		if !hasSpaces[r] || watches[r] {
			out = append(out, r)
		}
	}
	return out, nil
}
