package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

type memoryStore struct {
	mu       sync.RWMutex
	active   map[int64]bool
	subs     map[int64]map[string]Subscription
	detected map[string]DetectedCampaign
	notes    []NotificationRecord
	dedup    map[string]time.Time
	closed   bool
}

func NewMemory() Store {
	return &memoryStore{
		active:   make(map[int64]bool),
		subs:     make(map[int64]map[string]Subscription),
		detected: make(map[string]DetectedCampaign),
		dedup:    make(map[string]time.Time),
	}
}

func (m *memoryStore) SetMonitoring(ctx context.Context, recipient int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisabled
	}
	m.active[recipient] = active
	return nil
}

func (m *memoryStore) IsMonitoring(ctx context.Context, recipient int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[recipient], nil
}

func (m *memoryStore) ActiveRecipients(ctx context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.active))
	for r, on := range m.active {
		if on {
			out = append(out, r)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (m *memoryStore) AddSubscription(ctx context.Context, s Subscription) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrDisabled
	}
	set := m.subs[s.Recipient]
	if set == nil {
		set = make(map[string]Subscription)
		m.subs[s.Recipient] = set
	}
	if _, ok := set[s.Space.ID]; ok {
		return false, nil
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	set[s.Space.ID] = s
	return true, nil
}

func (m *memoryStore) RemoveSubscription(ctx context.Context, recipient int64, spaceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.subs[recipient]
	if _, ok := set[spaceID]; !ok {
		return false, nil
	}
	delete(set, spaceID)
	if len(set) == 0 {
		delete(m.subs, recipient)
	}
	return true, nil
}

func sortSubs(out []Subscription) {
	slices.SortFunc(out, func(a, b Subscription) int {
		return cmp.Or(
			cmp.Compare(a.Recipient, b.Recipient),
			a.CreatedAt.Compare(b.CreatedAt),
			cmp.Compare(a.Space.ID, b.Space.ID),
		)
	})
}

func (m *memoryStore) ListSubscriptions(ctx context.Context, recipient int64) ([]Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Subscription, 0, len(m.subs[recipient]))
	for _, s := range m.subs[recipient] {
		out = append(out, s)
	}
	sortSubs(out)
	return out, nil
}

func (m *memoryStore) Subscriptions(ctx context.Context) ([]Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Subscription
	for _, set := range m.subs {
		for _, s := range set {
			out = append(out, s)
		}
	}
	sortSubs(out)
	return out, nil
}

func (m *memoryStore) WatchedSpaces(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, set := range m.subs {
		for id := range set {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (m *memoryStore) InsertDetected(ctx context.Context, d DetectedCampaign) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrDisabled
	}
	if _, ok := m.detected[d.Campaign.ID]; ok {
		return false, nil
	}
	if d.DetectedAt.IsZero() {
		d.DetectedAt = time.Now()
	}
	m.detected[d.Campaign.ID] = d
	return true, nil
}

func (m *memoryStore) IsDetected(ctx context.Context, campaignID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.detected[campaignID]
	return ok, nil
}

func (m *memoryStore) AppendNotification(ctx context.Context, r NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	m.notes = append(m.notes, r)
	return nil
}

func (m *memoryStore) ListNotifications(ctx context.Context, campaignID string) ([]NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []NotificationRecord
	for _, r := range m.notes {
		if r.CampaignID == campaignID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryStore) Counts(ctx context.Context) (Counts, error) {
	spaces, _ := m.WatchedSpaces(ctx)
	active, _ := m.ActiveRecipients(ctx)
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := Counts{
		ActiveRecipients: int64(len(active)),
		Spaces:           int64(len(spaces)),
		Detected:         int64(len(m.detected)),
	}
	for _, r := range m.notes {
		if r.OK {
			c.Notified++
		}
	}
	return c, nil
}

func (m *memoryStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dedup[key] = until
	return nil
}

func (m *memoryStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	until, ok := m.dedup[key]
	if !ok || time.Now().After(until) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
