package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "fcfswatch/pkg/logx"
)

// redisStore keys (prefix "fcfswatch:" by default):
//
//	active          set of monitoring recipients
//	subscribers     set of recipients with at least one space
//	subs:<id>       hash space_id -> subEntry JSON
//	detected        hash campaign_id -> snapshot JSON
//	notes           list of NotificationRecord JSON
//	notified_ok     counter of successful notifications
//	dedup:<key>     string until (unix ms), expiring at until
type redisStore struct {
	rdb    redis.UniversalClient
	prefix string
	log    logx.Logger
}

type subEntry struct {
	Name      string `json:"name,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

type noteEntry struct {
	Recipient  int64  `json:"recipient"`
	CampaignID string `json:"campaign_id"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	At         int64  `json:"at"`
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for redis driver")
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	rdb := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	log.Info("storage ready", logx.String("addr", opts.Addr), logx.Int("db", opts.DB))
	return NewRedis(rdb, cfg.Prefix, log), nil
}

// NewRedis wraps an existing client.
func NewRedis(rdb redis.UniversalClient, prefix string, log logx.Logger) Store {
	if prefix == "" {
		prefix = "fcfswatch:"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &redisStore{rdb: rdb, prefix: prefix, log: log}
}

func (s *redisStore) key(parts ...string) string {
	return s.prefix + strings.Join(parts, ":")
}

func (s *redisStore) subsKey(recipient int64) string {
	return s.key("subs", strconv.FormatInt(recipient, 10))
}

func (s *redisStore) Close() error { return s.rdb.Close() }

func (s *redisStore) SetMonitoring(ctx context.Context, recipient int64, active bool) error {
	id := strconv.FormatInt(recipient, 10)
	if active {
		return s.rdb.SAdd(ctx, s.key("active"), id).Err()
	}
	return s.rdb.SRem(ctx, s.key("active"), id).Err()
}

func (s *redisStore) IsMonitoring(ctx context.Context, recipient int64) (bool, error) {
	return s.rdb.SIsMember(ctx, s.key("active"), strconv.FormatInt(recipient, 10)).Result()
}

func parseIDs(raw []string) ([]int64, error) {
	out := make([]int64, 0, len(raw))
	for _, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: bad recipient %q: %w", v, err)
		}
		out = append(out, n)
	}
	slices.Sort(out)
	return out, nil
}

func (s *redisStore) ActiveRecipients(ctx context.Context) ([]int64, error) {
	raw, err := s.rdb.SMembers(ctx, s.key("active")).Result()
	if err != nil {
		return nil, err
	}
	return parseIDs(raw)
}

func (s *redisStore) AddSubscription(ctx context.Context, sub Subscription) (bool, error) {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	b, err := json.Marshal(subEntry{Name: sub.Space.Name, CreatedAt: sub.CreatedAt.UnixMilli()})
	if err != nil {
		return false, err
	}
	var added *redis.BoolCmd
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		added = p.HSetNX(ctx, s.subsKey(sub.Recipient), sub.Space.ID, b)
		p.SAdd(ctx, s.key("subscribers"), strconv.FormatInt(sub.Recipient, 10))
		return nil
	})
	if err != nil {
		return false, err
	}
	return added.Val(), nil
}

func (s *redisStore) RemoveSubscription(ctx context.Context, recipient int64, spaceID string) (bool, error) {
	n, err := s.rdb.HDel(ctx, s.subsKey(recipient), spaceID).Result()
	if err != nil {
		return false, err
	}
	left, err := s.rdb.HLen(ctx, s.subsKey(recipient)).Result()
	if err == nil && left == 0 {
		_ = s.rdb.SRem(ctx, s.key("subscribers"), strconv.FormatInt(recipient, 10)).Err()
	}
	return n > 0, nil
}

func (s *redisStore) ListSubscriptions(ctx context.Context, recipient int64) ([]Subscription, error) {
	raw, err := s.rdb.HGetAll(ctx, s.subsKey(recipient)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Subscription, 0, len(raw))
	for spaceID, v := range raw {
		var e subEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			s.log.Warn("skipping corrupt subscription", logx.Int64("recipient", recipient), logx.String("space", spaceID), logx.Err(err))
			continue
		}
		sub := Subscription{Recipient: recipient, CreatedAt: time.UnixMilli(e.CreatedAt)}
		sub.Space.ID, sub.Space.Name = spaceID, e.Name
		out = append(out, sub)
	}
	sortSubs(out)
	return out, nil
}

func (s *redisStore) Subscriptions(ctx context.Context) ([]Subscription, error) {
	raw, err := s.rdb.SMembers(ctx, s.key("subscribers")).Result()
	if err != nil {
		return nil, err
	}
	ids, err := parseIDs(raw)
	if err != nil {
		return nil, err
	}
	var out []Subscription
	for _, id := range ids {
		subs, err := s.ListSubscriptions(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, subs...)
	}
	return out, nil
}

func (s *redisStore) WatchedSpaces(ctx context.Context) ([]string, error) {
	subs, err := s.Subscriptions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.Space.ID)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func (s *redisStore) InsertDetected(ctx context.Context, d DetectedCampaign) (bool, error) {
	if d.DetectedAt.IsZero() {
		d.DetectedAt = time.Now()
	}
	b, err := json.Marshal(struct {
		Campaign   any   `json:"campaign"`
		DetectedAt int64 `json:"detected_at"`
	}{d.Campaign, d.DetectedAt.UnixMilli()})
	if err != nil {
		return false, err
	}
	return s.rdb.HSetNX(ctx, s.key("detected"), d.Campaign.ID, b).Result()
}

func (s *redisStore) IsDetected(ctx context.Context, campaignID string) (bool, error) {
	return s.rdb.HExists(ctx, s.key("detected"), campaignID).Result()
}

func (s *redisStore) AppendNotification(ctx context.Context, r NotificationRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	b, err := json.Marshal(noteEntry{Recipient: r.Recipient, CampaignID: r.CampaignID, OK: r.OK, Error: r.Error, At: r.At.UnixMilli()})
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, s.key("notes"), b)
		if r.OK {
			p.Incr(ctx, s.key("notified_ok"))
		}
		return nil
	})
	return err
}

func (s *redisStore) ListNotifications(ctx context.Context, campaignID string) ([]NotificationRecord, error) {
	raw, err := s.rdb.LRange(ctx, s.key("notes"), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var out []NotificationRecord
	for _, v := range raw {
		var e noteEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil || e.CampaignID != campaignID {
			continue
		}
		out = append(out, NotificationRecord{Recipient: e.Recipient, CampaignID: e.CampaignID, OK: e.OK, Error: e.Error, At: time.UnixMilli(e.At)})
	}
	return out, nil
}

func (s *redisStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	active, err := s.rdb.SCard(ctx, s.key("active")).Result()
	if err != nil {
		return c, err
	}
	spaces, err := s.WatchedSpaces(ctx)
	if err != nil {
		return c, err
	}
	detected, err := s.rdb.HLen(ctx, s.key("detected")).Result()
	if err != nil {
		return c, err
	}
	notified, err := s.rdb.Get(ctx, s.key("notified_ok")).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return c, err
	}
	c.ActiveRecipients, c.Spaces, c.Detected, c.Notified = active, int64(len(spaces)), detected, notified
	return c, nil
}

func (s *redisStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	ttl := time.Until(until)
	if ttl <= 0 {
		return s.rdb.Del(ctx, s.key("dedup", key)).Err()
	}
	return s.rdb.Set(ctx, s.key("dedup", key), until.UnixMilli(), ttl).Err()
}

func (s *redisStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	ms, err := s.rdb.Get(ctx, s.key("dedup", key)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	until := time.UnixMilli(ms)
	if time.Now().After(until) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}
