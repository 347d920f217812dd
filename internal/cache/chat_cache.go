package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-jobtrack-backend/internal/config"
	"github.com/tbourn/go-jobtrack-backend/internal/domain"
)

// ChatStore is the chat/collaboration store as seen by the cache.
type ChatStore interface {
	// FindRecentMessages returns up to limit non-deleted messages of a group,
	// newest first, optionally only those created before the given instant.
	FindRecentMessages(ctx context.Context, groupID string, limit int, before *time.Time) ([]domain.Message, error)
	// CountMessages returns the number of non-deleted messages of a group.
	CountMessages(ctx context.Context, groupID string) (int64, error)
}

// ChatCacheOptions tunes ChatCache.
type ChatCacheOptions struct {
	WindowSize          int
	TTL                 time.Duration
	WarmTimeout         time.Duration
	BreakerThreshold    int
	BreakerResetTimeout time.Duration
}

// ChatOptions maps the cache configuration onto ChatCacheOptions.
func ChatOptions(cfg config.CacheConfig) ChatCacheOptions {
	return ChatCacheOptions{
		WindowSize:          cfg.HotWindowSize,
		TTL:                 cfg.ChatTTL,
		WarmTimeout:         cfg.WarmTimeout,
		BreakerThreshold:    cfg.BreakerThreshold,
		BreakerResetTimeout: cfg.BreakerResetTimeout,
	}
}

func (o ChatCacheOptions) withDefaults() ChatCacheOptions {
	if o.WindowSize <= 0 {
		o.WindowSize = 50
	}
	if o.TTL <= 0 {
		o.TTL = 24 * time.Hour
	}
	if o.WarmTimeout <= 0 {
		o.WarmTimeout = 5 * time.Second
	}
	return o
}

// ChatCacheStats describes the chat cache and, when a group is given, that
// group's window.
type ChatCacheStats struct {
	Available        bool         `json:"available"`
	Breaker          BreakerStats `json:"breaker"`
	WindowCapacity   int          `json:"window_capacity"`
	TTLSeconds       int64        `json:"ttl_seconds"`
	GroupID          string       `json:"group_id,omitempty"`
	WindowSize       int64        `json:"window_size"`
	WindowTTLSeconds int64        `json:"window_ttl_seconds"`
	CachedCount      *int64       `json:"cached_count,omitempty"`
}

// addToWindow inserts one message id into an existing window, trims it to
// capacity, refreshes its TTL, and bumps an existing count key. A group with
// no window is left alone: its next read misses and rebuilds the whole window
// from the store, so a lone new id never poses as the full recent history.
//
// KEYS: window, count. ARGV: score, id, capacity, ttl ms.
var addToWindow = redis.NewScript(`
local added = 1
if redis.call('EXISTS', KEYS[1]) == 1 then
  added = redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
  redis.call('ZREMRANGEBYRANK', KEYS[1], 0, -(tonumber(ARGV[3]) + 1))
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
if added == 1 and redis.call('EXISTS', KEYS[2]) == 1 then
  redis.call('INCR', KEYS[2])
end
return added
`)

// decrCount decrements an existing count key, never below zero. The key's TTL
// is kept. Returns -1 when the key is absent.
var decrCount = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local v = redis.call('DECR', KEYS[1])
if v < 0 then
  redis.call('INCRBY', KEYS[1], -v)
  v = 0
end
return v
`)

// ChatCache keeps, per group, a bounded time-ordered window of recent message
// ids plus the message records they point to, and an approximate message
// count. Reads go through the breaker and fall back to the chat store;
// writes are best effort.
type ChatCache struct {
	client     *Client
	keys       KeyBuilder
	store      ChatStore
	identities IdentityResolver
	breaker    *Breaker
	opts       ChatCacheOptions
	log        zerolog.Logger
	warm       *warmer
}

// NewChatCache wires a chat cache. It owns its own breaker.
func NewChatCache(client *Client, keys KeyBuilder, store ChatStore, identities IdentityResolver, opts ChatCacheOptions, logger zerolog.Logger) *ChatCache {
	opts = opts.withDefaults()
	log := logger.With().Str("component", "chat_cache").Logger()
	return &ChatCache{
		client:     client,
		keys:       keys,
		store:      store,
		identities: identities,
		breaker:    NewBreaker("chat_cache", opts.BreakerThreshold, opts.BreakerResetTimeout, log),
		opts:       opts,
		log:        log,
		warm:       &warmer{name: "chat_cache", timeout: opts.WarmTimeout, log: log},
	}
}

// Breaker exposes the chat cache breaker.
func (s *ChatCache) Breaker() *Breaker { return s.breaker }

// WindowSize returns the hot window capacity.
func (s *ChatCache) WindowSize() int { return s.opts.WindowSize }

// GetHotMessages returns up to limit of the group's most recent messages,
// newest first. An empty window or any id without a record is a miss; the
// fallback reads the store, resolves senders in one batch, and warms the
// window in the background. A limit above the window capacity is served from
// the store directly.
func (s *ChatCache) GetHotMessages(ctx context.Context, groupID string, limit int) ([]domain.CachedMessage, error) {
	tr := otel.Tracer("cache/ChatCache")
	ctx, span := tr.Start(ctx, "GetHotMessages",
		trace.WithAttributes(
			attribute.String("group.id", groupID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	if limit <= 0 {
		limit = s.opts.WindowSize
	}
	fallback := func(ctx context.Context) ([]domain.CachedMessage, error) {
		return s.loadRecent(ctx, groupID, limit)
	}
	if limit > s.opts.WindowSize {
		fallbacks.WithLabelValues(s.breaker.Name(), "hot_messages").Inc()
		return fallback(ctx)
	}
	return guarded(ctx, s.client, s.breaker, "hot_messages", func(ctx context.Context) ([]domain.CachedMessage, error) {
		return s.readWindow(ctx, groupID, limit)
	}, fallback)
}

func (s *ChatCache) readWindow(ctx context.Context, groupID string, limit int) ([]domain.CachedMessage, error) {
	rdb := s.client.Redis()
	ids, err := rdb.ZRevRange(ctx, s.keys.GroupWindow(groupID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrCacheMiss
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keys.Message(id)
	}
	vals, err := rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.CachedMessage, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: message %s has no record", ErrCacheMiss, ids[i])
		}
		var m domain.CachedMessage
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode cached message %s: %w", ids[i], err)
		}
		if m.IsDeleted {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// loadRecent reads at least a full window from the store so the warm it
// schedules never leaves a window shorter than the group's recent history;
// the caller gets the first limit messages.
func (s *ChatCache) loadRecent(ctx context.Context, groupID string, limit int) ([]domain.CachedMessage, error) {
	fetch := limit
	if fetch < s.opts.WindowSize {
		fetch = s.opts.WindowSize
	}
	msgs, err := s.store.FindRecentMessages(ctx, groupID, fetch, nil)
	if err != nil {
		return nil, err
	}
	out, err := s.Denormalize(ctx, msgs)
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		batch := append([]domain.CachedMessage(nil), out...)
		s.warm.Go(ctx, "warm_window", func(ctx context.Context) error {
			return s.cacheMessages(ctx, groupID, batch)
		})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Denormalize converts stored messages into cached snapshots, resolving all
// senders against the primary store in one call.
func (s *ChatCache) Denormalize(ctx context.Context, msgs []domain.Message) ([]domain.CachedMessage, error) {
	return JoinIdentities(ctx, s.identities, msgs,
		func(m domain.Message) string { return m.SenderID },
		func(m domain.Message, id domain.Identity, _ bool) domain.CachedMessage {
			return domain.Snapshot(m, id)
		},
	)
}

// GetMessage returns the cached record of one message. The store is not
// consulted: an evicted or never-cached message is reported as absent. An
// absent record is not a backend fault and leaves the breaker alone; only
// backend errors count toward it.
func (s *ChatCache) GetMessage(ctx context.Context, messageID string) (*domain.CachedMessage, bool) {
	const op = "get_message"
	if !s.client.Ready() {
		lookups.WithLabelValues(s.breaker.Name(), op, "unavailable").Inc()
		return nil, false
	}
	if !s.breaker.Allow() {
		lookups.WithLabelValues(s.breaker.Name(), op, "skipped").Inc()
		return nil, false
	}
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	raw, err := s.client.Redis().Get(ctx, s.keys.Message(messageID)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		lookups.WithLabelValues(s.breaker.Name(), op, "miss").Inc()
		return nil, false
	case err != nil:
		lookups.WithLabelValues(s.breaker.Name(), op, "error").Inc()
		s.log.Warn().Err(err).Str("op", op).Msg("cache read failed")
		s.breaker.Failure(err)
		return nil, false
	}
	var m domain.CachedMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		lookups.WithLabelValues(s.breaker.Name(), op, "miss").Inc()
		s.log.Debug().Err(err).Str("message_id", messageID).Msg("undecodable cached message ignored")
		return nil, false
	}
	s.breaker.Success()
	lookups.WithLabelValues(s.breaker.Name(), op, "hit").Inc()
	return &m, true
}

// GetMessageCount returns the cached message count of a group, rebuilding it
// from the store when absent. The value is approximate.
func (s *ChatCache) GetMessageCount(ctx context.Context, groupID string) (int64, error) {
	tr := otel.Tracer("cache/ChatCache")
	ctx, span := tr.Start(ctx, "GetMessageCount",
		trace.WithAttributes(attribute.String("group.id", groupID)),
	)
	defer span.End()

	countKey := s.keys.GroupCount(groupID)
	return guarded(ctx, s.client, s.breaker, "message_count", func(ctx context.Context) (int64, error) {
		n, err := s.client.Redis().Get(ctx, countKey).Int64()
		if errors.Is(err, redis.Nil) {
			return 0, ErrCacheMiss
		}
		return n, err
	}, func(ctx context.Context) (int64, error) {
		n, err := s.store.CountMessages(ctx, groupID)
		if err != nil {
			return 0, err
		}
		s.warm.Go(ctx, "warm_count", func(ctx context.Context) error {
			if !s.client.Ready() {
				return ErrCacheUnavailable
			}
			return s.client.Redis().SetNX(ctx, countKey, n, s.opts.TTL).Err()
		})
		return n, nil
	})
}

// CacheMessage records a newly created message: the record is written, its
// id joins the group's window when one exists, and an existing count is
// incremented. Failures are logged.
func (s *ChatCache) CacheMessage(ctx context.Context, groupID string, m domain.CachedMessage) {
	s.logWrite("cache_message", s.cacheMessage(ctx, groupID, m))
}

func (s *ChatCache) cacheMessage(ctx context.Context, groupID string, m domain.CachedMessage) error {
	if !s.client.Ready() {
		return ErrCacheUnavailable
	}
	if m.GroupID == "" {
		m.GroupID = groupID
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	rdb := s.client.Redis()
	if err := rdb.Set(ctx, s.keys.Message(m.ID), b, s.opts.TTL).Err(); err != nil {
		return err
	}
	return addToWindow.Run(ctx, rdb,
		[]string{s.keys.GroupWindow(groupID), s.keys.GroupCount(groupID)},
		score(m.CreatedAt), m.ID, s.opts.WindowSize, s.opts.TTL.Milliseconds(),
	).Err()
}

// CacheMessages bulk-warms a group's window in one transaction. Only the
// newest messages that fit in the window are written; the window is then
// trimmed to capacity and its TTL refreshed. The count is left to be rebuilt
// from the store. Failures are logged.
func (s *ChatCache) CacheMessages(ctx context.Context, groupID string, msgs []domain.CachedMessage) {
	s.logWrite("cache_messages", s.cacheMessages(ctx, groupID, msgs))
}

func (s *ChatCache) cacheMessages(ctx context.Context, groupID string, msgs []domain.CachedMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	if !s.client.Ready() {
		return ErrCacheUnavailable
	}

	keep := append([]domain.CachedMessage(nil), msgs...)
	sort.SliceStable(keep, func(i, j int) bool { return keep[i].CreatedAt.After(keep[j].CreatedAt) })
	if len(keep) > s.opts.WindowSize {
		keep = keep[:s.opts.WindowSize]
	}

	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	window := s.keys.GroupWindow(groupID)
	members := make([]redis.Z, 0, len(keep))
	pipe := s.client.Redis().TxPipeline()
	for _, m := range keep {
		if m.GroupID == "" {
			m.GroupID = groupID
		}
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		pipe.Set(ctx, s.keys.Message(m.ID), b, s.opts.TTL)
		members = append(members, redis.Z{Score: score(m.CreatedAt), Member: m.ID})
	}
	pipe.ZAdd(ctx, window, members...)
	pipe.ZRemRangeByRank(ctx, window, 0, -int64(s.opts.WindowSize+1))
	pipe.Expire(ctx, window, s.opts.TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// UpdateMessage merges patch into the cached record of a message and rewrites
// it with a fresh TTL. An uncached message is left uncached.
func (s *ChatCache) UpdateMessage(ctx context.Context, messageID string, patch domain.MessagePatch) {
	s.logWrite("update_message", s.updateMessage(ctx, messageID, patch))
}

func (s *ChatCache) updateMessage(ctx context.Context, messageID string, patch domain.MessagePatch) error {
	if !s.client.Ready() {
		return ErrCacheUnavailable
	}
	rdb := s.client.Redis()
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	key := s.keys.Message(messageID)
	raw, err := rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	var m domain.CachedMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("decode cached message %s: %w", messageID, err)
	}
	patch.Apply(&m)
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	// XX: an invalidation that raced this update wins.
	return rdb.SetXX(ctx, key, b, s.opts.TTL).Err()
}

// InvalidateMessage drops a message from its group's window, deletes its
// record, and decrements the cached count. Failures are logged.
func (s *ChatCache) InvalidateMessage(ctx context.Context, messageID, groupID string) {
	s.logWrite("invalidate_message", s.invalidateMessage(ctx, messageID, groupID))
}

func (s *ChatCache) invalidateMessage(ctx context.Context, messageID, groupID string) error {
	if !s.client.Ready() {
		return ErrCacheUnavailable
	}
	rdb := s.client.Redis()
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	pipe := rdb.Pipeline()
	pipe.ZRem(ctx, s.keys.GroupWindow(groupID), messageID)
	pipe.Del(ctx, s.keys.Message(messageID))
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return decrCount.Run(ctx, rdb, []string{s.keys.GroupCount(groupID)}).Err()
}

// InvalidateGroup deletes every record referenced by the group's window, then
// the window and count themselves. Failures are logged.
func (s *ChatCache) InvalidateGroup(ctx context.Context, groupID string) {
	s.logWrite("invalidate_group", s.invalidateGroup(ctx, groupID))
}

func (s *ChatCache) invalidateGroup(ctx context.Context, groupID string) error {
	if !s.client.Ready() {
		return ErrCacheUnavailable
	}
	rdb := s.client.Redis()
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	window := s.keys.GroupWindow(groupID)
	ids, err := rdb.ZRange(ctx, window, 0, -1).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+2)
	for _, id := range ids {
		keys = append(keys, s.keys.Message(id))
	}
	keys = append(keys, window, s.keys.GroupCount(groupID))
	return deleteKeys(ctx, rdb, keys)
}

// Stats reports breaker state and configuration and, for a non-empty group
// id, the size and TTL of its window and its cached count.
func (s *ChatCache) Stats(ctx context.Context, groupID string) ChatCacheStats {
	st := ChatCacheStats{
		Available:      s.client.Ready(),
		Breaker:        s.breaker.Stats(),
		WindowCapacity: s.opts.WindowSize,
		TTLSeconds:     int64(s.opts.TTL / time.Second),
		GroupID:        groupID,
	}
	if groupID == "" || !st.Available {
		return st
	}
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()
	pipe := s.client.Redis().Pipeline()
	card := pipe.ZCard(ctx, s.keys.GroupWindow(groupID))
	ttl := pipe.TTL(ctx, s.keys.GroupWindow(groupID))
	cnt := pipe.Get(ctx, s.keys.GroupCount(groupID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		s.log.Debug().Err(err).Str("group_id", groupID).Msg("chat cache stats incomplete")
	}
	st.WindowSize = card.Val()
	if d := ttl.Val(); d > 0 {
		st.WindowTTLSeconds = int64(d / time.Second)
	}
	if n, err := cnt.Int64(); err == nil {
		st.CachedCount = &n
	}
	return st
}

// WaitForWarm blocks until background warms finish or ctx is done.
func (s *ChatCache) WaitForWarm(ctx context.Context) error { return s.warm.Wait(ctx) }

// Close cancels the breaker's pending reset and drains background warms.
func (s *ChatCache) Close(ctx context.Context) error {
	s.breaker.Close()
	return s.warm.Wait(ctx)
}

func (s *ChatCache) logWrite(op string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, ErrCacheUnavailable) {
		s.log.Debug().Str("op", op).Msg("cache write skipped; backend unavailable")
		return
	}
	writeFailures.WithLabelValues("chat_cache", op).Inc()
	s.log.Warn().Err(err).Str("op", op).Msg("cache write failed")
}

// score orders window members by creation time.
func score(t time.Time) float64 { return float64(t.UnixMilli()) }

// deleteBatch caps the number of keys per DEL so large groups or users do not
// block the server with one huge command.
const deleteBatch = 500

func deleteKeys(ctx context.Context, rdb redis.UniversalClient, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatch {
		end := start + deleteBatch
		if end > len(keys) {
			end = len(keys)
		}
		if err := rdb.Del(ctx, keys[start:end]...).Err(); err != nil {
			return err
		}
	}
	return nil
}
