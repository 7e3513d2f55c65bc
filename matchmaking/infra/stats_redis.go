package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quickmatch-server/matchmaking/domain"

	"github.com/redis/go-redis/v9"
)

type RedisStatsStore struct {
	rdb *redis.Client

	prefix string
	// ttl aplica apenas em chaves de série temporal / por slot.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackSlots bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackSlots(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackSlots = track }
}

func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "quickmatch:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Prefix() string { return s.prefix }

// Keys devolve as chaves que Record toca para ev, na ordem de escrita.
func (s *RedisStatsStore) Keys(ev domain.StatsEvent) []string {
	keys := []string{s.prefix + ":total"}
	if s.bucket == "minute" {
		keys = append(keys, fmt.Sprintf("%s:minute:%s", s.prefix, s.at(ev).Format("200601021504")))
	}
	if s.trackSlots {
		if slot := strings.TrimSpace(string(ev.Slot)); slot != "" {
			keys = append(keys, s.prefix+":slot:"+slot)
		}
	}
	return keys
}

func (s *RedisStatsStore) at(ev domain.StatsEvent) time.Time {
	if ev.At.IsZero() {
		return time.Now().UTC()
	}
	return ev.At.UTC()
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	field := string(ev.Kind)
	if field == "" {
		return nil
	}

	keys := s.Keys(ev)
	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, keys[0], field, 1)
	for _, k := range keys[1:] {
		pipe.HIncrBy(ctx, k, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Totals lê os contadores cumulativos.
func (s *RedisStatsStore) Totals(ctx context.Context) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, s.prefix+":total").Result()
}
