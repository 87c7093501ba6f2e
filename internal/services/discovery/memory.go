package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/config"
)

const defaultMemoryTTL = 90 * 24 * time.Hour

// QueryMemory remembers which search queries a campaign already used, so the
// planner can be asked for fresh ones.
type QueryMemory interface {
	Used(ctx context.Context, campaignID uuid.UUID) ([]string, error)
	Remember(ctx context.Context, campaignID uuid.UUID, queries []string) error
}

// RedisMemory keeps one set per campaign. Every write refreshes the TTL.
type RedisMemory struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewRedisMemory(client *redis.Client, ttl time.Duration) *RedisMemory {
	if ttl <= 0 {
		ttl = defaultMemoryTTL
	}
	return &RedisMemory{client: client, ttl: ttl}
}

func memoryKey(campaignID uuid.UUID) string {
	return "outreach:campaign:" + campaignID.String() + ":queries"
}

func (m *RedisMemory) Used(ctx context.Context, campaignID uuid.UUID) ([]string, error) {
	members, err := m.client.SMembers(ctx, memoryKey(campaignID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load used queries: %w", err)
	}
	sort.Strings(members)
	return members, nil
}

func (m *RedisMemory) Remember(ctx context.Context, campaignID uuid.UUID, queries []string) error {
	members := normalizeQueries(queries)
	if len(members) == 0 {
		return nil
	}

	values := make([]interface{}, len(members))
	for i, q := range members {
		values[i] = q
	}

	key := memoryKey(campaignID)
	pipe := m.client.TxPipeline()
	pipe.SAdd(ctx, key, values...)
	pipe.Expire(ctx, key, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remember queries: %w", err)
	}
	return nil
}

// LocalMemory is the in-process fallback used when Redis is disabled. It is
// lost on restart.
type LocalMemory struct {
	mutex   sync.RWMutex
	queries map[uuid.UUID]map[string]struct{}
}

func NewLocalMemory() *LocalMemory {
	return &LocalMemory{queries: make(map[uuid.UUID]map[string]struct{})}
}

func (m *LocalMemory) Used(ctx context.Context, campaignID uuid.UUID) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	set := m.queries[campaignID]
	out := make([]string, 0, len(set))
	for q := range set {
		out = append(out, q)
	}
	sort.Strings(out)
	return out, nil
}

func (m *LocalMemory) Remember(ctx context.Context, campaignID uuid.UUID, queries []string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	set, ok := m.queries[campaignID]
	if !ok {
		set = make(map[string]struct{})
		m.queries[campaignID] = set
	}
	for _, q := range normalizeQueries(queries) {
		set[q] = struct{}{}
	}
	return nil
}

func normalizeQueries(queries []string) []string {
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		if q = strings.ToLower(strings.TrimSpace(q)); q != "" {
			out = append(out, q)
		}
	}
	return out
}
