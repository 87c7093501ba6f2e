package discovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/config"
)

func TestLocalMemory(t *testing.T) {
	ctx := context.Background()
	m := NewLocalMemory()
	campaign := uuid.New()

	used, err := m.Used(ctx, campaign)
	require.NoError(t, err)
	assert.Empty(t, used)

	require.NoError(t, m.Remember(ctx, campaign, []string{" Dentists Berlin ", "", "dentists berlin", "Bakeries Munich"}))
	require.NoError(t, m.Remember(ctx, uuid.New(), []string{"other campaign"}))

	used, err = m.Used(ctx, campaign)
	require.NoError(t, err)
	assert.Equal(t, []string{"bakeries munich", "dentists berlin"}, used)
}

type RedisMemoryTestSuite struct {
	suite.Suite
	pool     *dockertest.Pool
	resource *dockertest.Resource
	client   *redis.Client
}

func (s *RedisMemoryTestSuite) SetupSuite() {
	if testing.Short() {
		s.T().Skip("skipping redis test in short mode")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		s.T().Skipf("docker not available: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		s.T().Skipf("docker not available: %v", err)
	}
	s.pool = pool

	s.resource, err = pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Tag:        "7-alpine",
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	s.Require().NoError(err)

	s.client = NewRedisClient(config.RedisConfig{
		Address: fmt.Sprintf("localhost:%s", s.resource.GetPort("6379/tcp")),
	})

	pool.MaxWait = 60 * time.Second
	s.Require().NoError(pool.Retry(func() error {
		return s.client.Ping(context.Background()).Err()
	}))
}

func (s *RedisMemoryTestSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.resource != nil {
		_ = s.pool.Purge(s.resource)
	}
}

func (s *RedisMemoryTestSuite) TestRememberAndUse() {
	ctx := context.Background()
	m := NewRedisMemory(s.client, time.Hour)
	campaign := uuid.New()

	s.Require().NoError(m.Remember(ctx, campaign, []string{"Dentists Berlin", "bakeries munich", "DENTISTS BERLIN "}))
	s.Require().NoError(m.Remember(ctx, campaign, nil))

	used, err := m.Used(ctx, campaign)
	s.Require().NoError(err)
	s.Equal([]string{"bakeries munich", "dentists berlin"}, used)

	ttl, err := s.client.TTL(ctx, memoryKey(campaign)).Result()
	s.Require().NoError(err)
	s.Greater(ttl, 59*time.Minute)
}

func (s *RedisMemoryTestSuite) TestUnknownCampaignIsEmpty() {
	used, err := NewRedisMemory(s.client, 0).Used(context.Background(), uuid.New())
	s.Require().NoError(err)
	s.Empty(used)
}

func TestRedisMemoryTestSuite(t *testing.T) {
	suite.Run(t, new(RedisMemoryTestSuite))
}
