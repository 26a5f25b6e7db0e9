package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cortexbrain/cortex/pkg/model"
	"github.com/cortexbrain/cortex/pkg/store"
)

const jobKeyPrefix = "ingest:job:"

// RedisJobStore shares job state between processes, for deployments
// where the API serves status for jobs a worker process owns. Values
// are JSON-encoded jobs with a TTL so finished jobs age out.
type RedisJobStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisJobStoreParams configures a RedisJobStore.
type NewRedisJobStoreParams struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisJobStore connects and pings so a bad address fails at startup.
func NewRedisJobStore(ctx context.Context, params NewRedisJobStoreParams) (*RedisJobStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     params.Addr,
		Password: params.Password,
		DB:       params.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if params.TTL <= 0 {
		params.TTL = 24 * time.Hour
	}
	return &RedisJobStore{client: client, ttl: params.TTL}, nil
}

// NewRedisJobStoreWithClient wraps an existing client, used by tests.
func NewRedisJobStoreWithClient(client *redis.Client, ttl time.Duration) *RedisJobStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisJobStore{client: client, ttl: ttl}
}

func (s *RedisJobStore) SaveJob(ctx context.Context, job model.IngestJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := s.client.Set(ctx, jobKeyPrefix+job.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisJobStore) GetJob(ctx context.Context, id string) (*model.IngestJob, error) {
	data, err := s.client.Get(ctx, jobKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	var job model.IngestJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}
