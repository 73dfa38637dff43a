package provisioning

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore persists provisioning records in Redis under two keys per
// room: "room:<id>" holds the JSON metadata, "code:<code>" maps the
// shareable code to the id. Both carry the same TTL and are written and
// deleted together.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Create(ctx context.Context, creatorID string, maxClients int) (*Record, error) {
	code, err := generateCode()
	if err != nil {
		return nil, fmt.Errorf("generate room code: %w", err)
	}
	rec := &Record{
		ID:         uuid.NewString(),
		Code:       code,
		CreatorID:  creatorID,
		CreatedAt:  time.Now(),
		MaxClients: maxClients,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal room record: %w", err)
	}

	if err := s.client.Set(ctx, "room:"+rec.ID, data, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store room record: %w", err)
	}
	if err := s.client.Set(ctx, "code:"+rec.Code, rec.ID, s.ttl).Err(); err != nil {
		s.client.Del(ctx, "room:"+rec.ID)
		return nil, fmt.Errorf("store room code: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) resolveID(ctx context.Context, idOrCode string) (string, error) {
	if len(idOrCode) != CodeLength {
		return idOrCode, nil
	}
	id, err := s.client.Get(ctx, "code:"+idOrCode).Result()
	if err != nil {
		return "", ErrNotFound
	}
	return id, nil
}

func (s *RedisStore) Get(ctx context.Context, idOrCode string) (*Record, error) {
	id, err := s.resolveID(ctx, idOrCode)
	if err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, "room:"+id).Result()
	if err != nil {
		return nil, ErrNotFound
	}
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("parse room record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, idOrCode, requesterID string) error {
	rec, err := s.Get(ctx, idOrCode)
	if err != nil {
		return err
	}
	if rec.CreatorID != requesterID {
		return ErrPermissionDenied
	}
	s.client.Del(ctx, "room:"+rec.ID, "code:"+rec.Code)
	return nil
}
