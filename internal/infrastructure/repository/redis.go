package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	domainerrors "github.com/coverbridge/platform-security/internal/domain/errors"
	"github.com/coverbridge/platform-security/internal/domain/incident"
)

// Key layout for the redis adapter
const (
	incidentKeyPrefix = "psec:incident:"
	activeSetKey      = "psec:incidents:active"
	detectedIndexKey  = "psec:incidents:by_detected"
)

// RedisIncidentStore is the pluggable persistent adapter for IncidentStore.
// Incidents are stored as JSON values, the active set as a redis set, and a
// sorted set indexed on detection time backs ListDetectedSince.
type RedisIncidentStore struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisIncidentStore(client *redis.Client, logger *zap.Logger) *RedisIncidentStore {
	return &RedisIncidentStore{client: client, logger: logger}
}

func (s *RedisIncidentStore) Save(ctx context.Context, inc *incident.SecurityIncident) error {
	payload, err := json.Marshal(inc)
	if err != nil {
		return domainerrors.NewInternalError("encode incident").WithCause(err)
	}

	key := incidentKeyPrefix + inc.ID
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return domainerrors.NewExternalError("redis", "check incident").WithCause(err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, payload, 0)
	pipe.ZAdd(ctx, detectedIndexKey, redis.Z{
		Score:  float64(inc.DetectedAt.UnixNano()),
		Member: inc.ID,
	})
	if exists == 0 {
		pipe.SAdd(ctx, activeSetKey, inc.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return domainerrors.NewExternalError("redis", "save incident").WithCause(err)
	}
	return nil
}

func (s *RedisIncidentStore) Get(ctx context.Context, id string) (*incident.SecurityIncident, error) {
	raw, err := s.client.Get(ctx, incidentKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, domainerrors.ErrIncidentNotFound
	}
	if err != nil {
		return nil, domainerrors.NewExternalError("redis", "get incident").WithCause(err)
	}

	var inc incident.SecurityIncident
	if err := json.Unmarshal(raw, &inc); err != nil {
		return nil, domainerrors.NewInternalError("decode incident").WithCause(err)
	}
	return &inc, nil
}

func (s *RedisIncidentStore) MarkInactive(ctx context.Context, id string) error {
	if err := s.requireExists(ctx, id); err != nil {
		return err
	}
	if err := s.client.SRem(ctx, activeSetKey, id).Err(); err != nil {
		return domainerrors.NewExternalError("redis", "mark incident inactive").WithCause(err)
	}
	return nil
}

func (s *RedisIncidentStore) MarkActive(ctx context.Context, id string) error {
	if err := s.requireExists(ctx, id); err != nil {
		return err
	}
	if err := s.client.SAdd(ctx, activeSetKey, id).Err(); err != nil {
		return domainerrors.NewExternalError("redis", "mark incident active").WithCause(err)
	}
	return nil
}

func (s *RedisIncidentStore) ListActive(ctx context.Context) ([]*incident.SecurityIncident, error) {
	ids, err := s.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, domainerrors.NewExternalError("redis", "list active incidents").WithCause(err)
	}
	return s.fetchAll(ctx, ids)
}

func (s *RedisIncidentStore) ListDetectedSince(ctx context.Context, cutoff time.Time) ([]*incident.SecurityIncident, error) {
	ids, err := s.client.ZRangeByScore(ctx, detectedIndexKey, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", cutoff.UnixNano()),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, domainerrors.NewExternalError("redis", "list incidents by detection time").WithCause(err)
	}
	return s.fetchAll(ctx, ids)
}

func (s *RedisIncidentStore) fetchAll(ctx context.Context, ids []string) ([]*incident.SecurityIncident, error) {
	out := make([]*incident.SecurityIncident, 0, len(ids))
	for _, id := range ids {
		inc, err := s.Get(ctx, id)
		if err != nil {
			if domainerrors.IsNotFound(err) {
				// index entry without a record; skip rather than fail the listing
				s.logger.Warn("dangling incident index entry", zap.String("incident_id", id))
				continue
			}
			return nil, err
		}
		out = append(out, inc)
	}
	return out, nil
}

func (s *RedisIncidentStore) requireExists(ctx context.Context, id string) error {
	exists, err := s.client.Exists(ctx, incidentKeyPrefix+id).Result()
	if err != nil {
		return domainerrors.NewExternalError("redis", "check incident").WithCause(err)
	}
	if exists == 0 {
		return domainerrors.ErrIncidentNotFound
	}
	return nil
}
