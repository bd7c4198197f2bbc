package triggerstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/triggerfi/chainflow/pkg/models"
)

const redisKeyPrefix = "chainflow:triggerstate:"

// RedisStore implements the trigger-state contract on redis, one JSON
// value per workflow. It is the indexed alternative to the file store for
// deployments where a glob scan over many trigger files gets slow.
type RedisStore struct {
	client redis.UniversalClient
	logger *slog.Logger

	mu sync.Mutex
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, url string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &RedisStore{
		client: client,
		logger: logger.With("module", "trigger_state_store", "backend", "redis"),
	}, nil
}

func redisKey(workflowID string) (string, error) {
	if workflowID == "" {
		return "", ErrEmptyWorkflowID
	}

	return redisKeyPrefix + workflowID, nil
}

// Save overwrites the record. Redis SET is atomic by nature.
func (s *RedisStore) Save(ctx context.Context, state *models.TriggerState) error {
	key, err := redisKey(state.WorkflowID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal trigger state %s: %w", state.WorkflowID, err)
	}

	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("save trigger state %s: %w", state.WorkflowID, err)
	}

	return nil
}

// Load returns nil without error when the record does not exist.
func (s *RedisStore) Load(ctx context.Context, workflowID string) (*models.TriggerState, error) {
	key, err := redisKey(workflowID)
	if err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("load trigger state %s: %w", workflowID, err)
	}

	var state models.TriggerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal trigger state %s: %w", workflowID, err)
	}

	return &state, nil
}

// Delete removes the record, reporting whether one existed.
func (s *RedisStore) Delete(ctx context.Context, workflowID string) (bool, error) {
	key, err := redisKey(workflowID)
	if err != nil {
		return false, err
	}

	removed, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("delete trigger state %s: %w", workflowID, err)
	}

	return removed > 0, nil
}

// ListAll scans the key space. Corrupt values are skipped with a warning.
func (s *RedisStore) ListAll(ctx context.Context) ([]*models.TriggerState, error) {
	var states []*models.TriggerState

	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}

			return nil, fmt.Errorf("list trigger states: %w", err)
		}

		var state models.TriggerState
		if err := json.Unmarshal(data, &state); err != nil {
			s.logger.Warn("Skipping corrupt trigger state record", "key", iter.Val(), "error", err)

			continue
		}

		states = append(states, &state)
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan trigger states: %w", err)
	}

	return states, nil
}

// ListActive filters ListAll down to records marked active.
func (s *RedisStore) ListActive(ctx context.Context) ([]*models.TriggerState, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*models.TriggerState, 0, len(all))

	for _, state := range all {
		if state.IsActive {
			active = append(active, state)
		}
	}

	return active, nil
}

// RecordCheck registers one evaluation cycle, creating the record on the
// first check of a trigger.
func (s *RedisStore) RecordCheck(ctx context.Context, workflowID string, kind models.TriggerKind, checkErr error) (*models.TriggerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if state == nil {
		state = &models.TriggerState{
			WorkflowID:  workflowID,
			TriggerType: kind,
			IsActive:    true,
		}
	}

	msg := ""
	if checkErr != nil {
		msg = checkErr.Error()
	}

	state.MarkChecked(time.Now().UTC(), msg)

	if err := s.Save(ctx, state); err != nil {
		return nil, err
	}

	return state, nil
}

// RecordFire stamps the last-triggered time.
func (s *RedisStore) RecordFire(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.Load(ctx, workflowID)
	if err != nil {
		return err
	}

	if state == nil {
		state = &models.TriggerState{WorkflowID: workflowID, IsActive: true}
	}

	state.MarkTriggered(time.Now().UTC())

	return s.Save(ctx, state)
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
