// Copyright 2026 Aegis
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Load signal keys are written by the component health coordinator; the
// directory only reads them. Signals carry a TTL so a crashed coordinator
// cannot pin stale load values forever.
const (
	loadKeyPrefix    = "aegis:agentload:"
	loadSignalTTL    = 30 * time.Second
	redisDialTimeout = 5 * time.Second
)

// RedisLoadSource overlays externally published load/health signals onto
// agent profile snapshots. When Redis is unreachable the overlay is a no-op
// and profiles keep their directory-supplied load values.
type RedisLoadSource struct {
	client *redis.Client
}

// NewRedisLoadSource connects to Redis using a URL of the form
// redis://host:port/db and verifies the connection.
func NewRedisLoadSource(redisURL string) (*RedisLoadSource, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisLoadSource{client: client}, nil
}

// PublishLoad writes an agent's load/health signal. This is the producer side
// used by the health coordinator; it lives here so both halves of the signal
// agree on key layout.
func (s *RedisLoadSource) PublishLoad(ctx context.Context, agentID string, currentLoad int, status AgentStatus) error {
	key := loadKeyPrefix + agentID

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"load", strconv.Itoa(currentLoad),
		"status", string(status),
	)
	pipe.Expire(ctx, key, loadSignalTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish load for %s: %w", agentID, err)
	}
	return nil
}

// ApplyLoad overlays published signals onto the given profiles, in place.
// Agents without a signal are left untouched. Errors from Redis leave all
// profiles untouched and are returned so the caller can surface degraded mode.
func (s *RedisLoadSource) ApplyLoad(ctx context.Context, profiles []*AgentProfile) error {
	if len(profiles) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringStringMapCmd, len(profiles))
	for i, p := range profiles {
		cmds[i] = pipe.HGetAll(ctx, loadKeyPrefix+p.ID)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read load signals: %w", err)
	}

	for i, p := range profiles {
		fields, err := cmds[i].Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		if loadStr, ok := fields["load"]; ok {
			if load, err := strconv.Atoi(loadStr); err == nil && load >= 0 {
				p.CurrentLoad = load
			}
		}
		if statusStr, ok := fields["status"]; ok {
			switch AgentStatus(statusStr) {
			case StatusActive, StatusDegraded, StatusUnavailable:
				p.Status = AgentStatus(statusStr)
			}
		}
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisLoadSource) Close() error {
	return s.client.Close()
}
