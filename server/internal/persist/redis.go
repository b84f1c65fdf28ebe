// Package persist stores applied readings in Redis: a capped list per machine
// plus the latest record, readable back for charting.
package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/forgewatch/forgewatch/pkg/types"
	"github.com/forgewatch/forgewatch/server/internal/config"
)

// Read limits for Readings.
const (
	DefaultLimit = 200
	MaxLimit     = 1000
)

// Record is one persisted reading.
type Record struct {
	MachineID string               `json:"machineId"`
	Timestamp time.Time            `json:"timestamp"`
	Reading   types.RawReading     `json:"reading"`
	Derived   types.DerivedMetrics `json:"derived"`
}

func readingsKey(machineID string) string { return "forgewatch:readings:" + machineID }
func latestKey(machineID string) string   { return "forgewatch:latest:" + machineID }

// Redis is the Redis-backed readings log.
type Redis struct {
	client *redis.Client
	keep   int64
}

// NewRedis connects to the configured Redis and pings it.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password(),
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("persist: ping %s: %w", cfg.Addr, err)
	}
	keep := cfg.MaxReadings
	if keep <= 0 || keep > MaxLimit {
		keep = MaxLimit
	}
	return &Redis{client: rdb, keep: int64(keep)}, nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Save appends the reading to the machine's log, trims the log to its cap
// and replaces the latest record, in one pipeline.
func (r *Redis) Save(ctx context.Context, machineID string, reading types.RawReading, derived types.DerivedMetrics) error {
	data, err := encode(machineID, reading, derived)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, readingsKey(machineID), data)
		p.LTrim(ctx, readingsKey(machineID), 0, r.keep-1)
		p.Set(ctx, latestKey(machineID), data, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist: save %s: %w", machineID, err)
	}
	return nil
}

// Readings returns up to limit most recent records of machineID ordered
// oldest to newest. limit is clamped to [1, MaxLimit]; zero selects
// DefaultLimit.
func (r *Redis) Readings(ctx context.Context, machineID string, limit int) ([]Record, error) {
	vals, err := r.client.LRange(ctx, readingsKey(machineID), 0, int64(ClampLimit(limit))-1).Result()
	if err != nil {
		return nil, fmt.Errorf("persist: read %s: %w", machineID, err)
	}
	return decodeNewestFirst(vals)
}

// Latest returns the most recent record of machineID, or nil when none exists.
func (r *Redis) Latest(ctx context.Context, machineID string) (*Record, error) {
	val, err := r.client.Get(ctx, latestKey(machineID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: latest %s: %w", machineID, err)
	}
	return decodeRecord(val)
}

// ClampLimit applies the Readings limit rules.
func ClampLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultLimit
	case limit < 1:
		return 1
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

func encode(machineID string, reading types.RawReading, derived types.DerivedMetrics) ([]byte, error) {
	data, err := json.Marshal(Record{
		MachineID: machineID,
		Timestamp: reading.Timestamp,
		Reading:   reading,
		Derived:   derived,
	})
	if err != nil {
		return nil, fmt.Errorf("persist: encode %s: %w", machineID, err)
	}
	return data, nil
}

func decodeRecord(val string) (*Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("persist: decode record: %w", err)
	}
	return &rec, nil
}

// decodeNewestFirst decodes an LRANGE result and reverses it to oldest first.
func decodeNewestFirst(vals []string) ([]Record, error) {
	out := make([]Record, len(vals))
	for i, v := range vals {
		if err := json.Unmarshal([]byte(v), &out[len(vals)-1-i]); err != nil {
			return nil, fmt.Errorf("persist: decode record: %w", err)
		}
	}
	return out, nil
}
