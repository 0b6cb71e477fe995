// Package stats records per-device recovery statistics: how often a
// station lost ADB to a device, and how often the relay got it back. One
// row exists per (date, host, serial, build); recovery and binding runs
// bump its counters.
package stats

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Counter fields of a statistics row.
const (
	FieldTotalRun    = "total_run"
	FieldTotalLost   = "total_lost"
	FieldAdbLost     = "adb_lost"
	FieldAdbRecovery = "adb_recovery"
)

// RowKey identifies one statistics row.
type RowKey struct {
	Date   string // YYYYMMDD
	Host   string
	Serial string
	Build  string
}

func (k RowKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Date, k.Host, k.Serial, k.Build)
}

// Row is the initial contents of a statistics row.
type Row struct {
	Chipset string
	IMEI    string
}

// Store is the statistics surface the binding engine depends on.
type Store interface {
	// RowExists reports whether the row for key already exists.
	RowExists(ctx context.Context, key RowKey) (bool, error)

	// InsertRow creates the row for key with zeroed counters.
	InsertRow(ctx context.Context, key RowKey, row Row) error

	// IncrementRow adds delta to one counter field of the row for key.
	IncrementRow(ctx context.Context, key RowKey, field string, delta int64) error

	// Close releases the store's resources.
	Close() error
}

// RedisStore keeps one Redis hash per row.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a store over the given Redis connection options.
func NewRedisStore(opts *redis.Options) *RedisStore {
	return &RedisStore{rdb: redis.NewClient(opts)}
}

// Ping verifies Redis connectivity. Useful at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func rowRedisKey(key RowKey) string {
	return "relaykit:stats:" + key.String()
}

// RowExists implements Store.
func (s *RedisStore) RowExists(ctx context.Context, key RowKey) (bool, error) {
	n, err := s.rdb.Exists(ctx, rowRedisKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check stats row: %w", err)
	}
	return n > 0, nil
}

// InsertRow implements Store.
func (s *RedisStore) InsertRow(ctx context.Context, key RowKey, row Row) error {
	hash := map[string]interface{}{
		"date":           key.Date,
		"host":           key.Host,
		"serial":         key.Serial,
		"build":          key.Build,
		"chipset":        row.Chipset,
		"imei":           row.IMEI,
		FieldTotalRun:    0,
		FieldTotalLost:   0,
		FieldAdbLost:     0,
		FieldAdbRecovery: 0,
	}
	if err := s.rdb.HSet(ctx, rowRedisKey(key), hash).Err(); err != nil {
		return fmt.Errorf("failed to insert stats row: %w", err)
	}
	return nil
}

// IncrementRow implements Store.
func (s *RedisStore) IncrementRow(ctx context.Context, key RowKey, field string, delta int64) error {
	if err := s.rdb.HIncrBy(ctx, rowRedisKey(key), field, delta).Err(); err != nil {
		return fmt.Errorf("failed to increment %s: %w", field, err)
	}
	return nil
}

// Counter reads one counter back. Used by the CLI and tests.
func (s *RedisStore) Counter(ctx context.Context, key RowKey, field string) (int64, error) {
	val, err := s.rdb.HGet(ctx, rowRedisKey(key), field).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", field, err)
	}
	return val, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Nop discards all statistics. Used when stats are disabled.
type Nop struct{}

func (Nop) RowExists(context.Context, RowKey) (bool, error)               { return false, nil }
func (Nop) InsertRow(context.Context, RowKey, Row) error                  { return nil }
func (Nop) IncrementRow(context.Context, RowKey, string, int64) error     { return nil }
func (Nop) Close() error                                                  { return nil }
