package coordinate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisRecordKeyPrefix  = "coordinate:record:"
	redisNonTerminalSet   = "coordinate:nonterminal"
	redisDefaultRecordTTL = 0 // records kept until deleted
)

// RedisStore is a RecordStore backed by Redis. Records are stored as JSON
// values; a side set tracks non-terminal runs so recovery scans do not need
// a full keyspace walk.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a Redis-backed record store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Save persists the record and updates the non-terminal index atomically.
func (r *RedisStore) Save(ctx context.Context, record *CoordinationRecord) error {
	record.Version++
	record.UpdatedAt = time.Now()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	key := redisRecordKeyPrefix + record.ID.String()
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, data, redisDefaultRecordTTL)
	if record.Status.Terminal() {
		pipe.SRem(ctx, redisNonTerminalSet, record.ID.String())
	} else {
		pipe.SAdd(ctx, redisNonTerminalSet, record.ID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write record to redis: %w", err)
	}
	return nil
}

// Load retrieves a record by ID.
func (r *RedisStore) Load(ctx context.Context, id CoordinationID) (*CoordinationRecord, error) {
	data, err := r.client.Get(ctx, redisRecordKeyPrefix+id.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("coordination %s not found", id)
		}
		return nil, fmt.Errorf("failed to read record from redis: %w", err)
	}
	var record CoordinationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &record, nil
}

// ListNonTerminal returns all records in the non-terminal index.
func (r *RedisStore) ListNonTerminal(ctx context.Context) ([]*CoordinationRecord, error) {
	ids, err := r.client.SMembers(ctx, redisNonTerminalSet).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read non-terminal index: %w", err)
	}

	var out []*CoordinationRecord
	for _, raw := range ids {
		id, err := ParseCoordinationID(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt non-terminal index entry %q: %w", raw, err)
		}
		record, err := r.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

// Delete removes the record and its index entry.
func (r *RedisStore) Delete(ctx context.Context, id CoordinationID) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, redisRecordKeyPrefix+id.String())
	pipe.SRem(ctx, redisNonTerminalSet, id.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete record from redis: %w", err)
	}
	return nil
}
