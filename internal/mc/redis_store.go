package mc

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/darktower/control-plane/internal/telemetry"
)

// RedisBindingStore is the production BindingStore: one hash key per
// correlation_id, expiring on its own TTL (spec §4.9's "30 s TTL").
type RedisBindingStore struct {
	Client *redis.Client
}

func bindingKey(meetingID, correlationID string) string {
	return fmt.Sprintf("meeting:%s:binding:%s", meetingID, correlationID)
}

func (s *RedisBindingStore) Put(ctx context.Context, meetingID string, rec BindingRecord, ttl time.Duration) error {
	start := time.Now()
	key := bindingKey(meetingID, rec.CorrelationID)

	pipe := s.Client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"participant_id": rec.ParticipantID,
		"nonce":          hex.EncodeToString(rec.Nonce),
		"issued_at":      rec.IssuedAt.Unix(),
	})
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)

	telemetry.RedisLatency.WithLabelValues("binding_put").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("storing binding record: %w", err)
	}
	return nil
}

func (s *RedisBindingStore) Take(ctx context.Context, meetingID, correlationID string) (BindingRecord, bool, error) {
	start := time.Now()
	key := bindingKey(meetingID, correlationID)

	vals, err := s.Client.HGetAll(ctx, key).Result()
	telemetry.RedisLatency.WithLabelValues("binding_take").Observe(time.Since(start).Seconds())
	if err != nil {
		return BindingRecord{}, false, fmt.Errorf("loading binding record: %w", err)
	}
	if len(vals) == 0 {
		return BindingRecord{}, false, nil
	}

	// Delete immediately: the record is single-use regardless of whether
	// verification below succeeds.
	_ = s.Client.Del(ctx, key).Err()

	nonce, err := hex.DecodeString(vals["nonce"])
	if err != nil {
		return BindingRecord{}, false, nil
	}
	issuedUnix, err := strconv.ParseInt(vals["issued_at"], 10, 64)
	if err != nil {
		return BindingRecord{}, false, nil
	}

	return BindingRecord{
		CorrelationID: correlationID,
		ParticipantID: vals["participant_id"],
		Nonce:         nonce,
		IssuedAt:      time.Unix(issuedUnix, 0),
	}, true, nil
}
