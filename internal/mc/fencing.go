package mc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/darktower/control-plane/internal/telemetry"
)

// Reason enumerates why a guarded write was rejected, per spec §4.10.
type Reason string

const (
	ReasonStaleGeneration Reason = "stale_generation"
	ReasonConcurrentWrite Reason = "concurrent_write"
)

// FencedError is returned by a guarded write whose holder generation no
// longer matches the current one in Redis.
type FencedError struct {
	Reason Reason
}

func (e *FencedError) Error() string {
	return fmt.Sprintf("mc: fenced out (%s)", e.Reason)
}

// redisScripter is the minimal surface Fencer needs off *redis.Client,
// narrowed so tests can substitute a fake without a live Redis (no
// miniredis-equivalent is available in this module's dependency set).
type redisScripter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// guardedSetScript atomically compares the current generation counter to
// the caller's held token before writing key, optionally with a TTL in
// seconds (0 disables expiry). KEYS: [genKey, targetKey]. ARGV: [generation,
// value, ttlSeconds].
const guardedSetScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	if tonumber(ARGV[3]) > 0 then
		redis.call('SET', KEYS[2], ARGV[2], 'EX', ARGV[3])
	else
		redis.call('SET', KEYS[2], ARGV[2])
	end
	return 1
else
	return 0
end
`

// guardedHSetScript is guardedSetScript's analogue for a hash field write
// against meeting:{id}:state.
const guardedHSetScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
	return 1
else
	return 0
end
`

// Fencer implements C10: generation-counter takeover and guarded writes
// that reject once a replacement MC has taken over the meeting.
type Fencer struct {
	client redisScripter
	logger *slog.Logger
}

// NewFencer constructs a Fencer over a live Redis client.
func NewFencer(client *redis.Client, logger *slog.Logger) *Fencer {
	return &Fencer{client: client, logger: logger}
}

func genKey(meetingID string) string {
	return fmt.Sprintf("meeting:%s:gen", meetingID)
}

// Takeover increments meeting:{id}:gen and returns the result as this MC's
// fencing token for the meeting.
func (f *Fencer) Takeover(ctx context.Context, meetingID string) (int64, error) {
	start := time.Now()
	gen, err := f.client.Incr(ctx, genKey(meetingID)).Result()
	telemetry.RedisLatency.WithLabelValues("gen_takeover").Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("incrementing generation counter: %w", err)
	}
	return gen, nil
}

// GuardedSet writes key=value with the given ttl (0 for none) iff
// generation still matches meeting:{id}:gen. On mismatch it returns a
// *FencedError tagged with reason, increments mc_fenced_out_total, and logs
// the event without participant identifiers.
func (f *Fencer) GuardedSet(ctx context.Context, meetingID string, generation int64, key, value string, ttl time.Duration, reason Reason) error {
	start := time.Now()
	res, err := f.client.Eval(ctx, guardedSetScript, []string{genKey(meetingID), key}, generation, value, int64(ttl/time.Second)).Result()
	telemetry.RedisLatency.WithLabelValues("guarded_set").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("guarded set: %w", err)
	}
	return f.checkGuardResult(res, meetingID, reason)
}

// GuardedHSet writes the state hash field "state"=value iff generation
// still matches.
func (f *Fencer) GuardedHSet(ctx context.Context, meetingID string, generation int64, value string, reason Reason) error {
	start := time.Now()
	stateKey := fmt.Sprintf("meeting:%s:state", meetingID)
	res, err := f.client.Eval(ctx, guardedHSetScript, []string{genKey(meetingID), stateKey}, generation, "state", value).Result()
	telemetry.RedisLatency.WithLabelValues("guarded_hset").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("guarded hset: %w", err)
	}
	return f.checkGuardResult(res, meetingID, reason)
}

func (f *Fencer) checkGuardResult(res any, meetingID string, reason Reason) error {
	ok, _ := res.(int64)
	if ok == 1 {
		return nil
	}
	telemetry.FencedOutTotal.WithLabelValues(string(reason)).Inc()
	f.logger.Warn("fenced out of meeting, rejecting write", "meeting_id", meetingID, "reason", reason)
	return &FencedError{Reason: reason}
}
