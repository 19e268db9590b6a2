package mc

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

// fakeRedisScripter is a minimal in-memory stand-in for the generation
// counter and guarded-write Lua scripts, narrow enough to exercise Fencer
// without a live Redis.
type fakeRedisScripter struct {
	gens map[string]int64
}

func newFakeRedisScripter() *fakeRedisScripter {
	return &fakeRedisScripter{gens: make(map[string]int64)}
}

func (f *fakeRedisScripter) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.gens[key]++
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(f.gens[key])
	return cmd
}

// Eval emulates guardedSetScript/guardedHSetScript: KEYS[0] is always the
// generation key, and the guard's ARGV[0] is always the caller's held
// generation as an int64.
func (f *fakeRedisScripter) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	current := f.gens[keys[0]]
	held, ok := args[0].(int64)
	if !ok {
		cmd.SetErr(errors.New("fake: generation arg not int64"))
		return cmd
	}
	if current != held {
		cmd.SetVal(int64(0))
		return cmd
	}
	cmd.SetVal(int64(1))
	return cmd
}

func TestFencerTakeoverIncrementsGeneration(t *testing.T) {
	f := NewFencer(nil, noopLogger())
	f.client = newFakeRedisScripter()

	gen1, err := f.Takeover(context.Background(), "meeting-1")
	if err != nil {
		t.Fatalf("Takeover: %v", err)
	}
	gen2, err := f.Takeover(context.Background(), "meeting-1")
	if err != nil {
		t.Fatalf("Takeover: %v", err)
	}
	if gen2 != gen1+1 {
		t.Fatalf("gen2 = %d, want %d", gen2, gen1+1)
	}
}

func TestFencerGuardedSetSucceedsForCurrentGeneration(t *testing.T) {
	f := NewFencer(nil, noopLogger())
	f.client = newFakeRedisScripter()

	gen, err := f.Takeover(context.Background(), "meeting-1")
	if err != nil {
		t.Fatalf("Takeover: %v", err)
	}

	if err := f.GuardedSet(context.Background(), "meeting-1", gen, "k", "v", 0, ReasonConcurrentWrite); err != nil {
		t.Fatalf("GuardedSet with current generation: %v", err)
	}
}

func TestFencerGuardedSetRejectsStaleGeneration(t *testing.T) {
	f := NewFencer(nil, noopLogger())
	f.client = newFakeRedisScripter()

	staleGen, err := f.Takeover(context.Background(), "meeting-1")
	if err != nil {
		t.Fatalf("Takeover: %v", err)
	}
	if _, err := f.Takeover(context.Background(), "meeting-1"); err != nil {
		t.Fatalf("second Takeover: %v", err)
	}

	err = f.GuardedSet(context.Background(), "meeting-1", staleGen, "k", "v", 0, ReasonStaleGeneration)
	var fenced *FencedError
	if !errors.As(err, &fenced) {
		t.Fatalf("GuardedSet with stale generation: err = %v, want *FencedError", err)
	}
	if fenced.Reason != ReasonStaleGeneration {
		t.Fatalf("fenced.Reason = %q, want %q", fenced.Reason, ReasonStaleGeneration)
	}
}
