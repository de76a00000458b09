package locker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeClient struct {
	held     map[string]string
	setErr   error
	released []string
}

func (f *fakeClient) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, ok := f.held[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.held[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeClient) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	if f.held[keys[0]] == args[0].(string) {
		delete(f.held, keys[0])
		f.released = append(f.released, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestTryAcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	fc := &fakeClient{held: map[string]string{}}
	r := NewRedis(fc, "consult:")

	lease, ok, err := r.TryAcquire(ctx, "reaper", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock acquired, got ok=%v err=%v", ok, err)
	}
	if _, ok, _ := r.TryAcquire(ctx, "reaper", time.Minute); ok {
		t.Fatal("expected second acquire to fail")
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if len(fc.released) != 1 || fc.released[0] != "consult:reaper" {
		t.Fatalf("expected consult:reaper released, got %v", fc.released)
	}
	if _, ok, _ := r.TryAcquire(ctx, "reaper", time.Minute); !ok {
		t.Fatal("expected acquire after release")
	}
}

func TestTryAcquireSurfacesRedisErrors(t *testing.T) {
	fc := &fakeClient{held: map[string]string{}, setErr: errors.New("connection refused")}
	if _, ok, err := NewRedis(fc, "").TryAcquire(context.Background(), "reaper", time.Minute); ok || err == nil {
		t.Fatalf("expected error, got ok=%v err=%v", ok, err)
	}
}
