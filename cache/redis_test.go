package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// newTestRedis connects to the server named by AGENTGATE_TEST_REDIS_ADDR.
// Each test gets its own key prefix.
func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("AGENTGATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AGENTGATE_TEST_REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := NewRedis(ctx, RedisConfig{Address: addr, Prefix: "agentgate:test:" + uuid.NewString() + ":"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = r.Clear(context.Background())
		_ = r.Close()
	})
	return r
}

func TestRedisRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	if err := r.Put(ctx, "k", []byte("hello"), time.Minute); err != nil {
		t.Fatal(err)
	}
	v, ok, err := r.Get(ctx, "k")
	if err != nil || !ok || string(v) != "hello" {
		t.Fatalf("expected hello, got %q ok=%v err=%v", v, ok, err)
	}

	if err := r.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := r.Get(ctx, "k"); ok {
		t.Error("expected miss after delete")
	}
}

func TestRedisTTL(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	_ = r.Put(ctx, "short", []byte("v"), 100*time.Millisecond)
	time.Sleep(300 * time.Millisecond)

	if _, ok, _ := r.Get(ctx, "short"); ok {
		t.Error("entry should have expired")
	}
}

func TestRedisClear(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	_ = r.Put(ctx, "a", []byte("1"), time.Minute)
	_ = r.Put(ctx, "b", []byte("2"), time.Minute)

	if err := r.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"a", "b"} {
		if _, ok, _ := r.Get(ctx, k); ok {
			t.Errorf("%s should be cleared", k)
		}
	}

	_ = r.Put(ctx, "c", []byte("3"), time.Minute)
	if _, ok, _ := r.Get(ctx, "c"); !ok {
		t.Error("cache should be usable after Clear")
	}
}

func TestNewRedisRequiresAddress(t *testing.T) {
	if _, err := NewRedis(context.Background(), RedisConfig{}); err == nil {
		t.Error("expected error without address")
	}
}
