package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func startMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(s.Close)
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return s, rc
}

func TestCacheSetGet(t *testing.T) {
	_, rc := startMiniRedis(t)
	c := NewCache[record](rc, "records")
	ctx := context.Background()

	want := &record{Name: "alpha", Count: 3}
	if err := c.Set(ctx, "a", want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := c.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.Name != "alpha" || got.Count != 3 {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func TestCacheMiss(t *testing.T) {
	_, rc := startMiniRedis(t)
	c := NewCache[record](rc, "records")

	got, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() on miss = %+v, want nil", got)
	}
}

func TestCacheKeyPrefix(t *testing.T) {
	s, rc := startMiniRedis(t)
	c := NewCache[record](rc, "records")

	if err := c.Set(context.Background(), "a", &record{Name: "x"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if !s.Exists("records:a") {
		t.Error("expected key records:a to exist")
	}
}

func TestCacheExpiry(t *testing.T) {
	s, rc := startMiniRedis(t)
	c := NewCache[record](rc, "records")
	ctx := context.Background()

	if err := c.Set(ctx, "a", &record{Name: "x"}, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	s.FastForward(2 * time.Minute)

	got, err := c.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() after expiry = %+v, want nil", got)
	}
}

func TestCacheDeleteAndExists(t *testing.T) {
	_, rc := startMiniRedis(t)
	c := NewCache[record](rc, "records")
	ctx := context.Background()

	if err := c.Set(ctx, "a", &record{Name: "x"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	exists, err := c.Exists(ctx, "a")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !exists {
		t.Error("Exists() = false, want true")
	}

	if err := c.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	exists, err = c.Exists(ctx, "a")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Error("Exists() after delete = true, want false")
	}
}

func TestCacheNilClient(t *testing.T) {
	c := NewCache[record](nil, "records")
	ctx := context.Background()

	if _, err := c.Get(ctx, "a"); err == nil {
		t.Error("Get() with nil client expected error")
	}
	if err := c.Set(ctx, "a", &record{}); err == nil {
		t.Error("Set() with nil client expected error")
	}
}
