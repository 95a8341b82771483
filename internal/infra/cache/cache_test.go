package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
	"github.com/boddenberg/recurring-ledger-go/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Stop()

	c.Set("key1", "value1")
	val, ok := c.Get("key1")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val != "value1" {
		t.Errorf("expected 'value1', got '%s'", val)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Stop()

	_, ok := c.Get("nonexistent")
	if ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)
	defer c.Stop()

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Stop()

	c.Set("key1", "value1")
	c.Delete("key1")

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestCache_GetOrLoad(t *testing.T) {
	c := cache.New[domain.Account](5 * time.Minute)
	defer c.Stop()

	loads := 0
	load := func(context.Context) (domain.Account, error) {
		loads++
		return domain.Account{ID: "acc-1", Name: "Checking", Currency: "USD"}, nil
	}

	first, hit, err := c.GetOrLoad(context.Background(), "acc-1", load)
	if err != nil || hit {
		t.Fatalf("expected miss without error, got hit=%v err=%v", hit, err)
	}
	second, hit, err := c.GetOrLoad(context.Background(), "acc-1", load)
	if err != nil || !hit {
		t.Fatalf("expected hit without error, got hit=%v err=%v", hit, err)
	}
	if loads != 1 {
		t.Errorf("expected 1 load, got %d", loads)
	}
	if first.Name != second.Name {
		t.Errorf("expected same account, got %q and %q", first.Name, second.Name)
	}
}

func TestCache_GetOrLoadErrorNotCached(t *testing.T) {
	c := cache.New[int](5 * time.Minute)
	defer c.Stop()

	boom := errors.New("boom")
	if _, _, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected failed load not to be cached")
	}
}

func TestCache_StopIsIdempotent(t *testing.T) {
	c := cache.New[int](time.Millisecond)
	c.Stop()
	c.Stop()
}
