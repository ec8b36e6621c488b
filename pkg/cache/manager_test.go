package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/sdsc-collector/pkg/model"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis and skips when none is running.
// The integration suite covers the same paths against a container.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewManager(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	manager := NewManager(client, time.Hour)
	if manager == nil {
		t.Fatal("NewManager returned nil")
	}
	if manager.redis != client {
		t.Error("Manager redis client not set correctly")
	}
	if manager.ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", manager.ttl)
	}

	if m := NewManager(client, -time.Second); m.ttl != 0 {
		t.Errorf("negative ttl = %v, want 0", m.ttl)
	}
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil, 0)
}

func TestManager_SaveAndLoad(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client, time.Hour)
	ctx := context.Background()

	records := []model.RawRecord{
		{"bizesId": "MA0001", "bizesNm": "가게1", "lon": "126.97"},
		{"bizesId": "MA0002", "bizesNm": "가게2"},
	}

	if err := manager.Save(ctx, records, "서울특별시", "종로구"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	exists, err := manager.Exists(ctx, "서울특별시", "종로구")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !exists {
		t.Error("Exists() = false, want true")
	}

	got, err := manager.Load(ctx, "서울특별시", "종로구")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(Load()) = %d, want 2", len(got))
	}
	if got[0]["lon"] != "126.97" || got[1]["bizesNm"] != "가게2" {
		t.Errorf("Load() = %v", got)
	}

	ttl := client.TTL(ctx, CacheKey{TopLevel: "서울특별시", SubLevel: "종로구"}.String()).Val()
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("redis TTL = %v, want (0, 1h]", ttl)
	}
}

func TestManager_LoadMiss(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client, 0)
	ctx := context.Background()

	_, err := manager.Load(ctx, "서울특별시", "없는구")
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Load() error = %v, want ErrCacheMiss", err)
	}

	exists, err := manager.Exists(ctx, "서울특별시", "없는구")
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Error("Exists() = true, want false")
	}
}

func TestManager_LoadCorrupted(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client, 0)
	ctx := context.Background()

	key := CacheKey{TopLevel: "서울특별시", SubLevel: "중구"}.String()
	if err := client.Set(ctx, key, "not json", 0).Err(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := manager.Load(ctx, "서울특별시", "중구")
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Load() error = %v, want ErrInvalidEntry", err)
	}
}

func TestManager_Delete(t *testing.T) {
	client := setupTestRedis(t)
	manager := NewManager(client, 0)
	ctx := context.Background()

	records := []model.RawRecord{{"bizesId": "MA0001"}}
	if err := manager.Save(ctx, records, "서울특별시", "종로구"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := manager.Delete(ctx, "서울특별시", "종로구"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := manager.Load(ctx, "서울특별시", "종로구"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Load() after Delete error = %v, want ErrCacheMiss", err)
	}
}
