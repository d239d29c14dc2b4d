package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"quiz-sync/internal/domain"
)

func TestRoomStoreSetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewRoomStore(newClient(mr), time.Minute)

	room := store.GetOrCreate("r1")
	if !mr.Exists("room:live:r1") {
		t.Fatalf("expected redis key to be set")
	}
	if ttl := mr.TTL("room:live:r1"); ttl != time.Minute {
		t.Fatalf("expected liveness ttl, got %v", ttl)
	}
	active, err := store.Active(context.Background())
	if err != nil || len(active) != 1 || active[0] != "r1" {
		t.Fatalf("expected r1 active, got %v / %v", active, err)
	}

	room.Join(domain.PlayerProfile{ID: "p1"})
	store.DeleteIfEmpty("r1")
	if !mr.Exists("room:live:r1") {
		t.Fatalf("occupied room must stay live")
	}

	room.Leave("p1")
	store.DeleteIfEmpty("r1")
	if mr.Exists("room:live:r1") {
		t.Fatalf("expected redis key to be removed")
	}
	if active, _ := store.Active(context.Background()); len(active) != 0 {
		t.Fatalf("expected no active rooms, got %v", active)
	}
}

func TestRoomStoreRefreshesLiveness(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewRoomStore(newClient(mr), time.Minute)
	store.GetOrCreate("r1")
	mr.FastForward(50 * time.Second)
	if _, ok := store.Get("r1"); !ok {
		t.Fatalf("expected room")
	}
	if ttl := mr.TTL("room:live:r1"); ttl != time.Minute {
		t.Fatalf("expected lookup to refresh ttl, got %v", ttl)
	}
}
