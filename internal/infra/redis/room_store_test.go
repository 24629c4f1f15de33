package redis

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quizroom-service/internal/app"
)

func TestRoomStoreSetsAndClearsLivenessKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRoomStore(client, time.Minute)

	if !store.Put("ABC123", &app.Room{}) {
		t.Fatalf("expected insert to succeed")
	}
	if !mr.Exists("room:live:ABC123") {
		t.Fatalf("expected redis liveness key to be set")
	}
	if store.Put("ABC123", &app.Room{}) {
		t.Fatalf("expected code collision to be rejected")
	}

	store.Delete("ABC123")
	if mr.Exists("room:live:ABC123") {
		t.Fatalf("expected redis liveness key to be removed")
	}
}
