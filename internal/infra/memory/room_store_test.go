package memory

import (
	"testing"

	"quizroom-service/internal/app"
)

func TestRoomStoreLifecycle(t *testing.T) {
	store := NewRoomStore()

	if !store.Put("ABC123", &app.Room{}) {
		t.Fatalf("expected insert to succeed")
	}
	if store.Put("ABC123", &app.Room{}) {
		t.Fatalf("expected code collision to be rejected")
	}
	if _, ok := store.Get("ABC123"); !ok {
		t.Fatalf("expected room present")
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 room, got %d", store.Len())
	}

	store.Delete("ABC123")
	if _, ok := store.Get("ABC123"); ok {
		t.Fatalf("expected room removed")
	}
}
