package storage

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/hyperjump/tanya/internal/models"
)

// Set TANYA_TEST_REDIS_ADDR to run against a live server.
func TestRedisTurnStore(t *testing.T) {
	addr := os.Getenv("TANYA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TANYA_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, addr, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	store := NewRedisTurnStore(client, 2)
	user := "test-" + uuid.New().String()
	defer store.DeleteTurns(ctx, user)

	for _, q := range []string{"q1", "q2", "q3"} {
		if err := store.AppendTurn(ctx, &models.Turn{UserID: user, Question: q, Answer: "a"}); err != nil {
			t.Fatal(err)
		}
	}
	turns, err := store.RecentTurns(ctx, user, 6)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 || turns[0].Question != "q3" || turns[1].Question != "q2" {
		t.Errorf("turns=%+v", turns)
	}
}

func TestTurnKey(t *testing.T) {
	if got := turnKey("alice"); got != "tanya:turns:alice" {
		t.Errorf("turnKey=%s", got)
	}
}
