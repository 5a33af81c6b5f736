package embedding

import (
	"context"
	"math"
	"testing"
)

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(32)
	ctx := context.Background()

	a, err := e.Embed(ctx, "The capital of France is Paris")
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 32 {
		t.Fatalf("len=%d", len(a))
	}
	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-4 {
		t.Errorf("norm^2=%f, want 1", norm)
	}

	b, _ := e.Embed(ctx, "The capital of France is Paris")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding not deterministic")
		}
	}

	if NewHashEmbedder(0).Dimensions() != 384 {
		t.Error("default dimension should be 384")
	}
}

func TestHashEmbedder_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHashEmbedder(4).Embed(ctx, "x"); err == nil {
		t.Error("expected context error")
	}
}
