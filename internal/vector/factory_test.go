package vector

import (
	"context"
	"testing"
)

func TestNewVectorIndex(t *testing.T) {
	tests := []struct {
		name      string
		indexType string
		dims      int
		wantErr   bool
	}{
		{"memory", "memory", 3, false},
		{"empty type defaults to memory", "", 3, false},
		{"unknown type", "hnsw", 3, true},
		{"zero dimension", "memory", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := NewVectorIndex(tt.indexType, tt.dims)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewVectorIndex(%q): %v", tt.indexType, err)
			}
			defer idx.Close()
			if idx.Size() != 0 || idx.Dimensions() != tt.dims {
				t.Errorf("Size=%d Dimensions=%d", idx.Size(), idx.Dimensions())
			}
		})
	}
}

func TestNewVectorIndex_FAISSPositions(t *testing.T) {
	if !IsFAISSAvailable() {
		t.Skip("FAISS not available (build with -tags=faiss)")
	}
	idx, err := NewVectorIndex("faiss", 3)
	if err != nil {
		t.Fatalf("NewVectorIndex(faiss): %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	for want := 0; want < 3; want++ {
		start, err := idx.Append(ctx, [][]float32{{1, 0, 0}})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if start != want {
			t.Errorf("Append start = %d, want %d", start, want)
		}
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d, want 3", idx.Size())
	}
}
