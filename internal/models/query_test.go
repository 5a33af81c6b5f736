package models

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestQueryRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *QueryRequest
		maxK    int
		wantErr bool
		wantK   int
	}{
		{"empty question", &QueryRequest{Question: ""}, 20, true, 0},
		{"whitespace question", &QueryRequest{Question: "  \n "}, 20, true, 0},
		{"sets default k", &QueryRequest{Question: "x"}, 20, false, DefaultTopK},
		{"keeps explicit k", &QueryRequest{Question: "x", K: 5}, 20, false, 5},
		{"caps k", &QueryRequest{Question: "x", K: 200}, 20, false, 20},
		{"no cap when maxK is zero", &QueryRequest{Question: "x", K: 200}, 0, false, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate(tt.maxK)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.query.K != tt.wantK {
				t.Errorf("K = %d, want %d", tt.query.K, tt.wantK)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if Classify(ErrQuery, nil) != nil {
		t.Error("nil error should stay nil")
	}

	err := Classify(ErrIngestion, fmt.Errorf("embed page 2: %w", context.DeadlineExceeded))
	if !errors.Is(err, ErrIngestion) || !errors.Is(err, ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("deadline error not fully classified: %v", err)
	}
	if Kind(err) != "timeout" {
		t.Errorf("Kind = %q, want timeout", Kind(err))
	}

	plain := Classify(ErrQuery, errors.New("boom"))
	if !errors.Is(plain, ErrQuery) || errors.Is(plain, ErrTimeout) {
		t.Errorf("unexpected classification: %v", plain)
	}
	if again := Classify(ErrQuery, plain); again != plain {
		t.Error("already classified error should be returned unchanged")
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(fmt.Errorf("rebuild: %w", context.DeadlineExceeded))
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("deadline error not marked: %v", err)
	}
	if WithTimeout(err) != err {
		t.Error("already marked error should be returned unchanged")
	}
	plain := errors.New("boom")
	if WithTimeout(plain) != plain {
		t.Error("plain error should be returned unchanged")
	}
}

func TestUniqueSources(t *testing.T) {
	got := UniqueSources([]Source{{"a.pdf", 1}, {"b.pdf", 2}, {"a.pdf", 1}, {"a.pdf", 2}})
	want := []Source{{"a.pdf", 1}, {"b.pdf", 2}, {"a.pdf", 2}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPreview(t *testing.T) {
	if Preview("héllo", 2) != "hé" {
		t.Errorf("got %q", Preview("héllo", 2))
	}
	if Preview("short", 200) != "short" {
		t.Error("short text should be unchanged")
	}
}
