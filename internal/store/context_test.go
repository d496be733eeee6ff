package store

import (
	"context"
	"strings"
	"testing"

	"github.com/rcliao/memops/internal/model"
)

func TestContextPacksInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustInsert(t, s, model.Memory{Text: "Go is a statically typed language"})
	b := mustInsert(t, s, model.Memory{Text: "Rust is a systems language with borrow checker"})
	c := mustInsert(t, s, model.Memory{Text: "deleted", Deleted: true})

	result, err := s.Context(ctx, ContextParams{IDs: []int64{b, c, a}, Budget: 4000})
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	if result.Budget != 4000 {
		t.Errorf("expected budget 4000, got %d", result.Budget)
	}
	ids := result.IDs()
	if len(ids) != 2 || ids[0] != b || ids[1] != a {
		t.Errorf("expected [%d %d], got %v", b, a, ids)
	}
	if !strings.HasPrefix(result.Text(), "- Rust") {
		t.Errorf("unexpected text %q", result.Text())
	}
}

func TestContextBudgetLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	longContent := strings.Repeat("This is a line about programming languages and their features. ", 100)
	big := mustInsert(t, s, model.Memory{Text: longContent})
	small := mustInsert(t, s, model.Memory{Text: "Go is great for programming"})

	result, err := s.Context(ctx, ContextParams{IDs: []int64{big, small}, Budget: 50})
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	if len(result.Memories) != 1 {
		t.Fatalf("expected the first record excerpted and packing stopped, got %d", len(result.Memories))
	}
	if !result.Memories[0].Excerpt {
		t.Error("expected excerpt")
	}
	if result.Used > 60 {
		t.Errorf("used %d tokens, exceeds budget", result.Used)
	}
}

func TestContextTinyBudget(t *testing.T) {
	s := newTestStore(t)
	id := mustInsert(t, s, model.Memory{Text: "a record longer than four characters"})

	result, err := s.Context(context.Background(), ContextParams{IDs: []int64{id}, Budget: 1})
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	if len(result.Memories) != 1 || result.Memories[0].Text != "a re..." {
		t.Errorf("unexpected packing %+v", result.Memories)
	}
}
