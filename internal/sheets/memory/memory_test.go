package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"tally/internal/core"
)

func TestStoreKeepsLastExport(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := []core.Expense{{Description: "Tea", Amount: decimal.NewFromInt(3), Category: "Food"}}
	if err := s.Export(ctx, "u1", first, core.AnalyticsResult{Count: 1}); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if err := s.Export(ctx, "u1", nil, core.AnalyticsResult{}); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	got, ok := s.Last("u1")
	if !ok {
		t.Fatal("expected an export for u1")
	}
	if len(got.Expenses) != 1 {
		t.Errorf("expected header only after empty export, got %d rows", len(got.Expenses))
	}
	if s.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2", s.Calls())
	}
	if _, ok := s.Last("u2"); ok {
		t.Error("u2 was never exported")
	}
}

func TestStoreRejectsEmptyOwner(t *testing.T) {
	if err := New().Export(context.Background(), " ", nil, core.AnalyticsResult{}); err == nil {
		t.Fatal("expected error for empty owner")
	}
}
