package costs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/quotaflow-ai/quotaflow/pkg/journal"
	"github.com/quotaflow-ai/quotaflow/pkg/models"
)

var testCatalog = []models.ModelInfo{
	{
		ID:              "swift-9b",
		Name:            "Swift 9B",
		InputTokenCost:  1,
		OutputTokenCost: 2,
		ContextWindow:   8192,
		Features:        []string{"NLP", "QA"},
	},
	{
		ID:              "grand-70b",
		Name:            "Grand 70B",
		InputTokenCost:  3,
		OutputTokenCost: 6,
		ContextWindow:   32768,
		Features:        []string{"NLP", "QA", "SUM"},
	},
}

func newTestManager(alloc int64) *Manager {
	m := New(Config{DailyTokenAllocation: alloc})
	m.RegisterModels(testCatalog)
	return m
}

func TestCanUseModelCharges(t *testing.T) {
	m := newTestManager(100000)
	ctx := context.Background()

	// 1000 input at rate 1 + 1000 output at rate 2 (per 1K) = 3000 tokens.
	res, err := m.CanUseModel(ctx, "u1", "swift-9b", 1000, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Allowed {
		t.Fatal("expected allowed")
	}
	if res.EstimatedCost != 3000 {
		t.Errorf("expected cost 3000, got %d", res.EstimatedCost)
	}
	if res.RemainingTokens != 97000 {
		t.Errorf("expected 97000 remaining, got %d", res.RemainingTokens)
	}
}

func TestCanUseModelRoundsUp(t *testing.T) {
	m := New(Config{DailyTokenAllocation: 1000})
	m.RegisterModel(models.ModelInfo{ID: "frac", InputTokenCost: 0.15, OutputTokenCost: 0.2})
	ctx := context.Background()

	// 7*0.15 + 3*0.2 = 1.65, charged as 2.
	res, err := m.CanUseModel(ctx, "u1", "frac", 7, 3)
	if err != nil {
		t.Fatal(err)
	}
	if res.EstimatedCost != 2 {
		t.Errorf("expected ceil to 2, got %d", res.EstimatedCost)
	}
}

func TestCanUseModelDeniedWithoutCharge(t *testing.T) {
	m := newTestManager(1000)
	ctx := context.Background()

	res, err := m.CanUseModel(ctx, "u1", "swift-9b", 1000, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Fatal("expected denial")
	}
	if res.EstimatedCost != 3000 {
		t.Errorf("denial must still carry the estimate, got %d", res.EstimatedCost)
	}
	if res.TimeUntilRefill <= 0 {
		t.Errorf("expected positive refill time, got %v", res.TimeUntilRefill)
	}
	if bal := m.Balance("u1"); bal.RemainingTokens != 1000 {
		t.Errorf("denial must not charge: got %d", bal.RemainingTokens)
	}
}

func TestCanUseModelUnknown(t *testing.T) {
	m := newTestManager(1000)

	_, err := m.CanUseModel(context.Background(), "u1", "nonexistent", 10, 10)
	if err == nil {
		t.Fatal("expected error for unknown model")
	}
	if !errors.Is(err, ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}
}

func TestCanUseModelNegativeTokens(t *testing.T) {
	m := newTestManager(1000)

	if _, err := m.CanUseModel(context.Background(), "u1", "swift-9b", -10, 10); err == nil {
		t.Error("expected error for negative input tokens")
	}
	if bal := m.Balance("u1"); bal.RemainingTokens != 1000 {
		t.Errorf("rejected call must not charge: got %d", bal.RemainingTokens)
	}
}

func TestRecordActualUsageRefund(t *testing.T) {
	m := newTestManager(100000)
	ctx := context.Background()

	res, err := m.CanUseModel(ctx, "u1", "swift-9b", 1000, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if res.EstimatedCost != 3000 {
		t.Fatalf("expected estimate 3000, got %d", res.EstimatedCost)
	}

	// Actual usage 500/500 costs 1500; the overestimate comes back.
	refund, err := m.RecordActualUsage(ctx, "u1", "swift-9b", 500, 500, 1000, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if refund != 1500 {
		t.Errorf("expected refund 1500, got %d", refund)
	}

	// A refund is a bonus grant: it raises the allocation, not just the
	// balance.
	bal := m.Balance("u1")
	if bal.RemainingTokens != 98500 {
		t.Errorf("expected 98500 remaining, got %d", bal.RemainingTokens)
	}
	if bal.DailyAllocation != 101500 {
		t.Errorf("expected allocation 101500, got %d", bal.DailyAllocation)
	}
}

func TestRecordActualUsageUnderestimate(t *testing.T) {
	m := newTestManager(100000)
	ctx := context.Background()

	if _, err := m.CanUseModel(ctx, "u1", "swift-9b", 1000, 1000); err != nil {
		t.Fatal(err)
	}
	before := m.Balance("u1")

	// Actual above estimate: no refund, and no retroactive charge either.
	refund, err := m.RecordActualUsage(ctx, "u1", "swift-9b", 2000, 2000, 1000, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if refund != 0 {
		t.Errorf("expected no refund, got %d", refund)
	}
	after := m.Balance("u1")
	if after.RemainingTokens != before.RemainingTokens || after.DailyAllocation != before.DailyAllocation {
		t.Errorf("underestimate must not touch the ledger: %+v vs %+v", before, after)
	}
}

func TestRecordActualUsageUnknown(t *testing.T) {
	m := newTestManager(1000)

	_, err := m.RecordActualUsage(context.Background(), "u1", "nonexistent", 1, 1, 1, 1)
	if !errors.Is(err, ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}
}

func TestFindAffordableModelPicksLowestRate(t *testing.T) {
	catalogs := [][]models.ModelInfo{
		testCatalog,
		{testCatalog[1], testCatalog[0]}, // swapped registration order
	}
	for _, catalog := range catalogs {
		m := New(Config{DailyTokenAllocation: 100000})
		m.RegisterModels(catalog)

		choice, err := m.FindAffordableModel("u1", []string{"NLP", "QA"}, 100, 100)
		if err != nil {
			t.Fatal(err)
		}
		if choice == nil {
			t.Fatal("expected a choice")
		}
		// swift-9b costs 300 for this call vs 900 for grand-70b; the lower
		// rate must win regardless of registration order.
		if choice.ModelID != "swift-9b" {
			t.Errorf("expected swift-9b, got %s", choice.ModelID)
		}
		if choice.EstimatedCost != 300 {
			t.Errorf("expected cost 300, got %d", choice.EstimatedCost)
		}
		if choice.RemainingTokens != 99700 {
			t.Errorf("expected 99700 projected remaining, got %d", choice.RemainingTokens)
		}
	}
}

func TestFindAffordableModelRateTie(t *testing.T) {
	m := New(Config{DailyTokenAllocation: 100000})
	m.RegisterModels([]models.ModelInfo{
		{ID: "second", InputTokenCost: 1, OutputTokenCost: 1, Features: []string{"NLP"}},
		{ID: "first", InputTokenCost: 1, OutputTokenCost: 1, Features: []string{"NLP"}},
	})

	choice, err := m.FindAffordableModel("u1", []string{"NLP"}, 50, 50)
	if err != nil {
		t.Fatal(err)
	}
	if choice == nil || choice.ModelID != "second" {
		t.Errorf("exact rate ties go to the earlier-registered model, got %+v", choice)
	}
}

func TestFindAffordableModelFeatureFilter(t *testing.T) {
	m := newTestManager(100000)

	// Only grand-70b has SUM, even though swift-9b is cheaper.
	choice, err := m.FindAffordableModel("u1", []string{"NLP", "SUM"}, 100, 100)
	if err != nil {
		t.Fatal(err)
	}
	if choice == nil || choice.ModelID != "grand-70b" {
		t.Errorf("expected grand-70b, got %+v", choice)
	}

	if choice, _ := m.FindAffordableModel("u1", []string{"VISION"}, 100, 100); choice != nil {
		t.Errorf("expected no model with unsupported feature, got %+v", choice)
	}
}

func TestFindAffordableModelBudgetFilter(t *testing.T) {
	// Balance of 500 affords swift-9b (300) but not grand-70b (900).
	m := newTestManager(500)

	choice, err := m.FindAffordableModel("u1", []string{"NLP", "SUM"}, 100, 100)
	if err != nil {
		t.Fatal(err)
	}
	if choice != nil {
		t.Errorf("expected none when the only capable model is unaffordable, got %+v", choice)
	}

	choice, err = m.FindAffordableModel("u1", []string{"NLP"}, 100, 100)
	if err != nil {
		t.Fatal(err)
	}
	if choice == nil || choice.ModelID != "swift-9b" {
		t.Errorf("expected swift-9b within budget, got %+v", choice)
	}
}

func TestFindAffordableModelDoesNotCharge(t *testing.T) {
	m := newTestManager(100000)

	if _, err := m.FindAffordableModel("u1", []string{"NLP"}, 100, 100); err != nil {
		t.Fatal(err)
	}
	if bal := m.Balance("u1"); bal.RemainingTokens != 100000 {
		t.Errorf("search must be read-only, got %d", bal.RemainingTokens)
	}
}

func TestEstimateTokenCount(t *testing.T) {
	m := newTestManager(1000)

	cases := []struct {
		text string
		want int64
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"What is the capital of France?", 8},
	}
	for _, c := range cases {
		if got := m.EstimateTokenCount(c.text); got != c.want {
			t.Errorf("EstimateTokenCount(%q) = %d, want %d", c.text, got, c.want)
		}
	}
}

func TestRegisterModelUpsert(t *testing.T) {
	m := newTestManager(1000)

	m.RegisterModel(models.ModelInfo{
		ID:              "swift-9b",
		Name:            "Swift 9B v2",
		InputTokenCost:  5,
		OutputTokenCost: 5,
		Features:        []string{"NLP"},
	})

	catalog := m.Models()
	if len(catalog) != 2 {
		t.Fatalf("upsert must not grow the catalog, got %d entries", len(catalog))
	}
	if catalog[0].ID != "swift-9b" || catalog[0].Name != "Swift 9B v2" {
		t.Errorf("expected updated model in original position, got %+v", catalog[0])
	}

	cost, err := m.EstimateCost("swift-9b", 100, 100)
	if err != nil {
		t.Fatal(err)
	}
	if cost != 1000 {
		t.Errorf("expected updated pricing 1000, got %d", cost)
	}
}

func TestAddUserTokens(t *testing.T) {
	m := newTestManager(1000)

	if err := m.AddUserTokens(context.Background(), "u1", 500); err != nil {
		t.Fatal(err)
	}
	if bal := m.Balance("u1"); bal.DailyAllocation != 1500 {
		t.Errorf("expected allocation 1500, got %d", bal.DailyAllocation)
	}
}

func TestJournalRecordsLifecycle(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "costs_test.db")
	j, err := journal.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = j.Close() })

	m := New(Config{DailyTokenAllocation: 100000, Journal: j})
	m.RegisterModels(testCatalog)
	ctx := context.Background()

	if _, err := m.CanUseModel(ctx, "u1", "swift-9b", 1000, 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := m.RecordActualUsage(ctx, "u1", "swift-9b", 500, 500, 1000, 1000); err != nil {
		t.Fatal(err)
	}
	if err := m.AddUserTokens(ctx, "u1", 250); err != nil {
		t.Fatal(err)
	}

	entries, err := j.RecentByUser(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected charge + refund + grant, got %d entries", len(entries))
	}

	kinds := map[models.JournalKind]int64{}
	for _, e := range entries {
		kinds[e.Kind] = e.Tokens
	}
	if kinds[models.JournalCharge] != 3000 {
		t.Errorf("expected charge of 3000, got %d", kinds[models.JournalCharge])
	}
	if kinds[models.JournalRefund] != 1500 {
		t.Errorf("expected refund of 1500, got %d", kinds[models.JournalRefund])
	}
	if kinds[models.JournalGrant] != 250 {
		t.Errorf("expected grant of 250, got %d", kinds[models.JournalGrant])
	}

	// Denials must not be journaled.
	if _, err := m.CanUseModel(ctx, "u2", "swift-9b", 1<<30, 1<<30); err != nil {
		t.Fatal(err)
	}
	if entries, _ := j.RecentByUser(ctx, "u2", 10); len(entries) != 0 {
		t.Errorf("denied requests must not be journaled, got %d entries", len(entries))
	}
}
