package commission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-consultations/app/entity"
)

type fakeRules struct {
	rule *entity.CommissionRule
	err  error
}

func (f fakeRules) FindActive(context.Context) (*entity.CommissionRule, error) {
	return f.rule, f.err
}

type fakeFees struct {
	total      int64
	start, end *time.Time
	called     bool
}

func (f *fakeFees) SumCompletedFees(_ context.Context, start, end *time.Time) (int64, error) {
	f.called = true
	f.start = start
	f.end = end
	return f.total, nil
}

func mustEngine(t *testing.T, pct string) *Engine {
	t.Helper()
	p, err := ParsePercentage(pct)
	if err != nil {
		t.Fatalf("parse percentage: %v", err)
	}
	engine, err := NewEngine(p)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func TestComputeSplitsAmount(t *testing.T) {
	cases := []struct {
		name   string
		amount int64
		pct    string
		fee    int64
	}{
		{name: "whole", amount: 10000, pct: "10", fee: 1000},
		{name: "rounds half up", amount: 1005, pct: "10", fee: 101},
		{name: "rounds down", amount: 1004, pct: "10", fee: 100},
		{name: "fractional rate", amount: 3333, pct: "12.5", fee: 417},
		{name: "zero rate", amount: 5000, pct: "0", fee: 0},
		{name: "full rate", amount: 5000, pct: "100", fee: 5000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			split := Compute(tc.amount, decimal.RequireFromString(tc.pct))
			if split.PlatformFeeCents != tc.fee {
				t.Fatalf("expected fee %d, got %d", tc.fee, split.PlatformFeeCents)
			}
			if split.FeeCents != split.PlatformFeeCents {
				t.Fatalf("fee %d differs from platform fee %d", split.FeeCents, split.PlatformFeeCents)
			}
			if split.PlatformFeeCents+split.NetAmountCents != tc.amount {
				t.Fatalf("split does not add up: %+v", split)
			}
		})
	}
}

func TestCalculateUsesActiveRule(t *testing.T) {
	engine := mustEngine(t, "10")
	rules := fakeRules{rule: &entity.CommissionRule{ID: 4, Percentage: decimal.NewFromInt(20), IsActive: true}}

	split, err := engine.Calculate(context.Background(), rules, 15000)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if split.PlatformFeeCents != 3000 || split.NetAmountCents != 12000 {
		t.Fatalf("unexpected split: %+v", split)
	}
	if split.RuleID == nil || *split.RuleID != 4 {
		t.Fatalf("expected rule id 4, got %v", split.RuleID)
	}
}

func TestCalculateFallsBackWithoutRule(t *testing.T) {
	engine := mustEngine(t, "10")

	split, err := engine.Calculate(context.Background(), fakeRules{}, 15000)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if split.PlatformFeeCents != 1500 || split.RuleID != nil {
		t.Fatalf("unexpected split: %+v", split)
	}
}

func TestCalculatePropagatesLookupError(t *testing.T) {
	engine := mustEngine(t, "10")
	lookupErr := errors.New("db down")

	if _, err := engine.Calculate(context.Background(), fakeRules{err: lookupErr}, 100); !errors.Is(err, lookupErr) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}

func TestCalculateRejectsBrokenRule(t *testing.T) {
	engine := mustEngine(t, "10")
	rules := fakeRules{rule: &entity.CommissionRule{ID: 9, Percentage: decimal.NewFromInt(150)}}

	if _, err := engine.Calculate(context.Background(), rules, 100); !errors.Is(err, ErrInvalidPercentage) {
		t.Fatalf("expected invalid percentage, got %v", err)
	}
}

func TestParsePercentage(t *testing.T) {
	if _, err := ParsePercentage("abc"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ParsePercentage("-1"); !errors.Is(err, ErrInvalidPercentage) {
		t.Fatalf("expected invalid percentage, got %v", err)
	}
	if _, err := ParsePercentage("100.01"); !errors.Is(err, ErrInvalidPercentage) {
		t.Fatalf("expected invalid percentage, got %v", err)
	}
}

func TestTotalCommissions(t *testing.T) {
	engine := mustEngine(t, "10")
	fees := &fakeFees{total: 4200}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	total, err := engine.TotalCommissions(context.Background(), fees, &start, &end)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if total != 4200 {
		t.Fatalf("expected 4200, got %d", total)
	}
	if fees.start == nil || !fees.start.Equal(start) || fees.end == nil || !fees.end.Equal(end) {
		t.Fatalf("range not forwarded: %v %v", fees.start, fees.end)
	}
}

func TestTotalCommissionsRejectsInvertedRange(t *testing.T) {
	engine := mustEngine(t, "10")
	fees := &fakeFees{}
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)

	if _, err := engine.TotalCommissions(context.Background(), fees, &start, &end); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected invalid range, got %v", err)
	}
	if fees.called {
		t.Fatal("fee source should not be queried")
	}
}
