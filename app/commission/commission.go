package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-consultations/app/entity"
)

var (
	ErrInvalidPercentage = errors.New("commission percentage must be between 0 and 100")
	ErrInvalidRange      = errors.New("commission range start must not be after end")
)

var hundred = decimal.NewFromInt(100)

type RuleSource interface {
	FindActive(ctx context.Context) (*entity.CommissionRule, error)
}

type FeeSource interface {
	SumCompletedFees(ctx context.Context, start, end *time.Time) (int64, error)
}

type Split struct {
	Percentage       decimal.Decimal
	PlatformFeeCents int64
	NetAmountCents   int64
	FeeCents         int64
	RuleID           *uint64
}

type Engine struct {
	fallback decimal.Decimal
}

func NewEngine(fallback decimal.Decimal) (*Engine, error) {
	if err := validatePercentage(fallback); err != nil {
		return nil, err
	}
	return &Engine{fallback: fallback}, nil
}

// ParsePercentage reads a percentage such as "10" or "12.5".
func ParsePercentage(raw string) (decimal.Decimal, error) {
	pct, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse commission percentage %q: %w", raw, err)
	}
	if err := validatePercentage(pct); err != nil {
		return decimal.Decimal{}, err
	}
	return pct, nil
}

// Calculate splits amountCents using the active rule, or the engine fallback
// percentage when no rule is active.
func (e *Engine) Calculate(ctx context.Context, rules RuleSource, amountCents int64) (Split, error) {
	rule, err := rules.FindActive(ctx)
	if err != nil {
		return Split{}, err
	}

	pct := e.fallback
	var ruleID *uint64
	if rule != nil {
		if err := validatePercentage(rule.Percentage); err != nil {
			return Split{}, fmt.Errorf("commission rule %d: %w", rule.ID, err)
		}
		pct = rule.Percentage
		id := rule.ID
		ruleID = &id
	}

	split := Compute(amountCents, pct)
	split.RuleID = ruleID
	return split, nil
}

// Compute rounds the platform fee half-up to whole cents. The net amount
// is whatever is left, so fee plus net always equals the amount.
func Compute(amountCents int64, percentage decimal.Decimal) Split {
	platformFee := decimal.NewFromInt(amountCents).
		Mul(percentage).
		Div(hundred).
		Round(0).
		IntPart()

	return Split{
		Percentage:       percentage,
		PlatformFeeCents: platformFee,
		NetAmountCents:   amountCents - platformFee,
		FeeCents:         platformFee,
	}
}

func (e *Engine) TotalCommissions(ctx context.Context, fees FeeSource, start, end *time.Time) (int64, error) {
	if start != nil && end != nil && start.After(*end) {
		return 0, ErrInvalidRange
	}
	return fees.SumCompletedFees(ctx, start, end)
}

func validatePercentage(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return ErrInvalidPercentage
	}
	return nil
}
