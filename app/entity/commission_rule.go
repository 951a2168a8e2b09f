package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type CommissionRule struct {
	ID uint64

	Percentage    decimal.Decimal
	FixedFeeCents int64
	IsActive      bool

	CreatedAt time.Time
}
