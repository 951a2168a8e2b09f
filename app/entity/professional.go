package entity

import "time"

type Professional struct {
	ID uint64

	UserID uint64
	Name   string
	Email  string
	Phone  *string

	HourlyRateCents int64
	Currency        string

	CreatedAt time.Time
	UpdatedAt time.Time
}
