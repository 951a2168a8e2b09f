package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidState       = errors.New("invalid state")
	ErrCapacityExceeded   = errors.New("professional meeting capacity exceeded")
	ErrInvalidSignature   = errors.New("invalid notification signature")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayUnsupported = errors.New("payment gateway is not supported")
	ErrCheckoutConfig     = errors.New("checkout is misconfigured")
)

// Resource-specific lookups wrap ErrNotFound so callers can match either.
var (
	ErrBookingNotFound      = fmt.Errorf("booking %w", ErrNotFound)
	ErrProfessionalNotFound = fmt.Errorf("professional %w", ErrNotFound)
)
