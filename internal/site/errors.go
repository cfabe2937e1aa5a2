package site

import (
	"fmt"

	"github.com/shopspring/decimal"

	"signalbet/internal/models"
)

type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "site: login failed: " + e.Reason
	}
	return fmt.Sprintf("site: login failed: %s: %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

type UnknownBetTypeError struct {
	BetType models.BetType
}

func (e *UnknownBetTypeError) Error() string {
	return fmt.Sprintf("site: unknown bet type %q", string(e.BetType))
}

// ConfirmationTimeoutError means the confirm click went through but no
// confirmation marker appeared. The bet may or may not exist on the site.
type ConfirmationTimeoutError struct {
	BetType models.BetType
	Amount  decimal.Decimal
	Err     error
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("site: no confirmation for %s bet of %s: %v", e.BetType, e.Amount.String(), e.Err)
}

func (e *ConfirmationTimeoutError) Unwrap() error { return e.Err }
