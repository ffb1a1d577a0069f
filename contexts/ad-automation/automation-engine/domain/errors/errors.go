package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrRuleNotFound       = errors.New("automation rule not found")
	ErrInvalidRuleConfig  = errors.New("invalid automation rule config")
	ErrUnsupportedRule    = errors.New("unsupported automation rule type")
	ErrEmptyScope         = errors.New("rule has no campaign scope")
	ErrMissingCredentials = errors.New("advertising credentials are not configured")
	ErrTickInProgress     = errors.New("automation tick already in progress")
	ErrSKUUnresolvable    = errors.New("source asin could not be resolved to a sku")
	ErrOverrideExists     = errors.New("budget override already recorded for date")

	ErrNotFound    = errors.New("external resource not found")
	ErrRateLimited = errors.New("external api rate limited")
	ErrUnavailable = errors.New("external api unavailable")
	ErrValidation  = errors.New("external api rejected request")
)

// APIError is the normalized failure of an external call.
type APIError struct {
	Operation string
	Status    int
	Code      string
	Message   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: status %d: %s: %s", e.Operation, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Operation, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusTooManyRequests || e.Code == "THROTTLED" || e.Code == "RATE_LIMITED":
		return ErrRateLimited
	case e.Status == http.StatusServiceUnavailable || e.Status == http.StatusBadGateway ||
		e.Status == http.StatusGatewayTimeout || e.Status == 529 || e.Code == "OVERLOADED":
		return ErrUnavailable
	case e.Status == http.StatusNotFound || e.Code == "NOT_FOUND":
		return ErrNotFound
	case e.Status >= 400 && e.Status < 500:
		return ErrValidation
	default:
		return nil
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}
