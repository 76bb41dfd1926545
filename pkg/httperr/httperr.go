package httperr

import "errors"

type BadRequestError struct {
	msg string
}

func (e *BadRequestError) Error() string { return e.msg }

func NewBadRequest(msg string) error { return &BadRequestError{msg: msg} }

func IsBadRequest(err error) bool {
	_, ok := errors.AsType[*BadRequestError](err)
	return ok
}

// ForbiddenError deliberately carries no detail: tenant and
// authorization failures surface to clients as a generic denial so the
// specific invariant that failed cannot be probed.
type ForbiddenError struct{}

func (e *ForbiddenError) Error() string { return "forbidden" }

func NewForbidden() error { return &ForbiddenError{} }

func IsForbidden(err error) bool {
	_, ok := errors.AsType[*ForbiddenError](err)
	return ok
}

type NotFoundError struct{}

func (e *NotFoundError) Error() string { return "not found" }

func NewNotFound() error { return &NotFoundError{} }

func IsNotFound(err error) bool {
	_, ok := errors.AsType[*NotFoundError](err)
	return ok
}

// RateLimitedError is the one denial that is explicit to clients: it is
// retryable after the window, and hiding that would only cause blind
// retries.
type RateLimitedError struct{}

func (e *RateLimitedError) Error() string { return "rate limited" }

func NewRateLimited() error { return &RateLimitedError{} }

func IsRateLimited(err error) bool {
	_, ok := errors.AsType[*RateLimitedError](err)
	return ok
}
