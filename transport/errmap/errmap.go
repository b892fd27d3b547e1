// Package errmap turns guard outcomes into go-errors problems and HTTP
// responses for the transport adapters.
package errmap

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-call-guard/guard"
)

const (
	TextCodeRateLimited = "RATE_LIMITED"
	TextCodeTimeout     = "TIMEOUT"
	TextCodeInternal    = "INTERNAL"
)

// Problem classifies err. Errors that already are go-errors are returned
// as they are.
func Problem(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var ge *goerrors.Error
	if errors.As(err, &ge) {
		return ge
	}

	if rle, ok := guard.AsRateLimitExceeded(err); ok {
		return goerrors.Wrap(err, goerrors.CategoryRateLimit, rle.Message).
			WithCode(http.StatusTooManyRequests).
			WithTextCode(TextCodeRateLimited).
			WithMetadata(map[string]any{
				"operation":   rle.Operation,
				"limit":       rle.Limit,
				"retry_after": RetryAfterSeconds(rle),
			})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "operation timed out").
			WithCode(http.StatusGatewayTimeout).
			WithTextCode(TextCodeTimeout)
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, "internal error").
		WithCode(http.StatusInternalServerError).
		WithTextCode(TextCodeInternal)
}

// StatusCode returns the HTTP status for a problem.
func StatusCode(p *goerrors.Error) int {
	if p == nil {
		return http.StatusOK
	}
	if p.Code >= 400 && p.Code < 600 {
		return p.Code
	}
	switch p.Category {
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON document written for a failed request.
type Body struct {
	Error Detail `json:"error"`
}

type Detail struct {
	Category string         `json:"category"`
	Code     int            `json:"code"`
	TextCode string         `json:"text_code,omitempty"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Render returns the status and body for err.
func Render(err error) (int, Body) {
	p := Problem(err)
	status := StatusCode(p)
	return status, Body{Error: Detail{
		Category: string(p.Category),
		Code:     status,
		TextCode: p.TextCode,
		Message:  p.Message,
		Metadata: p.Metadata,
	}}
}

// RetryAfterSeconds rounds the retry hint of a rejection up to whole seconds.
func RetryAfterSeconds(rle *guard.RateLimitExceeded) int {
	if rle == nil || rle.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(rle.RetryAfter.Seconds()))
}

// RetryAfterHeader returns the Retry-After value for err, and false when err
// is not a rejection.
func RetryAfterHeader(err error) (string, bool) {
	rle, ok := guard.AsRateLimitExceeded(err)
	if !ok {
		return "", false
	}
	return strconv.Itoa(RetryAfterSeconds(rle)), true
}
