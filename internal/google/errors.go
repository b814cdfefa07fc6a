package google

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"

	"google.golang.org/api/googleapi"

	"github.com/teemow/inboxpilot/internal/dispatch"
)

var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

// Classify maps a Google API client error onto a dispatch failure kind:
// 401 is an authorization failure, 408/429/5xx and rate limiting are
// transient, any other 4xx is a rejection carrying the API's message.
// Network errors are transient.
func Classify(err error) *dispatch.ProviderError {
	if err == nil {
		return nil
	}

	var perr *dispatch.ProviderError
	if errors.As(err, &perr) {
		return perr
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		detail := gerr.Message
		if detail == "" && len(gerr.Errors) > 0 {
			detail = gerr.Errors[0].Message
		}
		if detail == "" {
			detail = http.StatusText(gerr.Code)
		}

		switch {
		case gerr.Code == http.StatusUnauthorized:
			return dispatch.Unauthorized(detail, err)
		case gerr.Code == http.StatusRequestTimeout,
			gerr.Code == http.StatusTooManyRequests,
			gerr.Code >= 500:
			return dispatch.Transient(detail, err)
		case gerr.Code == http.StatusForbidden && rateLimited(gerr):
			return dispatch.Transient(detail, err)
		case gerr.Code >= 400:
			return dispatch.Rejected(detail, err)
		}
		return dispatch.Transient(detail, err)
	}

	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dispatch.Transient("request cancelled", err)
	case errors.As(err, &netErr), errors.As(err, &urlErr):
		return dispatch.Transient("network error", err)
	}
	return dispatch.Transient("", err)
}

func rateLimited(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if rateLimitReasons[item.Reason] {
			return true
		}
	}
	return false
}
