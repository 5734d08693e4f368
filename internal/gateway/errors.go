package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrRateLimited marks an upstream throttle response.
var ErrRateLimited = errors.New("upstream rate limited")

var rateLimitHints = []string{
	"429",
	"rate limit",
	"rate_limit",
	"too many requests",
	"resource exhausted",
	"resource_exhausted",
	"quota",
}

// IsRateLimited reports whether err is a rate-limit-class failure. Only
// these errors are retried by the queue.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || llms.IsRateLimitError(err) {
		return true
	}
	if status.Code(err) == codes.ResourceExhausted {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, h := range rateLimitHints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}
