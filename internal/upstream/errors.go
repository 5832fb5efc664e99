// SPDX-License-Identifier: MIT

package upstream

import (
	"fmt"
	"time"
)

// ThrottledError reports an upstream 429. Callers wait RetryAfter and retry
// the same page rather than counting the response as a failure.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("upstream throttled, retry after %s", e.RetryAfter)
}

// StatusError reports any other non-2xx upstream response.
type StatusError struct {
	Operation string
	Status    int
	Body      string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("upstream %s: HTTP %d", e.Operation, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Transient reports whether the response is worth retrying.
func (e *StatusError) Transient() bool {
	return e.Status >= 500
}
