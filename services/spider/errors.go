package spider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrUnknownOperation is returned for an operation name no backend handles.
	ErrUnknownOperation = errors.New("unknown parser operation")
	// ErrSiteNotFound is returned when a site key is not configured.
	ErrSiteNotFound = errors.New("site not configured")
	// ErrBackendInit is wrapped around script compile or module resolve failures;
	// the selector falls back to the rule backend when it sees this.
	ErrBackendInit = errors.New("backend initialization failed")
)

// StatusError carries an upstream HTTP status. 4xx statuses are permanent
// and never retried; 5xx are treated as transient.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.Code)
}

// MalformedError marks an unparsable upstream payload.
type MalformedError struct {
	SiteKey string
	Cause   error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("site %s returned malformed payload: %v", e.SiteKey, e.Cause)
}

func (e *MalformedError) Unwrap() error { return e.Cause }

// IsTransient classifies an error as retryable: timeouts, connection
// failures and upstream 5xx. Context cancellation, 4xx statuses, init and
// parse failures are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code >= 500
	}
	var malformed *MalformedError
	if errors.As(err, &malformed) {
		return false
	}
	if errors.Is(err, ErrBackendInit) || errors.Is(err, ErrSiteNotFound) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
