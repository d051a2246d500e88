// internal/provider/classify.go
package provider

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"

	"mailcourier/internal/common/errors"
)

// classifyHTTPStatus maps an HTTP provider response to the retry taxonomy.
// 429 and 5xx are transient, auth and request-shape failures are permanent,
// anything else unexpected is unknown.
func classifyHTTPStatus(provider string, status int, body string) error {
	switch {
	case status == 429:
		return errors.NewProviderRateLimitedError(provider)
	case status == 401 || status == 403:
		return errors.NewProviderAuthError(provider, fmt.Errorf("status %d: %s", status, body))
	case status == 400 || status == 404 || status == 422:
		return errors.NewProviderRejectedError(provider, fmt.Sprintf("status %d: %s", status, body))
	case status >= 500:
		return errors.NewProviderUnavailableError(provider, fmt.Errorf("status %d", status))
	default:
		return errors.NewProviderUnknownError(provider, fmt.Sprintf("status %d: %s", status, body))
	}
}

// classifyTransportError maps a failed HTTP round trip. Timeouts and network
// errors are transient.
func classifyTransportError(provider string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewProviderTimeoutError(provider)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.NewProviderTimeoutError(provider)
	}
	return errors.NewProviderUnavailableError(provider, err)
}
