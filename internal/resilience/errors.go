package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/sells-group/streakwatch/internal/model"
)

// IsTransient reports whether a failed call is worth repeating. Classified
// failures are transient when they are Network or RemoteRejected; upstream
// errors and malformed responses point at a logic or auth problem and are not
// retried. Unclassified errors fall back to network heuristics.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if kind := model.KindOf(err); kind != "" {
		return kind == model.FailureNetwork || kind == model.FailureRemoteRejected
	}

	return isNetworkError(err)
}

// ClassifyTransport maps a transport-level error from an HTTP round trip to
// a failure kind. A cancelled caller context wins over the network error it
// caused so partial calls are never mistaken for upstream trouble.
func ClassifyTransport(ctx context.Context, err error) model.FailureKind {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return model.FailureCanceled
	}
	return model.FailureNetwork
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
