package resilience

import (
	"context"
	"errors"
	"net"
)

var (
	retryRecord  = ErrorClassification{Retryable: true, RecordFailure: true}
	failRecord   = ErrorClassification{Retryable: false, RecordFailure: true}
	failNoRecord = ErrorClassification{Retryable: false, RecordFailure: false}
)

// ClassifyCommon handles the outcomes every adapter treats alike. ok is false when the adapter
// has to decide.
//
//   - attempt cut off by CallTimeout: retry, count against the breaker
//   - caller cancellation or deadline: stop, do not count
//   - breaker open: stop, already counted
//   - net.Error: retry, count
func ClassifyCommon(err error) (ErrorClassification, bool) {
	switch {
	case err == nil:
		return ErrorClassification{}, true
	case errors.Is(err, ErrCallTimeout):
		return retryRecord, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return failNoRecord, true
	case IsCircuitOpen(err):
		return failNoRecord, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return retryRecord, true
	}
	return ErrorClassification{}, false
}

// ClassifyStatus maps an upstream HTTP status. 408, 429 and 5xx other than 501 are transient;
// other client errors are the caller's fault and never trip the breaker.
func ClassifyStatus(code int) ErrorClassification {
	switch {
	case code == 408, code == 429:
		return retryRecord
	case code >= 500 && code != 501:
		return retryRecord
	case code >= 400:
		return failNoRecord
	default:
		return failRecord
	}
}

// Permanent is the classification for errors an adapter does not recognize.
func Permanent() ErrorClassification {
	return failRecord
}

// Transient is the classification for errors an adapter knows will clear on their own.
func Transient() ErrorClassification {
	return retryRecord
}
