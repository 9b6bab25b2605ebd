package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/sony/gobreaker/v2"
)

func TestClassifyCommon(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		want    ErrorClassification
		decided bool
	}{
		{"nil", nil, ErrorClassification{}, true},
		{"call timeout", fmt.Errorf("%w: op: %w", ErrCallTimeout, context.DeadlineExceeded), retryRecord, true},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), failNoRecord, true},
		{"breaker open", gobreaker.ErrOpenState, failNoRecord, true},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, retryRecord, true},
		{"unknown", errors.New("bad payload"), ErrorClassification{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, decided := ClassifyCommon(tc.err)
			if got != tc.want || decided != tc.decided {
				t.Fatalf("ClassifyCommon() = %+v, %v; want %+v, %v", got, decided, tc.want, tc.decided)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := map[int]ErrorClassification{
		408: retryRecord,
		429: retryRecord,
		500: retryRecord,
		503: retryRecord,
		501: failNoRecord,
		400: failNoRecord,
		404: failNoRecord,
	}
	for code, want := range cases {
		if got := ClassifyStatus(code); got != want {
			t.Fatalf("ClassifyStatus(%d) = %+v, want %+v", code, got, want)
		}
	}
}
