package main

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pagecraft/sitegov_backend/models"
)

func TestGovernanceRetryPolicyBackoff(t *testing.T) {
	policy := governanceRetryPolicy{
		maxAttempts: 10,
		baseBackoff: 5 * time.Second,
		maxBackoff:  10 * time.Minute,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 5 * time.Second},
		{attempt: 1, want: 5 * time.Second},
		{attempt: 2, want: 10 * time.Second},
		{attempt: 3, want: 20 * time.Second},
		{attempt: 4, want: 40 * time.Second},
		// 5s * 2^9 = 2560s, past the 600s cap.
		{attempt: 10, want: 10 * time.Minute},
	}
	for _, c := range cases {
		if got := policy.backoff(c.attempt); got != c.want {
			t.Fatalf("backoff(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestIsPermanentGovernanceError(t *testing.T) {
	permanent := []error{
		models.ErrSiloCardinality,
		models.ErrDuplicateSilo,
		models.ErrDuplicatePath,
		models.ErrInvalidPathFormat,
		models.ErrKeywordReassignment,
		models.ErrInvalidRedirect,
		fmt.Errorf("processing page 42: %w", models.ErrDuplicatePath),
	}
	for _, err := range permanent {
		if !isPermanentGovernanceError(err) {
			t.Fatalf("%v must be classified permanent", err)
		}
	}

	transient := []error{
		nil,
		errors.New("dial tcp: connection refused"),
		models.ErrCannibalizationBlocked,
	}
	for _, err := range transient {
		if isPermanentGovernanceError(err) {
			t.Fatalf("%v must stay retryable", err)
		}
	}
}
