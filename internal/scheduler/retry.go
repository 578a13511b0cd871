package scheduler

import (
	"math/rand"
	"time"

	"github.com/noetl/noetl/pkg/playbook"
)

// shouldRetry reports whether an error kind matches a step's retry.on
// predicates and the attempt budget isn't exhausted, per spec.md §4.1's
// retry policy.
func shouldRetry(retry *playbook.RetryDef, attempt int, errKind string) bool {
	if retry == nil {
		return false
	}
	if attempt >= retry.MaxAttempts {
		return false
	}
	if len(retry.On) == 0 {
		return true
	}
	for _, k := range retry.On {
		if k == errKind {
			return true
		}
	}
	return false
}

// backoffDelay computes an exponential-backoff-with-jitter delay, grounded
// on the teacher's internal/application/executor/retry.go
// calculateDelay (doubling backoff_ms per attempt, plus up to jitter_ms of
// random jitter).
func backoffDelay(retry *playbook.RetryDef, attempt int) time.Duration {
	if retry == nil {
		return 0
	}
	base := time.Duration(retry.BackoffMs) * time.Millisecond
	for i := 1; i < attempt; i++ {
		base *= 2
	}
	jitter := time.Duration(0)
	if retry.JitterMs > 0 {
		jitter = time.Duration(rand.Intn(retry.JitterMs)) * time.Millisecond
	}
	return base + jitter
}
