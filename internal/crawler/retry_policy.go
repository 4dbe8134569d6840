package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// RetryPolicy decides whether and when a failed operation runs again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy. Non-positive values fall back to
// 3 attempts, a 2s base delay and a 10s cap.
func NewExponentialRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// MaxAttempts returns the attempt bound including the first try.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether the error is retryable after attempt tries.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	return IsRetryable(err)
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// OutcomeStatus tags the result of a retried operation.
type OutcomeStatus int

// Outcome statuses.
const (
	Succeeded OutcomeStatus = iota
	RetryableFailure
	TerminalFailure
)

func (s OutcomeStatus) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case RetryableFailure:
		return "retryable_failure"
	case TerminalFailure:
		return "terminal_failure"
	default:
		return "unknown"
	}
}

// Outcome reports how a retried operation ended.
// RetryableFailure means attempts ran out on an error that was still retryable;
// TerminalFailure means the error could not be retried at all.
type Outcome struct {
	Status   OutcomeStatus
	Attempts int
	Err      error
}

// OK reports whether the operation succeeded.
func (o Outcome) OK() bool {
	return o.Status == Succeeded
}

// Retry runs op until it succeeds, the policy gives up, or ctx is done.
// Backoff waits go through pauser so tests can skip them.
func Retry(ctx context.Context, policy RetryPolicy, pauser Pauser, op func(ctx context.Context, attempt int) error) Outcome {
	if pauser == nil {
		pauser = TimerPauser{}
	}
	attempt := 0
	for {
		attempt++
		err := op(ctx, attempt)
		if err == nil {
			return Outcome{Status: Succeeded, Attempts: attempt}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			if !errors.Is(err, ctxErr) {
				err = errors.Join(err, ctxErr)
			}
			return Outcome{Status: TerminalFailure, Attempts: attempt, Err: err}
		}
		if !IsRetryable(err) {
			return Outcome{Status: TerminalFailure, Attempts: attempt, Err: err}
		}
		if !policy.ShouldRetry(err, attempt) {
			return Outcome{Status: RetryableFailure, Attempts: attempt, Err: err}
		}
		pauser.Pause(ctx, policy.Backoff(attempt))
	}
}
