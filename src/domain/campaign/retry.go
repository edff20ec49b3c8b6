package campaign

import (
	"errors"
	"time"

	domainErrors "go-campaign-dispatch/src/domain/errors"
)

// FailureKind classifies a failed send attempt
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailurePermanent FailureKind = "permanent"
	FailureUnknown   FailureKind = "unknown"
)

// ClassifiedError is implemented by errors that know their own failure kind
type ClassifiedError interface {
	error
	FailureKind() FailureKind
}

// ClassifyFailure resolves the failure kind of a send error.
// Anything that cannot be classified is Unknown and retried like Transient.
func ClassifyFailure(err error) FailureKind {
	if err == nil {
		return ""
	}
	var classified ClassifiedError
	if errors.As(err, &classified) {
		return classified.FailureKind()
	}
	switch {
	case domainErrors.IsType(err, domainErrors.PermanentSendError):
		return FailurePermanent
	case domainErrors.IsType(err, domainErrors.TransientSendError):
		return FailureTransient
	}
	return FailureUnknown
}

const (
	DefaultRetryBase     = 30 * time.Second
	DefaultRetryMaxDelay = 30 * time.Minute
	DefaultMaxRetries    = 5
)

// RetryPolicy is exponential backoff with a fixed cap
type RetryPolicy struct {
	Base       time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:       DefaultRetryBase,
		MaxDelay:   DefaultRetryMaxDelay,
		MaxRetries: DefaultMaxRetries,
	}
}

// NextDelay returns Base * 2^retryCount, capped at MaxDelay
func (p RetryPolicy) NextDelay(retryCount int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	}
	delay := p.Base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// RetryDecision is the outcome of a failed attempt
type RetryDecision struct {
	RetryCount  int
	NextRetryAt *time.Time
	Kind        FailureKind
}

// Retryable reports whether the dispatcher will pick the message up again
func (d RetryDecision) Retryable() bool {
	return d.NextRetryAt != nil
}

// Decide computes the retry metadata to persist after a failed attempt.
// Permanent failures keep retryCount; transient and unknown failures
// increment it and stop scheduling once MaxRetries is reached.
func (p RetryPolicy) Decide(retryCount int, kind FailureKind, now time.Time) RetryDecision {
	if kind == FailurePermanent {
		return RetryDecision{RetryCount: retryCount, Kind: kind}
	}
	if kind == "" {
		kind = FailureUnknown
	}

	next := retryCount + 1
	if next >= p.MaxRetries {
		if next > p.MaxRetries {
			next = p.MaxRetries
		}
		return RetryDecision{RetryCount: next, Kind: kind}
	}
	at := now.Add(p.NextDelay(next))
	return RetryDecision{RetryCount: next, NextRetryAt: &at, Kind: kind}
}
