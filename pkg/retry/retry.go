// Package retry retries operations that failed with a transient error.
package retry

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	goretry "github.com/sethvargo/go-retry"
)

// ErrTransient matches every error marked with MarkTransient.
var ErrTransient = errors.New("transient failure")

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

func (e *transientError) Is(target error) bool { return target == ErrTransient }

// MarkTransient flags err as worth retrying. It returns nil for a nil error.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked with MarkTransient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Policy bounds the number of retries and the exponential backoff between
// them.
type Policy struct {
	MaxRetries uint64
	Base       time.Duration
	Max        time.Duration
}

// DefaultPolicy retries three times starting at 50ms.
var DefaultPolicy = Policy{MaxRetries: 3, Base: 50 * time.Millisecond, Max: time.Second}

// Do calls fn until it succeeds, fails with a non-transient error, the retry
// budget is spent, or ctx is done. The last error from fn is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.Base <= 0 {
		p.Base = DefaultPolicy.Base
	}
	b := goretry.NewExponential(p.Base)
	if p.Max > 0 {
		b = goretry.WithCappedDuration(p.Max, b)
	}
	b = goretry.WithMaxRetries(p.MaxRetries, b)

	return goretry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if IsTransient(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
}
