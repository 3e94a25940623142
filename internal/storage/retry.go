package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// txRetry is the retry policy of every multi-row transaction.
var txRetry = RetryPolicy{Attempts: 4, Base: 10 * time.Millisecond}

// transient lists the SQLSTATEs a transaction is replayed on. A non-empty
// constraint limits the code to violations of that constraint.
var transient = map[string]string{
	"40001": "", // serialization_failure
	"40P01": "", // deadlock_detected
	"23505": "simulation_runs_scenario_run_number_key", // two runs took the same number
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	constraint, ok := transient[pgErr.Code]
	return ok && (constraint == "" || constraint == pgErr.ConstraintName)
}

// RetryPolicy replays an operation that lost a transient Postgres conflict.
type RetryPolicy struct {
	Attempts int           // total calls, including the first
	Base     time.Duration // first backoff; doubled per retry up to 16x, jittered
}

// Do calls fn until it succeeds, fails with a non-transient error, the
// attempts run out or ctx ends. onRetry, if set, sees each transient error.
func (p RetryPolicy) Do(ctx context.Context, fn func() error, onRetry func(err error, wait time.Duration)) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Base,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         p.Base << 4,
	}
	b.Reset()

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(max(p.Attempts, 1))),
	}
	if onRetry != nil {
		opts = append(opts, backoff.WithNotify(onRetry))
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err != nil && !isTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, opts...)
	return err
}
