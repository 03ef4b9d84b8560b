package k8s

import (
	"context"
	"errors"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// errRetriesExhausted signals that a polling loop ran out
// of attempts without the condition succeeding. Callers
// translate it into the lifecycle error of their phase.
var errRetriesExhausted = errors.New(
	"retry budget exhausted",
)

// pollUntil drives condition for exactly backoff.Steps
// attempts, sleeping backoff.Step() between attempts.
// Backoff.Step zeroes Steps once the delay reaches Cap,
// which would make the stock wait helpers stop early; by
// owning the loop, the attempt budget stays independent
// of the Duration:Cap ratio while the delay sequence
// still comes from the policy value.
func pollUntil(
	ctx context.Context,
	backoff wait.Backoff,
	condition wait.ConditionWithContextFunc,
) error {
	steps := backoff.Steps

	for attempt := 1; attempt <= steps; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := condition(ctx)
		if err != nil || done {
			return err
		}

		if attempt == steps {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff.Step()):
		}
	}

	return errRetriesExhausted
}
