// Package quota tracks provider calls consumed per UTC calendar day.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetentionWindow is how long daily records are worth keeping.
const RetentionWindow = 48 * time.Hour

// ErrQuotaExceeded is returned by Admit when a job would overrun the daily budget.
var ErrQuotaExceeded = errors.New("daily API quota exceeded")

// Ledger counts calls per day. Increment carries no bound check; callers use Admit.
type Ledger interface {
	Usage(ctx context.Context, day string) (int, error)
	Increment(ctx context.Context, day string) error
}

// Day returns the ledger key for t.
func Day(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// Admit rejects a run whose estimated calls would push day's usage past limit.
func Admit(ctx context.Context, ledger Ledger, day string, estimated, limit int) error {
	used, err := ledger.Usage(ctx, day)
	if err != nil {
		return fmt.Errorf("read quota usage for %s: %w", day, err)
	}
	if used+estimated > limit {
		return fmt.Errorf("%w: %d calls used on %s, job needs %d more, daily limit is %d",
			ErrQuotaExceeded, used, day, estimated, limit)
	}
	return nil
}
