// Package venue holds helpers shared by the per-venue adapter clients.
package venue

import (
	"context"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// RetryOnce runs call and, when it fails with a transient venue error, runs
// refresh (typically dropping idle connections so the retry gets a fresh one)
// and calls it exactly one more time. All other errors are returned as-is.
// Unknown errors are never retried; the transient class is enumerated per
// venue by error code.
func RetryOnce(ctx context.Context, call func() error, refresh func()) error {
	err := call()
	if err == nil || domain.KindOf(err) != domain.KindTransient {
		return err
	}
	if ctx.Err() != nil {
		return err
	}
	if refresh != nil {
		refresh()
	}
	return call()
}
