// Package testutil provides testing utilities for cloudprof.
package testutil

import (
	"context"
	"testing"
	"time"
)

// DefaultTestTimeout bounds contexts created by NewTestContext.
const DefaultTestTimeout = 30 * time.Second

// NewTestContext creates a context that is canceled when the test ends or
// DefaultTestTimeout passes, whichever comes first.
func NewTestContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTestTimeout)
	t.Cleanup(cancel)
	return ctx
}
