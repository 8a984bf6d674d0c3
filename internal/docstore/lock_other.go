//go:build !unix

package docstore

import (
	"context"
	"os"
	"time"
)

// acquire is a no-op where flock is unavailable; single-process use only.
func acquire(ctx context.Context, f *os.File, timeout time.Duration) error {
	return ctx.Err()
}

func release(f *os.File) {}
