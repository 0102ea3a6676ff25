package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCount returns a liveness probe that fails when the goroutine
// count exceeds threshold, a cheap proxy for leak detection.
func GoroutineCount(threshold int) ProbeFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}
