package utils

import "context"

// CheckContextDone polls whether the provided context has been cancelled, without blocking, and
// returns a boolean indicating if it has.
func CheckContextDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
