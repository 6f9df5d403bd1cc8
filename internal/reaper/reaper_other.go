//go:build !linux

package reaper

import "context"

// Start is a no-op on non-Linux platforms: runc and the subreaper mechanism
// this package relies on are Linux-only.
func Start(_ context.Context) (cancel func()) {
	return func() {}
}
