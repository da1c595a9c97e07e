// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"os"
	"testing"
)

// SkipIfNoNetwork skips the test if SCROLLSYNC_TEST_SKIP_NETWORK is set.
// Use this for tests that listen on TCP, which sandboxed environments may
// not allow.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("SCROLLSYNC_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: SCROLLSYNC_TEST_SKIP_NETWORK is set")
	}
}

// SkipIfShort skips slow end-to-end tests under go test -short.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping end-to-end test in short mode")
	}
}
