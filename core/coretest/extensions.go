package coretest

import (
	"os"
	"testing"
)

// RequireExtensionsEnv turns missing engine extensions into test failures.
// CI sets it so integration tests cannot pass by skipping.
const RequireExtensionsEnv = "GEOANALYTICS_REQUIRE_EXTENSIONS"

// SkipUnavailable skips t when the engine could not load extensions, or
// fails it when RequireExtensionsEnv is set.
func SkipUnavailable(t testing.TB, extensions []string, err error) {
	t.Helper()
	if os.Getenv(RequireExtensionsEnv) != "" {
		t.Fatalf("duckdb extensions %v unavailable: %v", extensions, err)
	}
	t.Skipf("duckdb extensions %v unavailable, set %s=1 to fail instead: %v", extensions, RequireExtensionsEnv, err)
}
