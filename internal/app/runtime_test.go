package app

import (
	"testing"

	_ "github.com/odyssey-erp/odyssey-accounts/internal/testing/guard"
)

func TestInTestModeFollowsEnvironment(t *testing.T) {
	if !InTestMode() {
		t.Fatalf("expected test mode to be enabled by the guard package")
	}

	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	if InTestMode() {
		t.Fatalf("expected test mode to be disabled")
	}

	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	if !InTestMode() {
		t.Fatalf("expected test mode to be re-enabled")
	}
}
