// Package testing puts the portal into test mode. Handler tests import it
// for its side effects so no binary in the tree reaches real infrastructure.
package testing

import (
	"os"
	stdtesting "testing"
)

// defaults keeps configuration lookups away from developer machines.
var defaults = map[string]string{
	"PORTAL_TEST_MODE":       "1",
	"BACKEND_URL":            "http://127.0.0.1:0/api",
	"GOTENBERG_URL":          "http://127.0.0.1:0",
	"STRIPE_PUBLISHABLE_KEY": "pk_test_portal",
	"SESSION_SECRET":         "test-session-secret",
	"CSRF_SECRET":            "test-csrf-secret",
}

func init() {
	for key, value := range defaults {
		if key == "PORTAL_TEST_MODE" || os.Getenv(key) == "" {
			_ = os.Setenv(key, value)
		}
	}
}

func TestMain(m *stdtesting.M) {
	os.Exit(m.Run())
}
