package app

import (
	"os"
	"sync"
)

// TestModeEnv is set by the root testing package for every test binary.
const TestModeEnv = "PORTAL_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(TestModeEnv) == "1"
})

// InTestMode reports whether the binaries should return before touching
// Redis, the job queue or the backend.
func InTestMode() bool {
	return testMode()
}
