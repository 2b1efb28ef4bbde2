package app

import (
	"os"
	"sync"
)

const testModeEnv = "KINESIA_TEST_MODE"

var (
	testModeOnce sync.Once
	testMode     bool
)

// InTestMode reports whether binaries should skip connecting to Postgres,
// Redis and SMTP. It is set by the testing helper package.
func InTestMode() bool {
	testModeOnce.Do(func() {
		testMode = os.Getenv(testModeEnv) == "1"
	})
	return testMode
}
