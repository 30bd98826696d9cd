// Package testing switches the process into test mode when imported by a
// test binary: binaries exit early and the runtime defaults to the memory
// store with a local lock.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
		for key, value := range map[string]string{
			"LEDGER_STORE": "memory",
			"LEDGER_LOCK":  "local",
		} {
			if os.Getenv(key) == "" {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
