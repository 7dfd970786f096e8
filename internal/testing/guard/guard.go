// Package guard switches the process into test mode when imported by tests.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("ACCOUNTS_TEST_MODE") == "" {
			_ = os.Setenv("ACCOUNTS_TEST_MODE", "1")
		}
	})
}
