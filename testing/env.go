// Package testing prepares the process environment for packages whose tests
// load configuration or build the HTTP router. Import it for side effects:
//
//	import _ "github.com/odyssey-erp/odyssey-deals/testing"
package testing

import (
	"os"
	"sync"
)

const testSecret = "deals-test-secret-deals-test-secret"

var once sync.Once

// Defaults lists the variables set when the caller has not provided them.
var Defaults = map[string]string{
	"ODYSSEY_TEST_MODE": "1",
	"JWT_SECRET":        testSecret,
	"ENV_FILE":          os.DevNull,
}

// Prepare applies Defaults once per process. A value already present in the
// environment wins, so CI can still point tests at real services.
func Prepare() {
	once.Do(func() {
		for key, value := range Defaults {
			if _, ok := os.LookupEnv(key); !ok {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	Prepare()
}
