package faktory

import (
	"sync"

	"github.com/joho/godotenv"
)

var loadDotenvOnce sync.Once

// loadDotenv loads a local .env file into the process environment, if one
// is present, the way rcmukkamala-weather-server/pkg/config/config.go calls
// godotenv.Load() before reading os.Getenv. It never overrides a variable
// already set in the real environment, and a missing .env file is not an
// error. Safe to call repeatedly — the load only happens once per process.
func loadDotenv() {
	loadDotenvOnce.Do(func() {
		_ = godotenv.Load()
	})
}
