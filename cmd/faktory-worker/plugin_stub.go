//go:build !((linux || darwin) && cgo)

package main

import (
	"fmt"
	"runtime"

	faktory "github.com/faktory-go/worker"
)

// loadPlugin reports a clear error on platforms without Go plugin support
// (Windows, or any build without cgo). Go has no runtime `require`/`eval`
// equivalent, so there is no fallback short of plugin.Open's supported
// platforms.
func loadPlugin(path string, registry *faktory.Registry) error {
	return fmt.Errorf("-r/--require is not supported on %s/%s: Go plugins require linux or darwin with cgo enabled", runtime.GOOS, runtime.GOARCH)
}
