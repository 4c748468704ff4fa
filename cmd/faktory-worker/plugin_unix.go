//go:build (linux || darwin) && cgo

package main

import (
	"fmt"
	"plugin"

	faktory "github.com/faktory-go/worker"
)

// loadPlugin opens a Go plugin built with `go build -buildmode=plugin` and
// calls its exported Register(*faktory.Registry) function. This stands in
// for the source ecosystem's runtime `require`/`eval` of arbitrary user
// code, which Go has no equivalent of — a plugin is the closest idiomatic
// substitute, at the cost of being Linux/macOS-with-cgo only.
func loadPlugin(path string, registry *faktory.Registry) error {
	p, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("opening plugin: %w", err)
	}
	sym, err := p.Lookup("Register")
	if err != nil {
		return fmt.Errorf("plugin does not export Register: %w", err)
	}
	register, ok := sym.(func(*faktory.Registry))
	if !ok {
		return fmt.Errorf("plugin's Register has the wrong signature, want func(*faktory.Registry)")
	}
	register(registry)
	return nil
}
