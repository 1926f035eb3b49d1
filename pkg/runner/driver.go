// Package runner drives the fixed nine-stage pipeline that provisions an
// ephemeral environment, installs a package under test, runs its integrity
// suite, publishes artifacts, and tears the environment down.
package runner

import (
	"context"

	"github.com/alasbuild/testforge/pkg/template"
)

// Driver is the per-backend behavior the pipeline delegates to: how much a
// queue slot costs, which architectures it serves, how its Terraform files
// render, and the provisioning hooks that differ between a container and a
// VM. docker.go and opennebula.go are its two implementations; Registry
// replaces runtime subclass dispatch with a static lookup.
type Driver interface {
	Name() string
	Cost() int
	ArchitecturesMapping() map[string][]string
	ConnectionType() string
	RenderMain(ctx template.RenderContext) (string, error)
	RenderVariables(ctx template.RenderContext) (string, error)
	PreProvisionHook(ctx context.Context, p *Pipeline) error
	PostStartHook(ctx context.Context, p *Pipeline) error
	IsVM() bool
}

// Registry maps a runner_type string to its Driver implementation.
var Registry = map[string]Driver{}

// Register adds a driver to the static registry. Called from each driver's
// init() so Registry is fully populated before any pipeline runs.
func Register(d Driver) {
	Registry[d.Name()] = d
}

// Lookup returns the driver for name, or (nil, false) if unregistered.
func Lookup(name string) (Driver, bool) {
	d, ok := Registry[name]
	return d, ok
}
