package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alasbuild/testforge/pkg/command"
	"github.com/alasbuild/testforge/pkg/template"
)

// dockerDriver provisions ephemeral containers via the kreuzwerker/docker
// Terraform provider. It is the cheapest queue slot (cost 0) and the only
// driver that needs an in-guest python3 bootstrap before ansible can run.
type dockerDriver struct {
	Network    string
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

func init() {
	Register(&dockerDriver{})
}

// NewDockerDriver builds a docker driver carrying the optional external
// network and proxy settings a deployment may configure; callers re-Register
// the result to replace the zero-value default installed by init().
func NewDockerDriver(network, httpProxy, httpsProxy, noProxy string) Driver {
	return &dockerDriver{Network: network, HTTPProxy: httpProxy, HTTPSProxy: httpsProxy, NoProxy: noProxy}
}

func (d *dockerDriver) Name() string { return "docker" }

func (d *dockerDriver) Cost() int { return 0 }

// ArchitecturesMapping narrows the shared equivalence table: the docker
// provider has no s390x image family, so requests for it must be rejected
// (spec.md §8 scenario 3) rather than silently admitted.
func (d *dockerDriver) ArchitecturesMapping() map[string][]string {
	return map[string][]string{
		"aarch64": {"arm64", "aarch64"},
		"x86_64":  {"x86_64", "amd64", "i386", "i486", "i586", "i686"},
		"ppc64le": {"ppc64le"},
	}
}

func (d *dockerDriver) ConnectionType() string { return "docker" }

// dockerPlatform maps dist_arch to the platform string docker_image expects.
func dockerPlatform(arch string) string {
	switch strings.ToLower(arch) {
	case "aarch64", "arm64":
		return "linux/arm64/v8"
	case "i386", "i486", "i586", "i686":
		return "linux/386"
	case "ppc64le":
		return "linux/ppc64le"
	case "s390x":
		return "linux/s390x"
	default:
		return "linux/amd64"
	}
}

func (d *dockerDriver) RenderMain(ctx template.RenderContext) (string, error) {
	ctx.Image = fmt.Sprintf("%s:%s", ctx.DistName, ctx.DistVersion)
	ctx.Platform = dockerPlatform(ctx.DistArch)
	ctx.Network = d.Network
	ctx.HTTPProxy = d.HTTPProxy
	ctx.HTTPSProxy = d.HTTPSProxy
	ctx.NoProxy = d.NoProxy
	return template.RenderDockerMain(ctx)
}

func (d *dockerDriver) RenderVariables(ctx template.RenderContext) (string, error) {
	ctx.Image = fmt.Sprintf("%s:%s", ctx.DistName, ctx.DistVersion)
	return template.RenderDockerVariables(ctx)
}

// PreProvisionHook apt-updates and installs python3 inside the container for
// Debian-family images, because the provisioning playbook requires a Python
// interpreter and these base images don't carry one.
func (d *dockerDriver) PreProvisionHook(ctx context.Context, p *Pipeline) error {
	if !isDebianFlavor(strings.ToLower(p.Payload.DistName)) {
		return nil
	}

	res, err := command.ContainerExec(ctx, 2*time.Minute, p.Env.EnvName,
		[]string{"apt-get", "update"}, p.Env.WorkDir)
	if err != nil || res.ExitCode != 0 {
		return fmt.Errorf("apt-get update in %s: %w (stderr: %s)", p.Env.EnvName, err, res.Stderr)
	}

	res, err = command.ContainerExec(ctx, 2*time.Minute, p.Env.EnvName,
		[]string{"apt-get", "install", "-y", "python3"}, p.Env.WorkDir)
	if err != nil || res.ExitCode != 0 {
		return fmt.Errorf("installing python3 in %s: %w (stderr: %s)", p.Env.EnvName, err, res.Stderr)
	}
	return nil
}

// PostStartHook is a no-op for containers: there is no IP to fetch or SSH
// reachability to poll, unlike the VM driver.
func (d *dockerDriver) PostStartHook(ctx context.Context, p *Pipeline) error { return nil }

func (d *dockerDriver) IsVM() bool { return false }
