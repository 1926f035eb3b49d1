package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/alasbuild/testforge/pkg/command"
	"github.com/alasbuild/testforge/pkg/executor"
	"github.com/alasbuild/testforge/pkg/template"
)

// opennebulaCost is the class constant for VM-backed queue slots: pricier
// than a container (cost 0) since a VM takes longer to provision.
const opennebulaCost = 1

// opennebulaDriver provisions VMs through the OpenNebula Terraform provider.
// Unlike the container driver it must resolve a template name from an image
// catalog before main.tf can even be rendered, and it owns the post-apply
// IP-fetch/SSH-poll dance the pipeline delegates through PostStartHook.
type opennebulaDriver struct {
	Catalog  ImageCatalog
	Endpoint string
	User     string
	Password string
	VMGroup  string
	Network  string
	Channels []string

	// TestFlavorName/Version select a non-default image flavor
	// ("<name>-<version>" rather than "base_image"); both empty means
	// base_image, per spec.md §4.4.
	TestFlavorName    string
	TestFlavorVersion string
}

func init() {
	Register(&opennebulaDriver{Catalog: StaticCatalog(nil)})
}

// NewOpenNebulaDriver builds a VM driver bound to a concrete provider
// config and image catalog; callers re-Register the result to replace the
// zero-value default installed by init().
func NewOpenNebulaDriver(catalog ImageCatalog, endpoint, user, password, vmGroup, network string, channels []string) Driver {
	return &opennebulaDriver{
		Catalog: catalog, Endpoint: endpoint, User: user, Password: password,
		VMGroup: vmGroup, Network: network, Channels: channels,
	}
}

func (d *opennebulaDriver) Name() string { return "opennebula" }

func (d *opennebulaDriver) Cost() int { return opennebulaCost }

// ArchitecturesMapping uses the full shared equivalence table: a VM provider
// can offer any architecture image it chooses to publish.
func (d *opennebulaDriver) ArchitecturesMapping() map[string][]string {
	return map[string][]string{
		"aarch64": {"arm64", "aarch64"},
		"x86_64":  {"x86_64", "amd64", "i386", "i486", "i586", "i686"},
		"ppc64le": {"ppc64le"},
		"s390x":   {"s390x"},
	}
}

func (d *opennebulaDriver) ConnectionType() string { return "ssh" }

func (d *opennebulaDriver) flavor() string {
	if d.TestFlavorName == "" {
		return "base_image"
	}
	return d.TestFlavorName + "-" + d.TestFlavorVersion
}

func (d *opennebulaDriver) RenderMain(ctx template.RenderContext) (string, error) {
	names, err := d.Catalog.Images(context.Background())
	if err != nil {
		return "", fmt.Errorf("listing VM image catalog: %w", err)
	}

	name, err := selectImage(names, ctx.DistName, ctx.DistVersion, ctx.DistArch, d.flavor(), d.Channels)
	if err != nil {
		return "", err
	}

	ctx.TemplateName = name
	ctx.VMGroup = d.VMGroup
	ctx.Network = d.Network
	return template.RenderOpenNebulaMain(ctx)
}

func (d *opennebulaDriver) RenderVariables(ctx template.RenderContext) (string, error) {
	ctx.ProviderEndpoint = d.Endpoint
	ctx.ProviderUser = d.User
	ctx.ProviderPassword = d.Password
	return template.RenderOpenNebulaVariables(ctx)
}

// PreProvisionHook is a no-op for VMs: the base image already carries a
// Python interpreter, unlike the minimal container images.
func (d *opennebulaDriver) PreProvisionHook(ctx context.Context, p *Pipeline) error { return nil }

// PostStartHook probes SSH reachability once terraform apply has produced a
// vm_ip output. The IP fetch and the ansible ping poll itself run in
// Pipeline.startEnv (spec.md §4.3 stage 3); this hook opens its own
// one-shot SSH connection to that IP as root with the pipeline's key,
// bypassing the inventory, and runs the no-op command `true` there.
func (d *opennebulaDriver) PostStartHook(ctx context.Context, p *Pipeline) error {
	target := executor.Target{Kind: executor.TargetSSHOneShot, WorkDir: p.Env.WorkDir}
	target.SSHOptions = command.SSHOptions{
		Host:           p.vmIP,
		User:           "root",
		ClientKeyFiles: []string{p.SSHKeyPath},
		Timeout:        30 * time.Second,
	}

	res, err := executor.Shell(ctx, target, "true", nil)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("post-start SSH check failed: %s", res.Stderr)
	}
	return nil
}

func (d *opennebulaDriver) IsVM() bool { return true }
