package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/alasbuild/testforge/pkg/artifact"
	"github.com/alasbuild/testforge/pkg/command"
	apperrors "github.com/alasbuild/testforge/pkg/errors"
	"github.com/alasbuild/testforge/pkg/executor"
	"github.com/alasbuild/testforge/pkg/log"
	"github.com/alasbuild/testforge/pkg/metrics"
	"github.com/alasbuild/testforge/pkg/storage"
	"github.com/alasbuild/testforge/pkg/template"
	"github.com/alasbuild/testforge/pkg/types"
)

// Stage names, in pipeline order. Exported so callers (worker summaries,
// metrics labels, tests) don't restate the strings.
const (
	StagePrepareWorkDir       = "prepare_work_dir_files"
	StageInitTerraform        = "initialize_terraform"
	StageStartEnv             = "start_env"
	StageInitialProvision     = "initial_provision"
	StageInstallPackage       = "install_package"
	StageRunIntegrityTests    = "run_package_integrity_tests"
	StagePublishArtifacts     = "publish_artifacts_to_storage"
	StageStopEnv              = "stop_env"
	StageEraseWorkDir         = "erase_work_dir"
)

// StageFunc runs one pipeline stage and returns the command result that
// captureStage will record.
type StageFunc func(ctx context.Context) (types.CommandResult, error)

// Pipeline owns one task's run: its driver, payload, work directory, and
// run environment. A Pipeline is single-use — exactly one runner instance
// per environment for its lifetime.
type Pipeline struct {
	Driver      Driver
	Payload     *types.TaskPayload
	Env         *types.RunEnvironment
	Uploader    artifact.Uploader
	SSHKeyPath  string

	vmIP string

	teardownOnce sync.Once
}

// New constructs a Pipeline for payload using driver, with a fresh
// RunEnvironment named after the task.
func New(d Driver, payload *types.TaskPayload, uploader artifact.Uploader, sshKeyPath string) *Pipeline {
	envName := "tf-" + payload.TaskID
	p := &Pipeline{
		Driver:     d,
		Payload:    payload,
		Env:        types.NewRunEnvironment(envName),
		Uploader:   uploader,
		SSHKeyPath: sshKeyPath,
	}
	runtime.SetFinalizer(p, func(p *Pipeline) {
		p.teardown(context.Background(), false)
	})
	return p
}

// captureStage wraps fn so its (exit_code, stdout, stderr) is recorded into
// Env.Artifacts[label], and a non-zero exit is raised as the named error
// kind — the decorator spec.md's re-architecture hint calls for, so every
// stage gets uniform bookkeeping without subclassing.
func captureStage(env *types.RunEnvironment, label string, kind apperrors.Kind, fn StageFunc) StageFunc {
	return func(ctx context.Context) (types.CommandResult, error) {
		timer := metrics.NewTimer()
		res, err := fn(ctx)
		timer.ObserveDurationVec(metrics.StageDuration, label)

		if err != nil {
			env.SetArtifact(label, types.StageArtifact{ExitCode: 1, Stderr: err.Error()})
			metrics.StageFailuresTotal.WithLabelValues(label, "").Inc()
			return res, apperrors.New(kind, label, err)
		}

		env.SetArtifact(label, types.StageArtifact{ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr})
		if res.ExitCode != 0 {
			metrics.StageFailuresTotal.WithLabelValues(label, "").Inc()
			return res, apperrors.New(kind, label, fmt.Errorf("exit code %d", res.ExitCode))
		}
		return res, nil
	}
}

// Setup runs stages 1 through 4: prepare_work_dir_files, initialize_terraform,
// start_env, initial_provision.
func (p *Pipeline) Setup(ctx context.Context) error {
	stages := []struct {
		label string
		kind  apperrors.Kind
		fn    StageFunc
	}{
		{StagePrepareWorkDir, apperrors.KindWorkDirPreparation, p.prepareWorkDir},
		{StageInitTerraform, apperrors.KindTerraformInitialization, p.initTerraform},
		{StageStartEnv, apperrors.KindStartEnvironment, p.startEnv},
		{StageInitialProvision, apperrors.KindProvision, p.initialProvision},
	}

	for _, s := range stages {
		if _, err := captureStage(p.Env, s.label, s.kind, s.fn)(ctx); err != nil {
			return err
		}
	}
	return nil
}

// InstallPackage runs stage 5.
func (p *Pipeline) InstallPackage(ctx context.Context) error {
	_, err := captureStage(p.Env, StageInstallPackage, apperrors.KindInstallPackage, p.installPackage)(ctx)
	return err
}

// RunIntegrityTests runs stage 6. Failure rolls into the Tests sub-mapping
// under "package_integrity_tests" rather than aborting the pipeline.
func (p *Pipeline) RunIntegrityTests(ctx context.Context) {
	res, err := p.runIntegrityTests(ctx)
	if err != nil {
		p.Env.SetTestResult("package_integrity_tests", types.StageArtifact{ExitCode: 1, Stderr: err.Error()})
		return
	}
	p.Env.SetTestResult("package_integrity_tests", types.StageArtifact{
		ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr,
	})
}

// Teardown runs stages 8, 7, 9 in that order: destroy the environment
// before publishing (so the environment is released even if upload is
// slow), then always erase the work dir. Publish errors are logged, not
// propagated — teardown must always reach erase_work_dir.
func (p *Pipeline) Teardown(ctx context.Context) {
	p.teardown(ctx, true)
}

func (p *Pipeline) teardown(ctx context.Context, publish bool) {
	p.teardownOnce.Do(func() {
		runtime.SetFinalizer(p, nil)
		tlog := log.WithTaskID(p.Payload.TaskID)

		if _, err := captureStage(p.Env, StageStopEnv, apperrors.KindStopEnvironment, p.stopEnv)(ctx); err != nil {
			tlog.Error().Err(err).Msg("stop_env failed, continuing teardown")
		}

		if publish {
			if _, err := captureStage(p.Env, StagePublishArtifacts, apperrors.KindPublishArtifacts, p.publishArtifacts)(ctx); err != nil {
				tlog.Error().Err(err).Msg("publish_artifacts_to_storage failed")
			}
		}

		if err := p.eraseWorkDir(); err != nil {
			tlog.Error().Err(err).Msg("erase_work_dir failed")
		}
	})
}

func (p *Pipeline) workDir() string {
	return filepath.Join(os.TempDir(), "testforge-"+p.Payload.TaskID)
}

func (p *Pipeline) prepareWorkDir(ctx context.Context) (types.CommandResult, error) {
	dir := p.workDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.CommandResult{}, err
	}
	p.Env.WorkDir = dir
	p.Env.ArtifactsDir = filepath.Join(dir, "artifacts")
	if err := os.MkdirAll(p.Env.ArtifactsDir, 0o755); err != nil {
		return types.CommandResult{}, err
	}

	renderCtx := template.RenderContext{
		EnvName:     p.Env.EnvName,
		DistName:    p.Payload.DistName,
		DistVersion: p.Payload.DistVersion,
		DistArch:    p.Payload.DistArch,
	}

	mainTF, err := p.Driver.RenderMain(renderCtx)
	if err != nil {
		return types.CommandResult{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, "main.tf"), []byte(mainTF), 0o644); err != nil {
		return types.CommandResult{}, err
	}

	varsTF, err := p.Driver.RenderVariables(renderCtx)
	if err != nil {
		return types.CommandResult{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, "variables.tf"), []byte(varsTF), 0o644); err != nil {
		return types.CommandResult{}, err
	}

	if err := p.writeInventory(p.Env.EnvName); err != nil {
		return types.CommandResult{}, err
	}

	return types.CommandResult{ExitCode: 0}, nil
}

// inventoryContext builds the Ansible inventory entry for host, carrying
// the SSH key and connection type the rest of the pipeline already knows
// about. writeInventory is called once in prepareWorkDir (host is the
// not-yet-provisioned environment name, a placeholder for container
// drivers whose ConnectionType is "docker") and again in startEnv once a VM
// driver has resolved a real IP, so every later Ansible stage targets a
// reachable host instead of the placeholder.
func (p *Pipeline) inventoryContext(host string) template.InventoryContext {
	return template.InventoryContext{
		Host:       host,
		User:       "root",
		SSHKeyFile: p.SSHKeyPath,
		Connection: p.Driver.ConnectionType(),
	}
}

func (p *Pipeline) writeInventory(host string) error {
	inv, err := template.RenderInventory(p.inventoryContext(host))
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.Env.WorkDir, "inventory"), []byte(inv), 0o644)
}

func (p *Pipeline) initTerraform(ctx context.Context) (types.CommandResult, error) {
	lock, waited, err := acquireTFInitLockTimed(ctx.Done())
	if err != nil {
		return types.CommandResult{}, err
	}
	defer lock.release()
	// Deferred after release, so it runs first: the observed time is the
	// span the lock is held, not the wait to acquire it.
	heldTimer := metrics.NewTimer()
	defer heldTimer.ObserveDuration(metrics.TerraformInitDuration)

	if Bookkeeper != nil {
		_ = Bookkeeper.RecordLockWait(storage.LockWaitRecord{
			TaskID: p.Payload.TaskID, EnvName: p.Env.EnvName, Waited: waited, At: time.Now(),
		})
	}

	return command.Local(ctx, 5*time.Minute, "terraform", []string{"init"}, nil, p.Env.WorkDir)
}

func (p *Pipeline) startEnv(ctx context.Context) (types.CommandResult, error) {
	res, err := command.Local(ctx, 10*time.Minute, "terraform", []string{"apply", "--auto-approve"}, nil, p.Env.WorkDir)
	if err != nil || res.ExitCode != 0 {
		return res, err
	}

	if p.Driver.IsVM() {
		ipRes, err := command.Local(ctx, 30*time.Second, "terraform", []string{"output", "-raw", "vm_ip"}, nil, p.Env.WorkDir)
		if err != nil || ipRes.ExitCode != 0 {
			return ipRes, err
		}
		p.vmIP = strings.TrimSpace(ipRes.Stdout)

		// The inventory written in prepare_work_dir_files still points at
		// the pre-provisioning placeholder host; every Ansible stage from
		// here on (including the ping probe below) reads that same file,
		// so it must be rewritten against the now-discovered IP first.
		if err := p.writeInventory(p.vmIP); err != nil {
			return types.CommandResult{ExitCode: 1, Stderr: err.Error()}, nil
		}

		if err := p.pollSSHReachable(ctx); err != nil {
			return types.CommandResult{ExitCode: 1, Stderr: err.Error()}, nil
		}
	}

	if err := p.Driver.PostStartHook(ctx, p); err != nil {
		return types.CommandResult{ExitCode: 1, Stderr: err.Error()}, nil
	}
	return res, nil
}

// pollSSHReachable polls with an Ansible ping probe, bounded to 60 retries
// 10s apart.
func (p *Pipeline) pollSSHReachable(ctx context.Context) error {
	const maxRetries = 60
	const interval = 10 * time.Second

	target := executor.Target{Kind: executor.TargetLocal, Timeout: 15 * time.Second, WorkDir: p.Env.WorkDir}
	for i := 0; i < maxRetries; i++ {
		res, _ := executor.Command(ctx, target, "ansible", []string{"-i", p.Env.WorkDir + "/inventory", "all", "-m", "ping"}, nil)
		if res.ExitCode == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("ssh never became reachable for %s after %d attempts", p.vmIP, maxRetries)
}

func (p *Pipeline) initialProvision(ctx context.Context) (types.CommandResult, error) {
	if err := p.Driver.PreProvisionHook(ctx, p); err != nil {
		return types.CommandResult{ExitCode: 1, Stderr: err.Error()}, nil
	}

	extraVars := map[string]string{
		"integrity_tests_path": "integrity-tests",
	}
	for i, repo := range p.Payload.Repositories {
		extraVars[fmt.Sprintf("repo_%d_baseurl", i)] = repo.BaseURL
	}

	target := executor.Target{Kind: executor.TargetLocal, Timeout: 10 * time.Minute, WorkDir: p.Env.WorkDir}
	return executor.Ansible(ctx, target, "playbook.yml", withTag(extraVars, "initial_provision"), "", "")
}

func (p *Pipeline) installPackage(ctx context.Context) (types.CommandResult, error) {
	pkgMgr, err := resolvePkgManager(p.Payload.DistName, p.Payload.DistVersion)
	if err != nil {
		return types.CommandResult{}, err
	}

	extraVars := map[string]string{
		"pkg_name": pkgSpec(pkgMgr, p.Payload.PackageName, p.Payload.PackageVersion),
	}
	if p.Payload.Module != nil {
		extraVars["module_name"] = p.Payload.Module.Name
		extraVars["module_stream"] = p.Payload.Module.Stream
		extraVars["module_version"] = p.Payload.Module.Version
	}

	target := executor.Target{Kind: executor.TargetLocal, Timeout: 10 * time.Minute, WorkDir: p.Env.WorkDir}
	return executor.Ansible(ctx, target, "playbook.yml", withTag(extraVars, "install_package"), "", "")
}

func withTag(vars map[string]string, tag string) map[string]string {
	out := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		out[k] = v
	}
	out["tags"] = tag
	return out
}

func (p *Pipeline) runIntegrityTests(ctx context.Context) (types.CommandResult, error) {
	target := executor.Target{Kind: executor.TargetLocal, Timeout: 20 * time.Minute, WorkDir: p.Env.WorkDir}
	args := []string{"--inventory", p.Env.WorkDir + "/inventory", "--package-name", p.Payload.PackageName}
	if p.Payload.PackageVersion != "" {
		args = append(args, "--package-version", p.Payload.PackageVersion)
	}
	return executor.Command(ctx, target, "run-integrity-tests", args, map[string]string{
		"ARTIFACTS_DIR": p.Env.ArtifactsDir,
	})
}

func (p *Pipeline) publishArtifacts(ctx context.Context) (types.CommandResult, error) {
	if p.Uploader == nil {
		return types.CommandResult{ExitCode: 0}, nil
	}
	if err := artifact.WriteStageLogs(p.Env); err != nil {
		return types.CommandResult{}, err
	}
	if err := p.Uploader.UploadPrefix(ctx, p.Payload.TaskID, p.Env.ArtifactsDir); err != nil {
		return types.CommandResult{}, err
	}
	return types.CommandResult{ExitCode: 0}, nil
}

func (p *Pipeline) stopEnv(ctx context.Context) (types.CommandResult, error) {
	if p.Env.WorkDir == "" {
		return types.CommandResult{ExitCode: 0}, nil
	}
	return command.Local(ctx, 5*time.Minute, "terraform", []string{"destroy", "--auto-approve"}, nil, p.Env.WorkDir)
}

func (p *Pipeline) eraseWorkDir() error {
	if p.Env.WorkDir == "" {
		return nil
	}
	return os.RemoveAll(p.Env.WorkDir)
}
