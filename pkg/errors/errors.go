// Package errors defines the typed error taxonomy shared across the
// dispatch-and-lifecycle engine (spec 7). Every stage-producing error wraps
// a StageError so callers can recover the failing stage and its artifact
// without string-matching messages.
package errors

import "fmt"

// Kind identifies one taxonomy member.
type Kind string

const (
	KindConfigNotFound          Kind = "ConfigNotFoundError"
	KindWorkDirPreparation      Kind = "WorkDirPreparationError"
	KindTerraformInitialization Kind = "TerraformInitializationError"
	KindStartEnvironment        Kind = "StartEnvironmentError"
	KindStopEnvironment         Kind = "StopEnvironmentError"
	KindProvision               Kind = "ProvisionError"
	KindInstallPackage          Kind = "InstallPackageError"
	KindPackageIntegrityTests   Kind = "PackageIntegrityTestsError"
	KindPublishArtifacts        Kind = "PublishArtifactsError"
	KindVMImageNotFound         Kind = "VMImageNotFound"
	KindDBUpdate                Kind = "DBUpdateError"
)

// StageError is the common shape every taxonomy member produces: a Kind, the
// stage that raised it, and the underlying cause.
type StageError struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s (stage %s): %v", e.Kind, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// New wraps err as a StageError of the given kind and stage.
func New(kind Kind, stage string, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

// Is supports errors.Is comparisons against a bare Kind value used as the
// target, e.g. errors.Is(err, KindProvision).
func (e *StageError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && e.Kind == k
}

// Error makes Kind satisfy the error interface, so a Kind value can be
// passed as the target of errors.Is(err, KindX); StageError.Is does the
// comparison.
func (k Kind) Error() string { return string(k) }

// VMImageSearch describes the parameters of a failed VM template search, so
// VMImageNotFound can report them structurally (spec 4.4).
type VMImageSearch struct {
	DistName    string
	DistVersion string
	Arch        string
	Flavor      string
	Channels    []string
	Pattern     string
}

// VMImageNotFoundError is raised when no catalog entry matches the
// assembled template regex.
type VMImageNotFoundError struct {
	Search VMImageSearch
}

func (e *VMImageNotFoundError) Error() string {
	return fmt.Sprintf(
		"no VM image matched dist=%s version=%s arch=%s flavor=%s channels=%v pattern=%q",
		e.Search.DistName, e.Search.DistVersion, e.Search.Arch, e.Search.Flavor,
		e.Search.Channels, e.Search.Pattern,
	)
}

// MissingArchMappingError is the "coding error" spec 4.1 describes: the
// chosen runner's architecture table has no class containing the requested arch.
type MissingArchMappingError struct {
	RunnerType string
	Arch       string
}

func (e *MissingArchMappingError) Error() string {
	return fmt.Sprintf("cannot map requested architecture %q for runner %q", e.Arch, e.RunnerType)
}
