package types

import (
	"strconv"
	"strings"
)

// RunnerType identifies the infrastructure driver a task should run under.
// "any" defers the choice to the scheduler.
type RunnerType string

const (
	RunnerAny        RunnerType = "any"
	RunnerDocker     RunnerType = "docker"
	RunnerOpennebula RunnerType = "opennebula"
)

// Repository is one package source the runner must configure before install.
type Repository struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// BaseURL is required: Repository.baseurl is a plain string field, never
	// optional, regardless of how the original source declared it.
	BaseURL string `json:"baseurl" yaml:"baseurl"`
	// Priority orders installs when a package manager honors repo priority.
	// Absent (zero) means "use list order".
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Module identifies an optional modular content stream (module_name/stream/version).
type Module struct {
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Stream  string `json:"stream,omitempty" yaml:"stream,omitempty"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// TaskPayload is the immutable job description supplied by the upstream build system.
type TaskPayload struct {
	TaskID      string       `json:"task_id,omitempty"`
	RunnerType  RunnerType   `json:"runner_type"`
	DistName    string       `json:"dist_name"`
	DistVersion string       `json:"dist_version"`
	DistArch    string       `json:"dist_arch"`
	Repositories []Repository `json:"repositories"`

	PackageName    string `json:"package_name"`
	PackageVersion string `json:"package_version,omitempty"`
	Module         *Module `json:"module,omitempty"`

	CallbackHref string `json:"callback_href,omitempty"`
	BSTaskID     string `json:"bs_task_id,omitempty"`
}

// Normalize lowercases dist_name/dist_arch, trims dist_version, and fills
// blank repository names as repo-<i>. It mutates and returns the payload.
// DistVersion is decoded as a JSON string; a numeric dist_version fails to
// decode and is not coerced to a string here or elsewhere.
func (p *TaskPayload) Normalize() *TaskPayload {
	p.DistName = strings.ToLower(strings.TrimSpace(p.DistName))
	p.DistArch = strings.ToLower(strings.TrimSpace(p.DistArch))
	p.DistVersion = strings.TrimSpace(p.DistVersion)

	for i := range p.Repositories {
		if p.Repositories[i].Name == "" {
			p.Repositories[i].Name = RepoDefaultName(i)
		}
	}
	return p
}

// RepoDefaultName produces the repo-<i> placeholder name for an unnamed repository.
func RepoDefaultName(i int) string {
	return "repo-" + strconv.Itoa(i)
}

// Validate checks the payload carries every field the worker requires before
// it instantiates a runner. It mirrors the admission-time field checks and
// the worker's own defensive re-check (spec 4.7).
func (p *TaskPayload) Validate() error {
	switch {
	case p.TaskID == "":
		return fieldError("task_id")
	case p.RunnerType == "":
		return fieldError("runner_type")
	case p.DistName == "":
		return fieldError("dist_name")
	case p.DistVersion == "":
		return fieldError("dist_version")
	case p.DistArch == "":
		return fieldError("dist_arch")
	case len(p.Repositories) == 0:
		return fieldError("repositories")
	case p.PackageName == "":
		return fieldError("package_name")
	}
	for _, r := range p.Repositories {
		if r.BaseURL == "" {
			return fieldError("repositories[].baseurl")
		}
	}
	return nil
}

func fieldError(field string) error {
	return &MissingFieldError{Field: field}
}

// MissingFieldError reports a required payload field that was empty.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return "missing required field: " + e.Field
}
