// Package config loads the YAML configuration shared by the scheduler,
// worker, monitor, and API processes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/alasbuild/testforge/pkg/errors"
)

// EnvVar is the environment variable pointing at the config file path.
const EnvVar = "TESTFORGE_CONFIG"

// Broker holds the AMQP connection parameters.
type Broker struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
}

// BlobStorage holds the artifact-upload destination.
type BlobStorage struct {
	Provider  string `yaml:"provider"` // "s3"-shaped; see pkg/artifact
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint,omitempty"`
}

// VMProvider holds the opennebula-style VM driver's connection parameters.
type VMProvider struct {
	Endpoint string `yaml:"endpoint"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VMGroup  string `yaml:"vm_group"`
	Network  string `yaml:"network"`
}

// Config is the process-wide configuration loaded once at startup.
type Config struct {
	Broker      Broker      `yaml:"broker"`
	BlobStorage BlobStorage `yaml:"blob_storage"`

	TaskTrackingTimeout time.Duration `yaml:"task_tracking_timeout"`
	PrefetchMultiplier  int           `yaml:"prefetch_multiplier"`

	SupportedArchitectures []string `yaml:"supported_architectures"`
	SupportedDistributions []string `yaml:"supported_distributions"`
	SupportedRunners        []string `yaml:"supported_runners"` // ["all"] or explicit list

	VMProvider      VMProvider `yaml:"vm_provider"`
	AllowedChannels []string   `yaml:"allowed_channels"`

	SSHPublicKeyPath string `yaml:"ssh_public_key_path"`

	// Scheduler-only.
	WorkingDirectory  string `yaml:"working_directory"`
	JWTSecret         string `yaml:"jwt_secret"`
	HashingAlgorithm  string `yaml:"hashing_algorithm"`
	UpstreamEndpoint  string `yaml:"upstream_endpoint"`
	UpstreamToken     string `yaml:"upstream_token"`
}

// DefaultHashingAlgorithm is used when hashing_algorithm is unset, resolving
// the source's inconsistency between a hard-coded and a config-driven value
// in favor of the config-driven one (Open Question #3).
const DefaultHashingAlgorithm = "HS256"

// DefaultPrefetchMultiplier matches the spec's "workers never hoard tasks"
// requirement.
const DefaultPrefetchMultiplier = 1

// Load reads and parses the YAML file at path. A missing file is reported as
// an *apperrors.StageError of kind ConfigNotFoundError wrapping the os error,
// which callers treat as fatal at startup.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.New(apperrors.KindConfigNotFound, "load_config", err)
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv resolves the config path from EnvVar and loads it.
func LoadFromEnv() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return nil, apperrors.New(apperrors.KindConfigNotFound, "load_config",
			fmt.Errorf("%s is not set", EnvVar))
	}
	return Load(path)
}

func (c *Config) applyDefaults() {
	if c.HashingAlgorithm == "" {
		c.HashingAlgorithm = DefaultHashingAlgorithm
	}
	if c.PrefetchMultiplier == 0 {
		c.PrefetchMultiplier = DefaultPrefetchMultiplier
	}
	if c.TaskTrackingTimeout == 0 {
		c.TaskTrackingTimeout = 30 * time.Second
	}
}

// AllRunnersAllowed reports whether supported_runners is the literal "all"
// sentinel rather than an explicit enumeration.
func (c *Config) AllRunnersAllowed() bool {
	return len(c.SupportedRunners) == 1 && c.SupportedRunners[0] == "all"
}

// RunnerAllowed reports whether runnerType may be selected for a task with
// runner_type == "any".
func (c *Config) RunnerAllowed(runnerType string) bool {
	if c.AllRunnersAllowed() {
		return true
	}
	for _, r := range c.SupportedRunners {
		if r == runnerType {
			return true
		}
	}
	return false
}

// SupportsArchitecture reports whether arch is in the configured set.
func (c *Config) SupportsArchitecture(arch string) bool {
	for _, a := range c.SupportedArchitectures {
		if a == arch {
			return true
		}
	}
	return false
}

// SupportsDistribution reports whether dist is in the configured set.
func (c *Config) SupportsDistribution(dist string) bool {
	for _, d := range c.SupportedDistributions {
		if d == dist {
			return true
		}
	}
	return false
}
