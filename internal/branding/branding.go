// Package branding provides compile-time identity values for the CLI.
//
// Forkers edit branding.yaml in this package before building; Go's
// //go:embed bakes it into the binary. The marker tag is written into every
// managed region, so changing it orphans regions written by older builds.
package branding

import (
	_ "embed"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

//go:embed branding.yaml
var rawBranding []byte

var (
	once     sync.Once
	defaults brand
)

type brand struct {
	CLIName       string `yaml:"cli_name"`
	DisplayName   string `yaml:"display_name"`
	Description   string `yaml:"description"`
	HomeDir       string `yaml:"home_dir"`
	EnvPrefix     string `yaml:"env_prefix"`
	MarkerTag     string `yaml:"marker_tag"`
	ProjectConfig string `yaml:"project_config"`
	LockFile      string `yaml:"lock_file"`
}

func load() {
	once.Do(func() {
		// Hard defaults in case the embedded file is missing or empty.
		defaults = brand{
			CLIName:       "stackforge",
			DisplayName:   "Stackforge",
			Description:   "Detect project ecosystems and synthesize their tooling configuration",
			HomeDir:       ".stackforge",
			EnvPrefix:     "STACKFORGE",
			MarkerTag:     "stackforge",
			ProjectConfig: ".stackforge.yaml",
			LockFile:      ".stackforge.lock",
		}
		_ = yaml.Unmarshal(rawBranding, &defaults)
	})
}

// CLIName returns the root command name (e.g., "stackforge").
func CLIName() string { load(); return defaults.CLIName }

// DisplayName returns the human-readable product name.
func DisplayName() string { load(); return defaults.DisplayName }

// Description returns the short product description.
func Description() string { load(); return defaults.Description }

// HomeDir returns the dot-directory name under $HOME (e.g., ".stackforge").
func HomeDir() string { load(); return defaults.HomeDir }

// EnvPrefix returns the environment variable prefix (e.g., "STACKFORGE").
func EnvPrefix() string { load(); return defaults.EnvPrefix }

// MarkerTag returns the tag used in managed-region markers.
func MarkerTag() string { load(); return defaults.MarkerTag }

// ProjectConfig returns the per-project settings file name.
func ProjectConfig() string { load(); return defaults.ProjectConfig }

// LockFile returns the advisory lock file name created at the project root.
func LockFile() string { load(); return defaults.LockFile }

// EnvVar returns a fully qualified env var name, e.g., EnvVar("registry_path") → "STACKFORGE_REGISTRY_PATH".
func EnvVar(suffix string) string {
	load()
	return defaults.EnvPrefix + "_" + strings.ToUpper(suffix)
}
