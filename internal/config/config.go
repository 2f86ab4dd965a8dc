package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/agentx-labs/stackforge/internal/branding"
	"github.com/spf13/viper"
)

const (
	fileName = "config"
	fileType = "yaml"
)

// Setting keys.
const (
	KeyCollectorWorkers     = "collector.workers"
	KeyCollectorTimeout     = "collector.timeout"
	KeyCollectorMaxFileSize = "collector.max_file_size"
	KeyCollectorMaxDepth    = "collector.max_depth"
	KeyCollectorExclude     = "collector.exclude"
	KeyRegistryPath         = "registry.path"
	KeyFeaturesSuppress     = "features.suppress"
	KeyFeaturesForce        = "features.force"
	KeyLockTimeout          = "planner.lock_timeout"
	KeyInstallTimeout       = "planner.install_timeout"
	KeyLogLevel             = "log.level"
	KeyLogFormat            = "log.format"
	KeyColor                = "color"
)

// Setting describes one known key.
type Setting struct {
	Key   string
	Usage string
}

// Known lists every setting the engine reads, in display order.
var Known = []Setting{
	{KeyCollectorWorkers, "manifest parsers run in parallel"},
	{KeyCollectorTimeout, "time budget for signal collection"},
	{KeyCollectorMaxFileSize, "largest manifest parsed, in bytes"},
	{KeyCollectorMaxDepth, "deepest directory level walked"},
	{KeyCollectorExclude, "extra globs left out of the walk"},
	{KeyRegistryPath, "directory of registry documents shadowing the built-in set"},
	{KeyFeaturesSuppress, "features never activated"},
	{KeyFeaturesForce, "features always activated"},
	{KeyLockTimeout, "wait for the project lock"},
	{KeyInstallTimeout, "limit for one installer run"},
	{KeyLogLevel, "debug, info, warn or error"},
	{KeyLogFormat, "console or json"},
	{KeyColor, "colored report output"},
}

// IsKnown reports whether key is a setting the engine reads.
func IsKnown(key string) bool {
	for _, s := range Known {
		if s.Key == key {
			return true
		}
	}
	return false
}

// EnvVar returns the environment variable overriding key.
func EnvVar(key string) string {
	return branding.EnvVar(strings.ReplaceAll(key, ".", "_"))
}

// Settings is the resolved engine configuration.
type Settings struct {
	Workers        int
	Timeout        time.Duration
	MaxFileSize    int64
	MaxDepth       int
	Exclude        []string
	RegistryPath   string
	Suppress       []string
	Force          []string
	LockTimeout    time.Duration
	InstallTimeout time.Duration
	LogLevel       string
	LogFormat      string
	Color          bool
}

// Dir returns the path to the user config directory (~/.stackforge/).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", branding.HomeDir())
	}
	return filepath.Join(home, branding.HomeDir())
}

// FilePath returns the full path to the user config file (~/.stackforge/config.yaml).
func FilePath() string {
	return filepath.Join(Dir(), fileName+"."+fileType)
}

// ProjectFilePath returns the per-project settings file under root.
func ProjectFilePath(root string) string {
	return filepath.Join(root, branding.ProjectConfig())
}

// EnsureDir creates the config directory if it does not exist.
func EnsureDir() error {
	dir := Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyCollectorWorkers, runtime.NumCPU())
	v.SetDefault(KeyCollectorTimeout, "30s")
	v.SetDefault(KeyCollectorMaxFileSize, int64(1<<20))
	v.SetDefault(KeyCollectorMaxDepth, 8)
	v.SetDefault(KeyCollectorExclude, []string{})
	v.SetDefault(KeyRegistryPath, "")
	v.SetDefault(KeyFeaturesSuppress, []string{})
	v.SetDefault(KeyFeaturesForce, []string{})
	v.SetDefault(KeyLockTimeout, "10s")
	v.SetDefault(KeyInstallTimeout, "10m")
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogFormat, "console")
	v.SetDefault(KeyColor, true)
}

// Load initializes Viper from the user config file, the project file under
// root (merged on top) and STACKFORGE_* environment variables.
func Load(root string) error {
	setDefaults(viper.GetViper())
	viper.SetConfigType(fileType)
	viper.SetEnvPrefix(branding.EnvPrefix())
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// A missing user file is fine.
	viper.SetConfigFile(FilePath())
	_ = viper.ReadInConfig()

	if root == "" {
		return nil
	}
	project := ProjectFilePath(root)
	if _, err := os.Stat(project); err != nil {
		return nil
	}
	viper.SetConfigFile(project)
	if err := viper.MergeInConfig(); err != nil {
		return fmt.Errorf("reading project settings %s: %w", project, err)
	}
	return nil
}

// Current returns the settings resolved from the global Viper instance.
func Current() Settings {
	return fromViper(viper.GetViper())
}

func fromViper(v *viper.Viper) Settings {
	return Settings{
		Workers:        v.GetInt(KeyCollectorWorkers),
		Timeout:        v.GetDuration(KeyCollectorTimeout),
		MaxFileSize:    v.GetInt64(KeyCollectorMaxFileSize),
		MaxDepth:       v.GetInt(KeyCollectorMaxDepth),
		Exclude:        v.GetStringSlice(KeyCollectorExclude),
		RegistryPath:   v.GetString(KeyRegistryPath),
		Suppress:       v.GetStringSlice(KeyFeaturesSuppress),
		Force:          v.GetStringSlice(KeyFeaturesForce),
		LockTimeout:    v.GetDuration(KeyLockTimeout),
		InstallTimeout: v.GetDuration(KeyInstallTimeout),
		LogLevel:       v.GetString(KeyLogLevel),
		LogFormat:      v.GetString(KeyLogFormat),
		Color:          v.GetBool(KeyColor),
	}
}

// Set writes a key-value pair to the user config file. Only the user file
// is rewritten; merged project settings are left out.
func Set(key, value string) error {
	if !IsKnown(key) {
		return fmt.Errorf("unknown setting %q", key)
	}
	if err := EnsureDir(); err != nil {
		return err
	}

	configFile := FilePath()
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType(fileType)
	if _, err := os.Stat(configFile); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	v.Set(key, value)
	if err := v.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	viper.Set(key, value)
	return nil
}
