package registry

// APIVersion is the only document version this build understands.
const APIVersion = "stackforge/v1"

// Document is one registry YAML file.
type Document struct {
	APIVersion string          `yaml:"apiVersion"`
	Version    string          `yaml:"version,omitempty"`
	Ecosystems []EcosystemSpec `yaml:"ecosystems,omitempty"`
	Rules      []RuleSpec      `yaml:"rules,omitempty"`
	Exclusions []ExclusionSpec `yaml:"exclusions,omitempty"`
	Plugins    []PluginSpec    `yaml:"plugins,omitempty"`
	Artifacts  []ArtifactSpec  `yaml:"artifacts,omitempty"`
}

// EcosystemSpec declares an installer.
type EcosystemSpec struct {
	Name          string        `yaml:"name"`
	Install       string        `yaml:"install"`
	Manifests     []string      `yaml:"manifests,omitempty"`
	PackageFormat string        `yaml:"package_format,omitempty"`
	ConstraintAnd string        `yaml:"constraint_and,omitempty"`
	PerPackage    bool          `yaml:"per_package,omitempty"`
	Variants      []VariantSpec `yaml:"variants,omitempty"`
}

// VariantSpec swaps the install command when a feature is active.
type VariantSpec struct {
	When      string   `yaml:"when"`
	Install   string   `yaml:"install"`
	Manifests []string `yaml:"manifests,omitempty"`
}

// RuleSpec is a declarative detection rule.
type RuleSpec struct {
	ID          string   `yaml:"id"`
	Produces    string   `yaml:"produces"`
	Priority    int      `yaml:"priority,omitempty"`
	Description string   `yaml:"description,omitempty"`
	When        WhenSpec `yaml:"when"`
}

// WhenSpec combines signal-key conditions; every non-empty clause must hold.
type WhenSpec struct {
	All      []string      `yaml:"all,omitempty"`
	Any      []string      `yaml:"any,omitempty"`
	None     []string      `yaml:"none,omitempty"`
	Versions []VersionSpec `yaml:"versions,omitempty"`
}

// VersionSpec requires a signal value to satisfy a semver constraint.
type VersionSpec struct {
	Key        string `yaml:"key"`
	Constraint string `yaml:"constraint"`
}

// ExclusionSpec declares mutually exclusive features.
type ExclusionSpec struct {
	Slot     string   `yaml:"slot"`
	Features []string `yaml:"features"`
}

// PluginSpec declares a toolchain package.
type PluginSpec struct {
	Ecosystem string   `yaml:"ecosystem"`
	Package   string   `yaml:"package"`
	Version   string   `yaml:"version,omitempty"`
	Triggers  []string `yaml:"triggers"`
}

// ArtifactSpec declares a configuration file.
type ArtifactSpec struct {
	ID           string   `yaml:"id"`
	Path         string   `yaml:"path"`
	Format       string   `yaml:"format"`
	Merge        string   `yaml:"merge"`
	Ecosystem    string   `yaml:"ecosystem,omitempty"`
	Triggers     []string `yaml:"triggers"`
	Mode         string   `yaml:"mode,omitempty"`
	Comment      string   `yaml:"comment,omitempty"`
	Hook         string   `yaml:"hook,omitempty"`
	Template     string   `yaml:"template,omitempty"`
	TemplateFile string   `yaml:"template_file,omitempty"`
}
