package synth

import (
	"fmt"
	"io/fs"
	"text/template"

	"github.com/agentx-labs/stackforge/internal/rules"
)

// Format is the on-disk syntax of an artifact.
type Format string

const (
	FormatJSON   Format = "json"
	FormatYAML   Format = "yaml"
	FormatTOML   Format = "toml"
	FormatINI    Format = "ini"
	FormatScript Format = "script"
	FormatIgnore Format = "ignore"
	FormatText   Format = "text"
)

// Strategy decides how rendered content meets an existing file.
type Strategy string

const (
	OverwriteIfAbsent Strategy = "overwrite-if-absent"
	DeepMergeSections Strategy = "deep-merge-sections"
	AppendUniqueLines Strategy = "append-unique-lines"
	FailIfConflicting Strategy = "fail-if-conflicting"
)

// Formats lists every supported format.
var Formats = []Format{FormatJSON, FormatYAML, FormatTOML, FormatINI, FormatScript, FormatIgnore, FormatText}

// Strategies lists every supported strategy.
var Strategies = []Strategy{OverwriteIfAbsent, DeepMergeSections, AppendUniqueLines, FailIfConflicting}

// Artifact is one configuration file the engine may write.
type Artifact struct {
	ID        string
	Path      string // root-relative, slash separated
	Format    Format
	Strategy  Strategy
	Ecosystem string // empty for project-wide artifacts
	Triggers  []rules.Feature
	Mode      fs.FileMode
	// Comment overrides the line-comment prefix used for managed-region markers.
	Comment string
	// Hook names the git hook this script backs, e.g. "pre-commit".
	Hook     string
	Template *template.Template
}

// Active reports whether any trigger is in features.
func (a Artifact) Active(features rules.FeatureSet) bool {
	return features.HasAny(a.Triggers...)
}

// CommentPrefix returns the line-comment syntax for the artifact's format,
// or "" when the format has none.
func (a Artifact) CommentPrefix() string {
	if a.Comment != "" {
		return a.Comment
	}
	switch a.Format {
	case FormatYAML, FormatTOML, FormatINI, FormatScript, FormatIgnore:
		return "#"
	}
	return ""
}

// CheckStrategy reports whether the strategy can be applied to the format.
func CheckStrategy(format Format, strategy Strategy) error {
	switch strategy {
	case OverwriteIfAbsent, FailIfConflicting:
		return nil
	case AppendUniqueLines:
		switch format {
		case FormatIgnore, FormatText:
			return nil
		}
	case DeepMergeSections:
		switch format {
		case FormatJSON, FormatYAML, FormatTOML, FormatINI:
			return nil
		}
	default:
		return fmt.Errorf("unknown merge strategy %q", strategy)
	}
	return fmt.Errorf("merge strategy %s does not support format %s", strategy, format)
}

// Change classifies what synthesis would do to the file.
type Change string

const (
	Created   Change = "created"
	Updated   Change = "updated"
	Unchanged Change = "unchanged"
	Skipped   Change = "skipped"
)

// Result is the outcome of synthesizing one artifact.
type Result struct {
	ArtifactID string
	Path       string
	Rendered   []byte
	Final      []byte
	Change     Change
	Summary    string
	// Degraded is set when the strategy fell back to overwrite-if-absent
	// because the format cannot carry managed-region markers.
	Degraded bool
}
