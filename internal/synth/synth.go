package synth

import (
	"errors"
	"fmt"

	"github.com/agentx-labs/stackforge/internal/faults"
	"github.com/agentx-labs/stackforge/internal/logging"
	"go.uber.org/zap"
)

// Synthesizer reconciles rendered artifacts with existing file contents.
type Synthesizer struct {
	tag    string
	logger *zap.Logger
}

// New creates a Synthesizer. tag is written into managed-region markers.
func New(tag string, logger *zap.Logger) *Synthesizer {
	if tag == "" {
		tag = "stackforge"
	}
	return &Synthesizer{tag: tag, logger: logging.OrNop(logger)}
}

// Synthesize renders a and merges it with existing, which is nil when the
// file does not exist. It never touches the file system. Conflicts are
// returned as *faults.SynthesisConflict.
func (s *Synthesizer) Synthesize(a Artifact, rc RenderContext, existing []byte) (*Result, error) {
	rendered, err := Render(a, rc)
	if err != nil {
		return nil, err
	}
	res := &Result{ArtifactID: a.ID, Path: a.Path, Rendered: rendered}

	if existing == nil {
		res.Change = Created
		res.Summary = "create"
		res.Final = rendered
		if a.Strategy == FailIfConflicting {
			if a.CommentPrefix() == "" {
				s.degrade(a, res)
			} else {
				res.Final = s.newRegion(a, rendered)
			}
		}
		return res, nil
	}

	switch a.Strategy {
	case OverwriteIfAbsent:
		keep(res, existing)
	case AppendUniqueLines:
		err = appendUniqueLines(res, existing, rendered)
	case DeepMergeSections:
		err = s.deepMerge(a, res, existing, rendered)
	case FailIfConflicting:
		if a.CommentPrefix() == "" {
			s.degrade(a, res)
			keep(res, existing)
			break
		}
		err = s.mergeRegion(a, res, existing, rendered)
	default:
		err = fmt.Errorf("unknown merge strategy %q", a.Strategy)
	}
	if err != nil {
		var sc *faults.SynthesisConflict
		if errors.As(err, &sc) {
			return nil, err
		}
		return nil, &faults.SynthesisConflict{ArtifactID: a.ID, Path: a.Path, Reason: "merge failed", Cause: err}
	}
	if res.Change == Updated && string(res.Final) == string(existing) {
		res.Change = Unchanged
		res.Summary = "up to date"
	}
	return res, nil
}

func keep(res *Result, existing []byte) {
	res.Final = existing
	res.Change = Skipped
	res.Summary = "exists; left untouched"
}

func (s *Synthesizer) degrade(a Artifact, res *Result) {
	res.Degraded = true
	s.logger.Warn("format has no comment syntax; managed region unavailable, writing only if absent",
		zap.String("artifact", a.ID),
		zap.String("path", a.Path),
		zap.String("format", string(a.Format)))
}

func (s *Synthesizer) deepMerge(a Artifact, res *Result, existing, rendered []byte) error {
	switch a.Format {
	case FormatJSON:
		return mergeJSON(a, res, existing, rendered)
	case FormatYAML:
		return mergeYAML(a, res, existing, rendered)
	case FormatTOML:
		return mergeSections(a, res, existing, rendered, tomlDialect)
	case FormatINI:
		return mergeSections(a, res, existing, rendered, iniDialect)
	}
	return fmt.Errorf("deep merge is not supported for format %s", a.Format)
}

func conflict(a Artifact, reason string, cause error) *faults.SynthesisConflict {
	return &faults.SynthesisConflict{ArtifactID: a.ID, Path: a.Path, Reason: reason, Cause: cause}
}
