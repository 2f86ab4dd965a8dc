package registry

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"
)

//go:embed defaults
var defaultFS embed.FS

// Source is a location holding registry documents.
type Source struct {
	Name string
	FS   fs.FS
}

// DefaultSource returns the registry embedded in the binary.
func DefaultSource() Source {
	sub, err := fs.Sub(defaultFS, "defaults")
	if err != nil {
		panic(fmt.Sprintf("embedded registry: %v", err))
	}
	return Source{Name: "builtin", FS: sub}
}

// DirSource returns a source reading documents from dir.
func DirSource(dir string) (Source, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return Source{}, fmt.Errorf("opening registry directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return Source{}, fmt.Errorf("registry path %s is not a directory", dir)
	}
	return Source{Name: dir, FS: os.DirFS(dir)}, nil
}

// loadedDoc is a parsed document and the source it came from.
type loadedDoc struct {
	source Source
	file   string
	doc    *Document
}

// Registry is the merged set of registry documents.
type Registry struct {
	versions   []string
	ecosystems []entry[EcosystemSpec]
	rules      []entry[RuleSpec]
	exclusions []entry[ExclusionSpec]
	plugins    []entry[PluginSpec]
	artifacts  []entry[ArtifactSpec]
}

// entry ties a spec to the source that declared it, for template lookup
// and error messages.
type entry[T any] struct {
	spec   T
	source Source
	file   string
}

// Load reads every *.yaml and *.yml document at the top of each source. An
// entry with the same identity in an earlier source shadows later ones, so
// callers pass the user directory before DefaultSource.
func Load(sources ...Source) (*Registry, error) {
	var (
		docs    []loadedDoc
		invalid []*ValidationResult
	)
	for _, src := range sources {
		files, err := documentFiles(src.FS)
		if err != nil {
			return nil, fmt.Errorf("listing registry %s: %w", src.Name, err)
		}
		for _, file := range files {
			data, err := fs.ReadFile(src.FS, file)
			if err != nil {
				return nil, fmt.Errorf("reading registry %s/%s: %w", src.Name, file, err)
			}
			label := src.Name + ":" + file
			result, err := Validate(label, data)
			if err != nil {
				return nil, err
			}
			if !result.Valid {
				invalid = append(invalid, result)
				continue
			}
			doc, err := parseDocument(data, label)
			if err != nil {
				return nil, err
			}
			docs = append(docs, loadedDoc{source: src, file: label, doc: doc})
		}
	}
	if len(invalid) > 0 {
		return nil, &ValidationError{Results: invalid}
	}

	r := &Registry{}
	for _, d := range docs {
		if d.doc.Version != "" {
			r.versions = append(r.versions, d.file+"@"+d.doc.Version)
		}
		r.ecosystems = appendUnique(r.ecosystems, d, d.doc.Ecosystems, func(s EcosystemSpec) string { return s.Name })
		r.rules = appendUnique(r.rules, d, d.doc.Rules, func(s RuleSpec) string { return s.ID })
		r.exclusions = appendUnique(r.exclusions, d, d.doc.Exclusions, func(s ExclusionSpec) string { return s.Slot })
		r.plugins = appendUnique(r.plugins, d, d.doc.Plugins, func(s PluginSpec) string {
			return s.Ecosystem + "/" + s.Package + "/" + strings.Join(s.Triggers, ",")
		})
		r.artifacts = appendUnique(r.artifacts, d, d.doc.Artifacts, func(s ArtifactSpec) string { return s.ID })
	}
	return r, nil
}

// Default loads only the embedded registry.
func Default() (*Registry, error) {
	return Load(DefaultSource())
}

func documentFiles(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch path.Ext(e.Name()) {
		case ".yaml", ".yml":
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// parseDocument decodes strictly so misspelled keys surface as errors.
func parseDocument(data []byte, label string) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing registry %s: %w", label, err)
	}
	return &doc, nil
}

// appendUnique appends specs whose identity has not been seen yet. Within a
// single document duplicates are kept so Check can report them.
func appendUnique[T any](dst []entry[T], d loadedDoc, specs []T, id func(T) string) []entry[T] {
	seen := make(map[string]string, len(dst))
	for _, e := range dst {
		seen[id(e.spec)] = e.source.Name
	}
	for _, s := range specs {
		if owner, ok := seen[id(s)]; ok && owner != d.source.Name {
			continue
		}
		dst = append(dst, entry[T]{spec: s, source: d.source, file: d.file})
	}
	return dst
}
