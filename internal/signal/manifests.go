package signal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/mod/modfile"
)

// manifestParser turns one manifest file into signals.
type manifestParser func(rel string, data []byte) ([]Signal, error)

// lockfiles maps lockfile base names to the manager that writes them.
var lockfiles = map[string]string{
	"package-lock.json":   "npm",
	"npm-shrinkwrap.json": "npm",
	"pnpm-lock.yaml":      "pnpm",
	"yarn.lock":           "yarn",
	"bun.lock":            "bun",
	"bun.lockb":           "bun",
	"Cargo.lock":          "cargo",
	"poetry.lock":         "poetry",
	"uv.lock":             "uv",
	"Pipfile.lock":        "pipenv",
	"go.sum":              "go",
	"packages.lock.json":  "nuget",
}

var manifestParsers = []struct {
	glob   string
	parser manifestParser
}{
	{"package.json", parsePackageJSON},
	{"go.mod", parseGoMod},
	{"Cargo.toml", parseCargoToml},
	{"pyproject.toml", parsePyproject},
	{"requirements*.txt", parseRequirements},
	{"*.csproj", parseMSBuildProject},
	{"*.fsproj", parseMSBuildProject},
	{"dotnet-tools.json", parseDotnetTools},
}

func parserFor(rel string) manifestParser {
	base := path.Base(rel)
	for _, mp := range manifestParsers {
		if ok, _ := doublestar.Match(mp.glob, base); ok {
			return mp.parser
		}
	}
	return nil
}

func dependencySignals(rel string, deps map[string]string) []Signal {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Signal, 0, len(names))
	for _, name := range names {
		out = append(out, Signal{Key: Dependency(name), Value: deps[name], SourcePath: rel})
	}
	return out
}

type packageJSON struct {
	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
	Scripts              map[string]string `json:"scripts"`
}

func parsePackageJSON(rel string, data []byte) ([]Signal, error) {
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parsing package.json: %w", err)
	}
	deps := make(map[string]string)
	for _, m := range []map[string]string{pkg.OptionalDependencies, pkg.PeerDependencies, pkg.DevDependencies, pkg.Dependencies} {
		for name, version := range m {
			deps[name] = version
		}
	}
	out := dependencySignals(rel, deps)
	scripts := make([]string, 0, len(pkg.Scripts))
	for name := range pkg.Scripts {
		scripts = append(scripts, name)
	}
	sort.Strings(scripts)
	for _, name := range scripts {
		out = append(out, Signal{Key: Script(name), Value: pkg.Scripts[name], SourcePath: rel})
	}
	return out, nil
}

func parseGoMod(rel string, data []byte) ([]Signal, error) {
	f, err := modfile.Parse(rel, data, nil)
	if err != nil {
		return nil, fmt.Errorf("parsing go.mod: %w", err)
	}
	deps := make(map[string]string)
	for _, r := range f.Require {
		deps[r.Mod.Path] = r.Mod.Version
	}
	// Tool directives name packages; borrow the version of the module providing them.
	for _, tool := range f.Tool {
		version := ""
		for _, r := range f.Require {
			if tool.Path == r.Mod.Path || strings.HasPrefix(tool.Path, r.Mod.Path+"/") {
				version = r.Mod.Version
				break
			}
		}
		deps[tool.Path] = version
	}
	return dependencySignals(rel, deps), nil
}

func parseCargoToml(rel string, data []byte) ([]Signal, error) {
	var manifest struct {
		Dependencies    map[string]any `toml:"dependencies"`
		DevDependencies map[string]any `toml:"dev-dependencies"`
	}
	if _, err := toml.Decode(string(data), &manifest); err != nil {
		return nil, fmt.Errorf("parsing Cargo.toml: %w", err)
	}
	deps := make(map[string]string)
	for _, m := range []map[string]any{manifest.DevDependencies, manifest.Dependencies} {
		for name, spec := range m {
			deps[name] = cargoVersion(spec)
		}
	}
	return dependencySignals(rel, deps), nil
}

// cargoVersion accepts `name = "1.0"` and `name = { version = "1.0" }`.
func cargoVersion(spec any) string {
	switch v := spec.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["version"].(string); ok {
			return s
		}
	}
	return ""
}

type pyproject struct {
	Project struct {
		Dependencies         []string            `toml:"dependencies"`
		OptionalDependencies map[string][]string `toml:"optional-dependencies"`
	} `toml:"project"`
	DependencyGroups map[string][]any `toml:"dependency-groups"`
	Tool             struct {
		Poetry struct {
			Dependencies    map[string]any `toml:"dependencies"`
			DevDependencies map[string]any `toml:"dev-dependencies"`
			Group           map[string]struct {
				Dependencies map[string]any `toml:"dependencies"`
			} `toml:"group"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

func parsePyproject(rel string, data []byte) ([]Signal, error) {
	var p pyproject
	if _, err := toml.Decode(string(data), &p); err != nil {
		return nil, fmt.Errorf("parsing pyproject.toml: %w", err)
	}
	deps := make(map[string]string)
	addRequirement := func(req string) {
		if name, spec, ok := splitRequirement(req); ok {
			deps[name] = spec
		}
	}
	for _, req := range p.Project.Dependencies {
		addRequirement(req)
	}
	for _, group := range p.Project.OptionalDependencies {
		for _, req := range group {
			addRequirement(req)
		}
	}
	for _, group := range p.DependencyGroups {
		for _, entry := range group {
			// Entries may also be {include-group = "..."} tables.
			if req, ok := entry.(string); ok {
				addRequirement(req)
			}
		}
	}
	poetry := []map[string]any{p.Tool.Poetry.Dependencies, p.Tool.Poetry.DevDependencies}
	for _, g := range p.Tool.Poetry.Group {
		poetry = append(poetry, g.Dependencies)
	}
	for _, m := range poetry {
		for name, spec := range m {
			if strings.EqualFold(name, "python") {
				continue
			}
			deps[normalizePyName(name)] = cargoVersion(spec)
		}
	}
	return dependencySignals(rel, deps), nil
}

var requirementName = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)(\[[^\]]*\])?\s*(.*)$`)

// splitRequirement parses a PEP 508 requirement into a normalized name and
// its version specifier, dropping extras and environment markers.
func splitRequirement(req string) (string, string, bool) {
	req = strings.TrimSpace(req)
	if i := strings.Index(req, ";"); i >= 0 {
		req = strings.TrimSpace(req[:i])
	}
	m := requirementName.FindStringSubmatch(req)
	if m == nil {
		return "", "", false
	}
	spec := strings.TrimSpace(m[3])
	if strings.HasPrefix(spec, "@") {
		spec = ""
	}
	return normalizePyName(m[1]), strings.ReplaceAll(spec, " ", ""), true
}

func normalizePyName(name string) string {
	return strings.ToLower(strings.NewReplacer("_", "-", ".", "-").Replace(name))
}

func parseRequirements(rel string, data []byte) ([]Signal, error) {
	deps := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, " #"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		if name, spec, ok := splitRequirement(line); ok {
			deps[name] = spec
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading requirements: %w", err)
	}
	return dependencySignals(rel, deps), nil
}

type msbuildProject struct {
	ItemGroups []struct {
		PackageReferences []struct {
			Include string `xml:"Include,attr"`
			Version string `xml:"Version,attr"`
		} `xml:"PackageReference"`
	} `xml:"ItemGroup"`
}

func parseMSBuildProject(rel string, data []byte) ([]Signal, error) {
	var proj msbuildProject
	if err := xml.Unmarshal(data, &proj); err != nil {
		return nil, fmt.Errorf("parsing project file: %w", err)
	}
	deps := make(map[string]string)
	for _, group := range proj.ItemGroups {
		for _, ref := range group.PackageReferences {
			if ref.Include != "" {
				deps[ref.Include] = ref.Version
			}
		}
	}
	return dependencySignals(rel, deps), nil
}

func parseDotnetTools(rel string, data []byte) ([]Signal, error) {
	var manifest struct {
		Tools map[string]struct {
			Version string `json:"version"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing dotnet-tools.json: %w", err)
	}
	deps := make(map[string]string)
	for name, tool := range manifest.Tools {
		deps[name] = tool.Version
	}
	return dependencySignals(rel, deps), nil
}
