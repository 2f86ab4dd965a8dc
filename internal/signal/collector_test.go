package signal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newReactProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "package.json", `{
  "name": "web",
  "dependencies": {"react": "^18.2.0"},
  "devDependencies": {"vitest": "^1.6.0", "typescript": "~5.4.0"},
  "scripts": {"test": "vitest run"}
}`)
	writeFile(t, root, "pnpm-lock.yaml", "lockfileVersion: '9.0'\n")
	writeFile(t, root, "vitest.config.ts", "export default {}\n")
	writeFile(t, root, "tsconfig.json", "{}\n")
	writeFile(t, root, "src/pages/index.astro", "---\n---\n")
	writeFile(t, root, "node_modules/jest/package.json", `{"name": "jest"}`)
	writeFile(t, root, "node_modules/jest/jest.config.js", "module.exports = {}\n")
	return root
}

func TestCollectReactProject(t *testing.T) {
	root := newReactProject(t)
	c := New(Options{Probes: []string{"vitest.config.*", "jest.config.*", "tsconfig.json", "*.astro"}})

	set, err := c.Collect(context.Background(), root)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	for _, key := range []string{
		Dependency("react"),
		Dependency("vitest"),
		Script("test"),
		Lockfile("pnpm"),
		ManifestFile("package.json"),
		FileExists("vitest.config.*"),
		FileExists("tsconfig.json"),
		FileExists("*.astro"),
	} {
		if !set.Has(key) {
			t.Errorf("Has(%q) = false, want true", key)
		}
	}
	if set.Has(FileExists("jest.config.*")) {
		t.Error("jest.config.* under node_modules was not excluded")
	}
	if got := set.Values(Dependency("typescript")); !cmp.Equal(got, []string{"~5.4.0"}) {
		t.Errorf("Values(typescript) = %v, want [~5.4.0]", got)
	}
	if got := set.Get(FileExists("*.astro")); len(got) != 1 || got[0].SourcePath != "src/pages/index.astro" {
		t.Errorf("Get(*.astro) = %v, want one signal from src/pages/index.astro", got)
	}
}

func TestCollectDeterministic(t *testing.T) {
	root := newReactProject(t)
	probes := []string{"vitest.config.*", "tsconfig.json"}

	first, err := New(Options{Probes: probes, Workers: 1}).Collect(context.Background(), root)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	reversed := []string{probes[1], probes[0]}
	second, err := New(Options{Probes: reversed, Workers: 8}).Collect(context.Background(), root)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if !first.Equal(second) {
		t.Errorf("signal sets differ:\n%s", cmp.Diff(first.All(), second.All()))
	}
}

func TestCollectMalformedManifestIsGap(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", "{not json")
	writeFile(t, root, "go.mod", "module example.com/app\n\ngo 1.24\n\nrequire github.com/spf13/cobra v1.10.2\n")

	set, err := New(Options{}).Collect(context.Background(), root)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if set.Has(ManifestFile("package.json")) {
		t.Error("malformed package.json produced a manifest signal")
	}
	if !set.Has(Dependency("github.com/spf13/cobra")) {
		t.Error("go.mod dependency missing")
	}
	if len(set.Gaps) != 1 || set.Gaps[0].Path != "package.json" {
		t.Errorf("Gaps = %v, want one gap for package.json", set.Gaps)
	}
}

func TestCollectMissingRoot(t *testing.T) {
	_, err := New(Options{}).Collect(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Error("Collect(missing root) error = nil, want error")
	}
}

func TestCollectCancelled(t *testing.T) {
	root := newReactProject(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Options{}).Collect(ctx, root)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Collect() error = %v, want context.Canceled", err)
	}
}

func TestCollectDirectoryProbe(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".git/HEAD", "ref: refs/heads/main\n")
	writeFile(t, root, ".git/hooks/pre-commit.sample", "#!/bin/sh\n")

	set, err := New(Options{Probes: []string{".git", "*.sample"}}).Collect(context.Background(), root)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if !set.Has(FileExists(".git")) {
		t.Error(".git directory probe did not fire")
	}
	if set.Has(FileExists("*.sample")) {
		t.Error("walk descended into .git")
	}
}

func TestCollectExcludedFileIsNotProbed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".git/HEAD", "ref: refs/heads/main\n")
	writeFile(t, root, "jest.config.js", "module.exports = {}\n")
	writeFile(t, root, "vitest.config.ts", "export default {}\n")

	opts := Options{
		Probes:  []string{".git", "jest.config.*", "vitest.config.*"},
		Exclude: append(DefaultExcludes(), "jest.config.js"),
	}
	set, err := New(opts).Collect(context.Background(), root)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if set.Has(FileExists("jest.config.*")) {
		t.Error("excluded file produced a probe signal")
	}
	if !set.Has(FileExists("vitest.config.*")) {
		t.Error("vitest.config.ts probe did not fire")
	}
	if !set.Has(FileExists(".git")) {
		t.Error("excluded .git directory was not probed")
	}
}
