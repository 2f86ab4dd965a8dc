package cli

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"

	"github.com/spf13/cobra"

	"github.com/agentx-labs/stackforge/internal/config"
	"github.com/agentx-labs/stackforge/internal/engine"
	"github.com/agentx-labs/stackforge/internal/registry"
	"github.com/agentx-labs/stackforge/internal/resolver"
	"github.com/agentx-labs/stackforge/internal/rules"
)

var lookPath = exec.LookPath

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that installers and settings are usable",
	Long: `Run diagnostic checks: settings files, the registry, and whether the
installer command of every ecosystem is available on PATH.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		s := settings()

		fmt.Fprintln(w, "Settings check:")
		checkFile(w, "user config", config.FilePath())
		checkFile(w, "project config", config.ProjectFilePath(flagRoot))

		fmt.Fprintln(w, "Registry check:")
		reg, err := engine.LoadRegistry(s.RegistryPath)
		if err != nil {
			fmt.Fprintf(w, "  [FAIL] %v\n", err)
			return fmt.Errorf("registry check failed: %w", err)
		}
		fmt.Fprintf(w, "  [ OK ] compiled (%d rules, %d artifacts)\n", len(reg.Rules), len(reg.Artifacts))

		fmt.Fprintln(w, "Installer check:")
		missing := checkInstallers(w, reg)
		checkBinary(w, "git")
		if missing > 0 {
			fmt.Fprintf(w, "\n%d installer(s) missing; setup skips ecosystems whose installer cannot run.\n", missing)
		}
		return nil
	},
}

func checkFile(w io.Writer, label, path string) {
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(w, "  [INFO] %s not present (%s)\n", label, path)
		return
	}
	fmt.Fprintf(w, "  [ OK ] %s at %s\n", label, path)
}

// checkInstallers reports the binary behind every ecosystem command and
// variant, returning how many are missing.
func checkInstallers(w io.Writer, reg *registry.Compiled) int {
	seen := map[string]bool{}
	var missing int
	for _, name := range sortedKeys(reg.Ecosystems) {
		for _, bin := range installerBinaries(reg.Ecosystems[name]) {
			if seen[bin] {
				continue
			}
			seen[bin] = true
			if !checkBinary(w, bin) {
				missing++
			}
		}
	}
	return missing
}

func installerBinaries(eco resolver.Ecosystem) []string {
	sets := []rules.FeatureSet{nil}
	for _, v := range eco.Variants {
		sets = append(sets, rules.NewFeatureSet(v.When))
	}
	var bins []string
	for _, features := range sets {
		inst, err := eco.Installer(features, []resolver.Resolved{{Ecosystem: eco.Name, Package: "probe"}})
		if err != nil || inst.Binary() == "" {
			continue
		}
		bins = append(bins, inst.Binary())
	}
	sort.Strings(bins)
	return bins
}

func checkBinary(w io.Writer, name string) bool {
	path, err := lookPath(name)
	if err != nil {
		fmt.Fprintf(w, "  [MISS] %s not found\n", name)
		return false
	}
	fmt.Fprintf(w, "  [ OK ] %s found at %s\n", name, path)
	return true
}
