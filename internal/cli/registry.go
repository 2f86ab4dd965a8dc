package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentx-labs/stackforge/internal/engine"
	"github.com/agentx-labs/stackforge/internal/registry"
	"github.com/agentx-labs/stackforge/internal/rules"
)

var registrySections = []string{"ecosystems", "rules", "exclusions", "plugins", "artifacts"}

func init() {
	registryCmd.AddCommand(registryValidateCmd)
	registryCmd.AddCommand(registryShowCmd)
	rootCmd.AddCommand(registryCmd)
}

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect the detection and toolchain registry",
	Long: `The registry is the built-in set of ecosystems, rules, plugins and artifacts,
shadowed by any documents in the directory given with --registry or registry.path.`,
}

var registryValidateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Validate registry documents and cross-references",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := settings().RegistryPath
		if len(args) == 1 {
			dir = args[0]
		}
		reg, err := engine.LoadRegistry(dir)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "[FAIL] %v\n", err)
			return fmt.Errorf("registry validation failed: %w", err)
		}

		w := cmd.OutOrStdout()
		for _, v := range reg.Versions {
			fmt.Fprintf(w, "  %s\n", v)
		}
		fmt.Fprintf(w, "[ OK ] %d ecosystems, %d rules, %d exclusions, %d plugins, %d artifacts\n",
			len(reg.Ecosystems), len(reg.Rules), len(reg.Exclusions), len(reg.Plugins), len(reg.Artifacts))
		return nil
	},
}

var registryShowCmd = &cobra.Command{
	Use:       "show [section]",
	Short:     "Print the compiled registry",
	Long:      `Print the compiled registry. Section is one of: ` + strings.Join(registrySections, ", ") + `.`,
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: registrySections,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := engine.LoadRegistry(settings().RegistryPath)
		if err != nil {
			return fmt.Errorf("loading registry: %w", err)
		}
		sections := registrySections
		if len(args) == 1 {
			sections = args
		}
		w := cmd.OutOrStdout()
		for i, s := range sections {
			if i > 0 {
				fmt.Fprintln(w)
			}
			showSection(w, reg, s)
		}
		return nil
	},
}

func showSection(w io.Writer, reg *registry.Compiled, section string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	switch section {
	case "ecosystems":
		fmt.Fprintln(tw, "ECOSYSTEM\tINSTALL\tMANIFESTS")
		for _, name := range sortedKeys(reg.Ecosystems) {
			eco := reg.Ecosystems[name]
			fmt.Fprintf(tw, "%s\t%s\t%s\n", name, eco.Install, strings.Join(eco.Manifests, ", "))
			for _, v := range eco.Variants {
				fmt.Fprintf(tw, "  [%s]\t%s\t%s\n", v.When, v.Install, strings.Join(v.Manifests, ", "))
			}
		}
	case "rules":
		fmt.Fprintln(tw, "RULE\tFEATURE\tPRIORITY\tDESCRIPTION")
		for _, r := range reg.Rules {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.ID, r.Produces, r.Priority, r.Description)
		}
	case "exclusions":
		fmt.Fprintln(tw, "SLOT\tFEATURES")
		for _, x := range reg.Exclusions {
			fmt.Fprintf(tw, "%s\t%s\n", x.Slot, featureList(x.Features))
		}
	case "plugins":
		fmt.Fprintln(tw, "ECOSYSTEM\tPACKAGE\tCONSTRAINT\tTRIGGERS")
		for _, p := range reg.Plugins {
			constraint := p.Constraint
			if constraint == "" {
				constraint = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Ecosystem, p.Package, constraint, featureList(p.Triggers))
		}
	case "artifacts":
		fmt.Fprintln(tw, "ARTIFACT\tPATH\tFORMAT\tSTRATEGY\tTRIGGERS")
		for _, a := range reg.Artifacts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Path, a.Format, a.Strategy, featureList(a.Triggers))
		}
	}
}

func featureList(fs []rules.Feature) string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
