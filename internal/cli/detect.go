package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentx-labs/stackforge/internal/engine"
)

var (
	detectJSON    bool
	detectSignals bool
)

func init() {
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "Output in JSON format")
	detectCmd.Flags().BoolVar(&detectSignals, "signals", false, "Also list every collected signal")
	rootCmd.AddCommand(detectCmd)
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Show detected features and the toolchain they resolve to",
	Args:  cobra.NoArgs,
	RunE:  runDetect,
}

func runDetect(cmd *cobra.Command, args []string) error {
	eng, logger, err := newEngine(cmd, nil)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	out, err := eng.Detect(cmd.Context())
	if err != nil {
		return err
	}
	d := out.Detection(eng.Root())

	if detectJSON {
		if !detectSignals {
			d.Signals = nil
		}
		data, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling detection: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	printDetection(cmd.OutOrStdout(), d, detectSignals)
	return nil
}

func printDetection(w io.Writer, d *engine.Detection, withSignals bool) {
	fmt.Fprintf(w, "Root: %s\n\n", d.Root)

	if len(d.Features) == 0 {
		fmt.Fprintln(w, "No features detected.")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "FEATURE\tRULES")
		for _, f := range d.Features {
			fmt.Fprintf(tw, "%s\t%s\n", f.Name, strings.Join(f.Rules, ", "))
		}
		tw.Flush()
	}

	if len(d.Suppressed) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Suppressed:")
		for _, name := range sortedKeys(d.Suppressed) {
			fmt.Fprintf(w, "  %s (%s)\n", name, strings.Join(d.Suppressed[name], ", "))
		}
	}

	if len(d.Plugins) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ECOSYSTEM\tPACKAGE\tCONSTRAINT\tFEATURES")
		for _, eco := range sortedKeys(d.Plugins) {
			for _, p := range d.Plugins[eco] {
				constraint := p.Constraint
				if constraint == "" {
					constraint = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", eco, p.Name, constraint, strings.Join(p.Features, ", "))
			}
		}
		tw.Flush()
	}

	if len(d.Gaps) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Skipped files:")
		for _, g := range d.Gaps {
			fmt.Fprintf(w, "  %s: %s\n", g.Path, g.Reason)
		}
	}

	if withSignals && len(d.Signals) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Signals:")
		for _, s := range d.Signals {
			fmt.Fprintf(w, "  %s\n", s)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
