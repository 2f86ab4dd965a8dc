package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentx-labs/stackforge/internal/config"
)

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage user settings",
	Long: `Read and write settings stored at ~/.stackforge/config.yaml. Values in the
project's .stackforge.yaml and STACKFORGE_* environment variables take precedence.`,
}

var configSetCmd = &cobra.Command{
	Use:               "set <key> <value>",
	Short:             "Set a configuration value",
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeSettingKey,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.Set(key, value); err != nil {
			return fmt.Errorf("setting config key %q: %w", key, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:               "get <key>",
	Short:             "Get a configuration value",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeSettingKey,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !config.IsKnown(args[0]) {
			return fmt.Errorf("unknown setting %q; run '%s config list' for the known keys", args[0], rootCmd.Name())
		}
		fmt.Fprintln(cmd.OutOrStdout(), settingValue(args[0]))
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every setting with its resolved value",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tVALUE\tENV\tDESCRIPTION")
		for _, s := range config.Known {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Key, settingValue(s.Key), config.EnvVar(s.Key), s.Usage)
		}
		return tw.Flush()
	},
}

// settingValue renders a resolved value; lists print comma-separated.
func settingValue(key string) string {
	if v, ok := viper.Get(key).([]string); ok {
		return strings.Join(v, ",")
	}
	if v, ok := viper.Get(key).([]any); ok {
		parts := make([]string, len(v))
		for i, p := range v {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ",")
	}
	return viper.GetString(key)
}

func completeSettingKey(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	keys := make([]string, 0, len(config.Known))
	for _, s := range config.Known {
		if strings.HasPrefix(s.Key, toComplete) {
			keys = append(keys, s.Key)
		}
	}
	return keys, cobra.ShellCompDirectiveNoFileComp
}
