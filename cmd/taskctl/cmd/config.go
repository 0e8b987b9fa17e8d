package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage taskctl configuration",
	Long:  `Manage taskctl configuration settings.`,
}

// configViewCmd represents the config view command
var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View current configuration",
	Long:  `Display the current configuration settings.`,
	Run: func(cmd *cobra.Command, args []string) {
		current := map[string]any{}
		for _, k := range configKeys {
			current[k] = viper.Get(k)
		}
		printOutput(cmd, current, func(w io.Writer) {
			fmt.Fprintln(w, "Current configuration:")
			for _, k := range configKeys {
				fmt.Fprintf(w, "  %s: %v\n", k, viper.Get(k))
			}
			if viper.ConfigFileUsed() != "" {
				fmt.Fprintf(w, "  Config file: %s\n", viper.ConfigFileUsed())
			} else {
				fmt.Fprintln(w, "  Config file: none (using defaults)")
			}
		})
	},
}

// configSetCmd represents the config set command
var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: `Set a configuration value and save it to the config file.

Examples:
  taskctl config set task-url http://localhost:8083
  taskctl config set timeout 60s
  taskctl config set json true`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		parsed, err := parseConfigValue(key, value)
		if err != nil {
			return err
		}
		viper.Set(key, parsed)

		path, err := configPath()
		if err != nil {
			return err
		}
		if err := viper.WriteConfigAs(path); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
		return nil
	},
}

// parseConfigValue checks key and converts value to the type viper should store
func parseConfigValue(key, value string) (any, error) {
	switch key {
	case "json":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid boolean value for %s: %s (use true/false)", key, value)
		}
		return b, nil
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid duration for %s: %s", key, value)
		}
		return d.String(), nil
	case "user-url", "project-url", "task-url", "notifier-url":
		return value, nil
	default:
		return nil, fmt.Errorf("invalid configuration key: %s. Valid keys are: %v", key, configKeys)
	}
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".taskctl.yaml"), nil
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configSetCmd)
}
