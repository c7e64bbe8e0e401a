package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/xsnotify/internal/config"
)

var configOpts struct {
	format string
	force  bool
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or initialise the configuration",
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), configPath())
		return err
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration the relay would run with: the config file merged
with the env file and XSNOTIF_* environment variables.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.LoadOptions{
			Path:    configPath(),
			EnvFile: globalOpts.envFile,
		})
		if err != nil {
			return err
		}
		return renderConfig(cmd.OutOrStdout(), cfg, configOpts.format)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		if configOpts.force {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove config file: %w", err)
			}
		}

		created, err := config.EnsureDefault(path)
		if err != nil {
			return err
		}
		if !created {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), "Wrote", path)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configPathCmd, configShowCmd, configInitCmd)

	configShowCmd.Flags().StringVarP(&configOpts.format, "format", "f", "toml",
		"Output format (toml, yaml, json)")
	configInitCmd.Flags().BoolVar(&configOpts.force, "force", false,
		"Overwrite an existing config file")
}

// renderConfig writes cfg in the requested format. YAML and JSON use the
// same key names as the TOML file.
func renderConfig(w io.Writer, cfg *config.Config, format string) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	switch format {
	case "toml":
		_, err = w.Write(data)
		return err
	case "yaml", "json":
	default:
		return fmt.Errorf("unknown format %q (expected toml, yaml or json)", format)
	}

	var tree map[string]any
	if err := toml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if format == "yaml" {
		out, err := yaml.Marshal(tree)
		if err != nil {
			return fmt.Errorf("failed to marshal config as YAML: %w", err)
		}
		_, err = w.Write(out)
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(tree)
}
