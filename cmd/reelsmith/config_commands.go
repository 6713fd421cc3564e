package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"reelsmith/internal/config"
)

const redacted = "<redacted>"

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create, check, and print configuration",
	}
	configCmd.AddCommand(
		newConfigInitCommand(),
		newConfigValidateCommand(ctx),
		newConfigShowCommand(ctx),
		newConfigPoliciesCommand(ctx),
	)
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(targetPath)
			if err != nil {
				return err
			}
			if !overwrite {
				_, statErr := os.Stat(target)
				switch {
				case statErr == nil:
					return fmt.Errorf("%s already exists; pass --overwrite to replace it", target)
				case !errors.Is(statErr, fs.ErrNotExist):
					return fmt.Errorf("check %s: %w", target, statErr)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set notifications.ntfy_topic or REELSMITH_NTFY_TOPIC to receive job notifications.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Where to write the file (default ~/.config/reelsmith/config.toml)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func initTarget(flagValue string) (string, error) {
	if value := strings.TrimSpace(flagValue); value != "" {
		return config.ExpandPath(value)
	}
	path, err := config.DefaultConfigPath()
	if err != nil {
		return "", fmt.Errorf("default config path: %w", err)
	}
	return path, nil
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report what it resolves to",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case ctx.configPath == "":
			case ctx.configSeen:
				fmt.Fprintf(out, "Config path: %s\n", ctx.configPath)
			default:
				fmt.Fprintf(out, "Config path: %s (not found, using defaults)\n", ctx.configPath)
			}
			fmt.Fprintf(out, "Work dir:  %s\n", cfg.Paths.WorkDir)
			fmt.Fprintf(out, "Registry:  %s (copies %s, mirror %s)\n",
				cfg.Paths.RegistryDir, yesNo(cfg.Registry.StoreCopies), yesNo(cfg.Registry.Mirror.Enabled))
			fmt.Fprintf(out, "Jobs db:   %s\n", cfg.Paths.JobsDB)
			fmt.Fprintf(out, "Policies:  %s\n", strings.Join(policyNames(cfg), ", "))
			fmt.Fprintf(out, "Notify:    %s\n", yesNo(cfg.Notifications.NtfyTopic != ""))
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Long:  "Prints the configuration after defaults, environment fallbacks, and path expansion. Mirror credentials are redacted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			data, err := toml.Marshal(redactConfig(*cfg))
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// redactConfig returns cfg with secrets masked. cfg is a copy; its Retry map
// is shared but left untouched.
func redactConfig(cfg config.Config) config.Config {
	if cfg.Registry.Mirror.AccessKey != "" {
		cfg.Registry.Mirror.AccessKey = redacted
	}
	if cfg.Registry.Mirror.SecretKey != "" {
		cfg.Registry.Mirror.SecretKey = redacted
	}
	return cfg
}

type policyView struct {
	Name            string  `json:"name"`
	MaxRetries      int     `json:"max_retries"`
	InitialBackoff  float64 `json:"initial_backoff"`
	MaxBackoff      float64 `json:"max_backoff"`
	BackoffFactor   float64 `json:"backoff_factor"`
	Jitter          bool    `json:"jitter"`
	HonorRetryAfter bool    `json:"honor_retry_after"`
}

func newConfigPoliciesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List the named retry policies steps can reference",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			views := make([]policyView, 0, len(cfg.Retry))
			for _, name := range policyNames(cfg) {
				p := cfg.Retry[name]
				views = append(views, policyView{
					Name:            name,
					MaxRetries:      p.MaxRetries,
					InitialBackoff:  p.InitialBackoff,
					MaxBackoff:      p.MaxBackoff,
					BackoffFactor:   p.BackoffFactor,
					Jitter:          p.Jitter,
					HonorRetryAfter: p.HonorRetryAfter,
				})
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, views)
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				rows = append(rows, []string{
					v.Name,
					strconv.Itoa(v.MaxRetries),
					formatSeconds(v.InitialBackoff),
					formatSeconds(v.MaxBackoff),
					strconv.FormatFloat(v.BackoffFactor, 'f', -1, 64),
					yesNo(v.Jitter),
					yesNo(v.HonorRetryAfter),
				})
			}
			printTable(cmd.OutOrStdout(), []column{
				textCol("POLICY"), numCol("RETRIES"), numCol("INITIAL"), numCol("MAX"),
				numCol("FACTOR"), textCol("JITTER"), textCol("RETRY-AFTER"),
			}, rows)
			return nil
		},
	}
}

func policyNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Retry))
	for name := range cfg.Retry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', -1, 64) + "s"
}
