package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/app"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/config"
)

// newRootCmd builds the command tree. env supplies flag defaults.
func newRootCmd(env app.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "supportagent",
		Short:         "Customer support and sales agent for TikTok and LinkedIn",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(env), newConfigCmd(env))
	return root
}

func newServeCmd(env app.Config) *cobra.Command {
	cfg := env
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook API, workers and maintenance jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolveStorage(&cfg)
			slog.Debug("Final configuration", "state_dir", cfg.StateDir, "dsn_set", cfg.DatabaseDSN != "",
				"api_addr", cfg.APIAddr, "config_path", cfg.AgentConfigPath)

			rt, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			slog.Info("Bootstrapping support agent")
			if err := rt.Run(cmd.Context()); err != nil {
				return err
			}
			slog.Info("Support agent exited successfully")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.StateDir, "state-dir", env.StateDir, "state directory (overrides $SUPPORTAGENT_STATE_DIR)")
	f.StringVar(&cfg.DatabaseDSN, "db-dsn", env.DatabaseDSN, `database DSN, SQLite path or "memory" (overrides $DATABASE_URL)`)
	f.StringVar(&cfg.AgentConfigPath, "config", env.AgentConfigPath, "agent config file, YAML, TOML or JSON (overrides $AGENT_CONFIG_PATH)")
	f.StringVar(&cfg.APIAddr, "api-addr", env.APIAddr, "API server address (overrides $API_ADDR)")
	f.StringVar(&cfg.OpenAIKey, "openai-api-key", env.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	f.IntVar(&cfg.Workers, "workers", env.Workers, "queue worker count (overrides $QUEUE_WORKERS)")
	f.StringVar(&cfg.Notify.WhatsAppQRPath, "qr-output", env.Notify.WhatsAppQRPath, "path to write the WhatsApp login QR code")
	f.BoolVar(&cfg.Notify.WhatsAppNumeric, "numeric-code", env.Notify.WhatsAppNumeric, "print the WhatsApp pairing code instead of a QR code")
	return cmd
}

func newConfigCmd(env app.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the agent configuration",
	}

	var path string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the agent config without starting the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config OK: provider=%s model=%s classifier=%s\n", cfg.Provider, cfg.Model, cfg.Classifier)
			return nil
		},
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective agent config as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return enc.Close()
		},
	}
	cmd.PersistentFlags().StringVar(&path, "config", env.AgentConfigPath, "agent config file (overrides $AGENT_CONFIG_PATH)")
	cmd.AddCommand(validate, show)
	return cmd
}
