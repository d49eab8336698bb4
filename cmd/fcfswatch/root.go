package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	envFile    string
	jsonOut    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "fcfswatch",
		Short:         "Galxe FCFS campaign monitor with a Telegram bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnv(opts.envFile)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.yaml", "path to config (json or yaml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with secrets; ignored when missing")
	cmd.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print JSON instead of text")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newScanCommand(opts))
	cmd.AddCommand(newHealthCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))

	// Bare "fcfswatch" runs the bot.
	cmd.RunE = func(c *cobra.Command, args []string) error {
		return runBot(c.Context(), opts)
	}
	return cmd
}

// loadEnv fills unset environment variables from path. Values already
// in the environment win.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
