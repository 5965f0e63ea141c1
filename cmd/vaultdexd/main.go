// Command vaultdexd is the indexing daemon: it watches a vault
// directory, runs every changed note through the NotePipeline, and
// persists the result. It serves no read interface of its own; the
// ConsistencyGate is reachable only in-process, through vault.Vault.Gate.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/vaultdex/pkg/config"
	"github.com/cuemby/vaultdex/pkg/embedding"
	"github.com/cuemby/vaultdex/pkg/log"
	"github.com/cuemby/vaultdex/pkg/vault"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "vaultdexd",
	Short:   "vaultdex - Markdown vault indexing daemon",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"vaultdexd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the indexing daemon",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to a YAML config file (optional)")
	serveCmd.Flags().String("vault-root", "", "Vault root directory (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	vaultRoot, _ := cmd.Flags().GetString("vault-root")

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if vaultRoot != "" {
		cfg.Watcher.VaultRoot = vaultRoot
	}

	provider := embedding.NewFakeProvider(8)

	v, err := vault.Open(cfg, provider)
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := v.Start(ctx); err != nil {
		return fmt.Errorf("starting vault: %w", err)
	}

	log.Logger.Info().Str("root", cfg.Watcher.VaultRoot).Str("data_dir", cfg.DataDir).Msg("vaultdexd running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Logger.Info().Msg("shutting down")
	cancel()
	return v.Shutdown()
}
