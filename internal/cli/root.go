package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"parley/pkg/api"
	"parley/pkg/config"
	"parley/pkg/httpx"
	"parley/pkg/logger"
	"parley/pkg/session"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "parleyctl",
	Short: "Command-line client for marketplace conversations",
	Long: `parleyctl talks to the same backend as parleyd: list and open
conversations, send, edit and delete messages, or watch one live.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Disable completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "./parley.yaml", "config file path")
	rootCmd.PersistentFlags().String("backend", "", "marketplace backend base URL")
	rootCmd.PersistentFlags().String("token", "", "bearer credential (overrides config)")
	rootCmd.PersistentFlags().String("actor", "", "acting user id (overrides config)")
	rootCmd.PersistentFlags().String("cache", "", "cache mirror directory (overrides config)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
}

// loadConfig builds the effective config from file, env and the persistent
// flags, quieting the logger unless --verbose was given.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	_ = godotenv.Load(".env")

	path, _ := cmd.Flags().GetString("config")
	cfgPath := config.ResolveConfigPath(path, cmd.Flags().Changed("config"))

	cfg, _, err := config.LoadEffective(cfgPath)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("backend"); v != "" {
		cfg.Backend.URL = v
	}
	if v, _ := cmd.Flags().GetString("token"); v != "" {
		cfg.Credential.Token = v
		cfg.Credential.TokenFile = ""
	}
	if v, _ := cmd.Flags().GetString("actor"); v != "" {
		cfg.Actor.ID = v
	}
	if v, _ := cmd.Flags().GetString("cache"); v != "" {
		cfg.Cache.Dir = v
	}

	level := "warn"
	if ok, _ := cmd.Flags().GetBool("verbose"); ok {
		level = "debug"
	}
	logger.InitWithLevel(level)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newClient builds an authenticated backend client from the effective config.
func newClient(cmd *cobra.Command) (*api.Client, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	token, err := cfg.Token()
	if err != nil {
		return nil, nil, err
	}
	sess := session.New(token, session.Actor{ID: cfg.Actor.ID, Name: cfg.Actor.Name})
	doer, err := httpx.New(cfg.Backend.Transport, cfg.Backend.Timeout.Duration())
	if err != nil {
		return nil, nil, err
	}
	client, err := api.New(cfg.Backend.URL, doer, sess)
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}
