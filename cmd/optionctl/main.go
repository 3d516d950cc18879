package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/client"
	"github.com/dgnsrekt/optionvault/internal/config"
)

var (
	cfgFile string
	baseURL string
	caller  string
	timeout time.Duration
	retries int
	verbose bool
	logger  *zap.Logger
	reg     *config.Registry
	api     *client.HTTPClient
)

func setupLogger(verbose bool) (*zap.Logger, error) {
	var zapConfig zap.Config
	if verbose {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.DisableStacktrace = true
		zapConfig.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return zapConfig.Build()
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "optionctl",
		Short:         "Operate an optionvault server",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			logger, err = setupLogger(verbose)
			if err != nil {
				return err
			}

			// Skip config loading for help commands
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			// The registry supplies the signing domain for order commands
			reg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}

			api = client.NewClient(baseURL, caller, 10, timeout, 250*time.Millisecond, retries, logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("OPTIONVAULT_REGISTRY"), "registry file path (or set OPTIONVAULT_REGISTRY)")
	rootCmd.PersistentFlags().StringVarP(&baseURL, "url", "u", envOr("OPTIONVAULT_URL", "http://localhost:8080"), "server base URL (or set OPTIONVAULT_URL)")
	rootCmd.PersistentFlags().StringVar(&caller, "as", os.Getenv("OPTIONVAULT_CALLER"), "caller identity sent as X-Caller (or set OPTIONVAULT_CALLER)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	rootCmd.PersistentFlags().IntVar(&retries, "retries", 2, "retries for rate-limited and retryable requests")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(priceCmd())
	rootCmd.AddCommand(riskCmd())
	rootCmd.AddCommand(assetCmd())
	rootCmd.AddCommand(sourceCmd())
	rootCmd.AddCommand(emergencyCmd())
	rootCmd.AddCommand(haltCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(creditCmd())
	rootCmd.AddCommand(reloadCmd())
	rootCmd.AddCommand(optionCmd())
	rootCmd.AddCommand(orderCmd())

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}

// printResult prints out or returns err; every command funnels through it.
func printResult(out any, err error) error {
	if err != nil {
		return err
	}
	return printJSON(out)
}
