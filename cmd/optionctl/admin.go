package main

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/client"
)

func assetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "asset",
		Short: "Manage registered assets",
	}

	var in client.AssetInput
	add := &cobra.Command{
		Use:   "add SYMBOL",
		Short: "Register an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Symbol = strings.ToUpper(args[0])
			in.Class = strings.ToUpper(in.Class)
			return printResult(api.AddAsset(cmd.Context(), in))
		},
	}
	add.Flags().StringVar(&in.Class, "class", "CRYPTO", "asset class: CRYPTO, FOREX or STOCK")
	add.Flags().IntVar(&in.MinSources, "min-sources", 1, "sources required for a FRESH price")
	add.Flags().Int64Var(&in.MaxDeviationBps, "max-deviation-bps", 1000, "move between commits that trips the breaker")
	add.Flags().BoolVar(&in.Continuous, "continuous", false, "allow 24/7 synthetic pricing (stocks)")

	cmd.AddCommand(add)
	return cmd
}

func sourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Manage price sources",
	}

	var in client.SourceInput
	add := &cobra.Command{
		Use:   "add SYMBOL",
		Short: "Add a price source to an asset",
		Example: `  optionctl source add ETH --provider http --ref eth-usd --weight-bps 6000
  optionctl source add ETH --provider static --ref eth-manual --weight-bps 4000 --staleness 1h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Ref == "" {
				return fmt.Errorf("--ref is required")
			}
			staleness, _ := cmd.Flags().GetDuration("staleness")
			in.StalenessSec = int64(staleness.Seconds())
			return printResult(api.AddSource(cmd.Context(), strings.ToUpper(args[0]), in))
		},
	}
	add.Flags().StringVar(&in.Provider, "provider", "static", "feed provider: static, replay or http")
	add.Flags().StringVar(&in.Ref, "ref", "", "provider feed reference")
	add.Flags().Int64Var(&in.WeightBps, "weight-bps", 10000, "aggregation weight")
	add.Flags().Duration("staleness", 0, "maximum age of a reading (e.g. 1h)")
	add.Flags().Int32Var(&in.Decimals, "decimals", 8, "feed precision")
	add.Flags().StringVar(&in.Description, "description", "", "free-form note")
	_ = add.MarkFlagRequired("staleness")

	cmd.AddCommand(add)
	return cmd
}

func emergencyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emergency",
		Short: "Set or clear emergency price overrides",
	}

	set := &cobra.Command{
		Use:   "set SYMBOL PRICE",
		Short: "Override an asset price",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", args[1], err)
			}
			logger.Warn("setting emergency price", zap.String("asset", args[0]), zap.String("price", price.String()))
			return printResult(api.SetEmergencyPrice(cmd.Context(), strings.ToUpper(args[0]), price))
		},
	}
	clearCmd := &cobra.Command{
		Use:   "clear SYMBOL",
		Short: "Resume aggregated pricing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResult(api.ClearEmergencyPrice(cmd.Context(), strings.ToUpper(args[0])))
		},
	}

	cmd.AddCommand(set, clearCmd)
	return cmd
}

func haltCmd() *cobra.Command {
	var (
		reason  string
		release bool
	)
	cmd := &cobra.Command{
		Use:   "halt SYMBOL",
		Short: "Halt fills and exercises on an asset (or --clear)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := strings.ToUpper(args[0])
			if release {
				return printResult(api.ClearHalt(cmd.Context(), symbol))
			}
			return printResult(api.Halt(cmd.Context(), symbol, reason))
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "reason recorded with the halt")
	cmd.Flags().BoolVar(&release, "clear", false, "clear the halt instead")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage collateral tokens",
	}

	var (
		in          client.TokenInput
		maxExposure string
	)
	set := &cobra.Command{
		Use:   "set SYMBOL",
		Short: "Set a token's collateral policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if in.MaxExposure, err = decimal.NewFromString(maxExposure); err != nil {
				return fmt.Errorf("invalid --max-exposure: %w", err)
			}
			return printResult(api.SetToken(cmd.Context(), strings.ToUpper(args[0]), in))
		},
	}
	set.Flags().BoolVar(&in.Accepted, "accepted", true, "accept the token as collateral")
	set.Flags().Int64Var(&in.CollateralFactorBps, "collateral-factor-bps", 8000, "collateral factor")
	set.Flags().Int64Var(&in.LiquidationThresholdBps, "liquidation-threshold-bps", 8500, "liquidation threshold")
	set.Flags().StringVar(&maxExposure, "max-exposure", "0", "system-wide lock cap (0 = uncapped)")
	set.Flags().BoolVar(&in.Stable, "stable", false, "eligible as PUT collateral")

	cmd.AddCommand(set)
	return cmd
}

func creditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "credit ACCOUNT ASSET AMOUNT",
		Short: "Credit an account balance",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[2])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[2], err)
			}
			return printResult(api.Credit(cmd.Context(), args[0], strings.ToUpper(args[1]), amount))
		},
	}
}

func reloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Re-read the server's registry file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResult(api.Reload(cmd.Context()))
		},
	}
}
