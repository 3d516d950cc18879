package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show service and oracle health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResult(api.Health(cmd.Context()))
		},
	}
}

func priceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "price SYMBOL [SYMBOL...]",
		Short: "Show current prices",
		Long: `Show the current price of one or more assets.

One symbol prints the full price record (confidence, status, deviation);
several print a batch with per-symbol errors.

Examples:
  optionctl price ETH
  optionctl price ETH BTC AAPL`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return printResult(api.Price(cmd.Context(), strings.ToUpper(args[0])))
			}
			return printResult(api.Prices(cmd.Context(), args))
		},
	}
}

func riskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "risk",
		Short: "Show the risk report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResult(api.RiskReport(cmd.Context()))
		},
	}
}
