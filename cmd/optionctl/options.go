package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func parseIDs(args []string) ([]uint64, error) {
	ids := make([]uint64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseUint(a, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("invalid option id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func optionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "option",
		Short: "Inspect and settle option positions",
	}

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Show one position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return printResult(api.Option(cmd.Context(), ids[0]))
		},
	}

	list := &cobra.Command{
		Use:   "list ACCOUNT",
		Short: "List position ids held or written by an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResult(api.AccountOptions(cmd.Context(), args[0]))
		},
	}

	exercise := &cobra.Command{
		Use:   "exercise ID",
		Short: "Exercise a position as its holder (--as)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return printResult(api.Exercise(cmd.Context(), ids[0]))
		},
	}

	expire := &cobra.Command{
		Use:   "expire ID [ID...]",
		Short: "Expire due positions, returning collateral to writers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return printResult(api.Expire(cmd.Context(), ids))
		},
	}

	cmd.AddCommand(get, list, exercise, expire)
	return cmd
}
