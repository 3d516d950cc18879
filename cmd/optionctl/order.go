package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/lifecycle"
	"github.com/dgnsrekt/optionvault/internal/market"
	"github.com/dgnsrekt/optionvault/internal/order"
)

// signedOrder is the handover format between maker and taker.
type signedOrder struct {
	Order     order.OptionOrder `json:"order"`
	Signature string            `json:"signature"`
	OrderID   string            `json:"order_id"`
}

func signingDomain() order.Domain {
	return order.Domain{
		Name:            reg.Signing.Name,
		Version:         reg.Signing.Version,
		VerifyingTarget: reg.Signing.VerifyingTarget,
	}
}

// specFlags are the option terms shared by quote and sign.
type specFlags struct {
	class      string
	underlying string
	optType    string
	style      string
	strike     string
	size       string
	expiry     string
}

func (f *specFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.class, "class", "CRYPTO", "asset class of the underlying")
	cmd.Flags().StringVar(&f.underlying, "underlying", "", "underlying asset symbol")
	cmd.Flags().StringVar(&f.optType, "type", "CALL", "CALL or PUT")
	cmd.Flags().StringVar(&f.style, "style", "EUROPEAN", "EUROPEAN or AMERICAN")
	cmd.Flags().StringVar(&f.strike, "strike", "", "strike price")
	cmd.Flags().StringVar(&f.size, "size", "1", "contract size in units of the underlying")
	cmd.Flags().StringVar(&f.expiry, "expiry", "", "expiry as RFC3339 or a duration from now (e.g. 720h)")
	_ = cmd.MarkFlagRequired("underlying")
	_ = cmd.MarkFlagRequired("strike")
	_ = cmd.MarkFlagRequired("expiry")
}

func (f *specFlags) spec(now time.Time) (order.OptionSpec, error) {
	strike, err := decimal.NewFromString(f.strike)
	if err != nil {
		return order.OptionSpec{}, fmt.Errorf("invalid --strike: %w", err)
	}
	size, err := decimal.NewFromString(f.size)
	if err != nil {
		return order.OptionSpec{}, fmt.Errorf("invalid --size: %w", err)
	}
	expiry, err := parseExpiry(f.expiry, now)
	if err != nil {
		return order.OptionSpec{}, err
	}
	s := order.OptionSpec{
		AssetType:    market.Class(strings.ToUpper(f.class)),
		Underlying:   strings.ToUpper(f.underlying),
		Type:         order.OptionType(strings.ToUpper(f.optType)),
		Style:        order.Style(strings.ToUpper(f.style)),
		Strike:       strike,
		Expiry:       expiry,
		ContractSize: size,
		Oracle:       reg.Lifecycle.OracleRef,
	}
	return s, s.Validate()
}

func parseExpiry(raw string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		return now.Add(d).UTC().Truncate(time.Second), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --expiry %q (use RFC3339 or a duration)", raw)
	}
	return t.UTC(), nil
}

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Create, sign and fill option orders",
		Long: `Create, sign and fill option orders.

A maker signs an order offline with its ed25519 seed and hands the JSON to a
taker, who fills it with --as set to the taker account.

Examples:
  # Generate a maker key
  optionctl order keygen

  # Quote, then sign a 30 day ETH call
  optionctl order quote --underlying ETH --strike 3200 --size 2 --expiry 720h
  optionctl order sign --seed $SEED --underlying ETH --strike 3200 --size 2 \
    --expiry 720h --premium 150 > order.json

  # Fill as the taker
  optionctl --as taker order fill order.json`,
	}

	cmd.AddCommand(keygenCmd(), quoteCmd(), signCmd(), fillCmd())
	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a maker signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := order.GenerateSigner(signingDomain())
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"account": s.Account(), "seed": s.Seed()})
		},
	}
}

func quoteCmd() *cobra.Command {
	var f specFlags
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote the premium for option terms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := f.spec(time.Now())
			if err != nil {
				return err
			}
			return printResult(api.Quote(cmd.Context(), s))
		},
	}
	f.register(cmd)
	return cmd
}

func signCmd() *cobra.Command {
	var (
		f               specFlags
		seed            string
		taker           string
		collateralAsset string
		premiumAsset    string
		premium         string
		ttl             time.Duration
		output          string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign an order as maker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := order.SignerFromSeed(seed, signingDomain())
			if err != nil {
				return err
			}
			now := time.Now()
			s, err := f.spec(now)
			if err != nil {
				return err
			}
			raw, err := order.EncodeSpec(s)
			if err != nil {
				return err
			}
			prem, err := decimal.NewFromString(premium)
			if err != nil {
				return fmt.Errorf("invalid --premium: %w", err)
			}
			if collateralAsset == "" {
				if s.Type == order.Put {
					return fmt.Errorf("--collateral-asset is required for PUTs (a stable token)")
				}
				collateralAsset = s.Underlying
			}

			ord := order.OptionOrder{
				Maker:            signer.Account(),
				Taker:            taker,
				CollateralAsset:  strings.ToUpper(collateralAsset),
				CollateralAmount: lifecycle.RequiredCollateral(s, reg.Lifecycle.CollateralRatio),
				PremiumAsset:     strings.ToUpper(premiumAsset),
				PremiumAmount:    prem,
				Salt:             uuid.NewString(),
				Expiration:       now.Add(ttl).UTC().Truncate(time.Second),
				Spec:             raw,
			}
			sig, err := signer.Sign(ord)
			if err != nil {
				return err
			}
			signed := signedOrder{Order: ord, Signature: hex.EncodeToString(sig), OrderID: ord.ID(signingDomain())}
			logger.Debug("order signed", zap.String("order_id", signed.OrderID), zap.String("maker", ord.Maker))

			if output == "" || output == "-" {
				return printJSON(signed)
			}
			data, err := json.MarshalIndent(signed, "", "  ")
			if err != nil {
				return err
			}
			return os.WriteFile(output, data, 0o600)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&seed, "seed", os.Getenv("OPTIONVAULT_MAKER_SEED"), "maker seed, hex (or set OPTIONVAULT_MAKER_SEED)")
	cmd.Flags().StringVar(&taker, "taker", "", "restrict the fill to one taker account")
	cmd.Flags().StringVar(&collateralAsset, "collateral-asset", "", "collateral token (defaults to the underlying for CALLs)")
	cmd.Flags().StringVar(&premiumAsset, "premium-asset", "USDC", "premium token")
	cmd.Flags().StringVar(&premium, "premium", "0", "premium the taker pays")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "how long the order stays fillable")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the signed order to a file")
	return cmd
}

func fillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fill FILE",
		Short: "Fill a signed order as the taker (--as)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var signed signedOrder
			if err := json.Unmarshal(data, &signed); err != nil {
				return fmt.Errorf("decoding %s: %w", args[0], err)
			}
			if err := order.NewVerifier(signingDomain()).Verify(signed.Order, mustHex(signed.Signature)); err != nil {
				logger.Warn("signature does not verify locally; the server will reject it", zap.Error(err))
			}
			return printResult(api.Fill(cmd.Context(), signed.Order, signed.Signature))
		},
	}
}

func mustHex(s string) []byte {
	b, _ := hex.DecodeString(s)
	return b
}
