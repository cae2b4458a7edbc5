package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/backend-lab/internal/billing"
	"github.com/noah-isme/backend-lab/internal/config"
	"github.com/noah-isme/backend-lab/internal/pricing"
)

// errInvalidConfig makes validate exit non-zero after printing its report.
var errInvalidConfig = errors.New("pricing configuration is invalid")

type rootOptions struct {
	pricingConfig  string
	referralMaster string
	logLevel       string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "pricectl",
		Short:        "Resolve prices and inspect the diagnostics pricing configuration",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.pricingConfig, "pricing-config", "", "legacy pricing document (defaults to the bundled one)")
	root.PersistentFlags().StringVar(&opts.referralMaster, "referral-master", "", "referral master document (defaults to the bundled one)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(newResolveCmd(opts))
	root.AddCommand(newCommissionCmd(opts))
	root.AddCommand(newValidateCmd(opts))
	root.AddCommand(newQuoteCmd(opts))
	root.AddCommand(newSchemesCmd(opts))
	return root
}

func (o *rootOptions) engine(cmd *cobra.Command) (*pricing.Engine, error) {
	store, err := pricing.LoadStore(o.pricingConfig, o.referralMaster)
	if err != nil {
		return nil, fmt.Errorf("loading pricing configuration: %w", err)
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(o.logLevel))
	if err != nil {
		lvl = zerolog.WarnLevel
	}
	// stdout carries the JSON result
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).Level(lvl).With().Timestamp().Logger()
	return pricing.NewEngine(store, pricing.WithLogger(logger)), nil
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	var (
		testID   string
		referral string
		scheme   string
		fallback float64
		volume   int
		tier     string
		enhanced bool
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the price of one test",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := opts.engine(cmd)
			if err != nil {
				return err
			}
			o := pricing.Options{Volume: volume, LoyaltyTier: tier}
			var res pricing.PriceResult
			if enhanced {
				res = engine.ResolveEnhanced(testID, referral, scheme, fallback, o)
			} else {
				res = engine.Resolve(testID, referral, scheme, fallback, o)
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&testID, "test", "t", "", "test id")
	cmd.Flags().StringVarP(&referral, "referral", "r", "", "referral source id")
	cmd.Flags().StringVarP(&scheme, "scheme", "s", "", "pricing scheme id")
	cmd.Flags().Float64Var(&fallback, "fallback", 0, "caller fallback price")
	cmd.Flags().IntVar(&volume, "volume", 1, "order volume for volume discounts")
	cmd.Flags().StringVar(&tier, "tier", "", "loyalty tier")
	cmd.Flags().BoolVar(&enhanced, "enhanced", false, "discount legacy base prices as well")
	_ = cmd.MarkFlagRequired("test")
	return cmd
}

func newCommissionCmd(opts *rootOptions) *cobra.Command {
	var (
		referral string
		amount   float64
	)
	cmd := &cobra.Command{
		Use:   "commission",
		Short: "Compute the commission owed to a referral source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if amount < 0 {
				return fmt.Errorf("amount must not be negative, got %.2f", amount)
			}
			engine, err := opts.engine(cmd)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), engine.CalculateCommission(referral, amount))
		},
	}
	cmd.Flags().StringVarP(&referral, "referral", "r", "", "referral source id")
	cmd.Flags().Float64Var(&amount, "amount", 0, "billed amount")
	_ = cmd.MarkFlagRequired("referral")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the pricing configuration for consistency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := opts.engine(cmd)
			if err != nil {
				return err
			}
			report := engine.Validate()
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.IsValid {
				return errInvalidConfig
			}
			return nil
		},
	}
}

func newSchemesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schemes",
		Short: "List pricing schemes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := opts.engine(cmd)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), engine.Store().Schemes())
		},
	}
}

func newQuoteCmd(opts *rootOptions) *cobra.Command {
	var (
		tests    []string
		req      billing.QuoteRequest
		enhanced bool
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a bill of tests including GST and collection charges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := parseItems(tests)
			if err != nil {
				return err
			}
			req.Items = items
			engine, err := opts.engine(cmd)
			if err != nil {
				return err
			}
			bc, err := config.LoadBilling()
			if err != nil {
				return fmt.Errorf("loading billing configuration: %w", err)
			}
			svc := &billing.Service{
				Pricing:          pricing.Live{Engine: engine},
				GSTBps:           bc.GSTBps,
				CollectionCharge: bc.CollectionCharge,
				Currency:         bc.Currency,
				Enhanced:         enhanced,
			}
			quote, err := svc.Quote(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), quote)
		},
	}
	cmd.Flags().StringArrayVarP(&tests, "test", "t", nil, "test to bill as id[:qty], repeatable")
	cmd.Flags().StringVarP(&req.ReferralSourceID, "referral", "r", "", "referral source id")
	cmd.Flags().StringVarP(&req.Scheme, "scheme", "s", "", "pricing scheme id")
	cmd.Flags().IntVar(&req.Volume, "volume", 0, "volume override for every line")
	cmd.Flags().StringVar(&req.LoyaltyTier, "tier", "", "loyalty tier")
	cmd.Flags().Float64Var(&req.BillDiscountPercent, "bill-discount", 0, "discount applied to the whole bill, percent")
	cmd.Flags().BoolVar(&req.HomeCollection, "home-collection", false, "add the home collection charge")
	cmd.Flags().BoolVar(&enhanced, "enhanced", false, "discount legacy base prices as well")
	_ = cmd.MarkFlagRequired("test")
	return cmd
}

func parseItems(values []string) ([]billing.QuoteItem, error) {
	items := make([]billing.QuoteItem, 0, len(values))
	for _, v := range values {
		id, qtyText, hasQty := strings.Cut(strings.TrimSpace(v), ":")
		if id == "" {
			return nil, fmt.Errorf("invalid test %q", v)
		}
		qty := 1
		if hasQty {
			n, err := strconv.Atoi(qtyText)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid quantity in %q", v)
			}
			if n > billing.MaxQuantity {
				return nil, fmt.Errorf("quantity in %q exceeds %d", v, billing.MaxQuantity)
			}
			qty = n
		}
		items = append(items, billing.QuoteItem{TestID: id, Quantity: qty})
	}
	return items, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
