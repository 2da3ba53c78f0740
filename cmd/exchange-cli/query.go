package main

import (
	"fmt"
	"math/big"

	"github.com/spf13/cobra"

	"tokenexchange/core/types"
	"tokenexchange/services/exchanged/server"
)

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the exchange configuration and pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := c.exchange(cmd)
			if err != nil {
				return err
			}
			return c.printJSON(view)
		},
	}
}

func (c *cli) exchange(cmd *cobra.Command) (server.ExchangeView, error) {
	var view server.ExchangeView
	err := c.get(cmd.Context(), "/v1/exchange", &view)
	return view, err
}

// field builds a read command printing one attribute of the exchange status.
func (c *cli) field(use, short string, pick func(server.ExchangeView) string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := c.exchange(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, pick(view))
			return nil
		},
	}
}

func (c *cli) ownerCmd() *cobra.Command {
	return c.field("owner", "Print the exchange owner", func(v server.ExchangeView) string { return v.Owner })
}

func (c *cli) tokenCmd() *cobra.Command {
	return c.field("token", "Print the exchanged asset address", func(v server.ExchangeView) string { return v.Token })
}

func (c *cli) priceFeedCmd() *cobra.Command {
	return c.field("price-feed", "Print the price feed address", func(v server.ExchangeView) string { return v.PriceFeed })
}

func (c *cli) priceCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Print the latest oracle price normalized to 18 decimals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var view server.PriceView
			if err := c.get(cmd.Context(), "/v1/exchange/price", &view); err != nil {
				return err
			}
			if raw {
				fmt.Fprintln(c.out, view.Price)
				return nil
			}
			formatted, err := formatUnits(view.Price, view.Decimals)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, formatted)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the scaled integer")
	return cmd
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the active logic version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var view server.VersionView
			if err := c.get(cmd.Context(), "/v1/exchange/version", &view); err != nil {
				return err
			}
			fmt.Fprintln(c.out, view.Version)
			return nil
		},
	}
}

func (c *cli) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Print native and asset balances (default: keystore account)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var addr string
			if len(args) == 1 {
				parsed, err := types.ParseHexAddress(args[0])
				if err != nil {
					return err
				}
				addr = parsed.Hex()
			} else {
				key, err := c.loadKey()
				if err != nil {
					return err
				}
				addr = key.Address().Hex()
			}
			var view server.AccountView
			if err := c.get(cmd.Context(), "/v1/accounts/"+addr, &view); err != nil {
				return err
			}
			return c.printJSON(view)
		},
	}
}

// formatUnits renders a base-unit integer with the given precision, trimming
// trailing zeros.
func formatUnits(raw string, decimals int) (string, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return "", fmt.Errorf("invalid integer %q", raw)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r := new(big.Rat).SetFrac(v, scale)
	s := r.FloatString(decimals)
	if decimals > 0 {
		for len(s) > 0 && s[len(s)-1] == '0' {
			s = s[:len(s)-1]
		}
		if len(s) > 0 && s[len(s)-1] == '.' {
			s = s[:len(s)-1]
		}
	}
	return s, nil
}
