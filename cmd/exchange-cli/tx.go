package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/spf13/cobra"

	"tokenexchange/core/types"
	"tokenexchange/services/exchanged/server"
)

const nativeDecimals = 18

// parseUnits converts a decimal amount into base units with the given
// precision. Amounts finer than one base unit are rejected.
func parseUnits(raw string, decimals int) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(big.Int), nil
	}
	r, ok := new(big.Rat).SetString(trimmed)
	if !ok || r.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	if !r.IsInt() {
		return nil, fmt.Errorf("amount %q has more than %d decimals", raw, decimals)
	}
	return new(big.Int).Set(r.Num()), nil
}

func amountArg(raw string, baseUnits bool, decimals int) (*big.Int, error) {
	if baseUnits {
		return parseUnits(raw, 0)
	}
	return parseUnits(raw, decimals)
}

func (c *cli) submit(cmd *cobra.Command, method string, value *big.Int, args interface{}) error {
	ctx := cmd.Context()
	key, err := c.loadKey()
	if err != nil {
		return err
	}
	var status server.ExchangeView
	if err := c.get(ctx, "/v1/exchange", &status); err != nil {
		return fmt.Errorf("fetch exchange: %w", err)
	}
	proxy, err := types.ParseHexAddress(status.Proxy)
	if err != nil {
		return fmt.Errorf("server reported exchange %q: %w", status.Proxy, err)
	}
	var acct server.AccountView
	if err := c.get(ctx, "/v1/accounts/"+key.Address().Hex(), &acct); err != nil {
		return fmt.Errorf("fetch nonce: %w", err)
	}
	req := &types.Request{Exchange: proxy, Method: method, Nonce: acct.Nonce}
	if value != nil && value.Sign() > 0 {
		req.Value = value
	}
	if args != nil {
		if req.Args, err = types.EncodeArgs(args); err != nil {
			return err
		}
	}
	if err := req.Sign(key.PrivateKey); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	var resp server.TxResponse
	_, err = c.post(ctx, "/v1/tx", req, &resp)
	if resp.Receipt != nil {
		if printErr := c.printJSON(resp.Receipt); printErr != nil {
			return printErr
		}
	}
	return err
}

func (c *cli) depositCmd() *cobra.Command {
	var wei bool
	cmd := &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Send native currency to the exchange pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := amountArg(args[0], wei, nativeDecimals)
			if err != nil {
				return err
			}
			return c.submit(cmd, types.MethodDeposit, value, nil)
		},
	}
	cmd.Flags().BoolVar(&wei, "wei", false, "amount is in base units")
	return cmd
}

func (c *cli) swapCmd() *cobra.Command {
	var wei bool
	cmd := &cobra.Command{
		Use:   "swap <amount>",
		Short: "Swap native currency for the asset at the oracle price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := amountArg(args[0], wei, nativeDecimals)
			if err != nil {
				return err
			}
			if value.Sign() == 0 {
				return fmt.Errorf("amount must be greater than zero")
			}
			return c.submit(cmd, types.MethodSwap, value, nil)
		},
	}
	cmd.Flags().BoolVar(&wei, "wei", false, "amount is in base units")
	return cmd
}

func (c *cli) withdrawCmd() *cobra.Command {
	var (
		native, asset string
		assetDecimals int
		baseUnits     bool
	)
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw pool holdings to the owner (owner only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nativeAmount, err := amountArg(native, baseUnits, nativeDecimals)
			if err != nil {
				return err
			}
			assetAmount, err := amountArg(asset, baseUnits, assetDecimals)
			if err != nil {
				return err
			}
			return c.submit(cmd, types.MethodWithdraw, nil, types.WithdrawArgs{
				Native: nativeAmount.String(),
				Asset:  assetAmount.String(),
			})
		},
	}
	cmd.Flags().StringVar(&native, "native", "0", "native amount to withdraw")
	cmd.Flags().StringVar(&asset, "asset", "0", "asset amount to withdraw")
	cmd.Flags().IntVar(&assetDecimals, "asset-decimals", 18, "asset precision used to scale --asset")
	cmd.Flags().BoolVar(&baseUnits, "base-units", false, "amounts are in base units")
	return cmd
}

func (c *cli) upgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade <implementation>",
		Short: "Point the exchange at a new logic implementation (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			impl, err := types.ParseHexAddress(args[0])
			if err != nil {
				return err
			}
			return c.submit(cmd, types.MethodUpgrade, nil, types.UpgradeArgs{Implementation: impl.Hex()})
		},
	}
}

func (c *cli) transferOwnershipCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transfer-ownership <new-owner>",
		Short: "Hand exchange ownership to another account (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := types.ParseHexAddress(args[0])
			if err != nil {
				return err
			}
			return c.submit(cmd, types.MethodTransferOwnership, nil, types.TransferOwnershipArgs{NewOwner: owner.Hex()})
		},
	}
}

func (c *cli) tokenTransferCmd() *cobra.Command {
	var (
		tokenAddr string
		decimals  int
		baseUnits bool
	)
	cmd := &cobra.Command{
		Use:   "token-transfer <to> <amount>",
		Short: "Transfer asset tokens from the keystore account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := types.ParseHexAddress(args[0])
			if err != nil {
				return err
			}
			amount, err := amountArg(args[1], baseUnits, decimals)
			if err != nil {
				return err
			}
			return c.submit(cmd, types.MethodTokenTransfer, nil, types.TokenTransferArgs{
				Token:  tokenAddr,
				To:     to.Hex(),
				Amount: amount.String(),
			})
		},
	}
	cmd.Flags().StringVar(&tokenAddr, "token", "", "token address (default: the exchange asset)")
	cmd.Flags().IntVar(&decimals, "decimals", 18, "token precision used to scale the amount")
	cmd.Flags().BoolVar(&baseUnits, "base-units", false, "amount is in base units")
	return cmd
}

func (c *cli) tokenApproveCmd() *cobra.Command {
	var (
		tokenAddr string
		decimals  int
		baseUnits bool
	)
	cmd := &cobra.Command{
		Use:   "token-approve <spender> <amount>",
		Short: "Set a token allowance for spender",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spender, err := types.ParseHexAddress(args[0])
			if err != nil {
				return err
			}
			amount, err := amountArg(args[1], baseUnits, decimals)
			if err != nil {
				return err
			}
			return c.submit(cmd, types.MethodTokenApprove, nil, types.TokenApproveArgs{
				Token:   tokenAddr,
				Spender: spender.Hex(),
				Amount:  amount.String(),
			})
		},
	}
	cmd.Flags().StringVar(&tokenAddr, "token", "", "token address (default: the exchange asset)")
	cmd.Flags().IntVar(&decimals, "decimals", 18, "token precision used to scale the amount")
	cmd.Flags().BoolVar(&baseUnits, "base-units", false, "amount is in base units")
	return cmd
}
