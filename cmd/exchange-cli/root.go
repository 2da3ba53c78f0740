package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tokenexchange/crypto"
	"tokenexchange/internal/passphrase"
)

const (
	defaultServer        = "http://127.0.0.1:8080"
	defaultPassphraseEnv = "EXCHANGE_KEYSTORE_PASSPHRASE"
)

type cli struct {
	out       io.Writer
	serverURL string
	keystore  string
	passEnv   string
	timeout   time.Duration
	client    *http.Client
	pass      *passphrase.Source
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:           "exchange-cli",
		Short:         "Operate and use the token exchange",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.serverURL = strings.TrimRight(strings.TrimSpace(c.serverURL), "/")
			if c.serverURL == "" {
				c.serverURL = defaultServer
			}
			if c.keystore == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				c.keystore = filepath.Join(dir, ".exchange", "key.keystore")
			}
			if c.client == nil {
				c.client = &http.Client{Timeout: c.timeout}
			}
			c.pass = passphrase.NewSource(c.passEnv)
			return nil
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&c.serverURL, "server", envOr("EXCHANGE_URL", defaultServer), "exchanged base URL")
	flags.StringVar(&c.keystore, "keystore", os.Getenv("EXCHANGE_KEYSTORE"), "signing keystore (default ~/.exchange/key.keystore)")
	flags.StringVar(&c.passEnv, "passphrase-env", defaultPassphraseEnv, "environment variable holding the keystore passphrase")
	flags.DurationVar(&c.timeout, "timeout", 15*time.Second, "HTTP request timeout")

	root.AddCommand(
		c.keygenCmd(),
		c.addressCmd(),
		c.depositCmd(),
		c.swapCmd(),
		c.withdrawCmd(),
		c.upgradeCmd(),
		c.transferOwnershipCmd(),
		c.tokenTransferCmd(),
		c.tokenApproveCmd(),
		c.statusCmd(),
		c.ownerCmd(),
		c.tokenCmd(),
		c.priceFeedCmd(),
		c.priceCmd(),
		c.versionCmd(),
		c.balanceCmd(),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (c *cli) keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new signing key into the keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(c.keystore); err == nil {
				return fmt.Errorf("keystore %s already exists", c.keystore)
			}
			secret, err := c.pass.Get()
			if err != nil {
				return err
			}
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return err
			}
			if err := crypto.SaveToKeystore(c.keystore, key, secret); err != nil {
				return err
			}
			fmt.Fprintln(c.out, key.Address().Hex())
			return nil
		},
	}
}

func (c *cli) addressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the keystore address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := c.loadKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, key.Address().Hex())
			return nil
		},
	}
}

func (c *cli) loadKey() (*crypto.PrivateKey, error) {
	secret, err := c.pass.Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(c.keystore, secret)
	if err != nil {
		return nil, fmt.Errorf("load keystore %s: %w", c.keystore, err)
	}
	return key, nil
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
