package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/primev/seedless_approver/core/contracts"
	"github.com/primev/seedless_approver/core/mevcommit"
)

// config holds the runtime settings. Every field can come from the
// environment and be overridden by a flag.
type config struct {
	Endpoint      string `json:"endpoint" yaml:"endpoint"`
	PrivateKey    string `json:"-" yaml:"-"`
	Proxy         string `json:"proxy" yaml:"proxy"`
	TokenKey      string `json:"token_key" yaml:"token_key"`
	Chainlog      string `json:"chainlog" yaml:"chainlog"`
	BidderAddress string `json:"bidder_address" yaml:"bidder_address"`
	BidAmount     string `json:"bid_amount" yaml:"bid_amount"`
	LogFmt        string `json:"log_fmt" yaml:"log_fmt"`
	LogLevel      string `json:"log_level" yaml:"log_level"`
}

var (
	errMissingEndpoint = errors.New("endpoint is required: set -endpoint or ETH_RPC_URL")
	errMissingKey      = errors.New("private key is required: set -privatekey or PKEY")
)

// loadConfig reads settings from getenv and then applies flags from args.
func loadConfig(args []string, getenv func(string) string) (config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	var cfg config
	fs := flag.NewFlagSet("seedless", flag.ContinueOnError)
	fs.StringVar(&cfg.Endpoint, "endpoint", env("ETH_RPC_URL", ""), "The Ethereum client endpoint")
	fs.StringVar(&cfg.PrivateKey, "privatekey", env("PKEY", ""), "The operator private key in hex format")
	fs.StringVar(&cfg.Proxy, "proxy", env("PROXY", ""), "Spender receiving the allowance (defaults to the operator address)")
	fs.StringVar(&cfg.TokenKey, "token", env("TOKEN_KEY", "USDC"), "Chainlog key of the token to approve")
	fs.StringVar(&cfg.Chainlog, "chainlog", env("CHAINLOG", contracts.DefaultChainlog.Hex()), "Chainlog registry address")
	fs.StringVar(&cfg.BidderAddress, "bidder", env("BIDDER_ADDRESS", ""), "mev-commit bidder gRPC address; preconf bids are disabled when empty")
	fs.StringVar(&cfg.BidAmount, "bid-amount", env("BID_AMOUNT", mevcommit.DefaultBidAmount), "Preconf bid amount in wei")
	fs.StringVar(&cfg.LogFmt, "log-fmt", env("LOG_FMT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", env("LOG_LEVEL", "info"), "Log level")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	if c.Endpoint == "" {
		return errMissingEndpoint
	}
	if c.PrivateKey == "" {
		return errMissingKey
	}
	if c.Proxy != "" && !common.IsHexAddress(c.Proxy) {
		return fmt.Errorf("invalid proxy address %q", c.Proxy)
	}
	if !common.IsHexAddress(c.Chainlog) {
		return fmt.Errorf("invalid chainlog address %q", c.Chainlog)
	}
	if c.BidderAddress != "" {
		if err := c.bidderConfig().Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c config) bidderConfig() mevcommit.Config {
	return mevcommit.Config{ServerAddress: c.BidderAddress, Amount: c.BidAmount}
}
