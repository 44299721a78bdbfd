package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/primev/seedless_approver/core/bootstrap"
	"github.com/primev/seedless_approver/core/contracts"
	ee "github.com/primev/seedless_approver/core/eth"
	"github.com/primev/seedless_approver/core/mevcommit"
	"github.com/rs/zerolog"
)

// run with go run . -endpoint "endpoint" -privatekey "private key" [-proxy "address"]
// The same settings may be given as ETH_RPC_URL, PKEY and PROXY, in the
// environment or in a .env file.

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(2)
	}

	cfg, err := loadConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogFmt, cfg.LogLevel, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("seedless bootstrap failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, logger zerolog.Logger) error {
	operator, err := ee.AuthenticateAddress(cfg.PrivateKey)
	if err != nil {
		return err
	}

	// Start client
	client, err := ee.NewGethClient(ctx, cfg.Endpoint)
	if err != nil {
		return err
	}
	defer client.Close()

	proxy := operator.Address
	if cfg.Proxy != "" {
		proxy = common.HexToAddress(cfg.Proxy)
	}

	opts := []bootstrap.Option{bootstrap.WithLogger(logger)}
	if cfg.BidderAddress != "" {
		bidder, err := mevcommit.NewClient(cfg.bidderConfig(), logger)
		if err != nil {
			return err
		}
		defer bidder.Close()
		opts = append(opts, bootstrap.WithBidder(bidder))
		logger.Info().Str("server", cfg.BidderAddress).Msg("Connected to mev-commit client")
	}

	report, err := bootstrap.Run(ctx, bootstrap.Config{
		Registry: common.HexToAddress(cfg.Chainlog),
		TokenKey: cfg.TokenKey,
		Proxy:    proxy,
		Operator: *operator,
	}, client, opts...)
	if err != nil {
		return err
	}

	logger.Info().
		Str("eoa", report.EOA.Hex()).
		Str("token", report.Token.Hex()).
		Str("proxy", report.Proxy.Hex()).
		Str("fundingTx", report.FundingTx.Hex()).
		Str("approvalTx", report.ApprovalTx.Hex()).
		Bool("unlimited", report.AllowanceAfter.Cmp(contracts.MaxAllowance()) == 0).
		Msg("seedless bootstrap complete")
	return nil
}
