// Package bootstrap funds a seedless account and broadcasts its one-time
// approval transaction.
//
// The run is an ordered list of steps. Each step either completes or aborts
// the whole run; nothing is retried and nothing is resumed. A run that fails
// after the funding step has moved funds, so the chain must be inspected
// before running again.
package bootstrap

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/primev/seedless_approver/core/contracts"
	ee "github.com/primev/seedless_approver/core/eth"
	"github.com/primev/seedless_approver/core/seedless"
	"github.com/rs/zerolog"
)

// Config is everything a run needs besides the node connection.
type Config struct {
	// Registry is the chainlog contract that maps TokenKey to the token.
	Registry common.Address
	TokenKey string
	// Proxy receives the allowance.
	Proxy common.Address
	// Operator pays for funding the seedless account.
	Operator ee.AuthAcct
}

// Bidder submits preconfirmation bids for transactions the run sends.
type Bidder interface {
	SendBid(ctx context.Context, txHashes []string, blockNumber int64) (int, error)
}

// Report collects what the run printed for the operator.
type Report struct {
	Token           common.Address
	Proxy           common.Address
	EOA             common.Address
	FundingTx       common.Hash
	FundingValue    *big.Int
	ApprovalTx      common.Hash
	AllowanceBefore *big.Int
	AllowanceAfter  *big.Int
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger for step progress. Runs are silent by default.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) {
		r.log = logger.With().Str("component", "bootstrap").Logger()
	}
}

// WithBidder bids for every transaction the run submits.
func WithBidder(bidder Bidder) Option {
	return func(r *Runner) {
		r.bidder = bidder
	}
}

// Runner executes the bootstrap steps in order against a single node.
type Runner struct {
	cfg    Config
	client ee.Backend
	log    zerolog.Logger
	bidder Bidder
}

// New creates a Runner that sends every transaction through client.
func New(cfg Config, client ee.Backend, opts ...Option) *Runner {
	r := &Runner{
		cfg:    cfg,
		client: client,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run is shorthand for New(cfg, client, opts...).Run(ctx).
func Run(ctx context.Context, cfg Config, client ee.Backend, opts ...Option) (*Report, error) {
	return New(cfg, client, opts...).Run(ctx)
}

// state is what earlier steps hand to later ones.
type state struct {
	token    *contracts.Token
	prepared *seedless.Prepared
	report   *Report
}

type step struct {
	name string
	run  func(ctx context.Context, st *state) error
}

func (r *Runner) steps() []step {
	return []step{
		{"resolve", r.resolve},
		{"build", r.build},
		{"check-nonce", r.checkNonce},
		{"allowance-before", r.allowanceBefore},
		{"fund", r.fund},
		{"broadcast", r.broadcast},
		{"allowance-after", r.allowanceAfter},
	}
}

// Run executes every step and stops at the first failure. The report is
// returned even on failure and holds whatever the completed steps produced.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	st := &state{report: &Report{Proxy: r.cfg.Proxy}}
	for _, s := range r.steps() {
		r.log.Debug().Str("step", s.name).Msg("running step")
		if err := s.run(ctx, st); err != nil {
			return st.report, fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return st.report, nil
}

func (r *Runner) resolve(ctx context.Context, st *state) error {
	chainlog := contracts.NewChainlog(r.cfg.Registry, r.client)
	token, err := chainlog.Resolve(ctx, r.cfg.TokenKey)
	if err != nil {
		return err
	}

	st.token = contracts.NewToken(token, r.client)
	st.report.Token = token
	r.log.Info().Str("key", r.cfg.TokenKey).Str("token", token.Hex()).Msg("resolved token")
	return nil
}

func (r *Runner) build(ctx context.Context, st *state) error {
	prepared, err := seedless.Build(ctx, r.client, seedless.Request{
		Token:   st.token.Address,
		Spender: r.cfg.Proxy,
	})
	if err != nil {
		return err
	}

	st.prepared = prepared
	st.report.EOA = prepared.Sender
	r.log.Debug().
		Str("hash", prepared.Tx.Hash().Hex()).
		Uint64("gasLimit", prepared.Tx.Gas()).
		Str("gasFeeCap", prepared.Tx.GasFeeCap().String()).
		Str("gasTipCap", prepared.Tx.GasTipCap().String()).
		Str("chainID", prepared.Tx.ChainId().String()).
		Msg("prepared approval")
	return nil
}

func (r *Runner) checkNonce(ctx context.Context, st *state) error {
	if err := seedless.CheckUnused(ctx, r.client, st.prepared.Sender); err != nil {
		return err
	}
	r.log.Info().Str("eoa", st.prepared.Sender.Hex()).Msg("Seedless EOA")
	return nil
}

func (r *Runner) allowanceBefore(ctx context.Context, st *state) error {
	allowance, err := st.token.Allowance(ctx, st.prepared.Sender, r.cfg.Proxy)
	if err != nil {
		return err
	}
	st.report.AllowanceBefore = allowance
	r.log.Info().Str("proxy", r.cfg.Proxy.Hex()).Str("allowance", allowance.String()).Msg("Proxy allowance")
	return nil
}

func (r *Runner) fund(ctx context.Context, st *state) error {
	value := st.prepared.Cost
	tx, err := ee.SendTransfer(ctx, r.client, r.cfg.Operator, st.prepared.Sender, value)
	if err != nil {
		return err
	}

	st.report.FundingTx = tx.Hash()
	st.report.FundingValue = value
	r.log.Info().
		Str("eth", FormatEther(value)).
		Str("txHash", tx.Hash().Hex()).
		Msg("Funding seedless EOA")

	return r.confirm(ctx, tx)
}

func (r *Runner) broadcast(ctx context.Context, st *state) error {
	tx := st.prepared.Tx
	if err := ee.Broadcast(ctx, r.client, tx); err != nil {
		return err
	}

	st.report.ApprovalTx = tx.Hash()
	r.log.Info().Str("txHash", tx.Hash().Hex()).Msg("Approving proxy through one-time tx")

	return r.confirm(ctx, tx)
}

func (r *Runner) allowanceAfter(ctx context.Context, st *state) error {
	allowance, err := st.token.Allowance(ctx, st.prepared.Sender, r.cfg.Proxy)
	if err != nil {
		return err
	}
	st.report.AllowanceAfter = allowance
	r.log.Info().Str("proxy", r.cfg.Proxy.Hex()).Str("allowance", allowance.String()).Msg("Proxy allowance")
	return nil
}

// confirm bids for tx when a bidder is configured and waits for it to be mined.
func (r *Runner) confirm(ctx context.Context, tx *types.Transaction) error {
	r.bid(ctx, tx)

	receipt, err := ee.WaitMined(ctx, r.client, tx)
	if err != nil {
		return err
	}
	r.log.Debug().Str("txHash", tx.Hash().Hex()).Str("block", receipt.BlockNumber.String()).Msg("transaction mined")
	return nil
}

// bid targets the block after the current head. Failures are logged only:
// the transaction is already in the mempool and will be mined either way.
func (r *Runner) bid(ctx context.Context, tx *types.Transaction) {
	if r.bidder == nil {
		return
	}

	blockNumber, err := r.client.BlockNumber(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to retrieve block number for preconf bid")
		return
	}

	target := int64(blockNumber) + 1
	commitments, err := r.bidder.SendBid(ctx, []string{tx.Hash().Hex()}, target)
	if err != nil {
		r.log.Warn().Err(err).Str("txHash", tx.Hash().Hex()).Msg("preconf bid failed")
		return
	}
	r.log.Info().
		Str("txHash", tx.Hash().Hex()).
		Int64("blockNumber", target).
		Int("commitments", commitments).
		Msg("preconf bid sent")
}
