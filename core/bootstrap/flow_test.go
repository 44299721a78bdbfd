package bootstrap_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/primev/seedless_approver/core/bootstrap"
	"github.com/primev/seedless_approver/core/contracts"
	ee "github.com/primev/seedless_approver/core/eth"
	"github.com/primev/seedless_approver/core/eth/ethtest"
	"github.com/primev/seedless_approver/core/seedless"
	"github.com/stretchr/testify/require"
)

var (
	usdc  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	proxy = common.HexToAddress("0xd803681E487E6AC18053aFc5a6cD813c86Ec3E4D")
)

// newChain returns a chain where USDC is registered in the default chainlog
// and the operator holds one ether. Fees come out at 100 wei per gas and the
// approval is estimated at 50000 gas.
func newChain(t *testing.T) (*ethtest.Backend, bootstrap.Config) {
	t.Helper()
	operator, err := ee.AuthenticateAddress("f6a8f1603b8368f3ca373292b7310c53bec7b508aecacd442554ebc1c5d0c856")
	require.NoError(t, err)

	backend := ethtest.NewBackend(1)
	backend.BaseFee = big.NewInt(45)
	backend.TipCap = big.NewInt(10)
	backend.ContractGas = 50_000
	backend.Register(contracts.DefaultChainlog, "USDC", usdc)
	backend.DeployToken(usdc)
	backend.SetBalance(operator.Address, big.NewInt(params.Ether))

	return backend, bootstrap.Config{
		Registry: contracts.DefaultChainlog,
		TokenKey: "USDC",
		Proxy:    proxy,
		Operator: *operator,
	}
}

func indexOf(events []string, event string) int {
	for i, e := range events {
		if e == event {
			return i
		}
	}
	return -1
}

func TestRunGrantsUnlimitedAllowance(t *testing.T) {
	backend, cfg := newChain(t)

	report, err := bootstrap.Run(context.Background(), cfg, backend)
	require.NoError(t, err)

	require.Equal(t, usdc, report.Token)
	require.Equal(t, proxy, report.Proxy)
	require.Zero(t, report.AllowanceBefore.Sign())
	require.Equal(t, contracts.MaxAllowance(), report.AllowanceAfter)
	require.Equal(t, contracts.MaxAllowance(), backend.Allowance(usdc, report.EOA, proxy))

	sent := backend.Sent()
	require.Len(t, sent, 2)
	require.Equal(t, report.FundingTx, sent[0].Hash())
	require.Equal(t, report.ApprovalTx, sent[1].Hash())
}

func TestRunFundsExactCost(t *testing.T) {
	backend, cfg := newChain(t)

	report, err := bootstrap.Run(context.Background(), cfg, backend)
	require.NoError(t, err)

	want := big.NewInt(5_000_000)
	require.Equal(t, want, report.FundingValue)

	funding := backend.Sent()[0]
	require.Equal(t, want, funding.Value())
	require.Equal(t, report.EOA, *funding.To())

	approval := backend.Sent()[1]
	require.Equal(t, big.NewInt(100), approval.GasFeeCap())
	require.Equal(t, uint64(50_000), approval.Gas())

	// The approval consumed every wei the funding provided.
	require.Zero(t, backend.Balance(report.EOA).Sign())
}

func TestRunBroadcastsAfterFundingConfirms(t *testing.T) {
	backend, cfg := newChain(t)

	report, err := bootstrap.Run(context.Background(), cfg, backend)
	require.NoError(t, err)

	events := backend.Events()
	fundSent := indexOf(events, "send "+report.FundingTx.Hex())
	fundMined := indexOf(events, "receipt "+report.FundingTx.Hex())
	approvalSent := indexOf(events, "send "+report.ApprovalTx.Hex())
	approvalMined := indexOf(events, "receipt "+report.ApprovalTx.Hex())

	require.GreaterOrEqual(t, fundSent, 0)
	require.Greater(t, fundMined, fundSent)
	require.Greater(t, approvalSent, fundMined)
	require.Greater(t, approvalMined, approvalSent)
}

func TestRunAbortsWhenAccountUsed(t *testing.T) {
	backend, cfg := newChain(t)

	prepared, err := seedless.Build(context.Background(), backend, seedless.Request{Token: usdc, Spender: proxy})
	require.NoError(t, err)
	backend.SetNonce(prepared.Sender, 1)

	report, err := bootstrap.Run(context.Background(), cfg, backend)
	require.ErrorIs(t, err, seedless.ErrAlreadyUsed)
	require.ErrorContains(t, err, "check-nonce")
	require.Equal(t, prepared.Sender, report.EOA)
	require.Empty(t, backend.Sent())
}

func TestRunAbortsOnUnresolvedToken(t *testing.T) {
	backend, cfg := newChain(t)
	cfg.TokenKey = "PAX"

	_, err := bootstrap.Run(context.Background(), cfg, backend)
	require.ErrorIs(t, err, contracts.ErrResolution)
	require.ErrorContains(t, err, "resolve")
	require.Empty(t, backend.Sent())
	require.Empty(t, backend.Events())
}

func TestRunAbortsOnZeroRegistryEntry(t *testing.T) {
	backend, cfg := newChain(t)
	backend.Register(contracts.DefaultChainlog, "USDC", common.Address{})

	_, err := bootstrap.Run(context.Background(), cfg, backend)
	require.ErrorIs(t, err, contracts.ErrResolution)
	require.Empty(t, backend.Sent())
}

func TestRunOperatorCannotPay(t *testing.T) {
	backend, cfg := newChain(t)
	backend.SetBalance(cfg.Operator.Address, big.NewInt(1))

	report, err := bootstrap.Run(context.Background(), cfg, backend)
	require.ErrorIs(t, err, ee.ErrInsufficientFunds)
	require.ErrorContains(t, err, "fund")
	require.Empty(t, backend.Sent())
	require.Nil(t, report.AllowanceAfter)
}

func TestRunAbortsWhenFundingFails(t *testing.T) {
	backend, cfg := newChain(t)
	backend.FailReceipts = true

	report, err := bootstrap.Run(context.Background(), cfg, backend)
	require.ErrorIs(t, err, ee.ErrTxFailed)
	require.ErrorContains(t, err, "fund:")

	sent := backend.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, report.FundingTx, sent[0].Hash())
	require.Equal(t, common.Hash{}, report.ApprovalTx)
	require.Nil(t, report.AllowanceAfter)

	prepared, err := seedless.Build(context.Background(), backend, seedless.Request{Token: usdc, Spender: proxy})
	require.NoError(t, err)
	require.Equal(t, -1, indexOf(backend.Events(), "send "+prepared.Tx.Hash().Hex()))
}

type recordingBidder struct {
	hashes []string
	blocks []int64
	err    error
}

func (b *recordingBidder) SendBid(_ context.Context, txHashes []string, blockNumber int64) (int, error) {
	b.hashes = append(b.hashes, txHashes...)
	b.blocks = append(b.blocks, blockNumber)
	return 1, b.err
}

func TestRunBidsForEachTransaction(t *testing.T) {
	backend, cfg := newChain(t)
	bidder := &recordingBidder{}

	report, err := bootstrap.Run(context.Background(), cfg, backend, bootstrap.WithBidder(bidder))
	require.NoError(t, err)

	require.Equal(t, []string{report.FundingTx.Hex(), report.ApprovalTx.Hex()}, bidder.hashes)
	// The fake chain mines every transaction on arrival.
	require.Equal(t, []int64{2, 3}, bidder.blocks)
}

func TestRunIgnoresBidFailures(t *testing.T) {
	backend, cfg := newChain(t)
	bidder := &recordingBidder{err: errors.New("bidder node unavailable")}

	report, err := bootstrap.Run(context.Background(), cfg, backend, bootstrap.WithBidder(bidder))
	require.NoError(t, err)
	require.Len(t, bidder.hashes, 2)
	require.Equal(t, contracts.MaxAllowance(), report.AllowanceAfter)
}

func TestFormatEther(t *testing.T) {
	require.Equal(t, "0.000000000005", bootstrap.FormatEther(big.NewInt(5_000_000)))
	require.Equal(t, "1", bootstrap.FormatEther(big.NewInt(params.Ether)))
	require.Equal(t, "0", bootstrap.FormatEther(new(big.Int)))
}
