package contracts_test

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/primev/seedless_approver/core/contracts"
	ee "github.com/primev/seedless_approver/core/eth"
	"github.com/primev/seedless_approver/core/eth/ethtest"
	"github.com/stretchr/testify/require"
)

var (
	chainlog = contracts.DefaultChainlog
	usdc     = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	owner    = common.HexToAddress("0x84E75c28348fB86AceA1A93a39426d7D60f4CC46")
	proxy    = common.HexToAddress("0x4ddE844b71bcdf95512Fb4Dc94e84FB67b512eD8")
)

func TestEncodeBytes32String(t *testing.T) {
	key, err := contracts.EncodeBytes32String("USDC")
	require.NoError(t, err)
	require.Equal(t, "0x5553444300000000000000000000000000000000000000000000000000000000", hexutil.Encode(key[:]))

	_, err = contracts.EncodeBytes32String(strings.Repeat("a", 31))
	require.NoError(t, err)

	_, err = contracts.EncodeBytes32String(strings.Repeat("a", 32))
	require.ErrorIs(t, err, contracts.ErrResolution)
}

func TestMaxAllowance(t *testing.T) {
	want := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	require.Equal(t, want, contracts.MaxAllowance())

	// Callers get their own copy.
	contracts.MaxAllowance().SetInt64(0)
	require.Equal(t, want, contracts.MaxAllowance())
}

func TestPackApprove(t *testing.T) {
	data, err := contracts.PackApprove(proxy, contracts.MaxAllowance())
	require.NoError(t, err)
	require.Len(t, data, 4+32+32)
	require.Equal(t, "0x095ea7b3", hexutil.Encode(data[:4]))
	require.Equal(t, proxy, common.BytesToAddress(data[4:36]))
	require.Equal(t, contracts.MaxAllowance(), new(big.Int).SetBytes(data[36:]))
}

func TestChainlogResolve(t *testing.T) {
	ctx := context.Background()
	backend := ethtest.NewBackend(1)
	backend.Register(chainlog, "USDC", usdc)
	backend.Register(chainlog, "MCD_VAT", common.Address{})

	resolver := contracts.NewChainlog(chainlog, backend)

	addr, err := resolver.Resolve(ctx, "USDC")
	require.NoError(t, err)
	require.Equal(t, usdc, addr)

	_, err = resolver.Resolve(ctx, "MCD_VAT")
	require.ErrorIs(t, err, contracts.ErrResolution)

	_, err = resolver.Resolve(ctx, "DAI")
	require.ErrorIs(t, err, contracts.ErrResolution)

	backend.RevertUnknownKeys = true
	_, err = resolver.Resolve(ctx, "DAI")
	require.ErrorIs(t, err, contracts.ErrResolution)
	require.NotErrorIs(t, err, ee.ErrRPC)
}

func TestChainlogWithoutCode(t *testing.T) {
	backend := ethtest.NewBackend(1)
	_, err := contracts.NewChainlog(chainlog, backend).Resolve(context.Background(), "USDC")
	require.ErrorIs(t, err, contracts.ErrResolution)
}

func TestTokenAllowance(t *testing.T) {
	ctx := context.Background()
	backend := ethtest.NewBackend(1)
	backend.DeployToken(usdc)

	token := contracts.NewToken(usdc, backend)
	allowance, err := token.Allowance(ctx, owner, proxy)
	require.NoError(t, err)
	require.Zero(t, allowance.Sign())

	backend.SetAllowance(usdc, owner, proxy, contracts.MaxAllowance())
	allowance, err = token.Allowance(ctx, owner, proxy)
	require.NoError(t, err)
	require.Equal(t, contracts.MaxAllowance(), allowance)

	allowance, err = token.Allowance(ctx, proxy, owner)
	require.NoError(t, err)
	require.Zero(t, allowance.Sign())
}

func TestLoadABI(t *testing.T) {
	parsed, err := contracts.LoadABI("abi/ERC20.abi")
	require.NoError(t, err)
	require.Contains(t, parsed.Methods, "approve")
	require.Contains(t, parsed.Methods, "allowance")

	_, err = contracts.LoadABI("abi/Missing.abi")
	require.Error(t, err)
}
