package contracts

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	ee "github.com/primev/seedless_approver/core/eth"
)

// MakerDAO chainlog on mainnet.
const chainlogAddress = "0xdA0Ab1e0017DEbCd72Be8599041a2aa3bA7e740F"

// DefaultChainlog is the registry consulted when none is configured.
var DefaultChainlog = common.HexToAddress(chainlogAddress)

//go:embed abi/*.abi
var abiFiles embed.FS

var (
	ChainlogABI = mustLoadABI("abi/Chainlog.abi")
	ERC20ABI    = mustLoadABI("abi/ERC20.abi")
)

// ErrResolution is returned when the registry has no usable address for a key.
var ErrResolution = errors.New("registry resolution failed")

// LoadABI loads the ABI from the specified file path and parses it
func LoadABI(filePath string) (abi.ABI, error) {
	data, err := abiFiles.ReadFile(filePath)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to load ABI file: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(string(data)))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI file %s: %w", filePath, err)
	}
	return parsedABI, nil
}

func mustLoadABI(filePath string) abi.ABI {
	parsed, err := LoadABI(filePath)
	if err != nil {
		panic(err)
	}
	return parsed
}

// MaxAllowance returns 2^256-1, the unlimited ERC-20 allowance.
func MaxAllowance() *big.Int {
	return new(uint256.Int).Not(uint256.NewInt(0)).ToBig()
}

// EncodeBytes32String encodes s as a right zero-padded bytes32 key. Keys must
// leave room for a terminating zero byte, so at most 31 bytes are accepted.
func EncodeBytes32String(s string) ([32]byte, error) {
	var key [32]byte
	if len(s) > 31 {
		return key, fmt.Errorf("%w: key %q is longer than 31 bytes", ErrResolution, s)
	}
	copy(key[:], s)
	return key, nil
}

// Chainlog resolves contract addresses from an on-chain name registry.
type Chainlog struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewChainlog binds the registry deployed at address.
func NewChainlog(address common.Address, caller bind.ContractCaller) *Chainlog {
	return &Chainlog{
		address:  address,
		contract: bind.NewBoundContract(address, ChainlogABI, caller, nil, nil),
	}
}

// Resolve returns the address currently registered under name.
func (c *Chainlog) Resolve(ctx context.Context, name string) (common.Address, error) {
	key, err := EncodeBytes32String(name)
	if err != nil {
		return common.Address{}, err
	}

	var result []interface{}
	err = c.contract.Call(&bind.CallOpts{Context: ctx}, &result, "getAddress", key)
	if err != nil {
		if isRevert(err) {
			return common.Address{}, fmt.Errorf("%w: %s at %s: %w", ErrResolution, name, c.address.Hex(), err)
		}
		return common.Address{}, ee.WrapRPC("getAddress", err)
	}

	addr, ok := result[0].(common.Address)
	if !ok || addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s is not registered at %s", ErrResolution, name, c.address.Hex())
	}
	return addr, nil
}

// Token is a read-only binding of an ERC-20 token.
type Token struct {
	Address  common.Address
	contract *bind.BoundContract
}

// NewToken binds the ERC-20 token deployed at address.
func NewToken(address common.Address, caller bind.ContractCaller) *Token {
	return &Token{
		Address:  address,
		contract: bind.NewBoundContract(address, ERC20ABI, caller, nil, nil),
	}
}

// Allowance returns how much spender may move on behalf of owner.
func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	var result []interface{}
	err := t.contract.Call(&bind.CallOpts{Context: ctx}, &result, "allowance", owner, spender)
	if err != nil {
		return nil, ee.WrapRPC("allowance", err)
	}

	allowance, ok := result[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance result %T", result[0])
	}
	return allowance, nil
}

// PackApprove encodes approve(spender, amount).
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("approve", spender, amount)
}

// isRevert reports whether err came from the contract rather than the node.
func isRevert(err error) bool {
	if errors.Is(err, bind.ErrNoCode) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}
