// Package ethtest provides an in-memory chain that answers the JSON-RPC calls
// made by the bootstrap. It knows about name registries and ERC-20 allowances
// and nothing else; every accepted transaction is mined immediately in its
// own block.
package ethtest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/primev/seedless_approver/core/contracts"
	ee "github.com/primev/seedless_approver/core/eth"
)

var _ ee.Backend = (*Backend)(nil)

// Backend is a fake node. The exported fields may be changed between calls.
type Backend struct {
	mu sync.Mutex

	ChainIDValue *big.Int
	BaseFee      *big.Int
	TipCap       *big.Int
	// ContractGas is returned by EstimateGas for calls with data.
	ContractGas uint64
	// RevertUnknownKeys makes registries revert on missing keys instead of
	// returning the zero address.
	RevertUnknownKeys bool
	// SendErr, when set, is returned by SendTransaction.
	SendErr error
	// TipCapErr, when set, is returned by SuggestGasTipCap.
	TipCapErr error
	// FailReceipts mines accepted transactions with a failed status. Gas is
	// still charged and the nonce still advances, but value and token calls
	// have no effect.
	FailReceipts bool

	blockNumber uint64
	balances    map[common.Address]*big.Int
	nonces      map[common.Address]uint64
	registries  map[common.Address]map[[32]byte]common.Address
	// token -> owner -> spender -> amount
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int
	receipts   map[common.Hash]*types.Receipt

	sent   []*types.Transaction
	events []string
}

// NewBackend returns a chain with a 1 gwei base fee and tip.
func NewBackend(chainID int64) *Backend {
	return &Backend{
		ChainIDValue: big.NewInt(chainID),
		BaseFee:      big.NewInt(params.GWei),
		TipCap:       big.NewInt(params.GWei),
		ContractGas:  50_000,
		balances:     make(map[common.Address]*big.Int),
		nonces:       make(map[common.Address]uint64),
		registries:   make(map[common.Address]map[[32]byte]common.Address),
		allowances:   make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
		receipts:     make(map[common.Hash]*types.Receipt),
	}
}

// SetBalance credits account with exactly balance wei.
func (b *Backend) SetBalance(account common.Address, balance *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[account] = new(big.Int).Set(balance)
}

func (b *Backend) Balance(account common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance(account)
}

func (b *Backend) SetNonce(account common.Address, nonce uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonces[account] = nonce
}

// Register binds name to addr in the registry deployed at registry.
func (b *Backend) Register(registry common.Address, name string, addr common.Address) {
	key, err := contracts.EncodeBytes32String(name)
	if err != nil {
		panic(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.registries[registry] == nil {
		b.registries[registry] = make(map[[32]byte]common.Address)
	}
	b.registries[registry][key] = addr
}

// DeployToken makes token answer ERC-20 allowance and approve calls.
func (b *Backend) DeployToken(token common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.allowances[token] == nil {
		b.allowances[token] = make(map[common.Address]map[common.Address]*big.Int)
	}
}

// SetAllowance sets a token allowance directly.
func (b *Backend) SetAllowance(token, owner, spender common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setAllowance(token, owner, spender, amount)
}

// Sent returns every transaction accepted so far, in order.
func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.sent...)
}

// Events returns the "send <hash>" and "receipt <hash>" calls seen so far.
func (b *Backend) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.ChainIDValue), nil
}

func (b *Backend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockNumber, nil
}

func (b *Backend) HeaderByNumber(_ context.Context, _ *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	header := &types.Header{Number: new(big.Int).SetUint64(b.blockNumber)}
	if b.BaseFee != nil {
		header.BaseFee = new(big.Int).Set(b.BaseFee)
	}
	return header, nil
}

func (b *Backend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	if b.TipCapErr != nil {
		return nil, b.TipCapErr
	}
	return new(big.Int).Set(b.TipCap), nil
}

func (b *Backend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	if len(msg.Data) == 0 {
		return params.TxGas, nil
	}
	return b.ContractGas, nil
}

func (b *Backend) NonceAt(_ context.Context, account common.Address, _ *big.Int) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return b.NonceAt(ctx, account, nil)
}

func (b *Backend) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isContract(account) {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

func (b *Backend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if call.To == nil || !b.isContract(*call.To) {
		return nil, nil
	}
	if len(call.Data) < 4 {
		return nil, errors.New("execution reverted")
	}

	if entries, ok := b.registries[*call.To]; ok {
		args, method, err := unpackCall(contracts.ChainlogABI, call.Data)
		if err != nil {
			return nil, err
		}
		key := args[0].([32]byte)
		addr, found := entries[key]
		if !found && b.RevertUnknownKeys {
			return nil, errors.New("execution reverted: dss-chain-log/invalid-key")
		}
		return method.Outputs.Pack(addr)
	}

	args, method, err := unpackCall(contracts.ERC20ABI, call.Data)
	if err != nil {
		return nil, err
	}
	if method.Name != "allowance" {
		return nil, fmt.Errorf("execution reverted: %s is not a view", method.Name)
	}
	owner, spender := args[0].(common.Address), args[1].(common.Address)
	return method.Outputs.Pack(b.allowance(*call.To, owner, spender))
}

// SendTransaction validates tx against the sender's nonce and balance, charges
// it the full GasFeeCap * Gas and mines it.
func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, "send "+tx.Hash().Hex())
	if b.SendErr != nil {
		return b.SendErr
	}

	signer := types.LatestSignerForChainID(b.ChainIDValue)
	from, err := types.Sender(signer, tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	if nonce := b.nonces[from]; tx.Nonce() != nonce {
		return fmt.Errorf("nonce mismatch: address %s, tx: %d state: %d", from.Hex(), tx.Nonce(), nonce)
	}

	cost := new(big.Int).Mul(tx.GasFeeCap(), new(big.Int).SetUint64(tx.Gas()))
	cost.Add(cost, tx.Value())
	if have := b.balance(from); have.Cmp(cost) < 0 {
		return fmt.Errorf("insufficient funds for gas * price + value: address %s have %v want %v", from.Hex(), have, cost)
	}

	status := types.ReceiptStatusSuccessful
	if b.FailReceipts {
		status = types.ReceiptStatusFailed
		cost.Sub(cost, tx.Value())
	}

	b.balances[from] = new(big.Int).Sub(b.balance(from), cost)
	b.nonces[from]++
	if to := tx.To(); to != nil && status == types.ReceiptStatusSuccessful {
		b.balances[*to] = new(big.Int).Add(b.balance(*to), tx.Value())
		if _, ok := b.allowances[*to]; ok && len(tx.Data()) >= 4 {
			b.applyTokenCall(*to, from, tx.Data())
		}
	}

	b.blockNumber++
	b.sent = append(b.sent, tx)
	b.receipts[tx.Hash()] = &types.Receipt{
		Type:              tx.Type(),
		Status:            status,
		CumulativeGasUsed: tx.Gas(),
		TxHash:            tx.Hash(),
		GasUsed:           tx.Gas(),
		BlockNumber:       new(big.Int).SetUint64(b.blockNumber),
	}
	return nil
}

func (b *Backend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, "receipt "+txHash.Hex())
	receipt, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

// Allowance reads token state directly.
func (b *Backend) Allowance(token, owner, spender common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowance(token, owner, spender)
}

func (b *Backend) applyTokenCall(token, from common.Address, data []byte) {
	args, method, err := unpackCall(contracts.ERC20ABI, data)
	if err != nil || method.Name != "approve" {
		return
	}
	b.setAllowance(token, from, args[0].(common.Address), args[1].(*big.Int))
}

func (b *Backend) isContract(account common.Address) bool {
	_, registry := b.registries[account]
	_, token := b.allowances[account]
	return registry || token
}

func (b *Backend) balance(account common.Address) *big.Int {
	if bal, ok := b.balances[account]; ok {
		return bal
	}
	return new(big.Int)
}

func (b *Backend) allowance(token, owner, spender common.Address) *big.Int {
	if amount, ok := b.allowances[token][owner][spender]; ok {
		return new(big.Int).Set(amount)
	}
	return new(big.Int)
}

func (b *Backend) setAllowance(token, owner, spender common.Address, amount *big.Int) {
	if b.allowances[token] == nil {
		b.allowances[token] = make(map[common.Address]map[common.Address]*big.Int)
	}
	if b.allowances[token][owner] == nil {
		b.allowances[token][owner] = make(map[common.Address]*big.Int)
	}
	b.allowances[token][owner][spender] = new(big.Int).Set(amount)
}

func unpackCall(contractABI abi.ABI, data []byte) ([]interface{}, *abi.Method, error) {
	method, err := contractABI.MethodById(data[:4])
	if err != nil {
		return nil, nil, fmt.Errorf("execution reverted: %w", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("execution reverted: %w", err)
	}
	return args, method, nil
}
