package token

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/convertfi/bondd/internal/domain"
)

// erc20ABI covers the four capabilities the ledger consumes.
const erc20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// transferGasLimit bounds a single ERC-20 transfer call.
const transferGasLimit = 100_000

// ERC20 implements domain.TokenAccount against a deployed ERC-20 contract.
// The bound identity is the address derived from the signing key: reads go
// through eth_call, writes are signed legacy transactions mined before the
// call returns, so a reverted transfer surfaces as an error to the ledger.
type ERC20 struct {
	client   *ethclient.Client
	abi      abi.ABI
	contract common.Address
	self     common.Address
	key      *ecdsa.PrivateKey
	chainID  *big.Int
}

// NewERC20 creates an adapter for the token contract at addr, acting as the
// address derived from key.
func NewERC20(client *ethclient.Client, contract common.Address, key *ecdsa.PrivateKey, chainID *big.Int) (*ERC20, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("token: parse erc20 abi: %w", err)
	}
	return &ERC20{
		client:   client,
		abi:      parsed,
		contract: contract,
		self:     ethcrypto.PubkeyToAddress(key.PublicKey),
		key:      key,
		chainID:  chainID,
	}, nil
}

// Self returns the bound account address.
func (e *ERC20) Self() common.Address { return e.self }

// Balance returns the bound account's token balance.
func (e *ERC20) Balance(ctx context.Context) (*uint256.Int, error) {
	return e.BalanceOf(ctx, e.self)
}

// BalanceOf returns a holder's token balance via eth_call.
func (e *ERC20) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	return e.callUint(ctx, "balanceOf", owner)
}

// Allowance returns what the owner has approved the bound account to pull.
func (e *ERC20) Allowance(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	return e.callUint(ctx, "allowance", owner, e.self)
}

// TransferIn pulls amount from the owner via transferFrom.
func (e *ERC20) TransferIn(ctx context.Context, from common.Address, amount *uint256.Int) error {
	// Pre-flight the allowance and balance so the common failure modes map
	// to the ledger's error taxonomy instead of an opaque revert.
	allowed, err := e.Allowance(ctx, from)
	if err != nil {
		return err
	}
	if allowed.Lt(amount) {
		return domain.ErrInsufficientAllowance
	}
	bal, err := e.BalanceOf(ctx, from)
	if err != nil {
		return err
	}
	if bal.Lt(amount) {
		return domain.ErrInsufficientBalance
	}
	return e.send(ctx, "transferFrom", from, e.self, amount.ToBig())
}

// TransferOut pushes amount from the bound account to the recipient.
func (e *ERC20) TransferOut(ctx context.Context, to common.Address, amount *uint256.Int) error {
	bal, err := e.Balance(ctx)
	if err != nil {
		return err
	}
	if bal.Lt(amount) {
		return domain.ErrInsufficientBalance
	}
	return e.send(ctx, "transfer", to, amount.ToBig())
}

func (e *ERC20) callUint(ctx context.Context, method string, args ...any) (*uint256.Int, error) {
	data, err := e.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("token: pack %s: %w", method, err)
	}
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &e.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("token: call %s: %w", method, err)
	}
	vals, err := e.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("token: unpack %s: %w", method, err)
	}
	raw, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("token: %s returned non-integer", method)
	}
	val, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, domain.ErrOverflow
	}
	return val, nil
}

func (e *ERC20) send(ctx context.Context, method string, args ...any) error {
	data, err := e.abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("token: pack %s: %w", method, err)
	}

	nonce, err := e.client.PendingNonceAt(ctx, e.self)
	if err != nil {
		return fmt.Errorf("token: nonce: %w", err)
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("token: gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.contract,
		Value:    new(big.Int),
		Gas:      transferGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		return fmt.Errorf("token: sign %s: %w", method, err)
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("token: send %s: %w", method, err)
	}

	receipt, err := bind.WaitMined(ctx, e.client, signed)
	if err != nil {
		return fmt.Errorf("token: wait %s: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("token: %s reverted in tx %s", method, signed.Hash())
	}
	return nil
}

// Compile-time interface check.
var _ domain.TokenAccount = (*ERC20)(nil)

// ChainOpener opens ERC-20 adapters on one chain for a fixed signing key.
// It satisfies the issuance gate's opener contract, so chain-mode bonds get
// real token capabilities wired at creation time.
type ChainOpener struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	chainID *big.Int
}

// NewChainOpener creates an opener for the given client and signer.
func NewChainOpener(client *ethclient.Client, key *ecdsa.PrivateKey, chainID *big.Int) *ChainOpener {
	return &ChainOpener{client: client, key: key, chainID: chainID}
}

// Open returns an ERC-20 adapter for the token at addr. The holder argument
// is advisory in chain mode: the bound identity is always the signer, which
// is the address the ledger actually controls on chain.
func (o *ChainOpener) Open(addr common.Address, holder common.Address) (domain.TokenAccount, error) {
	return NewERC20(o.client, addr, o.key, o.chainID)
}
