// Package token implements the capability adapters a bond ledger uses to
// move payment and collateral value: an in-process token book for local mode
// and tests, and an ERC-20 adapter for chain mode.
package token

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/convertfi/bondd/internal/domain"
)

// Book is an in-process fungible token: balances plus owner→spender
// allowances with standard transfer semantics. A failed transfer mutates
// nothing.
type Book struct {
	mu         sync.Mutex
	symbol     string
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

// NewBook creates an empty token book.
func NewBook(symbol string) *Book {
	return &Book{
		symbol:     symbol,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

// Symbol returns the token's symbol.
func (b *Book) Symbol() string { return b.symbol }

// Mint credits amount to the holder. Test and faucet funding path.
func (b *Book) Mint(to common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[to] = new(uint256.Int).Add(b.balance(to), amount)
}

// Approve sets the spender's allowance over the owner's balance.
func (b *Book) Approve(owner, spender common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.allowances[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		b.allowances[owner] = m
	}
	m[spender] = amount.Clone()
}

// BalanceOf returns the holder's balance.
func (b *Book) BalanceOf(owner common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance(owner).Clone()
}

// Allowance returns what spender may pull from owner.
func (b *Book) Allowance(owner, spender common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowance(owner, spender).Clone()
}

// Transfer moves amount from one holder to another.
func (b *Book) Transfer(from, to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.move(from, to, amount)
}

// TransferFrom moves amount from owner to recipient, spending the allowance
// the owner granted the spender. Allowance is checked before balance and
// decremented only when the move succeeds.
func (b *Book) TransferFrom(owner, spender, to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	allowed := b.allowance(owner, spender)
	if allowed.Lt(amount) {
		return domain.ErrInsufficientAllowance
	}
	if err := b.move(owner, to, amount); err != nil {
		return err
	}
	b.allowances[owner][spender] = new(uint256.Int).Sub(allowed, amount)
	return nil
}

func (b *Book) balance(owner common.Address) *uint256.Int {
	if bal, ok := b.balances[owner]; ok {
		return bal
	}
	return new(uint256.Int)
}

func (b *Book) allowance(owner, spender common.Address) *uint256.Int {
	if m, ok := b.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return new(uint256.Int)
}

func (b *Book) move(from, to common.Address, amount *uint256.Int) error {
	bal := b.balance(from)
	if bal.Lt(amount) {
		return domain.ErrInsufficientBalance
	}
	b.balances[from] = new(uint256.Int).Sub(bal, amount)
	b.balances[to] = new(uint256.Int).Add(b.balance(to), amount)
	return nil
}

// Account binds a Book to one holder identity, exposing the capability
// surface a bond ledger consumes. The holder is the ledger's own address.
type Account struct {
	book *Book
	self common.Address
}

// NewAccount binds the book to the holder address.
func NewAccount(book *Book, self common.Address) *Account {
	return &Account{book: book, self: self}
}

// Balance returns the bound holder's balance.
func (a *Account) Balance(ctx context.Context) (*uint256.Int, error) {
	return a.book.BalanceOf(a.self), nil
}

// BalanceOf returns an arbitrary holder's balance.
func (a *Account) BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	return a.book.BalanceOf(owner), nil
}

// Allowance returns what the owner has approved the bound holder to pull.
func (a *Account) Allowance(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	return a.book.Allowance(owner, a.self), nil
}

// TransferIn pulls amount from the owner into the bound holder.
func (a *Account) TransferIn(ctx context.Context, from common.Address, amount *uint256.Int) error {
	return a.book.TransferFrom(from, a.self, a.self, amount)
}

// TransferOut pushes amount from the bound holder to the recipient.
func (a *Account) TransferOut(ctx context.Context, to common.Address, amount *uint256.Int) error {
	return a.book.Transfer(a.self, to, amount)
}

// Compile-time interface check.
var _ domain.TokenAccount = (*Account)(nil)

// Registry is an address-keyed set of in-process token books. It backs local
// mode, where token contracts are simulated rather than reached over RPC.
type Registry struct {
	mu    sync.Mutex
	books map[common.Address]*Book
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{books: make(map[common.Address]*Book)}
}

// Register places a book at the given token address, replacing any previous
// book at that address.
func (r *Registry) Register(addr common.Address, book *Book) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books[addr] = book
}

// Book returns the book registered at addr.
func (r *Registry) Book(addr common.Address) (*Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	book, ok := r.books[addr]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return book, nil
}

// Open returns a capability adapter for the token at addr bound to holder.
func (r *Registry) Open(addr common.Address, holder common.Address) (domain.TokenAccount, error) {
	book, err := r.Book(addr)
	if err != nil {
		return nil, err
	}
	return NewAccount(book, holder), nil
}
