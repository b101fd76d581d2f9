package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"ammledger/internal/model"
)

// FeeDenominator is the basis-point denominator for transfer fees.
const FeeDenominator = 10000

// TransferHook runs after an asset transfer has moved balances.
type TransferHook func(ctx context.Context, from, to common.Address, amount *big.Int) error

// AssetOption customizes a registered asset.
type AssetOption func(*asset)

// WithTransferFee burns feeBps/10000 of every transfer from the amount received.
func WithTransferFee(feeBps int64) AssetOption {
	return func(a *asset) { a.feeBps = feeBps }
}

// WithTransferHook installs a callback invoked on every transfer.
func WithTransferHook(hook TransferHook) AssetOption {
	return func(a *asset) { a.hook = hook }
}

type asset struct {
	meta     model.TokenMeta
	share    bool
	admin    common.Address
	feeBps   int64
	hook     TransferHook
	supply   *big.Int
	balances map[common.Address]*big.Int
}

func (a *asset) balance(holder common.Address) *big.Int {
	if bal, ok := a.balances[holder]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

func (a *asset) clone() *asset {
	c := *a
	c.supply = new(big.Int).Set(a.supply)
	c.balances = make(map[common.Address]*big.Int, len(a.balances))
	for holder, bal := range a.balances {
		c.balances[holder] = new(big.Int).Set(bal)
	}
	return &c
}

// Bank is an in-memory multi-asset ledger. It is not safe for concurrent
// use; the host serializes invocations. Changes are tracked per asset so
// they can be written out with Flush.
type Bank struct {
	auth   Authorizer
	assets map[common.Address]*asset
	order  []common.Address
	dirty  map[common.Address]struct{}
}

// NewBank creates a bank that authorizes debits and share issuance with auth.
func NewBank(auth Authorizer) *Bank {
	if auth == nil {
		auth = SignerAuthorizer{}
	}
	return &Bank{
		auth:   auth,
		assets: make(map[common.Address]*asset),
		dirty:  make(map[common.Address]struct{}),
	}
}

func (b *Bank) touch(id common.Address) {
	b.dirty[id] = struct{}{}
}

// Register adds a plain fungible asset.
func (b *Bank) Register(id common.Address, meta model.TokenMeta, opts ...AssetOption) error {
	if _, ok := b.assets[id]; ok {
		return fmt.Errorf("%w: %s", ErrAssetExists, id.Hex())
	}
	a := &asset{
		meta:     meta,
		supply:   big.NewInt(0),
		balances: make(map[common.Address]*big.Int),
	}
	a.meta.Address = id.Hex()
	for _, opt := range opts {
		opt(a)
	}
	b.assets[id] = a
	b.order = append(b.order, id)
	b.touch(id)
	return nil
}

// Configure applies options to a registered asset, such as reinstalling a
// transfer hook on an asset restored with Load.
func (b *Bank) Configure(id common.Address, opts ...AssetOption) error {
	a, ok := b.assets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, id.Hex())
	}
	for _, opt := range opts {
		opt(a)
	}
	b.touch(id)
	return nil
}

// Issue credits amount of a plain asset to holder without authorization.
// It is meant for genesis funding.
func (b *Bank) Issue(id, holder common.Address, amount *big.Int) error {
	a, ok := b.assets[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, id.Hex())
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	a.balances[holder] = new(big.Int).Add(a.balance(holder), amount)
	a.supply.Add(a.supply, amount)
	b.touch(id)
	return nil
}

// Balance returns holder's balance of id, or zero for unknown assets.
func (b *Bank) Balance(id, holder common.Address) *big.Int {
	a, ok := b.assets[id]
	if !ok {
		return big.NewInt(0)
	}
	return a.balance(holder)
}

// Meta returns the metadata of a registered asset.
func (b *Bank) Meta(id common.Address) (model.TokenMeta, bool) {
	a, ok := b.assets[id]
	if !ok {
		return model.TokenMeta{}, false
	}
	return a.meta, true
}

// DeployShare creates a share asset administered by admin. The address is
// derived from admin and the number of shares it already administers, so it
// does not depend on which process deploys it.
func (b *Bank) DeployShare(ctx context.Context, admin common.Address, meta model.TokenMeta) (common.Address, error) {
	var n uint64
	for _, a := range b.assets {
		if a.share && a.admin == admin {
			n++
		}
	}
	id := crypto.CreateAddress(admin, n)
	if err := b.Register(id, meta); err != nil {
		return common.Address{}, err
	}
	b.assets[id].share = true
	b.assets[id].admin = admin
	return id, nil
}

// Asset returns a client for any registered asset.
func (b *Bank) Asset(id common.Address) (AssetLedger, error) {
	if _, ok := b.assets[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, id.Hex())
	}
	return &assetClient{bank: b, id: id}, nil
}

// Share returns a client for a share asset created with DeployShare.
func (b *Bank) Share(id common.Address) (ShareAsset, error) {
	a, ok := b.assets[id]
	if !ok || !a.share {
		return nil, fmt.Errorf("%w: share %s", ErrUnknownAsset, id.Hex())
	}
	return &assetClient{bank: b, id: id}, nil
}

// Checkpoint snapshots every balance and supply. Calling the returned
// function restores the snapshot.
func (b *Bank) Checkpoint() func() {
	assets := make(map[common.Address]*asset, len(b.assets))
	for id, a := range b.assets {
		assets[id] = a.clone()
	}
	order := append([]common.Address(nil), b.order...)
	dirty := make(map[common.Address]struct{}, len(b.dirty))
	for id := range b.dirty {
		dirty[id] = struct{}{}
	}
	return func() {
		b.assets = assets
		b.order = order
		b.dirty = dirty
	}
}

type assetClient struct {
	bank *Bank
	id   common.Address
}

func (c *assetClient) lookup() (*asset, error) {
	a, ok := c.bank.assets[c.id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, c.id.Hex())
	}
	return a, nil
}

func (c *assetClient) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if err := c.bank.auth.RequireAuth(ctx, from); err != nil {
		return err
	}
	a, err := c.lookup()
	if err != nil {
		return err
	}
	fromBal := a.balance(from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal, amount)
	}

	received := new(big.Int).Set(amount)
	if a.feeBps > 0 {
		fee := new(big.Int).Mul(amount, big.NewInt(a.feeBps))
		fee.Quo(fee, big.NewInt(FeeDenominator))
		received.Sub(received, fee)
		a.supply.Sub(a.supply, fee)
	}

	a.balances[from] = fromBal.Sub(fromBal, amount)
	a.balances[to] = new(big.Int).Add(a.balance(to), received)
	c.bank.touch(c.id)

	if a.hook != nil {
		return a.hook(ctx, from, to, amount)
	}
	return nil
}

func (c *assetClient) BalanceOf(_ context.Context, holder common.Address) (*big.Int, error) {
	a, err := c.lookup()
	if err != nil {
		return nil, err
	}
	return a.balance(holder), nil
}

func (c *assetClient) Mint(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	a, err := c.lookup()
	if err != nil {
		return err
	}
	if err := c.bank.auth.RequireAuth(ctx, a.admin); err != nil {
		return err
	}
	a.balances[to] = new(big.Int).Add(a.balance(to), amount)
	a.supply.Add(a.supply, amount)
	c.bank.touch(c.id)
	return nil
}

func (c *assetClient) Burn(ctx context.Context, from common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if err := c.bank.auth.RequireAuth(ctx, from); err != nil {
		return err
	}
	a, err := c.lookup()
	if err != nil {
		return err
	}
	bal := a.balance(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	a.balances[from] = bal.Sub(bal, amount)
	a.supply.Sub(a.supply, amount)
	c.bank.touch(c.id)
	return nil
}

func (c *assetClient) TotalSupply(context.Context) (*big.Int, error) {
	a, err := c.lookup()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(a.supply), nil
}
