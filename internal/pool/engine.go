// Package pool implements the accounting engine of a two-asset
// constant-product liquidity pool.
package pool

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ammledger/internal/ledger"
	"ammledger/internal/model"
)

// DefaultShareDecimals is used when share metadata leaves decimals unset.
const DefaultShareDecimals = 8

// Emitter receives events for committed pool mutations.
type Emitter interface {
	Emit(ctx context.Context, event model.PoolEvent)
}

// Config holds per-pool settings.
type Config struct {
	Address       common.Address
	ShareDecimals uint8
}

// Engine owns the state of one pool. It is not safe for concurrent use.
type Engine struct {
	cfg    Config
	store  Store
	assets ledger.Directory
	auth   ledger.Authorizer
	events Emitter
	logger *zap.Logger
	active bool
}

// NewEngine builds an Engine with its dependencies. events may be nil.
func NewEngine(cfg Config, store Store, assets ledger.Directory, auth ledger.Authorizer, events Emitter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auth == nil {
		auth = ledger.SignerAuthorizer{}
	}
	if cfg.ShareDecimals == 0 {
		cfg.ShareDecimals = DefaultShareDecimals
	}
	return &Engine{
		cfg:    cfg,
		store:  store,
		assets: assets,
		auth:   auth,
		events: events,
		logger: logger.With(zap.String("pool", cfg.Address.Hex())),
	}
}

// Address returns the pool's own account address.
func (e *Engine) Address() common.Address {
	return e.cfg.Address
}

// enter marks a mutating call in progress. Asset transfers may call back into
// the pool before reserves are persisted, so nested mutations are refused.
func (e *Engine) enter() (func(), error) {
	if e.active {
		return nil, ErrReentrantCall
	}
	e.active = true
	return func() { e.active = false }, nil
}

// Initialize binds the pool to its two assets and deploys the share asset.
func (e *Engine) Initialize(ctx context.Context, assetA, assetB common.Address, share model.TokenMeta) error {
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()

	st, err := LoadState(ctx, e.store)
	if err != nil {
		return err
	}
	if st.Initialized {
		return ErrAlreadyInitialized
	}
	if assetA == assetB {
		return ErrIdenticalAssets
	}
	if _, err := e.assets.Asset(assetA); err != nil {
		return fmt.Errorf("resolve asset a: %w", err)
	}
	if _, err := e.assets.Asset(assetB); err != nil {
		return fmt.Errorf("resolve asset b: %w", err)
	}

	if share.Decimals == 0 {
		share.Decimals = e.cfg.ShareDecimals
	}
	shareID, err := e.assets.DeployShare(ctx, e.cfg.Address, share)
	if err != nil {
		return fmt.Errorf("deploy share asset: %w", err)
	}

	st = emptyState()
	st.AssetA = assetA
	st.AssetB = assetB
	st.ShareAsset = shareID
	st.Initialized = true
	if err := SaveState(ctx, e.store, st); err != nil {
		return err
	}

	e.logger.Info("pool initialized",
		zap.String("asset_a", assetA.Hex()),
		zap.String("asset_b", assetB.Hex()),
		zap.String("share_asset", shareID.Hex()),
	)
	return nil
}

// ShareAssetID returns the address of the pool's share asset.
func (e *Engine) ShareAssetID(ctx context.Context) (common.Address, error) {
	st, err := e.load(ctx)
	if err != nil {
		return common.Address{}, err
	}
	return st.ShareAsset, nil
}

// GetReserves returns the accounted reserves of asset A and asset B.
func (e *Engine) GetReserves(ctx context.Context) (*big.Int, *big.Int, error) {
	st, err := e.load(ctx)
	if err != nil {
		return nil, nil, err
	}
	return st.ReserveA, st.ReserveB, nil
}

// GetK returns the reserve product recorded by the last liquidity change.
func (e *Engine) GetK(ctx context.Context) (*big.Int, error) {
	st, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	return st.KLast, nil
}

// GetShareBalance returns holder's balance of the share asset.
func (e *Engine) GetShareBalance(ctx context.Context, holder common.Address) (*big.Int, error) {
	st, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	share, err := e.assets.Share(st.ShareAsset)
	if err != nil {
		return nil, fmt.Errorf("resolve share asset: %w", err)
	}
	return share.BalanceOf(ctx, holder)
}

// GetTotalShares returns the share asset's total supply.
func (e *Engine) GetTotalShares(ctx context.Context) (*big.Int, error) {
	st, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	share, err := e.assets.Share(st.ShareAsset)
	if err != nil {
		return nil, fmt.Errorf("resolve share asset: %w", err)
	}
	return share.TotalSupply(ctx)
}

// State returns a copy of the persisted pool record.
func (e *Engine) State(ctx context.Context) (State, error) {
	return e.load(ctx)
}

func (e *Engine) load(ctx context.Context) (State, error) {
	st, err := LoadState(ctx, e.store)
	if err != nil {
		return State{}, err
	}
	if !st.Initialized {
		return State{}, ErrNotInitialized
	}
	return st, nil
}

type clients struct {
	a     ledger.AssetLedger
	b     ledger.AssetLedger
	share ledger.ShareAsset
}

func (e *Engine) clients(st State) (clients, error) {
	a, err := e.assets.Asset(st.AssetA)
	if err != nil {
		return clients{}, fmt.Errorf("resolve asset a: %w", err)
	}
	b, err := e.assets.Asset(st.AssetB)
	if err != nil {
		return clients{}, fmt.Errorf("resolve asset b: %w", err)
	}
	share, err := e.assets.Share(st.ShareAsset)
	if err != nil {
		return clients{}, fmt.Errorf("resolve share asset: %w", err)
	}
	return clients{a: a, b: b, share: share}, nil
}

// balances measures the pool's actual holdings of both assets.
func (e *Engine) balances(ctx context.Context, c clients) (*big.Int, *big.Int, error) {
	balA, err := c.a.BalanceOf(ctx, e.cfg.Address)
	if err != nil {
		return nil, nil, fmt.Errorf("balance a: %w", err)
	}
	balB, err := c.b.BalanceOf(ctx, e.cfg.Address)
	if err != nil {
		return nil, nil, fmt.Errorf("balance b: %w", err)
	}
	if !inRange(balA) || !inRange(balB) {
		return nil, nil, fmt.Errorf("%w: pool balance overflows int128", ErrArithmetic)
	}
	return balA, balB, nil
}

// asSelf authorizes the pool's own account for outgoing transfers and
// share issuance.
func (e *Engine) asSelf(ctx context.Context) context.Context {
	return ledger.WithSigners(ctx, e.cfg.Address)
}

func (e *Engine) emit(ctx context.Context, name string, payload interface{}) {
	if e.events == nil {
		return
	}
	e.events.Emit(ctx, model.PoolEvent{
		Pool:      e.cfg.Address.Hex(),
		EventName: name,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Decoded:   payload,
	})
}
