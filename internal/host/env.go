// Package host runs pool and router calls as atomic invocations over a
// shared ledger, state store and event journal.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"ammledger/internal/ledger"
	"ammledger/internal/model"
	"ammledger/internal/pool"
	"ammledger/internal/router"
	"ammledger/internal/storage"
)

var (
	ErrUnknownPool = errors.New("unknown pool")
	ErrPoolExists  = errors.New("pool already exists")
)

// Backend namespaces owned by the host. Pool state lives under the pool's
// hex address.
const (
	ledgerNamespace = "ledger"
	hostNamespace   = "host"

	seqKey   = "EventSeq"
	poolsKey = "Pools"
)

// Options configures an Env.
type Options struct {
	ShareDecimals uint8
}

type invokeKey struct{}

// Env owns the ledger, the pool engines and the router. Mutations must run
// inside Invoke.
type Env struct {
	mu      sync.Mutex
	bank    *ledger.Bank
	auth    ledger.Authorizer
	backend storage.KV
	overlay *storage.Overlay
	sink    storage.EventSink
	engines map[common.Address]*pool.Engine
	pools   []model.Pool
	router  *router.Router
	pending []model.PoolEvent
	journal []model.PoolEvent
	seq     uint64
	opts    Options
	logger  *zap.Logger
}

// New builds an Env over backend. sink may be nil.
func New(opts Options, backend storage.KV, sink storage.EventSink, logger *zap.Logger) *Env {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ShareDecimals == 0 {
		opts.ShareDecimals = pool.DefaultShareDecimals
	}
	auth := ledger.SignerAuthorizer{}
	e := &Env{
		bank:    ledger.NewBank(auth),
		auth:    auth,
		backend: backend,
		overlay: storage.NewOverlay(backend),
		sink:    sink,
		engines: make(map[common.Address]*pool.Engine),
		opts:    opts,
		logger:  logger,
	}
	e.router = router.New(directory{e}, auth, logger.Named("router"))
	return e
}

// Bank exposes the ledger for asset registration and genesis funding.
func (e *Env) Bank() *ledger.Bank {
	return e.bank
}

// Router returns the multihop router bound to this environment's pools.
func (e *Env) Router() *router.Router {
	return e.router
}

// Invoke runs fn as one atomic unit. If fn fails, every balance change,
// state write and event produced by it is discarded. On success pool state,
// ledger changes and the event sequence are committed to the backend in a
// single batch and events are journaled. Invoke called from within fn joins
// the running invocation.
func (e *Env) Invoke(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, _ := ctx.Value(invokeKey{}).(*Env); owner == e {
		return fn(ctx)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seq := e.seq
	restoreBank := e.bank.Checkpoint()
	restoreStore := e.overlay.Checkpoint()
	rollback := func() {
		restoreBank()
		restoreStore()
		e.pending = e.pending[:0]
		e.seq = seq
	}

	if err := fn(context.WithValue(ctx, invokeKey{}, e)); err != nil {
		rollback()
		e.logger.Debug("invocation rolled back", zap.Error(err))
		return err
	}
	batch, err := e.stage(ctx)
	if err != nil {
		rollback()
		e.logger.Warn("stage failed", zap.Error(err))
		return err
	}
	if err := e.overlay.Commit(ctx); err != nil {
		rollback()
		e.logger.Warn("state commit failed", zap.Error(err))
		return err
	}
	e.publish(ctx, batch)
	return nil
}

// Emit buffers an event until the surrounding invocation commits.
func (e *Env) Emit(_ context.Context, event model.PoolEvent) {
	e.pending = append(e.pending, event)
}

// stage writes ledger changes into the overlay and numbers the pending
// events, persisting the new sequence alongside them.
func (e *Env) stage(ctx context.Context) ([]model.PoolEvent, error) {
	if err := e.bank.Flush(ctx, e.overlay.Scope(ledgerNamespace)); err != nil {
		return nil, fmt.Errorf("stage ledger: %w", err)
	}
	if len(e.pending) == 0 {
		return nil, nil
	}
	batch := make([]model.PoolEvent, len(e.pending))
	for i, ev := range e.pending {
		e.seq++
		ev.Seq = e.seq
		batch[i] = ev
	}
	if err := e.overlay.Put(ctx, hostNamespace, seqKey, []byte(strconv.FormatUint(e.seq, 10))); err != nil {
		return nil, fmt.Errorf("stage event sequence: %w", err)
	}
	return batch, nil
}

func (e *Env) publish(ctx context.Context, batch []model.PoolEvent) {
	e.pending = e.pending[:0]
	if len(batch) == 0 {
		return
	}
	e.journal = append(e.journal, batch...)

	if e.sink == nil {
		return
	}
	// State is already committed; a journal failure cannot undo it.
	if err := e.sink.PutEventBatch(ctx, batch); err != nil {
		e.logger.Error("write events", zap.Int("events", len(batch)), zap.Error(err))
	}
}

// Events returns every committed event in sequence order.
func (e *Env) Events() []model.PoolEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.PoolEvent, len(e.journal))
	copy(out, e.journal)
	return out
}

// PoolAddress derives the account address of the pool for an asset pair.
func PoolAddress(assetA, assetB common.Address) common.Address {
	return common.BytesToAddress(crypto.Keccak256(assetA.Bytes(), assetB.Bytes())[12:])
}

// CreatePool deploys and initializes a pool for assetA/assetB in its own
// invocation and returns its address.
func (e *Env) CreatePool(ctx context.Context, assetA, assetB common.Address, share model.TokenMeta) (common.Address, error) {
	addr := PoolAddress(assetA, assetB)
	var (
		engine *pool.Engine
		meta   model.Pool
	)
	err := e.Invoke(ctx, func(ctx context.Context) error {
		if _, ok := e.engines[addr]; ok {
			return fmt.Errorf("%w: %s", ErrPoolExists, addr.Hex())
		}
		engine = e.newEngine(addr)
		if err := engine.Initialize(ctx, assetA, assetB, share); err != nil {
			return err
		}
		shareID, err := engine.ShareAssetID(ctx)
		if err != nil {
			return err
		}
		meta = model.Pool{
			Address:    addr.Hex(),
			AssetA:     assetA.Hex(),
			AssetB:     assetB.Hex(),
			ShareAsset: shareID.Hex(),
		}
		raw, err := json.Marshal(append(append([]model.Pool(nil), e.pools...), meta))
		if err != nil {
			return fmt.Errorf("encode pool registry: %w", err)
		}
		return e.overlay.Put(ctx, hostNamespace, poolsKey, raw)
	})
	if err != nil {
		return common.Address{}, err
	}

	e.mu.Lock()
	e.engines[addr] = engine
	e.pools = append(e.pools, meta)
	e.mu.Unlock()

	e.logger.Info("pool created", zap.String("pool", addr.Hex()), zap.String("share_asset", meta.ShareAsset))
	return addr, nil
}

// AttachPool registers an engine for a pool whose state already exists in
// the backend but is missing from the pool registry. Pools created by
// CreatePool are reattached by Open. It must not be called from inside
// Invoke.
func (e *Env) AttachPool(ctx context.Context, addr common.Address) (*pool.Engine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if engine, ok := e.engines[addr]; ok {
		return engine, nil
	}
	st, err := pool.LoadState(ctx, e.overlay.Scope(addr.Hex()))
	if err != nil {
		return nil, err
	}
	if !st.Initialized {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, addr.Hex())
	}
	engine := e.newEngine(addr)
	e.engines[addr] = engine
	e.pools = append(e.pools, model.Pool{
		Address:    addr.Hex(),
		AssetA:     st.AssetA.Hex(),
		AssetB:     st.AssetB.Hex(),
		ShareAsset: st.ShareAsset.Hex(),
	})
	return engine, nil
}

// Pool returns the engine at addr. Outside Invoke it must not race with
// CreatePool or AttachPool.
func (e *Env) Pool(addr common.Address) (*pool.Engine, error) {
	engine, ok := e.engines[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, addr.Hex())
	}
	return engine, nil
}

// Pools lists the pools known to this environment.
func (e *Env) Pools() []model.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Pool, len(e.pools))
	copy(out, e.pools)
	return out
}

// restore reloads the ledger, the event sequence and the pool registry
// committed over the same backend by an earlier Env.
func (e *Env) restore(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.bank.Load(ctx, e.overlay.Scope(ledgerNamespace)); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}

	raw, ok, err := e.overlay.Get(ctx, hostNamespace, seqKey)
	if err != nil {
		return fmt.Errorf("restore event sequence: %w", err)
	}
	if ok {
		seq, err := strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("restore event sequence: %w", err)
		}
		e.seq = seq
	}

	raw, ok, err = e.overlay.Get(ctx, hostNamespace, poolsKey)
	if err != nil {
		return fmt.Errorf("restore pool registry: %w", err)
	}
	if ok {
		var pools []model.Pool
		if err := json.Unmarshal(raw, &pools); err != nil {
			return fmt.Errorf("restore pool registry: %w", err)
		}
		for _, p := range pools {
			addr := common.HexToAddress(p.Address)
			e.engines[addr] = e.newEngine(addr)
			e.pools = append(e.pools, p)
		}
	}

	e.logger.Info("state restored", zap.Int("pools", len(e.pools)), zap.Uint64("event_seq", e.seq))
	return nil
}

// Close commits ledger changes made outside Invoke, such as genesis
// issuance, and closes the backend.
func (e *Env) Close() error {
	syncErr := e.Invoke(context.Background(), func(context.Context) error { return nil })

	e.mu.Lock()
	defer e.mu.Unlock()
	closeErr := e.backend.Close()
	e.logger.Info("environment closed")
	return errors.Join(syncErr, closeErr)
}

func (e *Env) newEngine(addr common.Address) *pool.Engine {
	return pool.NewEngine(
		pool.Config{Address: addr, ShareDecimals: e.opts.ShareDecimals},
		e.overlay.Scope(addr.Hex()),
		e.bank,
		e.auth,
		e,
		e.logger.Named("pool"),
	)
}

type directory struct {
	env *Env
}

func (d directory) Pool(ref common.Address) (router.Pool, error) {
	engine, err := d.env.Pool(ref)
	if err != nil {
		return nil, err
	}
	return engine, nil
}
