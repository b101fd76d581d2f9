package host

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"ammledger/internal/config"
	"ammledger/internal/ledger"
	"ammledger/internal/model"
	"ammledger/internal/pool"
	"ammledger/internal/storage"
)

var (
	tokenA   = common.HexToAddress("0x000000000000000000000000000000000000000a")
	tokenB   = common.HexToAddress("0x000000000000000000000000000000000000000b")
	tokenC   = common.HexToAddress("0x000000000000000000000000000000000000000c")
	provider = common.HexToAddress("0x0000000000000000000000000000000000001111")
	trader   = common.HexToAddress("0x0000000000000000000000000000000000007777")
)

func bi(v int64) *big.Int { return big.NewInt(v) }

func signed(who ...common.Address) context.Context {
	return ledger.WithSigners(context.Background(), who...)
}

func fund(t *testing.T, env *Env, opts ...ledger.AssetOption) {
	t.Helper()
	bank := env.Bank()
	require.NoError(t, bank.Register(tokenA, model.TokenMeta{Symbol: "TKA", Decimals: 7}, opts...))
	require.NoError(t, bank.Register(tokenB, model.TokenMeta{Symbol: "TKB", Decimals: 7}))
	require.NoError(t, bank.Register(tokenC, model.TokenMeta{Symbol: "TKC", Decimals: 7}))
	for _, token := range []common.Address{tokenA, tokenB, tokenC} {
		require.NoError(t, bank.Issue(token, provider, bi(100_000_000)))
		require.NoError(t, bank.Issue(token, trader, bi(10_000)))
	}
}

func deposit(t *testing.T, env *Env, addr common.Address, a, b int64) {
	t.Helper()
	err := env.Invoke(signed(provider), func(ctx context.Context) error {
		engine, err := env.Pool(addr)
		if err != nil {
			return err
		}
		_, err = engine.Deposit(ctx, provider, bi(a), bi(0), bi(b), bi(0))
		return err
	})
	require.NoError(t, err)
}

func newPool(t *testing.T, env *Env, a, b common.Address) common.Address {
	t.Helper()
	addr, err := env.CreatePool(context.Background(), a, b, model.TokenMeta{Symbol: "LP"})
	require.NoError(t, err)
	return addr
}

func TestCreatePoolAndDeposit(t *testing.T) {
	backend := storage.NewMemory()
	env := New(Options{}, backend, nil, nil)
	fund(t, env)

	addr := newPool(t, env, tokenA, tokenB)
	require.Equal(t, PoolAddress(tokenA, tokenB), addr)
	require.Len(t, env.Pools(), 1)

	err := env.Invoke(signed(provider), func(ctx context.Context) error {
		engine, err := env.Pool(addr)
		if err != nil {
			return err
		}
		res, err := engine.Deposit(ctx, provider, bi(1_000_000), bi(0), bi(1_000_000), bi(0))
		if err != nil {
			return err
		}
		require.Equal(t, "999000", res.Shares.String())

		// Nothing reaches the backend before the invocation commits.
		raw, _, err := backend.Get(ctx, addr.Hex(), pool.KeyReserveA.String())
		require.NoError(t, err)
		require.Equal(t, "0", string(raw))
		return nil
	})
	require.NoError(t, err)

	raw, ok, err := backend.Get(context.Background(), addr.Hex(), pool.KeyReserveA.String())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1000000", string(raw))

	events := env.Events()
	require.Len(t, events, 1)
	require.Equal(t, model.EventDeposit, events[0].EventName)
	require.Equal(t, uint64(1), events[0].Seq)
}

func TestCreatePoolErrors(t *testing.T) {
	env := New(Options{}, storage.NewMemory(), nil, nil)
	fund(t, env)

	newPool(t, env, tokenA, tokenB)
	_, err := env.CreatePool(context.Background(), tokenA, tokenB, model.TokenMeta{})
	require.ErrorIs(t, err, ErrPoolExists)

	_, err = env.CreatePool(context.Background(), tokenC, tokenC, model.TokenMeta{})
	require.ErrorIs(t, err, pool.ErrIdenticalAssets)
	_, err = env.Pool(PoolAddress(tokenC, tokenC))
	require.ErrorIs(t, err, ErrUnknownPool)
	require.Len(t, env.Pools(), 1)
}

func TestShareDecimalsOption(t *testing.T) {
	env := New(Options{ShareDecimals: 6}, storage.NewMemory(), nil, nil)
	fund(t, env)
	addr := newPool(t, env, tokenA, tokenB)

	engine, err := env.Pool(addr)
	require.NoError(t, err)
	shareID, err := engine.ShareAssetID(context.Background())
	require.NoError(t, err)
	meta, ok := env.Bank().Meta(shareID)
	require.True(t, ok)
	require.Equal(t, uint8(6), meta.Decimals)
}

func TestRouterFailureRollsBackEarlierHops(t *testing.T) {
	env := New(Options{}, storage.NewMemory(), nil, nil)
	fund(t, env)
	ab := newPool(t, env, tokenA, tokenB)
	bc := newPool(t, env, tokenB, tokenC)
	deposit(t, env, ab, 1_000_000, 1_000_000)
	deposit(t, env, bc, 1_000_000, 1_000_000)
	before := len(env.Events())

	err := env.Invoke(signed(trader), func(ctx context.Context) error {
		_, err := env.Router().SwapExactInputDoubleHop(ctx, trader,
			[]common.Address{ab, bc}, [2]bool{true, true}, bi(1000), bi(993))
		return err
	})
	require.ErrorIs(t, err, pool.ErrSlippageExceeded)

	bank := env.Bank()
	require.Equal(t, "10000", bank.Balance(tokenA, trader).String())
	require.Equal(t, "1000000", bank.Balance(tokenA, ab).String())
	require.Equal(t, "1000000", bank.Balance(tokenB, ab).String())

	engine, err := env.Pool(ab)
	require.NoError(t, err)
	reserveA, reserveB, err := engine.GetReserves(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1000000", reserveA.String())
	require.Equal(t, "1000000", reserveB.String())
	require.Len(t, env.Events(), before)

	var out *big.Int
	err = env.Invoke(signed(trader), func(ctx context.Context) error {
		var err error
		out, err = env.Router().SwapExactInputDoubleHop(ctx, trader,
			[]common.Address{ab, bc}, [2]bool{true, true}, bi(1000), bi(992))
		return err
	})
	require.NoError(t, err)
	require.Equal(t, "992", out.String())
	require.Equal(t, "10992", bank.Balance(tokenC, trader).String())
	require.Len(t, env.Events(), before+2)
}

func TestInvariantFailureRollsBackTransfer(t *testing.T) {
	env := New(Options{}, storage.NewMemory(), nil, nil)
	fund(t, env, ledger.WithTransferFee(100))
	addr := newPool(t, env, tokenA, tokenB)
	deposit(t, env, addr, 1_000_000, 1_000_000)

	poolBalance := env.Bank().Balance(tokenA, addr).String()
	err := env.Invoke(signed(trader), func(ctx context.Context) error {
		engine, err := env.Pool(addr)
		if err != nil {
			return err
		}
		_, err = engine.SwapExactInput(ctx, trader, true, bi(1000), bi(0))
		return err
	})
	require.ErrorIs(t, err, pool.ErrInvariantViolation)
	require.Equal(t, "10000", env.Bank().Balance(tokenA, trader).String())
	require.Equal(t, poolBalance, env.Bank().Balance(tokenA, addr).String())
}

func TestNestedInvokeJoinsOuter(t *testing.T) {
	env := New(Options{}, storage.NewMemory(), nil, nil)
	fund(t, env)
	addr := newPool(t, env, tokenA, tokenB)
	abort := errors.New("abort")

	err := env.Invoke(signed(provider), func(ctx context.Context) error {
		inner := env.Invoke(ctx, func(ctx context.Context) error {
			engine, err := env.Pool(addr)
			if err != nil {
				return err
			}
			_, err = engine.Deposit(ctx, provider, bi(1_000_000), bi(0), bi(1_000_000), bi(0))
			return err
		})
		require.NoError(t, inner)
		return abort
	})
	require.ErrorIs(t, err, abort)

	engine, err := env.Pool(addr)
	require.NoError(t, err)
	total, err := engine.GetTotalShares(context.Background())
	require.NoError(t, err)
	require.Zero(t, total.Sign())
	require.Equal(t, "100000000", env.Bank().Balance(tokenA, provider).String())
	require.Empty(t, env.Events())
}

func TestOpenMemoryWithJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	env, err := Open(context.Background(), config.Config{Store: config.StoreMemory, EventsOut: path}, nil)
	require.NoError(t, err)
	defer env.Close()

	fund(t, env)
	addr := newPool(t, env, tokenA, tokenB)
	deposit(t, env, addr, 1_000_000, 1_000_000)

	err = env.Invoke(signed(trader), func(ctx context.Context) error {
		engine, err := env.Pool(addr)
		if err != nil {
			return err
		}
		_, err = engine.SwapExactInput(ctx, trader, true, bi(1000), bi(0))
		return err
	})
	require.NoError(t, err)

	records, err := storage.NewJsonlStorage(path).ReadEvents()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, model.EventSwap, records[1].EventName)
	require.Equal(t, uint64(2), records[1].Seq)
	require.Equal(t, addr.Hex(), records[1].Pool)
}

func invoke(t *testing.T, env *Env, who, addr common.Address, fn func(ctx context.Context, engine *pool.Engine) error) {
	t.Helper()
	err := env.Invoke(signed(who), func(ctx context.Context) error {
		engine, err := env.Pool(addr)
		if err != nil {
			return err
		}
		return fn(ctx, engine)
	})
	require.NoError(t, err)
}

func TestOpenPebbleSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	journal := filepath.Join(dir, "events.jsonl")
	cfg := config.Config{Store: config.StorePebble, PebbleDir: filepath.Join(dir, "state"), EventsOut: journal}

	env, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	fund(t, env)
	ab := newPool(t, env, tokenA, tokenB)
	deposit(t, env, ab, 1_000_000, 1_000_000)
	require.NoError(t, env.Close())

	env, err = Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer env.Close()

	// Assets, balances and the pool registry come back without re-registering.
	require.Len(t, env.Pools(), 1)
	require.Equal(t, "99000000", env.Bank().Balance(tokenA, provider).String())
	engine, err := env.Pool(ab)
	require.NoError(t, err)
	reserveA, reserveB, err := engine.GetReserves(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1000000", reserveA.String())
	require.Equal(t, "1000000", reserveB.String())
	k, err := engine.GetK(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1000000000000", k.String())
	total, err := engine.GetTotalShares(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1000000", total.String())

	invoke(t, env, trader, ab, func(ctx context.Context, engine *pool.Engine) error {
		_, err := engine.SwapExactInput(ctx, trader, true, bi(1000), bi(996))
		return err
	})
	require.Equal(t, "10996", env.Bank().Balance(tokenB, trader).String())

	invoke(t, env, provider, ab, func(ctx context.Context, engine *pool.Engine) error {
		_, err := engine.Deposit(ctx, provider, bi(1000), bi(0), bi(1000), bi(0))
		return err
	})

	invoke(t, env, provider, ab, func(ctx context.Context, engine *pool.Engine) error {
		shares, err := engine.GetShareBalance(ctx, provider)
		if err != nil {
			return err
		}
		_, _, err = engine.Withdraw(ctx, provider, shares, bi(0), bi(0))
		return err
	})
	held, err := engine.GetShareBalance(context.Background(), provider)
	require.NoError(t, err)
	require.Zero(t, held.Sign())

	// A pool created after the reopen gets its own share asset.
	abTotal, err := engine.GetTotalShares(context.Background())
	require.NoError(t, err)
	bc := newPool(t, env, tokenB, tokenC)
	deposit(t, env, bc, 4_000_000, 4_000_000)

	bcEngine, err := env.Pool(bc)
	require.NoError(t, err)
	abShare, err := engine.ShareAssetID(context.Background())
	require.NoError(t, err)
	bcShare, err := bcEngine.ShareAssetID(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, abShare, bcShare)

	after, err := engine.GetTotalShares(context.Background())
	require.NoError(t, err)
	require.Equal(t, abTotal.String(), after.String())
	st, err := engine.State(context.Background())
	require.NoError(t, err)
	require.Equal(t, st.TotalShares.String(), after.String())

	// Event sequence numbers continue across the reopen.
	records, err := storage.NewJsonlStorage(journal).ReadEvents()
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, r := range records {
		require.Equal(t, uint64(i+1), r.Seq)
	}
	events := env.Events()
	require.Len(t, events, 4)
	require.Equal(t, uint64(2), events[0].Seq)
}

func TestAttachPoolOutsideRegistry(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemory()
	env := New(Options{}, backend, nil, nil)
	fund(t, env)
	addr := newPool(t, env, tokenA, tokenB)
	deposit(t, env, addr, 1_000_000, 1_000_000)

	// A second Env that skips restore only sees pools through AttachPool.
	fresh := New(Options{}, backend, nil, nil)
	_, err := fresh.Pool(addr)
	require.ErrorIs(t, err, ErrUnknownPool)

	engine, err := fresh.AttachPool(ctx, addr)
	require.NoError(t, err)
	reserveA, _, err := engine.GetReserves(ctx)
	require.NoError(t, err)
	require.Equal(t, "1000000", reserveA.String())
	require.Len(t, fresh.Pools(), 1)

	_, err = fresh.AttachPool(ctx, PoolAddress(tokenB, tokenC))
	require.ErrorIs(t, err, ErrUnknownPool)
}

func TestCloseCommitsLedgerChanges(t *testing.T) {
	cfg := config.Config{Store: config.StorePebble, PebbleDir: t.TempDir()}

	env, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	fund(t, env)
	require.NoError(t, env.Close())

	env, err = Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer env.Close()

	require.Equal(t, "10000", env.Bank().Balance(tokenC, trader).String())
	meta, ok := env.Bank().Meta(tokenA)
	require.True(t, ok)
	require.Equal(t, "TKA", meta.Symbol)
	require.Empty(t, env.Pools())
	require.ErrorIs(t, env.Bank().Register(tokenA, model.TokenMeta{}), ledger.ErrAssetExists)
}

func TestFailedInvocationKeepsSequence(t *testing.T) {
	env := New(Options{}, storage.NewMemory(), nil, nil)
	fund(t, env)
	addr := newPool(t, env, tokenA, tokenB)
	deposit(t, env, addr, 1_000_000, 1_000_000)

	err := env.Invoke(signed(trader), func(ctx context.Context) error {
		engine, err := env.Pool(addr)
		if err != nil {
			return err
		}
		_, err = engine.SwapExactInput(ctx, trader, true, bi(1000), bi(997))
		return err
	})
	require.ErrorIs(t, err, pool.ErrSlippageExceeded)

	invoke(t, env, trader, addr, func(ctx context.Context, engine *pool.Engine) error {
		_, err := engine.SwapExactInput(ctx, trader, true, bi(1000), bi(0))
		return err
	})
	events := env.Events()
	require.Len(t, events, 2)
	require.Equal(t, uint64(2), events[1].Seq)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	_, err := Open(context.Background(), config.Config{Store: config.StorePostgres}, nil)
	require.Error(t, err)
}
