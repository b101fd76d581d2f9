// Package router chains exact-input swaps across several pools.
package router

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ammledger/internal/ledger"
	"ammledger/internal/pool"
)

var (
	ErrMissingPoolReference = errors.New("missing pool reference")
	ErrEmptyRoute           = errors.New("empty route")
)

// Pool is the part of a pool engine the router drives.
type Pool interface {
	SwapExactInput(ctx context.Context, trader common.Address, sellA bool, amountIn, minOut *big.Int) (*big.Int, error)
	GetReserves(ctx context.Context) (*big.Int, *big.Int, error)
}

// Directory resolves pool references.
type Directory interface {
	Pool(ref common.Address) (Pool, error)
}

// Hop is one swap of a route. SellA selects asset A as the input.
type Hop struct {
	Pool  common.Address
	SellA bool
}

// Router executes multihop swaps. It holds no state of its own.
type Router struct {
	pools  Directory
	auth   ledger.Authorizer
	logger *zap.Logger
}

func New(pools Directory, auth ledger.Authorizer, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auth == nil {
		auth = ledger.SignerAuthorizer{}
	}
	return &Router{pools: pools, auth: auth, logger: logger}
}

// Route swaps amountIn through hops in order, feeding each output into the
// next hop. Only the final output is checked against finalMinOut.
func (r *Router) Route(ctx context.Context, trader common.Address, hops []Hop, amountIn, finalMinOut *big.Int) (*big.Int, error) {
	if len(hops) == 0 {
		return nil, ErrEmptyRoute
	}
	if err := r.auth.RequireAuth(ctx, trader); err != nil {
		return nil, err
	}

	pools, err := r.resolve(hops)
	if err != nil {
		return nil, err
	}

	amount := amountIn
	for i, hop := range hops {
		minOut := big.NewInt(0)
		if i == len(hops)-1 {
			minOut = finalMinOut
		}
		out, err := pools[i].SwapExactInput(ctx, trader, hop.SellA, amount, minOut)
		if err != nil {
			return nil, fmt.Errorf("hop %d via %s: %w", i, hop.Pool.Hex(), err)
		}
		amount = out
	}

	r.logger.Debug("route executed",
		zap.String("trader", trader.Hex()),
		zap.Int("hops", len(hops)),
		zap.Stringer("amount_in", amountIn),
		zap.Stringer("amount_out", amount),
	)
	return amount, nil
}

// QuoteExactInput simulates Route against current reserves without moving
// any funds.
func (r *Router) QuoteExactInput(ctx context.Context, hops []Hop, amountIn *big.Int) (*big.Int, error) {
	if len(hops) == 0 {
		return nil, ErrEmptyRoute
	}
	pools, err := r.resolve(hops)
	if err != nil {
		return nil, err
	}

	amount := amountIn
	for i, hop := range hops {
		reserveA, reserveB, err := pools[i].GetReserves(ctx)
		if err != nil {
			return nil, fmt.Errorf("hop %d reserves: %w", i, err)
		}
		reserveIn, reserveOut := reserveA, reserveB
		if !hop.SellA {
			reserveIn, reserveOut = reserveB, reserveA
		}
		out, err := pool.GetAmountOut(amount, reserveIn, reserveOut)
		if err != nil {
			return nil, fmt.Errorf("hop %d quote: %w", i, err)
		}
		amount = out
	}
	return amount, nil
}

func (r *Router) resolve(hops []Hop) ([]Pool, error) {
	pools := make([]Pool, len(hops))
	for i, hop := range hops {
		p, err := r.pools.Pool(hop.Pool)
		if err != nil {
			return nil, fmt.Errorf("hop %d: %w", i, err)
		}
		pools[i] = p
	}
	return pools, nil
}

// SwapExactInputDoubleHop routes amountIn through pools[0] and pools[1].
func (r *Router) SwapExactInputDoubleHop(ctx context.Context, trader common.Address, pools []common.Address, sellA [2]bool, amountIn, finalMinOut *big.Int) (*big.Int, error) {
	hops, err := buildHops(pools, sellA[:])
	if err != nil {
		return nil, err
	}
	return r.Route(ctx, trader, hops, amountIn, finalMinOut)
}

// SwapExactInputTripleHop routes amountIn through pools[0..2].
func (r *Router) SwapExactInputTripleHop(ctx context.Context, trader common.Address, pools []common.Address, sellA [3]bool, amountIn, finalMinOut *big.Int) (*big.Int, error) {
	hops, err := buildHops(pools, sellA[:])
	if err != nil {
		return nil, err
	}
	return r.Route(ctx, trader, hops, amountIn, finalMinOut)
}

// SwapExactInputQuadrupleHop routes amountIn through pools[0..3].
func (r *Router) SwapExactInputQuadrupleHop(ctx context.Context, trader common.Address, pools []common.Address, sellA [4]bool, amountIn, finalMinOut *big.Int) (*big.Int, error) {
	hops, err := buildHops(pools, sellA[:])
	if err != nil {
		return nil, err
	}
	return r.Route(ctx, trader, hops, amountIn, finalMinOut)
}

func buildHops(pools []common.Address, sellA []bool) ([]Hop, error) {
	hops := make([]Hop, len(sellA))
	for i := range sellA {
		if i >= len(pools) {
			return nil, fmt.Errorf("%w: hop %d, %d pools supplied", ErrMissingPoolReference, i, len(pools))
		}
		hops[i] = Hop{Pool: pools[i], SellA: sellA[i]}
	}
	return hops, nil
}
