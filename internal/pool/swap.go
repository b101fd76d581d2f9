package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ammledger/internal/model"
)

// SwapExactInput sells amountIn of asset A (sellA) or asset B and returns the
// amount of the other asset paid to trader.
func (e *Engine) SwapExactInput(ctx context.Context, trader common.Address, sellA bool, amountIn, minOut *big.Int) (*big.Int, error) {
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := e.auth.RequireAuth(ctx, trader); err != nil {
		return nil, err
	}
	if err := checkAmount("amount in", amountIn); err != nil {
		return nil, err
	}
	if err := checkAmount("min out", minOut); err != nil {
		return nil, err
	}

	st, err := e.load(ctx)
	if err != nil {
		return nil, err
	}

	reserveIn, reserveOut := st.ReserveA, st.ReserveB
	if !sellA {
		reserveIn, reserveOut = st.ReserveB, st.ReserveA
	}
	amountOut, err := GetAmountOut(amountIn, reserveIn, reserveOut)
	if err != nil {
		return nil, err
	}
	if amountOut.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: amount out %s below minimum %s", ErrSlippageExceeded, amountOut, minOut)
	}

	if err := e.settleSwap(ctx, st, trader, sellA, amountIn, amountOut); err != nil {
		return nil, err
	}
	return amountOut, nil
}

// SwapExactOutput buys desiredOut of asset A (buyA) or asset B and returns
// the amount of the other asset taken from trader.
func (e *Engine) SwapExactOutput(ctx context.Context, trader common.Address, buyA bool, desiredOut, maxIn *big.Int) (*big.Int, error) {
	release, err := e.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := e.auth.RequireAuth(ctx, trader); err != nil {
		return nil, err
	}
	if err := checkAmount("amount out", desiredOut); err != nil {
		return nil, err
	}
	if err := checkAmount("max in", maxIn); err != nil {
		return nil, err
	}

	st, err := e.load(ctx)
	if err != nil {
		return nil, err
	}

	reserveSell, reserveBuy := st.ReserveA, st.ReserveB
	if buyA {
		reserveSell, reserveBuy = st.ReserveB, st.ReserveA
	}
	amountIn, err := GetAmountIn(desiredOut, reserveSell, reserveBuy)
	if err != nil {
		return nil, err
	}
	if amountIn.Cmp(maxIn) > 0 {
		return nil, fmt.Errorf("%w: amount in %s above maximum %s", ErrSlippageExceeded, amountIn, maxIn)
	}

	if err := e.settleSwap(ctx, st, trader, !buyA, amountIn, desiredOut); err != nil {
		return nil, err
	}
	return amountIn, nil
}

// settleSwap pulls the sold asset, verifies the invariant against measured
// balances, pays out the bought asset and persists the new reserves.
func (e *Engine) settleSwap(ctx context.Context, st State, trader common.Address, sellA bool, amountIn, amountOut *big.Int) error {
	c, err := e.clients(st)
	if err != nil {
		return err
	}

	sell, buy := c.a, c.b
	outA, outB := big.NewInt(0), amountOut
	if !sellA {
		sell, buy = c.b, c.a
		outA, outB = amountOut, big.NewInt(0)
	}

	if err := sell.Transfer(ctx, trader, e.cfg.Address, amountIn); err != nil {
		return fmt.Errorf("pull sold asset: %w", err)
	}

	balA, balB, err := e.balances(ctx, c)
	if err != nil {
		return err
	}
	if err := checkInvariant(balA, balB, st.ReserveA, st.ReserveB, outA, outB); err != nil {
		return err
	}

	if err := buy.Transfer(e.asSelf(ctx), e.cfg.Address, trader, amountOut); err != nil {
		return fmt.Errorf("pay bought asset: %w", err)
	}

	st.ReserveA = new(big.Int).Sub(balA, outA)
	st.ReserveB = new(big.Int).Sub(balB, outB)
	if err := SaveState(ctx, e.store, st); err != nil {
		return err
	}

	e.emit(ctx, model.EventSwap, model.SwapEventData{
		Trader:    trader.Hex(),
		SellA:     sellA,
		AmountIn:  amountIn.String(),
		AmountOut: amountOut.String(),
		ReserveA:  st.ReserveA.String(),
		ReserveB:  st.ReserveB.String(),
	})
	e.logger.Debug("swap",
		zap.String("trader", trader.Hex()),
		zap.Bool("sell_a", sellA),
		zap.Stringer("amount_in", amountIn),
		zap.Stringer("amount_out", amountOut),
	)
	return nil
}
