package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ammledger/internal/model"
)

// Withdraw burns shares from owner and pays out the pro-rata portion of both
// measured pool balances.
func (e *Engine) Withdraw(ctx context.Context, owner common.Address, shares, minA, minB *big.Int) (*big.Int, *big.Int, error) {
	release, err := e.enter()
	if err != nil {
		return nil, nil, err
	}
	defer release()

	if err := e.auth.RequireAuth(ctx, owner); err != nil {
		return nil, nil, err
	}
	// The locked minimum liquidity is held by the pool itself.
	if owner == e.cfg.Address {
		return nil, nil, fmt.Errorf("%w: pool liquidity is locked", ErrNotAuthorized)
	}
	if err := checkAmount("shares", shares); err != nil {
		return nil, nil, err
	}
	if shares.Sign() == 0 {
		return nil, nil, fmt.Errorf("%w: shares must be positive", ErrInvalidAmount)
	}
	if err := checkAmount("min a", minA); err != nil {
		return nil, nil, err
	}
	if err := checkAmount("min b", minB); err != nil {
		return nil, nil, err
	}

	st, err := e.load(ctx)
	if err != nil {
		return nil, nil, err
	}
	c, err := e.clients(st)
	if err != nil {
		return nil, nil, err
	}

	held, err := c.share.BalanceOf(ctx, owner)
	if err != nil {
		return nil, nil, fmt.Errorf("share balance: %w", err)
	}
	if held.Cmp(shares) < 0 {
		return nil, nil, fmt.Errorf("%w: owner holds %s shares, requested %s", ErrInsufficientLiquidity, held, shares)
	}

	balA, balB, err := e.balances(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	totalShares, err := c.share.TotalSupply(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("share supply: %w", err)
	}

	outA, outB, err := withdrawAmounts(balA, balB, shares, totalShares)
	if err != nil {
		return nil, nil, err
	}
	if outA.Cmp(minA) < 0 || outB.Cmp(minB) < 0 {
		return nil, nil, fmt.Errorf("%w: withdraw %s/%s below minimum %s/%s", ErrSlippageExceeded, outA, outB, minA, minB)
	}

	var k calc
	reserveA := k.sub(balA, outA)
	reserveB := k.sub(balB, outB)
	kLast := k.mul(reserveA, reserveB)
	total := k.sub(st.TotalShares, shares)
	if k.err != nil {
		return nil, nil, k.err
	}

	if err := c.share.Burn(ctx, owner, shares); err != nil {
		return nil, nil, fmt.Errorf("burn shares: %w", err)
	}
	self := e.asSelf(ctx)
	if err := c.a.Transfer(self, e.cfg.Address, owner, outA); err != nil {
		return nil, nil, fmt.Errorf("pay asset a: %w", err)
	}
	if err := c.b.Transfer(self, e.cfg.Address, owner, outB); err != nil {
		return nil, nil, fmt.Errorf("pay asset b: %w", err)
	}

	st.TotalShares = total
	st.ReserveA = reserveA
	st.ReserveB = reserveB
	st.KLast = kLast
	if err := SaveState(ctx, e.store, st); err != nil {
		return nil, nil, err
	}

	e.emit(ctx, model.EventWithdraw, model.WithdrawEventData{
		Owner:    owner.Hex(),
		Shares:   shares.String(),
		AmountA:  outA.String(),
		AmountB:  outB.String(),
		ReserveA: reserveA.String(),
		ReserveB: reserveB.String(),
	})
	e.logger.Debug("withdraw",
		zap.String("owner", owner.Hex()),
		zap.Stringer("shares", shares),
		zap.Stringer("amount_a", outA),
		zap.Stringer("amount_b", outB),
	)

	return outA, outB, nil
}
