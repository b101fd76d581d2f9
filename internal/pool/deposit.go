package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"ammledger/internal/model"
)

// DepositResult reports a completed deposit.
type DepositResult struct {
	Shares   *big.Int
	UsedA    *big.Int
	UsedB    *big.Int
	BalanceA *big.Int
	BalanceB *big.Int
}

// Deposit pulls both assets from depositor at the current reserve ratio and
// mints shares for the measured increase in pool balances.
func (e *Engine) Deposit(ctx context.Context, depositor common.Address, desiredA, minA, desiredB, minB *big.Int) (DepositResult, error) {
	release, err := e.enter()
	if err != nil {
		return DepositResult{}, err
	}
	defer release()

	if err := e.auth.RequireAuth(ctx, depositor); err != nil {
		return DepositResult{}, err
	}
	for _, amt := range []struct {
		name  string
		value *big.Int
	}{{"desired a", desiredA}, {"min a", minA}, {"desired b", desiredB}, {"min b", minB}} {
		if err := checkAmount(amt.name, amt.value); err != nil {
			return DepositResult{}, err
		}
	}

	st, err := e.load(ctx)
	if err != nil {
		return DepositResult{}, err
	}
	c, err := e.clients(st)
	if err != nil {
		return DepositResult{}, err
	}

	usedA, usedB, err := depositAmounts(desiredA, minA, desiredB, minB, st.ReserveA, st.ReserveB)
	if err != nil {
		return DepositResult{}, err
	}

	if err := c.a.Transfer(ctx, depositor, e.cfg.Address, usedA); err != nil {
		return DepositResult{}, fmt.Errorf("pull asset a: %w", err)
	}
	if err := c.b.Transfer(ctx, depositor, e.cfg.Address, usedB); err != nil {
		return DepositResult{}, fmt.Errorf("pull asset b: %w", err)
	}

	balA, balB, err := e.balances(ctx, c)
	if err != nil {
		return DepositResult{}, err
	}
	totalShares, err := c.share.TotalSupply(ctx)
	if err != nil {
		return DepositResult{}, fmt.Errorf("share supply: %w", err)
	}

	shares, lock, err := sharesToMint(balA, balB, st.ReserveA, st.ReserveB, totalShares)
	if err != nil {
		return DepositResult{}, err
	}

	var k calc
	kLast := k.mul(balA, balB)
	total := k.add(st.TotalShares, shares)
	if lock {
		total = k.add(total, minimumLiquidity)
	}
	if k.err != nil {
		return DepositResult{}, k.err
	}

	self := e.asSelf(ctx)
	if lock {
		if err := c.share.Mint(self, e.cfg.Address, minimumLiquidity); err != nil {
			return DepositResult{}, fmt.Errorf("lock minimum liquidity: %w", err)
		}
	}
	if err := c.share.Mint(self, depositor, shares); err != nil {
		return DepositResult{}, fmt.Errorf("mint shares: %w", err)
	}

	st.TotalShares = total
	st.ReserveA = balA
	st.ReserveB = balB
	st.KLast = kLast
	if err := SaveState(ctx, e.store, st); err != nil {
		return DepositResult{}, err
	}

	e.emit(ctx, model.EventDeposit, model.DepositEventData{
		Depositor: depositor.Hex(),
		Shares:    shares.String(),
		AmountA:   usedA.String(),
		AmountB:   usedB.String(),
		ReserveA:  balA.String(),
		ReserveB:  balB.String(),
	})
	e.logger.Debug("deposit",
		zap.String("depositor", depositor.Hex()),
		zap.Stringer("shares", shares),
		zap.Stringer("amount_a", usedA),
		zap.Stringer("amount_b", usedB),
	)

	return DepositResult{
		Shares:   shares,
		UsedA:    usedA,
		UsedB:    usedB,
		BalanceA: balA,
		BalanceB: balB,
	}, nil
}
