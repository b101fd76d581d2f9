package pool

import (
	"fmt"
	"math/big"
)

const (
	// MinimumLiquidity is locked at the pool's own address on first deposit.
	MinimumLiquidity = 1000

	// FeeNumerator/FeeDenominator is the share of an input amount that counts
	// toward the invariant; the remaining 0.25% stays in the pool.
	FeeNumerator   = 9975
	FeeDenominator = 10000
)

var (
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))

	feeNum           = big.NewInt(FeeNumerator)
	feeDen           = big.NewInt(FeeDenominator)
	minimumLiquidity = big.NewInt(MinimumLiquidity)
)

// calc performs signed 128-bit arithmetic and keeps the first overflow or
// division by zero. Results after an error are meaningless.
type calc struct {
	err error
}

func (c *calc) check(op string, z *big.Int) *big.Int {
	if c.err == nil && (z.Cmp(maxInt128) > 0 || z.Cmp(minInt128) < 0) {
		c.err = fmt.Errorf("%w: %s overflows int128", ErrArithmetic, op)
	}
	return z
}

func (c *calc) add(x, y *big.Int) *big.Int {
	return c.check("add", new(big.Int).Add(x, y))
}

func (c *calc) sub(x, y *big.Int) *big.Int {
	return c.check("sub", new(big.Int).Sub(x, y))
}

func (c *calc) mul(x, y *big.Int) *big.Int {
	return c.check("mul", new(big.Int).Mul(x, y))
}

// quo truncates toward zero.
func (c *calc) quo(x, y *big.Int) *big.Int {
	if y.Sign() == 0 {
		if c.err == nil {
			c.err = fmt.Errorf("%w: division by zero", ErrArithmetic)
		}
		return big.NewInt(0)
	}
	return c.check("quo", new(big.Int).Quo(x, y))
}

func (c *calc) sqrt(x *big.Int) *big.Int {
	if x.Sign() < 0 {
		if c.err == nil {
			c.err = fmt.Errorf("%w: square root of negative value", ErrArithmetic)
		}
		return big.NewInt(0)
	}
	return new(big.Int).Sqrt(x)
}

func inRange(x *big.Int) bool {
	return x.Cmp(maxInt128) <= 0 && x.Cmp(minInt128) >= 0
}

// checkAmount rejects nil, negative and out-of-range caller amounts.
func checkAmount(name string, x *big.Int) error {
	if x == nil || x.Sign() < 0 {
		return fmt.Errorf("%w: %s must be non-negative", ErrInvalidAmount, name)
	}
	if !inRange(x) {
		return fmt.Errorf("%w: %s overflows int128", ErrArithmetic, name)
	}
	return nil
}

// GetAmountOut quotes the output of selling amountIn against the reserves.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount in must be positive", ErrInvalidAmount)
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}

	var c calc
	amountInWithFee := c.mul(amountIn, feeNum)
	numerator := c.mul(amountInWithFee, reserveOut)
	denominator := c.add(c.mul(reserveIn, feeDen), amountInWithFee)
	out := c.quo(numerator, denominator)
	if c.err != nil {
		return nil, c.err
	}
	return out, nil
}

// GetAmountIn quotes the input needed to buy amountOut. The result is rounded
// up by one unit in the pool's favor.
func GetAmountIn(amountOut, reserveSell, reserveBuy *big.Int) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount out must be positive", ErrInvalidAmount)
	}
	if reserveSell.Sign() <= 0 || reserveBuy.Cmp(amountOut) <= 0 {
		return nil, ErrInsufficientLiquidity
	}

	var c calc
	numerator := c.mul(c.mul(reserveSell, amountOut), feeDen)
	denominator := c.mul(c.sub(reserveBuy, amountOut), feeNum)
	in := c.add(c.quo(numerator, denominator), big.NewInt(1))
	if c.err != nil {
		return nil, c.err
	}
	return in, nil
}

// depositAmounts picks how much of each asset to pull so the deposit matches
// the current reserve ratio.
func depositAmounts(desiredA, minA, desiredB, minB, reserveA, reserveB *big.Int) (*big.Int, *big.Int, error) {
	if reserveA.Sign() == 0 && reserveB.Sign() == 0 {
		return new(big.Int).Set(desiredA), new(big.Int).Set(desiredB), nil
	}

	var c calc
	amountB := c.quo(c.mul(desiredA, reserveB), reserveA)
	if c.err != nil {
		return nil, nil, c.err
	}
	if amountB.Cmp(desiredB) <= 0 {
		if amountB.Cmp(minB) < 0 {
			return nil, nil, fmt.Errorf("%w: amount b %s below minimum %s", ErrSlippageExceeded, amountB, minB)
		}
		return new(big.Int).Set(desiredA), amountB, nil
	}

	amountA := c.quo(c.mul(desiredB, reserveA), reserveB)
	if c.err != nil {
		return nil, nil, c.err
	}
	if amountA.Cmp(desiredA) > 0 || desiredA.Cmp(minA) < 0 {
		return nil, nil, fmt.Errorf("%w: amount a %s, desired a %s, min a %s", ErrSlippageExceeded, amountA, desiredA, minA)
	}
	return amountA, new(big.Int).Set(desiredB), nil
}

// sharesToMint returns the depositor's shares and whether MinimumLiquidity
// must additionally be locked (first deposit).
func sharesToMint(balanceA, balanceB, reserveA, reserveB, totalShares *big.Int) (*big.Int, bool, error) {
	var c calc
	if totalShares.Sign() > 0 {
		sharesA := c.quo(c.mul(c.sub(balanceA, reserveA), totalShares), reserveA)
		sharesB := c.quo(c.mul(c.sub(balanceB, reserveB), totalShares), reserveB)
		if c.err != nil {
			return nil, false, c.err
		}
		shares := sharesA
		if sharesB.Cmp(sharesA) < 0 {
			shares = sharesB
		}
		if shares.Sign() <= 0 {
			return nil, false, fmt.Errorf("%w: minted %s shares", ErrInsufficientLiquidity, shares)
		}
		return shares, false, nil
	}

	shares := c.sqrt(c.mul(balanceA, balanceB))
	if c.err != nil {
		return nil, false, c.err
	}
	if shares.Cmp(minimumLiquidity) <= 0 {
		return nil, false, fmt.Errorf("%w: initial shares %s not above minimum liquidity", ErrInsufficientLiquidity, shares)
	}
	return shares.Sub(shares, minimumLiquidity), true, nil
}

// invariantFactor is the fee-adjusted, 10000-scaled post-swap reserve of one
// asset. Inflows count at 9975/10000, outflows in full.
func invariantFactor(c *calc, balance, reserve, out *big.Int) *big.Int {
	delta := c.sub(c.sub(balance, reserve), out)
	var adjusted *big.Int
	if delta.Sign() > 0 {
		adjusted = c.mul(feeNum, delta)
	} else {
		adjusted = c.mul(feeDen, delta)
	}
	return c.add(c.mul(feeDen, reserve), adjusted)
}

// checkInvariant verifies the fee-adjusted product did not decrease, using
// measured balances rather than nominal amounts.
func checkInvariant(balanceA, balanceB, reserveA, reserveB, outA, outB *big.Int) error {
	var c calc
	newA := invariantFactor(&c, balanceA, reserveA, outA)
	newB := invariantFactor(&c, balanceB, reserveB, outB)
	after := c.mul(newA, newB)
	before := c.mul(c.mul(feeDen, reserveA), c.mul(feeDen, reserveB))
	if c.err != nil {
		return c.err
	}
	if after.Cmp(before) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrInvariantViolation, after, before)
	}
	return nil
}

// withdrawAmounts returns the pro-rata share of the measured balances.
func withdrawAmounts(balanceA, balanceB, shares, totalShares *big.Int) (*big.Int, *big.Int, error) {
	var c calc
	outA := c.quo(c.mul(balanceA, shares), totalShares)
	outB := c.quo(c.mul(balanceB, shares), totalShares)
	if c.err != nil {
		return nil, nil, c.err
	}
	return outA, outB, nil
}
