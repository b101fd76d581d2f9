package pool

import (
	"errors"

	"ammledger/internal/ledger"
)

var (
	ErrAlreadyInitialized    = errors.New("pool already initialized")
	ErrNotInitialized        = errors.New("pool not initialized")
	ErrNotAuthorized         = ledger.ErrNotAuthorized
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrInvariantViolation    = errors.New("constant product invariant violated")
	ErrArithmetic            = errors.New("arithmetic error")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrIdenticalAssets       = errors.New("pool assets must differ")
	ErrReentrantCall         = errors.New("reentrant call")
)
