// Package ledger defines the asset capabilities a pool consumes and an
// in-memory implementation of them.
package ledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"ammledger/internal/model"
)

var (
	ErrNotAuthorized       = errors.New("not authorized")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownAsset        = errors.New("unknown asset")
	ErrAssetExists         = errors.New("asset already registered")
	ErrNegativeAmount      = errors.New("negative amount")
)

// AssetLedger moves and reports balances of one fungible asset.
type AssetLedger interface {
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error)
}

// ShareAsset is an AssetLedger whose supply is controlled by an admin.
type ShareAsset interface {
	AssetLedger
	Mint(ctx context.Context, to common.Address, amount *big.Int) error
	Burn(ctx context.Context, from common.Address, amount *big.Int) error
	TotalSupply(ctx context.Context) (*big.Int, error)
}

// Directory resolves asset identifiers to ledger clients and issues new
// share assets.
type Directory interface {
	Asset(id common.Address) (AssetLedger, error)
	Share(id common.Address) (ShareAsset, error)
	DeployShare(ctx context.Context, admin common.Address, meta model.TokenMeta) (common.Address, error)
}
