package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"ammledger/internal/model"
)

var (
	tokenX = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	poolID = common.HexToAddress("0x9999999999999999999999999999999999999999")
)

func newTestBank(t *testing.T, opts ...AssetOption) *Bank {
	t.Helper()
	bank := NewBank(SignerAuthorizer{})
	require.NoError(t, bank.Register(tokenX, model.TokenMeta{Symbol: "X", Decimals: 7}, opts...))
	require.NoError(t, bank.Issue(tokenX, alice, big.NewInt(1000)))
	return bank
}

func TestTransferRequiresSender(t *testing.T) {
	bank := newTestBank(t)
	client, err := bank.Asset(tokenX)
	require.NoError(t, err)

	err = client.Transfer(context.Background(), alice, bob, big.NewInt(10))
	require.ErrorIs(t, err, ErrNotAuthorized)

	ctx := WithSigners(context.Background(), alice)
	require.NoError(t, client.Transfer(ctx, alice, bob, big.NewInt(10)))
	require.Equal(t, "10", bank.Balance(tokenX, bob).String())
	require.Equal(t, "990", bank.Balance(tokenX, alice).String())
}

func TestTransferInsufficientBalance(t *testing.T) {
	bank := newTestBank(t)
	client, _ := bank.Asset(tokenX)
	ctx := WithSigners(context.Background(), alice)

	require.ErrorIs(t, client.Transfer(ctx, alice, bob, big.NewInt(1001)), ErrInsufficientBalance)
	require.ErrorIs(t, client.Transfer(ctx, alice, bob, big.NewInt(-1)), ErrNegativeAmount)
}

func TestTransferFeeBurnsFromReceived(t *testing.T) {
	bank := newTestBank(t, WithTransferFee(100))
	client, _ := bank.Asset(tokenX)
	ctx := WithSigners(context.Background(), alice)

	require.NoError(t, client.Transfer(ctx, alice, bob, big.NewInt(500)))
	require.Equal(t, "495", bank.Balance(tokenX, bob).String())
	require.Equal(t, "500", bank.Balance(tokenX, alice).String())
}

func TestShareMintRequiresAdmin(t *testing.T) {
	bank := newTestBank(t)
	id, err := bank.DeployShare(context.Background(), poolID, model.TokenMeta{Name: "Pool Share", Symbol: "PS", Decimals: 8})
	require.NoError(t, err)
	share, err := bank.Share(id)
	require.NoError(t, err)

	err = share.Mint(WithSigners(context.Background(), alice), alice, big.NewInt(5))
	require.ErrorIs(t, err, ErrNotAuthorized)

	require.NoError(t, share.Mint(WithSigners(context.Background(), poolID), alice, big.NewInt(50)))
	require.NoError(t, share.Burn(WithSigners(context.Background(), alice), alice, big.NewInt(20)))

	supply, err := share.TotalSupply(context.Background())
	require.NoError(t, err)
	require.Equal(t, "30", supply.String())

	_, err = bank.Share(tokenX)
	require.ErrorIs(t, err, ErrUnknownAsset)
}

func TestShareAddressDerivedFromAdmin(t *testing.T) {
	other := common.HexToAddress("0x8888888888888888888888888888888888888888")

	first := NewBank(nil)
	id, err := first.DeployShare(context.Background(), poolID, model.TokenMeta{Symbol: "PS"})
	require.NoError(t, err)
	require.Equal(t, crypto.CreateAddress(poolID, 0), id)

	second, err := first.DeployShare(context.Background(), poolID, model.TokenMeta{Symbol: "PS2"})
	require.NoError(t, err)
	require.Equal(t, crypto.CreateAddress(poolID, 1), second)

	// A fresh bank deploying for a different admin first must not reuse
	// the address already taken by poolID.
	fresh := NewBank(nil)
	otherID, err := fresh.DeployShare(context.Background(), other, model.TokenMeta{Symbol: "OS"})
	require.NoError(t, err)
	require.NotEqual(t, id, otherID)
}

func TestCheckpointRestore(t *testing.T) {
	bank := newTestBank(t)
	client, _ := bank.Asset(tokenX)
	ctx := WithSigners(context.Background(), alice)

	restore := bank.Checkpoint()
	require.NoError(t, client.Transfer(ctx, alice, bob, big.NewInt(400)))
	_, err := bank.DeployShare(ctx, poolID, model.TokenMeta{Symbol: "PS"})
	require.NoError(t, err)
	restore()

	require.Equal(t, "1000", bank.Balance(tokenX, alice).String())
	require.Zero(t, bank.Balance(tokenX, bob).Sign())
	_, err = bank.Share(crypto.CreateAddress(poolID, 0))
	require.ErrorIs(t, err, ErrUnknownAsset)
}

func TestTransferHookRuns(t *testing.T) {
	var seen *big.Int
	bank := newTestBank(t, WithTransferHook(func(_ context.Context, _, _ common.Address, amount *big.Int) error {
		seen = amount
		return errors.New("hook rejected")
	}))
	client, _ := bank.Asset(tokenX)

	err := client.Transfer(WithSigners(context.Background(), alice), alice, bob, big.NewInt(3))
	require.EqualError(t, err, "hook rejected")
	require.NotNil(t, seen)
	require.Equal(t, "3", seen.String())
}
