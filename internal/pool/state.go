package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Key enumerates the persisted fields of a pool.
type Key int

const (
	KeyAssetA Key = iota
	KeyAssetB
	KeyShareAsset
	KeyTotalShares
	KeyReserveA
	KeyReserveB
	KeyKLast
	KeyInitialized
)

var keyNames = [...]string{
	KeyAssetA:      "AssetA",
	KeyAssetB:      "AssetB",
	KeyShareAsset:  "ShareAsset",
	KeyTotalShares: "TotalShares",
	KeyReserveA:    "ReserveA",
	KeyReserveB:    "ReserveB",
	KeyKLast:       "KLast",
	KeyInitialized: "Initialized",
}

func (k Key) String() string {
	if k < 0 || int(k) >= len(keyNames) {
		return fmt.Sprintf("Key(%d)", int(k))
	}
	return keyNames[k]
}

// Store is key-value storage scoped to a single pool.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// State is the typed record of one pool.
type State struct {
	AssetA      common.Address
	AssetB      common.Address
	ShareAsset  common.Address
	TotalShares *big.Int
	ReserveA    *big.Int
	ReserveB    *big.Int
	KLast       *big.Int
	Initialized bool
}

func emptyState() State {
	return State{
		TotalShares: big.NewInt(0),
		ReserveA:    big.NewInt(0),
		ReserveB:    big.NewInt(0),
		KLast:       big.NewInt(0),
	}
}

// LoadState reads the pool record. A pool that was never initialized loads
// as an empty, uninitialized State.
func LoadState(ctx context.Context, store Store) (State, error) {
	st := emptyState()
	raw, ok, err := store.Get(ctx, KeyInitialized.String())
	if err != nil {
		return State{}, fmt.Errorf("load %s: %w", KeyInitialized, err)
	}
	if !ok || len(raw) != 1 || raw[0] != 1 {
		return st, nil
	}
	st.Initialized = true

	addrs := []struct {
		key Key
		dst *common.Address
	}{
		{KeyAssetA, &st.AssetA},
		{KeyAssetB, &st.AssetB},
		{KeyShareAsset, &st.ShareAsset},
	}
	for _, f := range addrs {
		raw, err := loadField(ctx, store, f.key)
		if err != nil {
			return State{}, err
		}
		if len(raw) != common.AddressLength {
			return State{}, fmt.Errorf("load %s: invalid address length %d", f.key, len(raw))
		}
		*f.dst = common.BytesToAddress(raw)
	}

	ints := []struct {
		key Key
		dst **big.Int
	}{
		{KeyTotalShares, &st.TotalShares},
		{KeyReserveA, &st.ReserveA},
		{KeyReserveB, &st.ReserveB},
		{KeyKLast, &st.KLast},
	}
	for _, f := range ints {
		raw, err := loadField(ctx, store, f.key)
		if err != nil {
			return State{}, err
		}
		val, ok := new(big.Int).SetString(string(raw), 10)
		if !ok || !inRange(val) {
			return State{}, fmt.Errorf("load %s: invalid int128 %q", f.key, raw)
		}
		*f.dst = val
	}

	return st, nil
}

func loadField(ctx context.Context, store Store, key Key) ([]byte, error) {
	raw, ok, err := store.Get(ctx, key.String())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("load %s: missing", key)
	}
	return raw, nil
}

// SaveState writes every field of st.
func SaveState(ctx context.Context, store Store, st State) error {
	initialized := []byte{0}
	if st.Initialized {
		initialized[0] = 1
	}

	fields := []struct {
		key   Key
		value []byte
	}{
		{KeyAssetA, st.AssetA.Bytes()},
		{KeyAssetB, st.AssetB.Bytes()},
		{KeyShareAsset, st.ShareAsset.Bytes()},
		{KeyTotalShares, []byte(st.TotalShares.String())},
		{KeyReserveA, []byte(st.ReserveA.String())},
		{KeyReserveB, []byte(st.ReserveB.String())},
		{KeyKLast, []byte(st.KLast.String())},
		{KeyInitialized, initialized},
	}
	for _, f := range fields {
		if err := store.Put(ctx, f.key.String(), f.value); err != nil {
			return fmt.Errorf("save %s: %w", f.key, err)
		}
	}
	return nil
}
