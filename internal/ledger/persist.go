package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"ammledger/internal/model"
)

const assetIndexKey = "assets"

// Store is the key/value scope the bank persists into.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// AssetRecord is the stored form of one asset. Transfer hooks are process
// local and are not stored.
type AssetRecord struct {
	Meta     model.TokenMeta   `json:"meta"`
	Share    bool              `json:"share,omitempty"`
	Admin    string            `json:"admin,omitempty"`
	FeeBps   int64             `json:"fee_bps,omitempty"`
	Supply   string            `json:"supply"`
	Balances map[string]string `json:"balances"`
}

func assetKey(id common.Address) string {
	return "asset/" + id.Hex()
}

func (a *asset) record() AssetRecord {
	rec := AssetRecord{
		Meta:     a.meta,
		Share:    a.share,
		FeeBps:   a.feeBps,
		Supply:   a.supply.String(),
		Balances: make(map[string]string, len(a.balances)),
	}
	if a.share {
		rec.Admin = a.admin.Hex()
	}
	for holder, bal := range a.balances {
		if bal.Sign() == 0 {
			continue
		}
		rec.Balances[holder.Hex()] = bal.String()
	}
	return rec
}

func parseAmount(field, raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", field, raw)
	}
	return v, nil
}

func (rec AssetRecord) toAsset() (*asset, error) {
	supply, err := parseAmount("supply", rec.Supply)
	if err != nil {
		return nil, err
	}
	a := &asset{
		meta:     rec.Meta,
		share:    rec.Share,
		feeBps:   rec.FeeBps,
		supply:   supply,
		balances: make(map[common.Address]*big.Int, len(rec.Balances)),
	}
	if rec.Share {
		if !common.IsHexAddress(rec.Admin) {
			return nil, fmt.Errorf("invalid admin %q", rec.Admin)
		}
		a.admin = common.HexToAddress(rec.Admin)
	}
	for holder, raw := range rec.Balances {
		if !common.IsHexAddress(holder) {
			return nil, fmt.Errorf("invalid holder %q", holder)
		}
		bal, err := parseAmount("balance", raw)
		if err != nil {
			return nil, err
		}
		a.balances[common.HexToAddress(holder)] = bal
	}
	return a, nil
}

// Flush writes every asset changed since the previous Flush, followed by
// the asset index, and clears the change set.
func (b *Bank) Flush(ctx context.Context, store Store) error {
	if len(b.dirty) == 0 {
		return nil
	}
	ids := make([]common.Address, 0, len(b.dirty))
	for id := range b.dirty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

	for _, id := range ids {
		a, ok := b.assets[id]
		if !ok {
			continue
		}
		raw, err := json.Marshal(a.record())
		if err != nil {
			return fmt.Errorf("encode asset %s: %w", id.Hex(), err)
		}
		if err := store.Put(ctx, assetKey(id), raw); err != nil {
			return fmt.Errorf("write asset %s: %w", id.Hex(), err)
		}
	}

	index := make([]string, len(b.order))
	for i, id := range b.order {
		index[i] = id.Hex()
	}
	raw, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("encode asset index: %w", err)
	}
	if err := store.Put(ctx, assetIndexKey, raw); err != nil {
		return fmt.Errorf("write asset index: %w", err)
	}
	b.dirty = make(map[common.Address]struct{})
	return nil
}

// Load registers every asset previously written with Flush. Assets already
// registered in b are rejected with ErrAssetExists.
func (b *Bank) Load(ctx context.Context, store Store) error {
	raw, ok, err := store.Get(ctx, assetIndexKey)
	if err != nil {
		return fmt.Errorf("read asset index: %w", err)
	}
	if !ok {
		return nil
	}
	var index []string
	if err := json.Unmarshal(raw, &index); err != nil {
		return fmt.Errorf("decode asset index: %w", err)
	}

	for _, hex := range index {
		if !common.IsHexAddress(hex) {
			return fmt.Errorf("decode asset index: invalid address %q", hex)
		}
		id := common.HexToAddress(hex)
		if _, ok := b.assets[id]; ok {
			return fmt.Errorf("%w: %s", ErrAssetExists, id.Hex())
		}
		raw, ok, err := store.Get(ctx, assetKey(id))
		if err != nil {
			return fmt.Errorf("read asset %s: %w", id.Hex(), err)
		}
		if !ok {
			return fmt.Errorf("%w: %s missing from store", ErrUnknownAsset, id.Hex())
		}
		var rec AssetRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode asset %s: %w", id.Hex(), err)
		}
		a, err := rec.toAsset()
		if err != nil {
			return fmt.Errorf("decode asset %s: %w", id.Hex(), err)
		}
		a.meta.Address = id.Hex()
		b.assets[id] = a
		b.order = append(b.order, id)
	}
	return nil
}
