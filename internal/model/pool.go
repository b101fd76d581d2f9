package model

// Pool describes a deployed pool and its share asset.
type Pool struct {
	Address    string `json:"address"`
	AssetA     string `json:"asset_a"`
	AssetB     string `json:"asset_b"`
	ShareAsset string `json:"share_asset"`
}
