package model

// TokenMeta captures fungible asset metadata.
type TokenMeta struct {
	Address  string `json:"address,omitempty"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}
