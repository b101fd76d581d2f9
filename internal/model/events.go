package model

// DepositEventData is the payload recorded for a liquidity deposit.
type DepositEventData struct {
	Depositor string `json:"depositor"`
	Shares    string `json:"shares"`
	AmountA   string `json:"amount_a"`
	AmountB   string `json:"amount_b"`
	ReserveA  string `json:"reserve_a"`
	ReserveB  string `json:"reserve_b"`
}

// SwapEventData is the payload recorded for a swap in either direction.
type SwapEventData struct {
	Trader    string `json:"trader"`
	SellA     bool   `json:"sell_a"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
	ReserveA  string `json:"reserve_a"`
	ReserveB  string `json:"reserve_b"`
}

// WithdrawEventData is the payload recorded for a liquidity withdrawal.
type WithdrawEventData struct {
	Owner    string `json:"owner"`
	Shares   string `json:"shares"`
	AmountA  string `json:"amount_a"`
	AmountB  string `json:"amount_b"`
	ReserveA string `json:"reserve_a"`
	ReserveB string `json:"reserve_b"`
}
