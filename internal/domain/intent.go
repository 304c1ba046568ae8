package domain

// Intent — предлагаемая, ещё не исполненная транзакция. Нигде не сохраняется.
// Обычно задаётся одно из Amount / AmountHuman; если оба, они обязаны совпасть в base units.
type Intent struct {
	ChainID      int64  `json:"chainId"`
	To           string `json:"to"`
	Selector     string `json:"selector"`
	Token        string `json:"token,omitempty"`
	Denomination string `json:"denomination,omitempty"`
	Amount       string `json:"amount,omitempty"`
	AmountHuman  string `json:"amount_human,omitempty"`

	// Риск-фильтры (опционально)
	DeadlineMs  *int64 `json:"deadline_ms,omitempty"`
	Nonce       *int64 `json:"nonce,omitempty"`
	PrevNonce   *int64 `json:"prev_nonce,omitempty"`
	SlippageBps *int64 `json:"slippage_bps,omitempty"`
}

// Execution — факт исполнения после allow. Amount/AmountHuman, если заданы,
// перекрывают сумму из Intent (например, фактически списанную).
type Execution struct {
	Intent      Intent `json:"intent"`
	TxHash      string `json:"txHash"`
	Amount      string `json:"amount,omitempty"`
	AmountHuman string `json:"amount_human,omitempty"`
}
