package uma

// ChainInfo maps a chain name onto its settlement layer, base asset, and the
// asset's smallest-unit precision. The mapping is immutable configuration
// injected at startup.
type ChainInfo struct {
	Layer    string
	Asset    string
	Decimals int
}

// CurrencyInfo describes a currency a tenant has enabled, with its sendable
// range in smallest units.
type CurrencyInfo struct {
	Code        string
	Name        string
	Symbol      string
	Decimals    int
	MinSendable int64
	MaxSendable int64
}

// TenantInfo is the per-request tenant scope resolved from the serving host.
type TenantInfo struct {
	Domain     string
	BaseAsset  string
	Currencies []CurrencyInfo
}

// Currency is the discovery-response currency entry. The multiplier is the
// estimated smallest units of the tenant's base asset per smallest unit of
// this currency (for BTC: millisatoshis per cent).
type Currency struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Multiplier  int64  `json:"multiplier"`
	MinSendable int64  `json:"minSendable"`
	MaxSendable int64  `json:"maxSendable"`
	Decimals    *int   `json:"decimals,omitempty"`
}

// SettlementAsset is one payable asset under a settlement layer. The
// identifier is either the receiver's settlement-layer identity (native
// layer) or the synthesized {ASSET}_{LAYER} code.
type SettlementAsset struct {
	Identifier  string           `json:"asset"`
	Multipliers map[string]int64 `json:"multipliers"`
}

// SettlementOption advertises a settlement layer and its payable assets.
type SettlementOption struct {
	Layer  string            `json:"settlementLayer"`
	Assets []SettlementAsset `json:"assets"`
}

// PayerDataOption marks a payer-data field as mandatory or optional.
type PayerDataOption struct {
	Mandatory bool `json:"mandatory"`
}

// DiscoveryResponse is the phase-1 response shape.
type DiscoveryResponse struct {
	Callback          string                     `json:"callback"`
	MinSendable       int64                      `json:"minSendable"`
	MaxSendable       int64                      `json:"maxSendable"`
	Metadata          string                     `json:"metadata"`
	Tag               string                     `json:"tag"`
	CommentAllowed    int                        `json:"commentAllowed"`
	PayerData         map[string]PayerDataOption `json:"payerData,omitempty"`
	Currencies        []Currency                 `json:"currencies,omitempty"`
	SettlementOptions []SettlementOption         `json:"settlementOptions,omitempty"`
}

// SettlementDescriptor records the layer and asset a payment instruction
// settles over. Present in the response only when the sender explicitly chose
// a non-default layer.
type SettlementDescriptor struct {
	Layer string `json:"settlementLayer"`
	Asset string `json:"asset"`
}

// ConvertedAmount reports the payment amount in the requested currency.
type ConvertedAmount struct {
	Amount     int64  `json:"amount"`
	Currency   string `json:"currencyCode"`
	Decimals   int    `json:"decimals"`
	Multiplier int64  `json:"multiplier"`
	Fee        int64  `json:"fee"`
}

// SuccessAction is the human-readable confirmation attached to an issued
// instruction.
type SuccessAction struct {
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// PaymentResponse is the phase-2 response shape.
type PaymentResponse struct {
	PaymentRequest string                `json:"pr"`
	Routes         []string              `json:"routes"`
	Settlement     *SettlementDescriptor `json:"settlement,omitempty"`
	Converted      *ConvertedAmount      `json:"converted,omitempty"`
	Disposable     bool                  `json:"disposable"`
	SuccessAction  *SuccessAction        `json:"successAction,omitempty"`
}

// PayParams carries everything phase 2 needs; the engine is stateless between
// phases so nothing is remembered from discovery.
type PayParams struct {
	AmountMsat      int64
	Nonce           string
	Currency        string
	SettlementLayer string
	AssetIdentifier string
}
