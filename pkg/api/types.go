package api

// API request/response types for REST endpoints and WebSocket messages.
// Values travel as decimal or 0x-hex strings; asset kinds use the wire
// encoding 0=native, 1=fungible, 2=nonfungible.

// ==============================
// REST Request Types
// ==============================

// OrderRequest is one make-order submission
type OrderRequest struct {
	ID                string `json:"id"`
	MakerValue        string `json:"makerValue"`
	TakerValue        string `json:"takerValue"`
	MakerAssetAddress string `json:"makerAssetAddress"` // zero address = native
	TakerAssetAddress string `json:"takerAssetAddress"`
	MakerKind         int8   `json:"makerKind"`
	TakerKind         int8   `json:"takerKind"`
}

// SubmitOrderRequest wraps a single order with its caller and payment
type SubmitOrderRequest struct {
	Order          OrderRequest `json:"order"`
	From           string       `json:"from"`
	SuppliedNative string       `json:"suppliedNative,omitempty"`
}

// SubmitBatchRequest submits several orders in one call; the native payment
// covers the whole batch
type SubmitBatchRequest struct {
	Orders         []OrderRequest `json:"orders"`
	From           string         `json:"from"`
	SuppliedNative string         `json:"suppliedNative,omitempty"`
}

// TakeOrderRequest fills the order named in the URL
type TakeOrderRequest struct {
	Amount         string `json:"amount"`
	From           string `json:"from"`
	SuppliedNative string `json:"suppliedNative,omitempty"`
}

// CancelOrderRequest cancels the order named in the URL
type CancelOrderRequest struct {
	From string `json:"from"`
}

// ApproveRequest grants a spender rights over the caller's asset. Spender
// defaults to the escrow vault; Value is an amount for fungible tokens and
// a unit id for collections.
type ApproveRequest struct {
	From    string `json:"from"`
	Spender string `json:"spender,omitempty"`
	Value   string `json:"value"`
}

// GenerateTokenRequest mints a new fungible token via the generator
type GenerateTokenRequest struct {
	From     string `json:"from"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	Supply   string `json:"supply"`
}

// ==============================
// REST Response Types
// ==============================

// OrderInfo mirrors the getOrder tuple: ids and values as decimal strings
type OrderInfo struct {
	ID                string `json:"id"`
	MakerValue        string `json:"makerValue"`
	TakerValue        string `json:"takerValue"`
	MakerAssetAddress string `json:"makerAssetAddress"`
	TakerAssetAddress string `json:"takerAssetAddress"`
	MakerKind         int8   `json:"makerKind"`
	TakerKind         int8   `json:"takerKind"`
	Maker             string `json:"maker"`
}

// BalanceInfo reports one asset balance for an account
type BalanceInfo struct {
	AssetAddress string `json:"assetAddress"`
	Kind         string `json:"kind"`
	Symbol       string `json:"symbol,omitempty"`
	Balance      string `json:"balance"`
}

// AssetInfo describes a deployed asset
type AssetInfo struct {
	Address string `json:"address"`
	Kind    string `json:"kind"`
	Name    string `json:"name,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
}

// SubmitResponse acknowledges a state-changing call
type SubmitResponse struct {
	Status  string `json:"status"`
	OrderID string `json:"orderId,omitempty"`
}

// GenerateTokenResponse returns the new token's address
type GenerateTokenResponse struct {
	Status       string `json:"status"`
	TokenAddress string `json:"tokenAddress"`
}

// ErrorResponse is the uniform error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Types
// ==============================

// WSSubscribeRequest manages channel subscriptions ("orders" carries all
// order lifecycle events)
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// OrderEvent is pushed to subscribers of the "orders" channel
type OrderEvent struct {
	Type        string    `json:"type"` // order_created, order_filled, order_cancelled
	Order       OrderInfo `json:"order"`
	MakerAmount string    `json:"makerAmount,omitempty"`
	TakerAmount string    `json:"takerAmount,omitempty"`
	Taker       string    `json:"taker,omitempty"`
	Closed      bool      `json:"closed,omitempty"`
	Timestamp   int64     `json:"timestamp"` // Unix milliseconds
}
