package model

// APILimits describes an exchange's documented rate limits.
type APILimits struct {
	MaxWSSubscriptions    int `json:"maxWsSubscriptions" yaml:"max_ws_subscriptions"`
	RESTRequestsPerSecond int `json:"restRequestsPerSecond" yaml:"rest_requests_per_second"`
	MaxCandlesPerRequest  int `json:"maxCandlesPerRequest" yaml:"max_candles_per_request"`
}

// FeeSchedule holds maker/taker fees in basis points.
type FeeSchedule struct {
	MakerBps float64 `json:"makerBps" yaml:"maker_bps"`
	TakerBps float64 `json:"takerBps" yaml:"taker_bps"`
}

// Exchange is a read-mostly descriptor for a connected exchange.
type Exchange struct {
	ID                  int         `json:"id" yaml:"id"`
	Name                string      `json:"name" yaml:"name"` // "coinbase", "binance"
	DisplayName         string      `json:"displayName" yaml:"display_name"`
	WSURL               string      `json:"wsUrl" yaml:"ws_url"`
	RESTURL             string      `json:"restUrl" yaml:"rest_url"`
	SupportedTimeframes []string    `json:"supportedTimeframes" yaml:"supported_timeframes"`
	APILimits           APILimits   `json:"apiLimits" yaml:"api_limits"`
	FeeSchedule         FeeSchedule `json:"feeSchedule" yaml:"fee_schedule"`
	IsActive            bool        `json:"isActive" yaml:"is_active"`
}

// SymbolTier classifies how a symbol's market data is keyed.
type SymbolTier int

const (
	TierExcluded     SymbolTier = 0 // not ingested
	TierShared       SymbolTier = 1 // exchange-scoped keys, no TTL
	TierUserOverflow SymbolTier = 2 // user-scoped keys with TTL
)

// ClassifiedSymbol binds a symbol to its tier and owner.
type ClassifiedSymbol struct {
	Symbol     string     `json:"symbol"`
	Tier       SymbolTier `json:"tier"`
	ExchangeID int        `json:"exchangeId"`
	UserID     string     `json:"userId,omitempty"` // tier 2 only
}
