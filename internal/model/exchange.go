package model

import "time"

// Usage holds the token counts reported for one model call.
type Usage struct {
	InputTokens           int64 `json:"input_tokens"`
	OutputTokens          int64 `json:"output_tokens"`
	CacheCreation5mTokens int64 `json:"cache_creation_5m_tokens,omitempty"`
	CacheCreation1hTokens int64 `json:"cache_creation_1h_tokens,omitempty"`
	CacheReadTokens       int64 `json:"cache_read_tokens,omitempty"`
}

// TotalTokens sums every token class.
func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheCreation5mTokens + u.CacheCreation1hTokens + u.CacheReadTokens
}

// Cost is the per-exchange cost breakdown, persisted as JSON.
type Cost struct {
	Usage
	InputCost     float64 `json:"input_cost"`
	OutputCost    float64 `json:"output_cost"`
	CacheCost     float64 `json:"cache_cost"`
	EstimatedCost float64 `json:"estimated_cost"`
	Priced        bool    `json:"priced"`
}

// Exchange is one agent turn recorded for cost and audit purposes.
type Exchange struct {
	ExchangeID int64     `json:"exchange_id"`
	ChatID     string    `json:"chat_id"`
	Model      string    `json:"model"`
	Request    string    `json:"request,omitempty"`
	Cost       Cost      `json:"cost"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// Duration is the processing window of the exchange.
func (e Exchange) Duration() time.Duration {
	if e.End.Before(e.Start) {
		return 0
	}
	return e.End.Sub(e.Start)
}
