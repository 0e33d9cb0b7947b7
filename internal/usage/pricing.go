// Package usage prices model calls and records them as exchanges.
package usage

import (
	"strings"

	"github.com/theirongolddev/chatstate/internal/config"
	"github.com/theirongolddev/chatstate/internal/model"
)

// ModelPricing holds per-million-token prices for a model.
type ModelPricing struct {
	InputPerMTok        float64
	OutputPerMTok       float64
	CacheWrite5mPerMTok float64
	CacheWrite1hPerMTok float64
	CacheReadPerMTok    float64
}

// DefaultPricing maps model base names to their pricing.
var DefaultPricing = map[string]ModelPricing{
	"claude-opus-4-5": {
		InputPerMTok: 5.00, OutputPerMTok: 25.00,
		CacheWrite5mPerMTok: 6.25, CacheWrite1hPerMTok: 10.00, CacheReadPerMTok: 0.50,
	},
	"claude-opus-4-1": {
		InputPerMTok: 15.00, OutputPerMTok: 75.00,
		CacheWrite5mPerMTok: 18.75, CacheWrite1hPerMTok: 30.00, CacheReadPerMTok: 1.50,
	},
	"claude-opus-4": {
		InputPerMTok: 15.00, OutputPerMTok: 75.00,
		CacheWrite5mPerMTok: 18.75, CacheWrite1hPerMTok: 30.00, CacheReadPerMTok: 1.50,
	},
	"claude-sonnet-4-5": {
		InputPerMTok: 3.00, OutputPerMTok: 15.00,
		CacheWrite5mPerMTok: 3.75, CacheWrite1hPerMTok: 6.00, CacheReadPerMTok: 0.30,
	},
	"claude-sonnet-4": {
		InputPerMTok: 3.00, OutputPerMTok: 15.00,
		CacheWrite5mPerMTok: 3.75, CacheWrite1hPerMTok: 6.00, CacheReadPerMTok: 0.30,
	},
	"claude-haiku-4-5": {
		InputPerMTok: 1.00, OutputPerMTok: 5.00,
		CacheWrite5mPerMTok: 1.25, CacheWrite1hPerMTok: 2.00, CacheReadPerMTok: 0.10,
	},
	"claude-haiku-3-5": {
		InputPerMTok: 0.80, OutputPerMTok: 4.00,
		CacheWrite5mPerMTok: 1.00, CacheWrite1hPerMTok: 1.60, CacheReadPerMTok: 0.08,
	},
	"gpt-4o": {
		InputPerMTok: 2.50, OutputPerMTok: 10.00, CacheReadPerMTok: 1.25,
	},
	"gpt-4o-mini": {
		InputPerMTok: 0.15, OutputPerMTok: 0.60, CacheReadPerMTok: 0.075,
	},
	"gpt-4.1": {
		InputPerMTok: 2.00, OutputPerMTok: 8.00, CacheReadPerMTok: 0.50,
	},
}

// Pricer resolves model prices, applying config overrides on top of the defaults.
type Pricer struct {
	table map[string]ModelPricing
}

// NewPricer builds a Pricer from the default table and cfg's overrides.
// An override for an unknown model starts from zero prices.
func NewPricer(overrides config.PricingOverrides) *Pricer {
	table := make(map[string]ModelPricing, len(DefaultPricing)+len(overrides.Overrides))
	for k, v := range DefaultPricing {
		table[k] = v
	}
	for name, o := range overrides.Overrides {
		p := table[name]
		if o.InputPerMTok != nil {
			p.InputPerMTok = *o.InputPerMTok
		}
		if o.OutputPerMTok != nil {
			p.OutputPerMTok = *o.OutputPerMTok
		}
		if o.CacheWrite5mPerMTok != nil {
			p.CacheWrite5mPerMTok = *o.CacheWrite5mPerMTok
		}
		if o.CacheWrite1hPerMTok != nil {
			p.CacheWrite1hPerMTok = *o.CacheWrite1hPerMTok
		}
		if o.CacheReadPerMTok != nil {
			p.CacheReadPerMTok = *o.CacheReadPerMTok
		}
		table[name] = p
	}
	return &Pricer{table: table}
}

// NormalizeModelName strips date suffixes from model identifiers.
// e.g., "claude-sonnet-4-5-20250929" -> "claude-sonnet-4-5"
func (p *Pricer) NormalizeModelName(raw string) string {
	if _, ok := p.table[raw]; ok {
		return raw
	}

	parts := strings.Split(raw, "-")
	if len(parts) >= 2 {
		last := parts[len(parts)-1]
		if isAllDigits(last) && len(last) >= 8 {
			candidate := strings.Join(parts[:len(parts)-1], "-")
			if _, ok := p.table[candidate]; ok {
				return candidate
			}
		}
	}
	return raw
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// Lookup returns the pricing for a model, normalizing the name first.
// Returns zero pricing and false if the model is unknown.
func (p *Pricer) Lookup(modelName string) (ModelPricing, bool) {
	mp, ok := p.table[p.NormalizeModelName(modelName)]
	return mp, ok
}

// Cost prices u for modelName. Unknown models yield a zero-cost breakdown
// with Priced unset, so token counts are still recorded.
func (p *Pricer) Cost(modelName string, u model.Usage) model.Cost {
	c := model.Cost{Usage: u}
	pricing, ok := p.Lookup(modelName)
	if !ok {
		return c
	}

	c.InputCost = float64(u.InputTokens) * pricing.InputPerMTok / 1_000_000
	c.OutputCost = float64(u.OutputTokens) * pricing.OutputPerMTok / 1_000_000
	c.CacheCost = float64(u.CacheCreation5mTokens)*pricing.CacheWrite5mPerMTok/1_000_000 +
		float64(u.CacheCreation1hTokens)*pricing.CacheWrite1hPerMTok/1_000_000 +
		float64(u.CacheReadTokens)*pricing.CacheReadPerMTok/1_000_000
	c.EstimatedCost = c.InputCost + c.OutputCost + c.CacheCost
	c.Priced = true
	return c
}

// CacheSavings computes how much cache reads saved versus full input pricing.
func (p *Pricer) CacheSavings(modelName string, cacheReadTokens int64) float64 {
	pricing, ok := p.Lookup(modelName)
	if !ok {
		return 0
	}
	full := float64(cacheReadTokens) * pricing.InputPerMTok / 1_000_000
	actual := float64(cacheReadTokens) * pricing.CacheReadPerMTok / 1_000_000
	return full - actual
}
