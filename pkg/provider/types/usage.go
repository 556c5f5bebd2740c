package types

import (
	"encoding/json"
	"sync"
)

// Usage holds the per-request token counters reported by a provider.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	OutputTokens             int `json:"output_tokens"`
}

// UsageFromJSON reads the usage counters present in a provider usage object,
// leaving absent counters at zero.
func UsageFromJSON(raw json.RawMessage) Usage {
	var u Usage
	// Absent or malformed fields stay zero.
	_ = json.Unmarshal(raw, &u)
	return u
}

// Add accumulates another usage into this one, element-wise.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.CacheCreationInputTokens += other.CacheCreationInputTokens
	u.CacheReadInputTokens += other.CacheReadInputTokens
	u.OutputTokens += other.OutputTokens
}

// IsZero reports whether no counter has been set.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// Pricing holds per-token rates in USD for one model.
type Pricing struct {
	InputTokens              float64
	CacheCreationInputTokens float64
	CacheReadInputTokens     float64
	OutputTokens             float64
}

// Cost computes the monetary cost of a usage under this pricing:
// the sum over counters of rate times tokens.
func (p Pricing) Cost(u Usage) float64 {
	return p.InputTokens*float64(u.InputTokens) +
		p.CacheCreationInputTokens*float64(u.CacheCreationInputTokens) +
		p.CacheReadInputTokens*float64(u.CacheReadInputTokens) +
		p.OutputTokens*float64(u.OutputTokens)
}

var (
	pricingMu sync.Mutex

	// Per-token prices (USD). Counters: input, cache creation, cache read,
	// output.
	pricingTable = map[string]Pricing{
		"claude-sonnet-4-6":           {0.000003, 0.00000375, 0.0000003, 0.000015},
		"claude-sonnet-4-5":           {0.000003, 0.00000375, 0.0000003, 0.000015},
		"claude-sonnet-4-5-20250929":  {0.000003, 0.00000375, 0.0000003, 0.000015},
		"claude-sonnet-4":             {0.000003, 0.00000375, 0.0000003, 0.000015},
		"claude-opus-4":               {0.000015, 0.00001875, 0.0000015, 0.000075},
		"claude-opus-4-20250514":      {0.000015, 0.00001875, 0.0000015, 0.000075},
		"claude-opus-4-5":             {0.000005, 0.00000625, 0.0000005, 0.000025},
		"claude-opus-4-5-20251101":    {0.000005, 0.00000625, 0.0000005, 0.000025},
		"claude-opus-4-6":             {0.000005, 0.00000625, 0.0000005, 0.000025},
		"claude-haiku-4-5":            {0.000001, 0.00000125, 0.0000001, 0.000005},
		"claude-haiku-4-5-20251001":   {0.000001, 0.00000125, 0.0000001, 0.000005},
	}
)

// FindPricing returns the pricing for a model, if known.
func FindPricing(model string) (Pricing, bool) {
	pricingMu.Lock()
	defer pricingMu.Unlock()
	p, ok := pricingTable[model]
	return p, ok
}

// AddPricing registers pricing for a model. Existing entries are kept.
func AddPricing(model string, p Pricing) {
	pricingMu.Lock()
	defer pricingMu.Unlock()
	if _, ok := pricingTable[model]; !ok {
		pricingTable[model] = p
	}
}
