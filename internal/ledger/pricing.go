package ledger

import (
	"fmt"
	"math"

	"github.com/Lllllllleong/documenttranslator/internal/models"
)

// picosPerDollar converts pico-dollar amounts to USD.
const picosPerDollar = 1e12

// Pricing is a two-tier token price list. Rates are USD per million tokens;
// the tier boundary applies to a job's cumulative token count.
type Pricing struct {
	ThresholdTokens int64
	InputTier1      float64
	InputTier2      float64
	OutputTier1     float64
	OutputTier2     float64
}

// DefaultPricing is the Gemini 2.5 Pro price list.
func DefaultPricing() Pricing {
	return Pricing{
		ThresholdTokens: 200_000,
		InputTier1:      1.25,
		InputTier2:      2.50,
		OutputTier1:     10.00,
		OutputTier2:     15.00,
	}
}

// Validate checks that the tiers are usable.
func (p Pricing) Validate() error {
	if p.ThresholdTokens <= 0 {
		return fmt.Errorf("pricing threshold must be positive, got %d", p.ThresholdTokens)
	}
	for name, rate := range map[string]float64{
		"input tier 1": p.InputTier1, "input tier 2": p.InputTier2,
		"output tier 1": p.OutputTier1, "output tier 2": p.OutputTier2,
	} {
		if rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
			return fmt.Errorf("pricing %s must be a non-negative number, got %v", name, rate)
		}
		if !exactInPicos(rate) {
			return fmt.Errorf("pricing %s has more precision than one pico-dollar per token, got %v", name, rate)
		}
	}
	if p.InputTier2 <= p.InputTier1 {
		return fmt.Errorf("input tier 2 rate (%v) must exceed tier 1 rate (%v)", p.InputTier2, p.InputTier1)
	}
	if p.OutputTier2 <= p.OutputTier1 {
		return fmt.Errorf("output tier 2 rate (%v) must exceed tier 1 rate (%v)", p.OutputTier2, p.OutputTier1)
	}
	return nil
}

// Info describes the price list for persisted summaries.
func (p Pricing) Info() models.PricingInfo {
	return models.PricingInfo{
		ThresholdTokens: p.ThresholdTokens,
		InputTier1:      p.InputTier1,
		InputTier2:      p.InputTier2,
		OutputTier1:     p.OutputTier1,
		OutputTier2:     p.OutputTier2,
	}
}

// picosPerToken converts a USD-per-million rate into pico-dollars per token.
// Validate guarantees the conversion is exact.
func picosPerToken(usdPerMillion float64) int64 {
	return int64(math.Round(usdPerMillion * picosPerTokenPerRateUnit))
}

// picosPerTokenPerRateUnit is 1 USD per million tokens in pico-dollars per token.
const picosPerTokenPerRateUnit = 1e6

// exactInPicos reports whether rate has no precision finer than one
// pico-dollar per token.
func exactInPicos(rate float64) bool {
	scaled := rate * picosPerTokenPerRateUnit
	return math.Abs(scaled-math.Round(scaled)) < 1e-6
}

// SplitTier divides a call of n tokens between the tiers, given the job's
// cumulative count before the call. Tokens up to the threshold are tier 1,
// the rest tier 2.
func SplitTier(before, n, threshold int64) (tier1, tier2 int64) {
	if n <= 0 {
		return 0, 0
	}
	room := threshold - before
	switch {
	case room <= 0:
		return 0, n
	case room >= n:
		return n, 0
	default:
		return room, n - room
	}
}

// price fills the tier split and cost fields of entry from the running totals
// that precede it.
func (p Pricing) price(entry *models.CostEntry, beforeIn, beforeOut int64) {
	entry.InputTier1, entry.InputTier2 = SplitTier(beforeIn, entry.InputTokens, p.ThresholdTokens)
	entry.OutputTier1, entry.OutputTier2 = SplitTier(beforeOut, entry.OutputTokens, p.ThresholdTokens)

	entry.InputCostPicos = entry.InputTier1*picosPerToken(p.InputTier1) + entry.InputTier2*picosPerToken(p.InputTier2)
	entry.OutputCostPicos = entry.OutputTier1*picosPerToken(p.OutputTier1) + entry.OutputTier2*picosPerToken(p.OutputTier2)
	entry.CostPicos = entry.InputCostPicos + entry.OutputCostPicos
	entry.Cost = PicosToUSD(entry.CostPicos)
}

// PicosToUSD converts pico-dollars to dollars.
func PicosToUSD(picos int64) float64 {
	return float64(picos) / picosPerDollar
}
