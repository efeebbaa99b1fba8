package models

import "time"

// Operation names the kind of external call made for a page.
type Operation string

const (
	OperationTranscribe Operation = "transcribe"
	OperationTranslate  Operation = "translate"
)

// UsageRecord is the token usage billed for one external call that returned
// a response. Estimated marks counts derived from response length.
type UsageRecord struct {
	Operation    Operation `json:"operation"`
	Page         int       `json:"page"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Estimated    bool      `json:"estimated,omitempty"`
	DurationSecs float64   `json:"duration_seconds,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// CostEntry is a usage record with its derived, tier-split cost.
// Costs are held in pico-dollars so that totals are exact.
type CostEntry struct {
	UsageRecord
	Seq             int     `json:"seq"`
	InputTier1      int64   `json:"input_tokens_tier1"`
	InputTier2      int64   `json:"input_tokens_tier2"`
	OutputTier1     int64   `json:"output_tokens_tier1"`
	OutputTier2     int64   `json:"output_tokens_tier2"`
	InputCostPicos  int64   `json:"input_cost_picos"`
	OutputCostPicos int64   `json:"output_cost_picos"`
	CostPicos       int64   `json:"cost_picos"`
	Cost            float64 `json:"total_cost"`
	Unpersisted     bool    `json:"unpersisted,omitempty"`
}

// OperationCost is the per-operation breakdown inside a CostSummary.
type OperationCost struct {
	Calls          int     `json:"calls"`
	CostPicos      int64   `json:"cost_picos"`
	Cost           float64 `json:"cost"`
	AvgCostPerCall float64 `json:"avg_cost_per_call"`
}

// PricingInfo describes the tiers a summary was priced with.
type PricingInfo struct {
	ThresholdTokens int64   `json:"threshold_tokens"`
	InputTier1      float64 `json:"input_tier1_per_million"`
	InputTier2      float64 `json:"input_tier2_per_million"`
	OutputTier1     float64 `json:"output_tier1_per_million"`
	OutputTier2     float64 `json:"output_tier2_per_million"`
}

// CostSummary is derived from a ledger's entries and never accumulated separately.
type CostSummary struct {
	JobID              string                      `json:"job_id"`
	Filename           string                      `json:"filename,omitempty"`
	Timestamp          time.Time                   `json:"timestamp"`
	TotalCostPicos     int64                       `json:"total_cost_picos"`
	TotalCost          float64                     `json:"total_cost"`
	TotalCalls         int                         `json:"total_calls"`
	TotalInputTokens   int64                       `json:"total_input_tokens"`
	TotalOutputTokens  int64                       `json:"total_output_tokens"`
	Breakdown          map[Operation]OperationCost `json:"breakdown"`
	PageCount          int                         `json:"page_count"`
	CostPerPage        float64                     `json:"cost_per_page"`
	UnpersistedEntries int                         `json:"unpersisted_entries,omitempty"`
	Pricing            PricingInfo                 `json:"pricing_info"`
}

// CostLog is the persisted, ordered call log of one job.
type CostLog struct {
	JobID             string      `json:"job_id"`
	Filename          string      `json:"filename,omitempty"`
	TotalCalls        int         `json:"total_calls"`
	TotalCost         float64     `json:"total_cost"`
	TotalInputTokens  int64       `json:"total_input_tokens"`
	TotalOutputTokens int64       `json:"total_output_tokens"`
	Calls             []CostEntry `json:"calls"`
}
