package transform

import (
	"encoding/json"
	"log/slog"
	"math"
	"strconv"

	"cloud.google.com/go/vertexai/genai"
)

// charsPerToken is the rough ratio used when a response carries no usage.
const charsPerToken = 4

// Field spellings seen across providers for the same usage numbers.
var (
	usageContainerKeys = []string{"usage", "usageMetadata", "usage_metadata"}
	inputTokenKeys     = []string{"prompt_tokens", "input_tokens", "promptTokenCount", "prompt_token_count", "inputTokens"}
	outputTokenKeys    = []string{"completion_tokens", "output_tokens", "candidatesTokenCount", "candidates_token_count", "outputTokens"}
)

// usageFromVertex converts Gemini usage metadata into Usage.
func usageFromVertex(meta *genai.UsageMetadata, text string) Usage {
	if usage, ok := reportedVertexUsage(meta); ok {
		return usage
	}
	return estimateUsage(text)
}

// reportedVertexUsage returns the usage Gemini reported, if any.
func reportedVertexUsage(meta *genai.UsageMetadata) (Usage, bool) {
	if meta == nil || (meta.PromptTokenCount == 0 && meta.CandidatesTokenCount == 0) {
		return Usage{}, false
	}
	return Usage{
		InputTokens:  int64(meta.PromptTokenCount),
		OutputTokens: int64(meta.CandidatesTokenCount),
	}, true
}

// usageFromJSON extracts usage from a raw response body, tolerating the
// different container and field names providers use.
func usageFromJSON(body []byte, text string) Usage {
	if usage, ok := reportedJSONUsage(body); ok {
		return usage
	}
	return estimateUsage(text)
}

// reportedJSONUsage returns the usage block of a response body, if any.
func reportedJSONUsage(body []byte) (Usage, bool) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return Usage{}, false
	}
	for _, key := range usageContainerKeys {
		raw, ok := root[key]
		if !ok {
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		in, inOK := firstCount(fields, inputTokenKeys)
		out, outOK := firstCount(fields, outputTokenKeys)
		if inOK || outOK {
			return Usage{InputTokens: in, OutputTokens: out}, true
		}
	}
	return Usage{}, false
}

func firstCount(fields map[string]json.RawMessage, keys []string) (int64, bool) {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if n, ok := parseCount(raw); ok {
			return n, true
		}
	}
	return 0, false
}

// parseCount accepts integers, floats and quoted numbers. Negative values are rejected.
func parseCount(raw json.RawMessage) (int64, bool) {
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		if num < 0 || math.IsNaN(num) {
			return 0, false
		}
		return int64(num), true
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// estimateUsage is the fallback when a response carries no usage: output is
// estimated from its length and input cannot be known.
func estimateUsage(text string) Usage {
	slog.Warn("Token usage metadata not available, using estimation.", "chars", len(text))
	return Usage{
		OutputTokens: int64(len(text) / charsPerToken),
		Estimated:    true,
	}
}
