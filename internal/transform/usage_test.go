package transform

import (
	"testing"

	"cloud.google.com/go/vertexai/genai"
)

func TestUsageFromJSONFieldVariants(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantIn  int64
		wantOut int64
	}{
		{"openai", `{"usage":{"prompt_tokens":120,"completion_tokens":40}}`, 120, 40},
		{"anthropic style", `{"usage":{"input_tokens":7,"output_tokens":3}}`, 7, 3},
		{"gemini camel", `{"usageMetadata":{"promptTokenCount":1000,"candidatesTokenCount":500}}`, 1000, 500},
		{"gemini snake", `{"usage_metadata":{"prompt_token_count":"11","candidates_token_count":"9"}}`, 11, 9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := usageFromJSON([]byte(tc.body), "ignored")
			if got.Estimated {
				t.Fatalf("expected reported usage, got estimate")
			}
			if got.InputTokens != tc.wantIn || got.OutputTokens != tc.wantOut {
				t.Fatalf("expected in=%d out=%d, got in=%d out=%d", tc.wantIn, tc.wantOut, got.InputTokens, got.OutputTokens)
			}
		})
	}
}

func TestUsageFromJSONFallsBackToEstimate(t *testing.T) {
	got := usageFromJSON([]byte(`{"choices":[]}`), "12345678")
	if !got.Estimated || got.InputTokens != 0 || got.OutputTokens != 2 {
		t.Fatalf("unexpected estimate: %+v", got)
	}
}

func TestUsageFromJSONRejectsNegativeCounts(t *testing.T) {
	got := usageFromJSON([]byte(`{"usage":{"prompt_tokens":-5}}`), "abcd")
	if !got.Estimated {
		t.Fatalf("expected estimate for negative counts, got %+v", got)
	}
}

func TestUsageFromVertex(t *testing.T) {
	got := usageFromVertex(&genai.UsageMetadata{PromptTokenCount: 258, CandidatesTokenCount: 77}, "text")
	if got.InputTokens != 258 || got.OutputTokens != 77 || got.Estimated {
		t.Fatalf("unexpected usage: %+v", got)
	}
	if est := usageFromVertex(nil, "abcdefgh"); !est.Estimated || est.OutputTokens != 2 {
		t.Fatalf("unexpected estimate: %+v", est)
	}
}
