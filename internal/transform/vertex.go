package transform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/documenttranslator/internal/gcp"
	"github.com/Lllllllleong/documenttranslator/internal/models"
)

// VertexService calls Gemini on Vertex AI for both stages.
type VertexService struct {
	client         *gcp.VertexClient
	targetLanguage string
}

// NewVertexService wraps a configured Vertex client.
func NewVertexService(client *gcp.VertexClient, targetLanguage string) *VertexService {
	if targetLanguage == "" {
		targetLanguage = "English"
	}
	return &VertexService{client: client, targetLanguage: targetLanguage}
}

// Invoke runs one transcription or translation call.
func (s *VertexService) Invoke(ctx context.Context, req Request) (Response, error) {
	op := fmt.Sprintf("vertex %s page %d", req.Operation, req.PageIndex+1)

	var model *genai.GenerativeModel
	var parts []genai.Part
	switch req.Operation {
	case models.OperationTranscribe:
		mimeType := req.MIMEType
		if mimeType == "" {
			mimeType = "application/pdf"
		}
		model = s.client.TranscriberModel
		parts = []genai.Part{
			genai.Blob{MIMEType: mimeType, Data: req.Unit},
			genai.Text(gcp.TranscriberUserPrompt),
		}
	case models.OperationTranslate:
		model = s.client.TranslatorModel
		parts = []genai.Part{
			genai.Text(fmt.Sprintf(gcp.TranslatorUserPromptTemplate, s.targetLanguage, req.Text)),
		}
	default:
		return Response{}, Permanent(op, fmt.Errorf("unsupported operation %q", req.Operation))
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return Response{}, billed(resp, Permanent(op, err))
		}
		return Response{}, classify(op, err)
	}

	text, err := extractVertexText(resp)
	if err != nil {
		return Response{}, billed(resp, Permanent(op, err))
	}
	text = CleanMarkdown(text)
	if IsRefusal(text) {
		return Response{}, billed(resp, Permanent(op, fmt.Errorf("gemini response indicates refusal")))
	}

	return Response{
		Text:  text,
		Usage: usageFromVertex(resp.UsageMetadata, text),
	}, nil
}

// billed attaches the usage of a rejected response to err.
func billed(resp *genai.GenerateContentResponse, err error) error {
	if resp == nil {
		return err
	}
	if usage, ok := reportedVertexUsage(resp.UsageMetadata); ok {
		return WithUsage(err, usage)
	}
	return err
}

// extractVertexText concatenates the text parts of the first candidate. A
// response with no candidates is an error; a candidate with no text is an
// empty page.
func extractVertexText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety || candidate.FinishReason == genai.FinishReasonRecitation {
		return "", fmt.Errorf("gemini stopped generation: %s", candidate.FinishReason)
	}
	if candidate.Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String(), nil
}
