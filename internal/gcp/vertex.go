package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// --- Transcriber Model Prompts ---
const TranscriberSystemPrompt = "You are a document transcription engine. You convert scanned book pages into clean markdown while preserving the page layout exactly."
const TranscriberUserPrompt = `Extract all text on this page as clean markdown with the layout preserved.

Follow these formatting rules:

Line breaks: Keep every line break and spacing exactly as shown. Use markdown hard line breaks (two spaces and a newline) for single line breaks and blank lines only for real paragraph breaks.
Structure: Keep indentation and alignment. Convert italics, bold and headings into markdown.
Tables of contents: Preserve dot leaders.
Footnotes, headers and page numbers: Keep them in their original positions and numbering.
HTML: Never emit <br>, <p>, <div> or any other HTML tag. Use markdown only.

Output only the markdown for the page.`

// --- Translator Model Prompts ---
const TranslatorSystemPrompt = "You are a literary and academic translator. You translate markdown documents into the target language without altering their markdown structure."
const TranslatorUserPromptTemplate = `Translate the following markdown text to %s.

Formatting rules:
- Keep all markdown formatting, structure, line breaks and spacing exactly as they are.
- Keep footnotes, page numbers and structural elements in place.

Translation rules:
- Translate only the main language content.
- Keep proper nouns, place names and technical terms appropriate to the field.
- Keep an academic tone and terminology.
- Preserve citations and references exactly.

Output clean markdown only, with no HTML tags and no code fences.

---

%s`

// VertexClient holds the pre-configured generative models used by the pipeline.
type VertexClient struct {
	TranscriberModel *genai.GenerativeModel
	TranslatorModel  *genai.GenerativeModel
	ModelName        string
	baseClient       *genai.Client
}

// NewVertexClient creates a new client holding the transcription and translation models.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	transcriberModel := baseClient.GenerativeModel(modelName)
	transcriberModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(TranscriberSystemPrompt)},
	}
	transcriberModel.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}

	translatorModel := baseClient.GenerativeModel(modelName)
	translatorModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(TranslatorSystemPrompt)},
	}
	translatorModel.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.2),
	}

	return &VertexClient{
		TranscriberModel: transcriberModel,
		TranslatorModel:  translatorModel,
		ModelName:        modelName,
		baseClient:       baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
