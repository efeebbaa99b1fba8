package transform

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Lllllllleong/documenttranslator/internal/gcp"
	"github.com/Lllllllleong/documenttranslator/internal/models"
)

const (
	defaultChatURL     = "https://openrouter.ai/api/v1/chat/completions"
	defaultHTTPTimeout = 120 * time.Second
	maxErrorBodyChars  = 300
)

// OpenAIConfig captures the settings of an OpenAI-compatible chat endpoint.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	TargetLanguage string
}

// OpenAIService calls an OpenAI-compatible chat completion endpoint.
type OpenAIService struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

// OpenAIOption customizes the service.
type OpenAIOption func(*OpenAIService)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(s *OpenAIService) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// NewOpenAIService builds a service for the given endpoint.
func NewOpenAIService(cfg OpenAIConfig, opts ...OpenAIOption) *OpenAIService {
	s := &OpenAIService{
		cfg: OpenAIConfig{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
			Model:          strings.TrimSpace(cfg.Model),
			TargetLanguage: strings.TrimSpace(cfg.TargetLanguage),
		},
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.BaseURL == "" {
		s.cfg.BaseURL = defaultChatURL
	}
	if s.cfg.TargetLanguage == "" {
		s.cfg.TargetLanguage = "English"
	}
	return s
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string     `json:"role"`
	Content []chatPart `json:"content"`
}

type chatPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
	File     *chatFile     `json:"file,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatFile struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		// Some providers return the streaming shape even for non-streamed calls.
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke runs one transcription or translation call.
func (s *OpenAIService) Invoke(ctx context.Context, req Request) (Response, error) {
	op := fmt.Sprintf("chat %s page %d", req.Operation, req.PageIndex+1)
	if s.cfg.APIKey == "" {
		return Response{}, Permanent(op, errors.New("api key required"))
	}

	var system string
	var parts []chatPart
	switch req.Operation {
	case models.OperationTranscribe:
		system = gcp.TranscriberSystemPrompt
		parts = []chatPart{{Type: "text", Text: gcp.TranscriberUserPrompt}, unitPart(req)}
	case models.OperationTranslate:
		system = gcp.TranslatorSystemPrompt
		parts = []chatPart{{Type: "text", Text: fmt.Sprintf(gcp.TranslatorUserPromptTemplate, s.cfg.TargetLanguage, req.Text)}}
	default:
		return Response{}, Permanent(op, fmt.Errorf("unsupported operation %q", req.Operation))
	}

	payload := chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: []chatPart{{Type: "text", Text: system}}},
			{Role: "user", Content: parts},
		},
	}

	body, err := s.send(ctx, payload)
	if err != nil {
		return Response{}, classify(op, err)
	}

	var completion chatResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return Response{}, Transient(op, fmt.Errorf("decode response: %w", err))
	}
	// A response that is rejected below has still been billed.
	rejected := func(err error) error {
		if usage, ok := reportedJSONUsage(body); ok {
			return WithUsage(err, usage)
		}
		return err
	}
	if completion.Error != nil {
		return Response{}, rejected(Transient(op, fmt.Errorf("api error: %s", strings.TrimSpace(completion.Error.Message))))
	}
	if len(completion.Choices) == 0 {
		return Response{}, rejected(Transient(op, errors.New("empty choices")))
	}

	choice := completion.Choices[0]
	if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
		return Response{}, rejected(Permanent(op, fmt.Errorf("model refused: %s", refusal)))
	}
	text := firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text)
	text = CleanMarkdown(text)
	if IsRefusal(text) {
		return Response{}, rejected(Permanent(op, errors.New("response indicates refusal")))
	}

	return Response{
		Text:  text,
		Usage: usageFromJSON(body, text),
	}, nil
}

func (s *OpenAIService) send(ctx context.Context, payload chatRequest) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, Permanent("chat request", fmt.Errorf("encode body: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, Permanent("chat request", fmt.Errorf("new request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		statusErr := fmt.Errorf("http %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(body)), maxErrorBodyChars))
		return nil, classifyHTTPStatus("chat request", resp.StatusCode, statusErr)
	}
	return body, nil
}

func unitPart(req Request) chatPart {
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(req.Unit)
	if strings.HasPrefix(mimeType, "image/") {
		return chatPart{Type: "image_url", ImageURL: &chatImageURL{URL: dataURL}}
	}
	return chatPart{
		Type: "file",
		File: &chatFile{Filename: fmt.Sprintf("page_%05d.pdf", req.PageIndex+1), FileData: dataURL},
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
