package normalize

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// DefaultModelName is used when GeminiConfig.Model is empty.
const DefaultModelName = "gemini-2.5-flash"

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	// Project and Location select Vertex AI instead of the Gemini API.
	Project  string
	Location string
}

// GeminiGenerator is a TextGenerator backed by Gemini structured output: the
// response MIME type is JSON and the response schema mirrors BankStatementData.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGeminiGenerator creates the client once; it is safe for concurrent use.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	cc := &genai.ClientConfig{HTTPOptions: genai.HTTPOptions{APIVersion: "v1beta"}}
	switch {
	case cfg.Project != "":
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	default:
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiGenerator{
		client: client,
		model:  model,
		config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    responseSchema(),
			Temperature:       genai.Ptr(cfg.Temperature),
		},
	}, nil
}

// Generate implements TextGenerator.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), g.config)
	if err != nil {
		return "", asBackendError(err)
	}
	text := resp.Text()
	if text == "" {
		reason := "no candidates"
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			reason = "blocked: " + string(resp.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("empty response from model (%s)", reason)
	}
	return text, nil
}

// asBackendError keeps context errors intact and converts genai API errors so
// the retry policy can read the status code.
func asBackendError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &BackendError{StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &BackendError{StatusCode: apiErrPtr.Code, Message: apiErrPtr.Message}
	}
	return err
}

var _ TextGenerator = (*GeminiGenerator)(nil)
