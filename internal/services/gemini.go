package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/gemini-chat/internal/models"
)

// Gemini relays single-turn prompts to the Gemini generateContent REST API. It builds the request by
// hand so that the provider's HTTP status can be reported back to relay callers unchanged.
type Gemini struct {
	baseURL string
	model   string
	prompt  models.Prompt

	client *http.Client

	logger *slog.Logger
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float32 `json:"temperature"`
	TopK            int32   `json:"topK"`
	TopP            float32 `json:"topP"`
	MaxOutputTokens int32   `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiCandidate struct {
	Content *struct {
		Parts []struct {
			Text *string `json:"text"`
		} `json:"parts"`
	} `json:"content"`
}

const (
	// GeminiAPIEndpoint is the public Gemini REST endpoint.
	GeminiAPIEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	// GeminiDefaultModel is the model used when none is configured.
	GeminiDefaultModel = "gemini-1.5-flash-latest"

	geminiAPIKeyHeader = "x-goog-api-key"
)

// NewGemini creates a new Gemini instance. An empty baseURL or model falls back to the public endpoint
// and GeminiDefaultModel. The client carries the timeout and TLS settings of every call.
func NewGemini(baseURL, model string, prompt models.Prompt, client *http.Client, logger *slog.Logger) Gemini {
	if baseURL == "" {
		baseURL = GeminiAPIEndpoint
	}
	if model == "" {
		model = GeminiDefaultModel
	}
	if client == nil {
		client = NewHTTPClient(HTTPOptions{})
	}
	return Gemini{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		prompt:  prompt.WithDefaults(),
		client:  client,
		logger:  logger.With(slog.String("module", "gemini")),
	}
}

// Relay sends message, prefixed with the configured preamble, as one conversational turn and returns the
// text of the first candidate. It issues exactly one request and never retries.
//
// A non-200 status yields *UpstreamError, a 200 without candidates[0].content.parts[0].text yields
// ErrInvalidResponse, and a network failure yields *TransportError.
func (g Gemini) Relay(ctx context.Context, apiKey, message string) (string, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{
			{
				Parts: []geminiPart{
					{Text: g.prompt.Text(message)},
				},
			},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     g.prompt.Params.Temperature,
			TopK:            g.prompt.Params.TopK,
			TopP:            g.prompt.Params.TopP,
			MaxOutputTokens: g.prompt.Params.MaxOutputTokens,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model), bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(geminiAPIKeyHeader, apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body)
	if err != nil {
		return "", &TransportError{Err: fmt.Errorf("error reading response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Body: truncateBody(body)}
	}

	text, err := extractGeminiText(body)
	if err != nil {
		g.logger.Debug("Unusable response body", slog.String("body", truncateBody(body)))
		return "", err
	}
	return text, nil
}

func extractGeminiText(body []byte) (string, error) {
	var res geminiResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", errors.Join(ErrInvalidResponse, fmt.Errorf("error unmarshaling response: %w", err))
	}
	if len(res.Candidates) == 0 {
		return "", errors.Join(ErrInvalidResponse, errors.New("no candidates found"))
	}
	content := res.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 || content.Parts[0].Text == nil {
		return "", errors.Join(ErrInvalidResponse, errors.New("first candidate has no text"))
	}
	return *content.Parts[0].Text, nil
}
