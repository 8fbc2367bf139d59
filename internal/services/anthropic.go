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

// Anthropic relays single-turn prompts to the Anthropic Messages API. The first content block of the
// reply plays the role of the first candidate's first part. Top-p is not sent: recent models reject it
// together with temperature.
type Anthropic struct {
	baseURL string
	model   string
	prompt  models.Prompt

	client *http.Client

	logger *slog.Logger
}

type anthropicChatRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int32              `json:"max_tokens"`
	Temperature float32            `json:"temperature"`
	TopK        int32              `json:"top_k,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string  `json:"type"`
		Text *string `json:"text"`
	} `json:"content"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	// AnthropicAPIEndpoint is the public Anthropic REST endpoint.
	AnthropicAPIEndpoint = "https://api.anthropic.com/v1"

	anthropicVersion = "2023-06-01"
)

// NewAnthropic creates a new Anthropic instance. An empty baseURL falls back to the public endpoint.
func NewAnthropic(baseURL, model string, prompt models.Prompt, client *http.Client, logger *slog.Logger) Anthropic {
	if baseURL == "" {
		baseURL = AnthropicAPIEndpoint
	}
	if client == nil {
		client = NewHTTPClient(HTTPOptions{})
	}
	return Anthropic{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		prompt:  prompt.WithDefaults(),
		client:  client,
		logger:  logger.With(slog.String("module", "anthropic")),
	}
}

// Relay sends message, prefixed with the configured preamble, as one user turn and returns the text of
// the first content block.
func (a Anthropic) Relay(ctx context.Context, apiKey, message string) (string, error) {
	reqBody := anthropicChatRequest{
		Model: a.model,
		Messages: []anthropicMessage{
			{Role: "user", Content: a.prompt.Text(message)},
		},
		MaxTokens:   a.prompt.Params.MaxOutputTokens,
		Temperature: a.prompt.Params.Temperature,
		TopK:        a.prompt.Params.TopK,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/messages", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body)
	if err != nil {
		return "", &TransportError{Err: fmt.Errorf("error reading response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		diag := truncateBody(body)
		var errResp anthropicError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			diag = fmt.Sprintf("%s: %s", errResp.Error.Type, errResp.Error.Message)
		}
		return "", &UpstreamError{StatusCode: resp.StatusCode, Body: diag}
	}

	var res anthropicResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", errors.Join(ErrInvalidResponse, fmt.Errorf("error unmarshaling response: %w", err))
	}
	if len(res.Content) == 0 || res.Content[0].Text == nil {
		a.logger.Debug("Unusable response body", slog.String("body", truncateBody(body)))
		return "", errors.Join(ErrInvalidResponse, errors.New("first content block has no text"))
	}

	return *res.Content[0].Text, nil
}
