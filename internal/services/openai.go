package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/gemini-chat/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI relays prompts to an OpenAI-compatible chat completion API. Choices play the role of
// candidates. The API has no top-k parameter, so that one generation parameter is not sent.
type OpenAI struct {
	baseURL string
	model   string
	prompt  models.Prompt

	httpClient *http.Client

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance. An empty baseURL keeps the library default.
func NewOpenAI(baseURL, model string, prompt models.Prompt, httpClient *http.Client, logger *slog.Logger) OpenAI {
	if httpClient == nil {
		httpClient = NewHTTPClient(HTTPOptions{})
	}
	return OpenAI{
		baseURL:    baseURL,
		model:      model,
		prompt:     prompt.WithDefaults(),
		httpClient: httpClient,
		logger:     logger.With(slog.String("module", "openai")),
	}
}

// Relay is a wrapper around the OpenAI chat completion API. It sends one user message built from the
// preamble and message, and returns the content of the first choice.
func (o OpenAI) Relay(ctx context.Context, apiKey, message string) (string, error) {
	cfg := goopenai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	cfg.HTTPClient = o.httpClient
	client := goopenai.NewClientWithConfig(cfg)

	req := goopenai.ChatCompletionRequest{
		Model: o.model,
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role:    goopenai.ChatMessageRoleUser,
				Content: o.prompt.Text(message),
			},
		},
		Temperature: o.prompt.Params.Temperature,
		TopP:        o.prompt.Params.TopP,
		MaxTokens:   int(o.prompt.Params.MaxOutputTokens),
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", mapOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.Join(ErrInvalidResponse, errors.New("no choices found"))
	}
	if resp.Choices[0].Message.Content == "" {
		o.logger.Warn("First choice has empty content",
			slog.String("finishReason", string(resp.Choices[0].FinishReason)))
	}

	return resp.Choices[0].Message.Content, nil
}

func mapOpenAIError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &UpstreamError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		if reqErr.HTTPStatusCode == http.StatusOK {
			return errors.Join(ErrInvalidResponse, err)
		}
		return &UpstreamError{StatusCode: reqErr.HTTPStatusCode, Body: fmt.Sprint(reqErr.Err)}
	}

	// A success status with a body that doesn't decode surfaces as a bare json error.
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return errors.Join(ErrInvalidResponse, err)
	}

	return &TransportError{Err: err}
}
