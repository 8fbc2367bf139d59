package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/MegaGrindStone/gemini-chat/internal/models"
	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GeminiSDK relays prompts through the official Go SDK instead of raw REST calls. A client is created
// per call because every call may carry a different caller-supplied key.
//
// The SDK retries some failure statuses on its own. Every call goes through singleAttemptTransport, so the
// provider sees exactly one request and its status reaches the caller unchanged.
type GeminiSDK struct {
	endpoint string
	model    string
	prompt   models.Prompt

	client *http.Client

	logger *slog.Logger
}

// singleAttemptTransport sends the first request of a call and refuses any other. It sets the credential
// header itself, since the SDK skips its own key handling when given an HTTP client, and it turns a
// non-200 status into *UpstreamError, which the SDK's retry policy doesn't treat as retryable.
type singleAttemptTransport struct {
	base   http.RoundTripper
	apiKey string

	used atomic.Bool
}

var errSecondAttempt = errors.New("provider call already attempted")

// NewGeminiSDK creates a new GeminiSDK instance. An empty endpoint keeps the SDK default, an empty model
// falls back to GeminiDefaultModel. The transport of client carries the TLS settings, and its timeout
// bounds every call.
func NewGeminiSDK(endpoint, model string, prompt models.Prompt, client *http.Client, logger *slog.Logger) GeminiSDK {
	if model == "" {
		model = GeminiDefaultModel
	}
	if client == nil {
		client = NewHTTPClient(HTTPOptions{})
	}
	return GeminiSDK{
		endpoint: endpoint,
		model:    model,
		prompt:   prompt.WithDefaults(),
		client:   client,
		logger:   logger.With(slog.String("module", "gemini-sdk")),
	}
}

// Relay sends message as a single turn with the configured preamble and generation parameters, and
// returns the first candidate's first text part. Errors are mapped onto the same taxonomy as Gemini.Relay.
func (g GeminiSDK) Relay(ctx context.Context, apiKey, message string) (string, error) {
	if g.client.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.client.Timeout)
		defer cancel()
	}

	base := g.client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	httpClient := &http.Client{
		Transport: &singleAttemptTransport{base: base, apiKey: apiKey},
	}

	opts := []option.ClientOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
	}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create Gemini client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(g.model)
	model.SetTemperature(g.prompt.Params.Temperature)
	model.SetTopK(g.prompt.Params.TopK)
	model.SetTopP(g.prompt.Params.TopP)
	model.SetMaxOutputTokens(g.prompt.Params.MaxOutputTokens)

	resp, err := model.GenerateContent(ctx, genai.Text(g.prompt.Text(message)))
	if err != nil {
		return "", mapGenaiError(err)
	}

	return firstGenaiText(resp)
}

func (t *singleAttemptTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.used.CompareAndSwap(false, true) {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, errSecondAttempt
	}

	req = req.Clone(req.Context())
	req.Header.Set(geminiAPIKeyHeader, t.apiKey)

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := readBody(resp.Body)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: truncateBody(body)}
	}
	return resp, nil
}

func firstGenaiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.Join(ErrInvalidResponse, errors.New("no candidates found"))
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return "", errors.Join(ErrInvalidResponse, errors.New("first candidate has no parts"))
	}
	text, ok := cand.Content.Parts[0].(genai.Text)
	if !ok {
		return "", errors.Join(ErrInvalidResponse, fmt.Errorf("first part is %T, not text", cand.Content.Parts[0]))
	}
	return string(text), nil
}

func mapGenaiError(err error) error {
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) && gErr.Code != 0 {
		return &UpstreamError{StatusCode: gErr.Code, Body: gErr.Message}
	}

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPCode() > 0 {
		return &UpstreamError{StatusCode: apiErr.HTTPCode(), Body: apiErr.Reason()}
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return errors.Join(ErrInvalidResponse, err)
	}

	// Anything else never produced an HTTP status we can forward.
	return &TransportError{Err: err}
}
