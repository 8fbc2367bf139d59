package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/MegaGrindStone/gemini-chat/internal/models"
)

// RelayClient sends messages through a relay endpoint instead of calling the provider directly. The
// prompt preamble and generation parameters are applied by the relay.
type RelayClient struct {
	url string

	client *http.Client
}

type relayEnvelope struct {
	Success  bool    `json:"success"`
	Response *string `json:"response"`
	Error    string  `json:"error"`
}

// NewRelayClient creates a new RelayClient posting to url.
func NewRelayClient(url string, client *http.Client) RelayClient {
	if client == nil {
		client = NewHTTPClient(HTTPOptions{})
	}
	return RelayClient{
		url:    url,
		client: client,
	}
}

// Relay posts message and apiKey to the relay endpoint and returns the reply text. Relay failures keep
// the relay's status code in *UpstreamError.
func (c RelayClient) Relay(ctx context.Context, apiKey, message string) (string, error) {
	jsonBody, err := json.Marshal(models.RelayRequest{
		Message: message,
		APIKey:  apiKey,
	})
	if err != nil {
		return "", fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body)
	if err != nil {
		return "", &TransportError{Err: fmt.Errorf("error reading response: %w", err)}
	}

	var env relayEnvelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode != http.StatusOK {
		diag := env.Error
		if decodeErr != nil || diag == "" {
			diag = truncateBody(body)
		}
		return "", &UpstreamError{StatusCode: resp.StatusCode, Body: diag}
	}

	if decodeErr != nil {
		return "", errors.Join(ErrInvalidResponse, fmt.Errorf("error decoding response: %w", decodeErr))
	}
	if !env.Success || env.Response == nil {
		return "", errors.Join(ErrInvalidResponse, errors.New("relay response has no text"))
	}

	return *env.Response, nil
}
