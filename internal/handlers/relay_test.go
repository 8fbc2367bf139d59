package handlers_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MegaGrindStone/gemini-chat/internal/handlers"
	"github.com/MegaGrindStone/gemini-chat/internal/services"
)

func TestHandleRelay(t *testing.T) {
	tests := []struct {
		name         string
		method       string
		body         string
		upstream     *mockUpstream
		wantStatus   int
		wantError    string
		wantResponse string
		wantCalls    int
	}{
		{
			name:       "GET not allowed",
			method:     http.MethodGet,
			upstream:   &mockUpstream{},
			wantStatus: http.StatusMethodNotAllowed,
			wantError:  "Method not allowed",
		},
		{
			name:       "PUT not allowed",
			method:     http.MethodPut,
			body:       `{"message":"Hello","apiKey":"K"}`,
			upstream:   &mockUpstream{},
			wantStatus: http.StatusMethodNotAllowed,
			wantError:  "Method not allowed",
		},
		{
			name:       "Missing message",
			method:     http.MethodPost,
			body:       `{"apiKey":"K"}`,
			upstream:   &mockUpstream{},
			wantStatus: http.StatusBadRequest,
			wantError:  "Missing required parameters",
		},
		{
			name:       "Missing key",
			method:     http.MethodPost,
			body:       `{"message":"Hello"}`,
			upstream:   &mockUpstream{},
			wantStatus: http.StatusBadRequest,
			wantError:  "Missing required parameters",
		},
		{
			name:       "Empty key",
			method:     http.MethodPost,
			body:       `{"message":"Hello","apiKey":""}`,
			upstream:   &mockUpstream{},
			wantStatus: http.StatusBadRequest,
			wantError:  "Missing required parameters",
		},
		{
			name:       "Malformed body",
			method:     http.MethodPost,
			body:       `{"message":`,
			upstream:   &mockUpstream{},
			wantStatus: http.StatusBadRequest,
			wantError:  "Missing required parameters",
		},
		{
			name:   "Provider rejects key",
			method: http.MethodPost,
			body:   `{"message":"Hello","apiKey":"bad"}`,
			upstream: &mockUpstream{err: &services.UpstreamError{
				StatusCode: http.StatusUnauthorized,
				Body:       `{"error":{"message":"API key not valid"}}`,
			}},
			wantStatus: http.StatusUnauthorized,
			wantError:  "API request failed",
			wantCalls:  1,
		},
		{
			name:       "Provider rate limit",
			method:     http.MethodPost,
			body:       `{"message":"Hello","apiKey":"K"}`,
			upstream:   &mockUpstream{err: &services.UpstreamError{StatusCode: http.StatusTooManyRequests}},
			wantStatus: http.StatusTooManyRequests,
			wantError:  "API request failed",
			wantCalls:  1,
		},
		{
			name:       "Provider informational status",
			method:     http.MethodPost,
			body:       `{"message":"Hello","apiKey":"K"}`,
			upstream:   &mockUpstream{err: &services.UpstreamError{StatusCode: http.StatusContinue}},
			wantStatus: http.StatusBadGateway,
			wantError:  "API request failed",
			wantCalls:  1,
		},
		{
			name:       "Provider non-200 success status",
			method:     http.MethodPost,
			body:       `{"message":"Hello","apiKey":"K"}`,
			upstream:   &mockUpstream{err: &services.UpstreamError{StatusCode: http.StatusAccepted}},
			wantStatus: http.StatusAccepted,
			wantError:  "API request failed",
			wantCalls:  1,
		},
		{
			name:       "No text",
			method:     http.MethodPost,
			body:       `{"message":"Hello","apiKey":"K"}`,
			upstream:   &mockUpstream{err: errors.Join(services.ErrInvalidResponse, errors.New("no candidates"))},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Invalid API response",
			wantCalls:  1,
		},
		{
			name:       "Provider unreachable",
			method:     http.MethodPost,
			body:       `{"message":"Hello","apiKey":"K"}`,
			upstream:   &mockUpstream{err: &services.TransportError{Err: errors.New("connection refused")}},
			wantStatus: http.StatusBadGateway,
			wantError:  "API request failed",
			wantCalls:  1,
		},
		{
			name:         "Success",
			method:       http.MethodPost,
			body:         `{"message":"Hello","apiKey":"K"}`,
			upstream:     &mockUpstream{response: "Hi there!"},
			wantStatus:   http.StatusOK,
			wantResponse: "Hi there!",
			wantCalls:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main, err := handlers.NewMain(tt.upstream, newRegistry(tt.upstream, nil), discardLogger(), handlers.Options{})
			if err != nil {
				t.Fatal(err)
			}

			req := httptest.NewRequest(tt.method, "/relay", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			main.HandleRelay(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleRelay() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			if tt.upstream.callCount() != tt.wantCalls {
				t.Errorf("upstream calls = %d, want %d", tt.upstream.callCount(), tt.wantCalls)
			}

			var got map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("body %q is not JSON: %v", w.Body.String(), err)
			}

			if tt.wantError != "" {
				if got["error"] != tt.wantError {
					t.Errorf("error = %v, want %q", got["error"], tt.wantError)
				}
				if len(got) != 1 {
					t.Errorf("body = %v, want only the error field", got)
				}
				return
			}

			if got["success"] != true || got["response"] != tt.wantResponse {
				t.Errorf("body = %v, want success with %q", got, tt.wantResponse)
			}
		})
	}
}

func TestHandleRelayEmptyReply(t *testing.T) {
	up := &mockUpstream{response: ""}
	main, err := handlers.NewMain(up, newRegistry(up, nil), discardLogger(), handlers.Options{})
	if err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	main.HandleRelay(w, httptest.NewRequest(http.MethodPost, "/relay",
		strings.NewReader(`{"message":"Hello","apiKey":"K"}`)))

	if w.Code != http.StatusOK {
		t.Fatalf("HandleRelay() status = %v, want %v", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"response":""`) {
		t.Errorf("HandleRelay() body = %s, want an empty response field", w.Body.String())
	}
}

func TestHandleRelayForwardsKey(t *testing.T) {
	up := &mockUpstream{response: "ok"}
	main, err := handlers.NewMain(up, newRegistry(up, nil), discardLogger(), handlers.Options{})
	if err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	main.HandleRelay(w, httptest.NewRequest(http.MethodPost, "/relay",
		strings.NewReader(`{"message":"Hello","apiKey":"K123"}`)))

	if up.lastKey != "K123" {
		t.Errorf("upstream key = %q, want %q", up.lastKey, "K123")
	}
	if strings.Contains(w.Body.String(), "K123") {
		t.Error("HandleRelay() echoed the credential")
	}
}

func TestHandleRelayBodyTooLarge(t *testing.T) {
	up := &mockUpstream{response: "ok"}
	main, err := handlers.NewMain(up, newRegistry(up, nil), discardLogger(), handlers.Options{})
	if err != nil {
		t.Fatal(err)
	}

	body := `{"message":"` + strings.Repeat("a", 2<<20) + `","apiKey":"K"}`
	w := httptest.NewRecorder()
	main.HandleRelay(w, httptest.NewRequest(http.MethodPost, "/relay", strings.NewReader(body)))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("HandleRelay() status = %v, want %v", w.Code, http.StatusRequestEntityTooLarge)
	}
	if up.callCount() != 0 {
		t.Errorf("upstream calls = %d, want 0", up.callCount())
	}
}
