package handlers_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/gemini-chat/internal/chat"
	"github.com/MegaGrindStone/gemini-chat/internal/handlers"
	"github.com/MegaGrindStone/gemini-chat/internal/models"
)

type mockUpstream struct {
	mu      sync.Mutex
	calls   int
	lastKey string

	response string
	err      error
	// release, when set, blocks Relay until it's closed.
	release chan struct{}
}

type mockStore struct {
	mu   sync.Mutex
	keys map[string]string
	err  error
}

func TestNewMain(t *testing.T) {
	main, err := handlers.NewMain(&mockUpstream{}, newRegistry(&mockUpstream{}, nil), discardLogger(), handlers.Options{})
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}

	if main.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}
}

func TestHandleHome(t *testing.T) {
	store := &mockStore{keys: map[string]string{"7b0d5d49-4fa4-4a3e-8f55-8d0b1b1d6d0e": "K"}}
	main := newMain(t, &mockUpstream{}, store)

	tests := []struct {
		name          string
		cookie        string
		wantNewCookie bool
		wantModal     bool
	}{
		{
			name:          "First visit",
			wantNewCookie: true,
			wantModal:     true,
		},
		{
			name:          "Malformed cookie",
			cookie:        "not-a-uuid",
			wantNewCookie: true,
			wantModal:     true,
		},
		{
			name:   "Returning client with stored key",
			cookie: "7b0d5d49-4fa4-4a3e-8f55-8d0b1b1d6d0e",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "client_id", Value: tt.cookie})
			}
			w := httptest.NewRecorder()

			main.HandleHome(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("HandleHome() status = %v, want %v", w.Code, http.StatusOK)
			}

			body := w.Body.String()
			if !strings.Contains(body, "your AI assistant") {
				t.Errorf("HandleHome() body = %v, want to contain welcome message", body)
			}
			if !strings.Contains(body, `data-session-id="`) {
				t.Error("HandleHome() body has no session id")
			}

			gotCookie := cookieValue(w.Result(), "client_id") != ""
			if gotCookie != tt.wantNewCookie {
				t.Errorf("HandleHome() set cookie = %v, want %v", gotCookie, tt.wantNewCookie)
			}

			modalHidden := strings.Contains(body, `class="modal hidden"`)
			if modalHidden == tt.wantModal {
				t.Errorf("HandleHome() credential prompt shown = %v, want %v", !modalHidden, tt.wantModal)
			}
		})
	}
}

func TestHandleChats(t *testing.T) {
	tests := []struct {
		name         string
		method       string
		message      string
		credential   string
		staleSession bool
		wantStatus   int
		wantMessages int
		wantCalls    int
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:         "Stale session",
			method:       http.MethodPost,
			message:      "Hello",
			credential:   "K",
			staleSession: true,
			wantStatus:   http.StatusNotFound,
		},
		{
			name:         "Empty message",
			method:       http.MethodPost,
			message:      "   ",
			credential:   "K",
			wantStatus:   http.StatusOK,
			wantMessages: 1,
		},
		{
			name:         "No credential",
			method:       http.MethodPost,
			message:      "Hello",
			wantStatus:   http.StatusOK,
			wantMessages: 1,
		},
		{
			name:         "Sent",
			method:       http.MethodPost,
			message:      "Hello",
			credential:   "K",
			wantStatus:   http.StatusOK,
			wantMessages: 3,
			wantCalls:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &mockUpstream{response: "AI response"}
			store := &mockStore{keys: map[string]string{}}
			if tt.credential != "" {
				store.keys["client-1"] = tt.credential
			}
			sessions := newRegistry(up, store)
			main := newMainWithRegistry(t, up, sessions)

			sess := sessions.Open(context.Background(), "client-1")
			sessionID := sess.ID()
			if tt.staleSession {
				sessionID = "stale"
			}

			req := formRequest(tt.method, "/chat", url.Values{
				"message":    {tt.message},
				"session_id": {sessionID},
			})
			w := httptest.NewRecorder()

			main.HandleChats(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleChats() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			waitIdle(t, sess)

			if got := len(sess.Messages()); got != tt.wantMessages {
				t.Errorf("Messages() len = %d, want %d", got, tt.wantMessages)
			}
			if up.callCount() != tt.wantCalls {
				t.Errorf("upstream calls = %d, want %d", up.callCount(), tt.wantCalls)
			}
		})
	}
}

func TestHandleChatsRendersPlainText(t *testing.T) {
	up := &mockUpstream{response: "<b>bold</b>"}
	store := &mockStore{keys: map[string]string{"client-1": "K"}}
	sessions := newRegistry(up, store)
	main := newMainWithRegistry(t, up, sessions)
	sess := sessions.Open(context.Background(), "client-1")

	req := formRequest(http.MethodPost, "/chat", url.Values{
		"message":    {"<script>alert(1)</script>"},
		"session_id": {sess.ID()},
	})
	w := httptest.NewRecorder()

	main.HandleChats(w, req)

	body := w.Body.String()
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("HandleChats() rendered user text as markup")
	}
	if !strings.Contains(body, "&lt;script&gt;alert(1)&lt;/script&gt;") {
		t.Errorf("HandleChats() body = %v, want escaped user text", body)
	}
	if !strings.Contains(body, "AI is thinking") {
		t.Error("HandleChats() body has no thinking indicator")
	}

	waitIdle(t, sess)

	w = httptest.NewRecorder()
	main.HandleClear(w, formRequest(http.MethodPost, "/chat/clear", url.Values{"session_id": {sess.ID()}}))
	if strings.Contains(w.Body.String(), "&lt;script&gt;") {
		t.Error("HandleClear() kept the previous conversation")
	}
	if len(sess.Messages()) != 1 {
		t.Errorf("Messages() len after clear = %d, want 1", len(sess.Messages()))
	}
}

func TestHandleChatsFailure(t *testing.T) {
	up := &mockUpstream{err: errors.New("connection refused")}
	store := &mockStore{keys: map[string]string{"client-1": "K"}}
	sessions := newRegistry(up, store)
	main := newMainWithRegistry(t, up, sessions)
	sess := sessions.Open(context.Background(), "client-1")

	w := httptest.NewRecorder()
	main.HandleChats(w, formRequest(http.MethodPost, "/chat", url.Values{
		"message":    {"Hello"},
		"session_id": {sess.ID()},
	}))

	waitIdle(t, sess)

	msgs := sess.Messages()
	if len(msgs) != 3 {
		t.Fatalf("Messages() len = %d, want 3", len(msgs))
	}
	if msgs[2].Text != models.FallbackText {
		t.Errorf("last message = %q, want fallback text", msgs[2].Text)
	}
	if sess.State().Kind != chat.StateFailed {
		t.Errorf("State() = %v, want failed", sess.State())
	}
}

func TestHandleCredential(t *testing.T) {
	up := &mockUpstream{}
	store := &mockStore{keys: map[string]string{}}
	sessions := newRegistry(up, store)
	main := newMainWithRegistry(t, up, sessions)
	sess := sessions.Open(context.Background(), "client-1")

	w := httptest.NewRecorder()
	main.HandleCredential(w, formRequest(http.MethodPost, "/chat/credential", url.Values{
		"api_key":    {"  "},
		"session_id": {sess.ID()},
	}))
	if w.Code != http.StatusBadRequest {
		t.Errorf("HandleCredential() blank key status = %v, want %v", w.Code, http.StatusBadRequest)
	}

	w = httptest.NewRecorder()
	main.HandleCredential(w, formRequest(http.MethodPost, "/chat/credential", url.Values{
		"api_key":    {" K123 "},
		"session_id": {sess.ID()},
	}))
	if w.Code != http.StatusOK {
		t.Errorf("HandleCredential() status = %v, want %v", w.Code, http.StatusOK)
	}
	if store.key("client-1") != "K123" {
		t.Errorf("stored key = %q, want %q", store.key("client-1"), "K123")
	}
	if !strings.Contains(w.Body.String(), `data-needs-credential="false"`) {
		t.Error("HandleCredential() still asks for a credential")
	}

	w = httptest.NewRecorder()
	main.HandleForgetCredential(w, formRequest(http.MethodPost, "/chat/credential/forget", url.Values{
		"session_id": {sess.ID()},
	}))
	if store.key("client-1") != "" {
		t.Error("HandleForgetCredential() left the key in the store")
	}
	if sess.HasCredential() {
		t.Error("HandleForgetCredential() left the key in the session")
	}
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		storeErr   error
		wantStatus int
	}{
		{
			name:       "Healthy",
			wantStatus: http.StatusOK,
		},
		{
			name:       "Store down",
			storeErr:   errors.New("database not open"),
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{err: tt.storeErr}
			main, err := handlers.NewMain(&mockUpstream{}, newRegistry(&mockUpstream{}, store), discardLogger(),
				handlers.Options{Store: store})
			if err != nil {
				t.Fatal(err)
			}

			w := httptest.NewRecorder()
			main.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("HandleHealth() status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}
}

func newRegistry(up *mockUpstream, store *mockStore) *chat.Registry {
	if store == nil {
		return chat.NewRegistry(up, nil, discardLogger())
	}
	return chat.NewRegistry(up, store, discardLogger())
}

func newMain(t *testing.T, up *mockUpstream, store *mockStore) handlers.Main {
	t.Helper()
	return newMainWithRegistry(t, up, newRegistry(up, store))
}

func newMainWithRegistry(t *testing.T, up *mockUpstream, sessions *chat.Registry) handlers.Main {
	t.Helper()
	main, err := handlers.NewMain(up, sessions, discardLogger(), handlers.Options{TurnTimeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = main.Shutdown(context.Background()) })
	return main
}

func formRequest(method, target string, form url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "client_id", Value: "client-1"})
	return req
}

func waitIdle(t *testing.T, sess *chat.Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for sess.Loading() {
		if time.Now().After(deadline) {
			t.Fatal("turn did not complete")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func cookieValue(resp *http.Response, name string) string {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (m *mockUpstream) Relay(ctx context.Context, apiKey, _ string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.lastKey = apiKey
	release := m.release
	m.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.response, m.err
}

func (m *mockUpstream) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockStore) Credential(_ context.Context, clientID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[clientID], nil
}

func (m *mockStore) SaveCredential(_ context.Context, clientID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]string)
	}
	m.keys[clientID] = key
	return nil
}

func (m *mockStore) DeleteCredential(_ context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, clientID)
	return nil
}

func (m *mockStore) Ping(context.Context) error {
	return m.err
}

func (m *mockStore) key(clientID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[clientID]
}
