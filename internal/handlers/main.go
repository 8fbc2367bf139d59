package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	geminichat "github.com/MegaGrindStone/gemini-chat"
	"github.com/MegaGrindStone/gemini-chat/internal/chat"
	"github.com/tmaxmax/go-sse"
)

// Upstream represents the provider the relay endpoint forwards to. It accepts a context, the caller's
// credential and message, and returns the reply text or an error from the services error taxonomy.
type Upstream interface {
	Relay(ctx context.Context, apiKey, message string) (string, error)
}

// Pinger reports whether a backing store is usable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Main handles the core functionality of the chat application, managing server-sent events,
// HTML templates, the chat sessions and the relay to the upstream provider.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	sessions *chat.Registry
	upstream Upstream
	store    Pinger

	turnTimeout time.Duration

	logger *slog.Logger
}

// Options holds the optional collaborators of Main.
type Options struct {
	// Store is checked by the health endpoint. Nil skips the check.
	Store Pinger
	// TurnTimeout bounds a chat turn started from the page. Zero leaves it to the transport.
	TurnTimeout time.Duration
}

const errLoggerKey = "err"

// NewMain creates a new Main instance with the provided upstream and session registry. It initializes
// the SSE server and parses the required HTML templates from the embedded filesystem. Every SSE client
// subscribes to the topic of the session it renders.
func NewMain(upstream Upstream, sessions *chat.Registry, logger *slog.Logger, opts Options) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		geminichat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic}

				sessionID := s.Req.URL.Query().Get("session_id")
				if sessionID != "" {
					topics = append(topics, sessionTopic(sessionID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates:   tmpl,
		sessions:    sessions,
		upstream:    upstream,
		store:       opts.Store,
		turnTimeout: opts.TurnTimeout,
		logger:      logger.With(slog.String("module", "handlers")),
	}, nil
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// HandleSSE serves the server-sent events stream of a page.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the Main instance's SSE server. It broadcasts a close message to all
// connected clients and waits up to 5 seconds for connections to terminate. After the timeout, any
// remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// Every SSE event needs a data field
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

func (m Main) render(name string, data any) (string, error) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return sb.String(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
