package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/gemini-chat/internal/chat"
	"github.com/google/uuid"
)

type homePageData struct {
	View chat.View
}

type healthResponse struct {
	Status    string            `json:"status"`
	Sessions  int               `json:"sessions"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

const (
	clientCookieName   = "client_id"
	clientCookieMaxAge = 365 * 24 * 60 * 60
)

// HandleHome renders the chat page. Every load starts a fresh conversation for the browser client, while
// the stored credential, if any, carries over.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	clientID := m.clientID(w, r)
	sess := m.sessions.Open(r.Context(), clientID)

	data := homePageData{
		View: sess.View(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// HandleHealth reports whether the server and its store are usable.
func (m Main) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Sessions:  m.sessions.Len(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if m.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp.Checks = map[string]string{"store": "pass"}
		if err := m.store.Ping(ctx); err != nil {
			m.logger.Error("Store ping failed", slog.String(errLoggerKey, err.Error()))
			resp.Checks["store"] = "fail"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}

// clientID returns the browser client identifier from its cookie, issuing a new one if the cookie is
// missing or malformed.
func (m Main) clientID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(clientCookieName); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     clientCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   clientCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
