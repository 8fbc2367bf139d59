package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/gemini-chat/internal/chat"
	"github.com/tmaxmax/go-sse"
)

var messagesSSEType = sse.Type("messages")

// HandleChats processes a message submitted from the chat page.
//
// The handler expects a "message" form field and the "session_id" of the page. Submitting empty text,
// submitting while a reply is pending, or submitting without a credential changes nothing; the current
// conversation is rendered back, with the credential prompt in the last case. Otherwise the user message
// is appended, the rendered messages include the thinking indicator, and the reply is pushed through
// Server-Sent Events once the outbound call completes.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, ok := m.session(w, r)
	if !ok {
		return
	}

	turn, outcome := sess.Submit(r.FormValue("message"))
	m.logger.Debug("Submit", slog.String("session", sess.ID()), slog.String("outcome", outcome.String()))

	if turn != nil {
		go m.runTurn(sess, turn)
	}

	m.writeMessages(w, sess)
}

// HandleClear resets the conversation of the page to the welcome message.
func (m Main) HandleClear(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.session(w, r)
	if !ok {
		return
	}

	sess.Clear()
	m.writeMessages(w, sess)
}

// HandleCredential sets the credential from the "api_key" form field. An empty key is rejected and the
// prompt stays open.
func (m Main) HandleCredential(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.session(w, r)
	if !ok {
		return
	}

	if !sess.SetCredential(r.Context(), r.FormValue("api_key")) {
		http.Error(w, "API key is required", http.StatusBadRequest)
		return
	}

	m.writeMessages(w, sess)
}

// HandleForgetCredential drops the credential, so the next send asks for a new one.
func (m Main) HandleForgetCredential(w http.ResponseWriter, r *http.Request) {
	sess, ok := m.session(w, r)
	if !ok {
		return
	}

	sess.ForgetCredential(r.Context())
	m.writeMessages(w, sess)
}

func (m Main) session(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	c, err := r.Cookie(clientCookieName)
	if err != nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return nil, false
	}

	sess, ok := m.sessions.Session(c.Value, r.FormValue("session_id"))
	if !ok {
		// The page was reloaded elsewhere or the server restarted.
		http.Error(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func (m Main) writeMessages(w http.ResponseWriter, sess *chat.Session) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := m.templates.ExecuteTemplate(w, "messages", sess.View()); err != nil {
		m.logger.Error("Failed to render messages",
			slog.String("session", sess.ID()),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) runTurn(sess *chat.Session, turn *chat.Turn) {
	ctx := context.Background()
	if m.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.turnTimeout)
		defer cancel()
	}

	turn.Run(ctx)

	m.publishMessages(sess)
}

func (m Main) publishMessages(sess *chat.Session) {
	rendered, err := m.render("messages", sess.View())
	if err != nil {
		m.logger.Error("Failed to render messages",
			slog.String("session", sess.ID()),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{
		Type: messagesSSEType,
	}
	msg.AppendData(rendered)
	if err := m.sseSrv.Publish(&msg, sessionTopic(sess.ID())); err != nil {
		m.logger.Error("Failed to publish messages",
			slog.String("session", sess.ID()),
			slog.String(errLoggerKey, err.Error()))
	}
}
