package chat

import "github.com/MegaGrindStone/gemini-chat/internal/models"

// View is the view-model of a session, bound to the page templates. Message text is carried as plain
// strings; the templates escape it, so no field ever holds markup.
type View struct {
	SessionID string
	Messages  []MessageView
	// Version grows with every change, so a page can tell a stale rendering from a newer one.
	Version uint64

	// Loading is true while a turn is in flight; the thinking indicator is shown and the send control is
	// disabled.
	Loading bool
	// NeedsCredential shows the credential prompt.
	NeedsCredential bool
	// ShowEmptyState shows the placeholder displayed while only the welcome message exists.
	ShowEmptyState bool
}

// MessageView is one rendered message.
type MessageView struct {
	ID        string
	Text      string
	Timestamp string
	IsUser    bool
}

// View returns the view-model of the current state. Calling it has no side effects.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]MessageView, len(s.messages))
	for i, m := range s.messages {
		msgs[i] = messageView(m)
	}

	return View{
		SessionID:       s.id,
		Messages:        msgs,
		Version:         s.version,
		Loading:         s.state.Kind == StateAwaiting,
		NeedsCredential: s.credential == "",
		ShowEmptyState:  len(s.messages) <= 1,
	}
}

func messageView(m models.Message) MessageView {
	return MessageView{
		ID:        m.ID,
		Text:      m.Text,
		Timestamp: m.Timestamp,
		IsUser:    m.IsUser(),
	}
}
