// Package chat implements the chat client: a conversation, the credential used for outbound calls and the
// explicit state machine that allows at most one request in flight per session.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/gemini-chat/internal/metrics"
	"github.com/MegaGrindStone/gemini-chat/internal/models"
	"github.com/MegaGrindStone/gemini-chat/internal/services"
	"github.com/google/uuid"
)

// Transport sends one message with a credential and returns the reply text. It is implemented by the
// provider clients for direct mode and by services.RelayClient for proxy mode.
type Transport interface {
	Relay(ctx context.Context, apiKey, message string) (string, error)
}

// CredentialStore persists credentials across page loads, keyed by browser client. Absence of a
// credential is reported as an empty string, not an error.
type CredentialStore interface {
	Credential(ctx context.Context, clientID string) (string, error)
	SaveCredential(ctx context.Context, clientID, key string) error
	DeleteCredential(ctx context.Context, clientID string) error
}

// Session owns one conversation. All methods are safe for concurrent use; the send gate is enforced by the
// session state, so a second Submit while a turn is in flight is a no-op.
type Session struct {
	id       string
	clientID string

	transport Transport
	store     CredentialStore

	logger *slog.Logger

	mu         sync.Mutex
	messages   []models.Message
	state      State
	credential string
	version    uint64
	lastSeen   time.Time
}

// Turn is one outbound call started by Submit. Run must be called exactly once.
type Turn struct {
	id      string
	message string
	apiKey  string

	session *Session
}

func newSession(clientID, credential string, transport Transport, store CredentialStore, logger *slog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:         id,
		clientID:   clientID,
		transport:  transport,
		store:      store,
		logger:     logger.With(slog.String("session", id)),
		messages:   []models.Message{models.NewWelcomeMessage(time.Now())},
		state:      Idle(),
		credential: credential,
		version:    1,
		lastSeen:   time.Now(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// ClientID returns the identifier of the browser client owning the session.
func (s *Session) ClientID() string {
	return s.clientID
}

// Messages returns a copy of the conversation in display order.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Loading reports whether a request is in flight.
func (s *Session) Loading() bool {
	return s.State().Kind == StateAwaiting
}

// HasCredential reports whether a credential is set.
func (s *Session) HasCredential() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential != ""
}

// CanSend reports whether the send control should be enabled for the given input.
func (s *Session) CanSend(input string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(input) != "" && s.state.Kind != StateAwaiting && s.credential != ""
}

// Submit appends a user message with the trimmed text and moves the session to Awaiting. It returns the
// turn to run, or nil with the reason nothing happened: empty text, a turn already in flight, or a missing
// credential.
func (s *Session) Submit(text string) (*Turn, Outcome) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, OutcomeEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Kind == StateAwaiting {
		return nil, OutcomeBusy
	}
	if s.credential == "" {
		return nil, OutcomeCredentialRequired
	}

	s.messages = append(s.messages, models.NewMessage(models.RoleUser, text, time.Now()))

	t := &Turn{
		id:      uuid.NewString(),
		message: text,
		apiKey:  s.credential,
		session: s,
	}
	s.state = Awaiting(t.id)
	s.version++

	return t, OutcomeSent
}

// ID returns the request identifier of the turn.
func (t *Turn) ID() string {
	return t.id
}

// Run performs the outbound call and appends the assistant message: the reply on success, the fixed
// fallback text on any failure. The session leaves Awaiting in both cases. There is no cancellation
// beyond ctx; once started the call runs to completion.
func (t *Turn) Run(ctx context.Context) models.Message {
	reply, err := t.session.transport.Relay(ctx, t.apiKey, t.message)
	return t.session.complete(t, reply, err)
}

func (s *Session) complete(t *Turn, reply string, err error) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msg models.Message
	if err != nil {
		reason := failureReason(err)
		s.logger.Warn("Turn failed",
			slog.String("turn", t.id),
			slog.String("reason", reason),
			slog.String("err", err.Error()))
		metrics.ChatTurns.WithLabelValues("failure").Inc()

		msg = models.NewMessage(models.RoleAssistant, models.FallbackText, time.Now())
		s.finish(t.id, Failed(reason))
	} else {
		metrics.ChatTurns.WithLabelValues("success").Inc()

		msg = models.NewMessage(models.RoleAssistant, reply, time.Now())
		s.finish(t.id, Idle())
	}

	s.messages = append(s.messages, msg)
	s.version++
	return msg
}

// finish moves the session out of Awaiting, provided the completing turn is the one being awaited.
func (s *Session) finish(turnID string, next State) {
	if s.state.Kind != StateAwaiting || s.state.RequestID != turnID {
		s.logger.Error("Completed turn is not the awaited one",
			slog.String("turn", turnID),
			slog.String("state", s.state.String()))
		return
	}
	s.state = next
}

// Clear resets the conversation to a single fresh welcome message. An in-flight turn is not cancelled;
// its reply is appended after the new welcome message when it arrives.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = []models.Message{models.NewWelcomeMessage(time.Now())}
	s.version++
}

// SetCredential trims key and keeps it for the following turns. It also saves it in the credential store,
// on a best-effort basis: a store failure is logged and the session still uses the key. It returns false
// if key is empty after trimming, in which case nothing changes.
func (s *Session) SetCredential(ctx context.Context, key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}

	s.mu.Lock()
	s.credential = key
	s.version++
	s.mu.Unlock()

	if s.store == nil {
		return true
	}
	if err := s.store.SaveCredential(ctx, s.clientID, key); err != nil {
		s.logger.Error("Failed to save credential", slog.String("err", err.Error()))
	}
	return true
}

// ForgetCredential drops the credential from the session and the credential store.
func (s *Session) ForgetCredential(ctx context.Context) {
	s.mu.Lock()
	s.credential = ""
	s.version++
	s.mu.Unlock()

	if s.store == nil {
		return
	}
	if err := s.store.DeleteCredential(ctx, s.clientID); err != nil {
		s.logger.Error("Failed to delete credential", slog.String("err", err.Error()))
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// idleSince reports whether the session has not been used since cutoff and has no turn in flight.
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Kind != StateAwaiting && s.lastSeen.Before(cutoff)
}

func failureReason(err error) string {
	var upErr *services.UpstreamError
	var trErr *services.TransportError
	switch {
	case errors.As(err, &upErr):
		return fmt.Sprintf("upstream status %d", upErr.StatusCode)
	case errors.Is(err, services.ErrInvalidResponse):
		return "invalid response"
	case errors.As(err, &trErr):
		return "transport failure"
	default:
		return "request failed"
	}
}
