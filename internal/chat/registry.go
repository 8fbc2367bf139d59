package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MegaGrindStone/gemini-chat/internal/metrics"
)

// Registry keeps the live session of every browser client. Sessions are independent of each other; a
// client has at most one live session, replaced each time the page is loaded.
type Registry struct {
	transport Transport
	store     CredentialStore

	logger *slog.Logger

	mu       sync.Mutex
	byClient map[string]*Session
}

// NewRegistry creates a registry whose sessions send through transport and persist credentials in
// store. store may be nil, in which case credentials only live as long as the session.
func NewRegistry(transport Transport, store CredentialStore, logger *slog.Logger) *Registry {
	return &Registry{
		transport: transport,
		store:     store,
		logger:    logger.With(slog.String("module", "chat")),
		byClient:  make(map[string]*Session),
	}
}

// Open starts a fresh conversation for clientID, replacing the previous one, and restores the stored
// credential if there is one. A failure to read the store is logged and treated as no credential.
func (r *Registry) Open(ctx context.Context, clientID string) *Session {
	var credential string
	if r.store != nil {
		key, err := r.store.Credential(ctx, clientID)
		if err != nil {
			r.logger.Error("Failed to load credential",
				slog.String("client", clientID),
				slog.String("err", err.Error()))
		}
		credential = key
	}

	s := newSession(clientID, credential, r.transport, r.store, r.logger)

	r.mu.Lock()
	_, replaced := r.byClient[clientID]
	r.byClient[clientID] = s
	r.mu.Unlock()

	if !replaced {
		metrics.ActiveSessions.Inc()
	}
	return s
}

// Session returns the live session of clientID if its identifier is sessionID. A stale sessionID, from a
// page that has since been reloaded, is not found.
func (r *Registry) Session(clientID, sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byClient[clientID]
	if !ok || s.ID() != sessionID {
		return nil, false
	}
	s.touch(time.Now())
	return s, true
}

// EvictIdle drops every session not used since cutoff, except those with a turn in flight, and returns
// how many were dropped. A page still showing an evicted session gets "not found" and reloads.
func (r *Registry) EvictIdle(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted int
	for clientID, s := range r.byClient {
		if s.idleSince(cutoff) {
			delete(r.byClient, clientID)
			evicted++
		}
	}
	metrics.ActiveSessions.Sub(float64(evicted))
	return evicted
}

// RunEviction calls EvictIdle every interval with a cutoff of ttl ago, until ctx is done.
func (r *Registry) RunEviction(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.EvictIdle(now.Add(-ttl)); n > 0 {
				r.logger.Info("Evicted idle sessions", slog.Int("count", n), slog.Int("live", r.Len()))
			}
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byClient)
}
