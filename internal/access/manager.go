package access

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/tallyhr/accesscore/pkg/logger"
)

// Manager hands out the per-user session singletons consumed by the service
// layer. A user keeps the same session (and therefore the same cache and
// throttle) until their identity changes; login, logout and impersonation
// switches tear the old session down and build a fresh one.
type Manager struct {
	client    PolicyClient
	feed      ChangeFeed
	directory Directory
	cfg       SessionConfig

	mu       sync.Mutex
	sessions map[string]*Session
	log      *zap.Logger
}

// NewManager constructs a session manager.
func NewManager(client PolicyClient, feed ChangeFeed, directory Directory, cfg SessionConfig) (*Manager, error) {
	if client == nil {
		return nil, errors.New("access: policy client is required")
	}
	if directory == nil {
		return nil, errors.New("access: directory is required")
	}

	return &Manager{
		client:    client,
		feed:      feed,
		directory: directory,
		cfg:       cfg,
		sessions:  make(map[string]*Session),
		log:       logger.WithModule("session-manager"),
	}, nil
}

// Session returns the live session for the identity, building one on first
// use. A changed identity (role or managed departments) replaces the existing
// session so no stale decisions survive the switch.
func (m *Manager) Session(ctx context.Context, identity Identity) (*Session, error) {
	if identity.UserID == "" {
		return nil, errors.New("access: identity requires a user id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[identity.UserID]; ok {
		if sameIdentity(existing.Identity(), identity) {
			return existing, nil
		}
		m.log.Info("identity changed, rebuilding session", zap.String("user_id", identity.UserID))
		existing.Close()
		delete(m.sessions, identity.UserID)
	}

	session, err := NewSession(ctx, identity, m.client, m.feed, m.directory, m.cfg)
	if err != nil {
		return nil, err
	}
	m.sessions[identity.UserID] = session

	go session.Warm(context.WithoutCancel(ctx))
	return session, nil
}

// Evict tears down the session for a user, if any.
func (m *Manager) Evict(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[userID]; ok {
		session.Close()
		delete(m.sessions, userID)
	}
}

// Close tears down every live session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, session := range m.sessions {
		session.Close()
		delete(m.sessions, userID)
	}
}

func sameIdentity(a, b Identity) bool {
	return a.UserID == b.UserID &&
		a.Role == b.Role &&
		a.DepartmentID == b.DepartmentID &&
		slices.Equal(a.ManagedDepartments, b.ManagedDepartments)
}
