package presence

import (
	"log/slog"
	"sync"

	"github.com/christopherjohns/gorbrelay/internal/protocol"
)

// Conn is the outbound side of a live connection. Send must not block;
// it returns false when the message could not be queued.
type Conn interface {
	ID() string
	Send(data []byte) bool
}

// Session is one registered connection and the profile it registered with.
type Session struct {
	UserID  string
	Conn    Conn
	Profile protocol.Profile
}

// Registry maps user IDs to live sessions and invite codes to user IDs.
// A connection owns at most one session at a time. All three maps are
// guarded by mu, and presence broadcasts enumerate sessions while holding
// it, so no broadcast observes a half-applied mutation.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	inviteCodes map[string]string
	owners      map[Conn]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		inviteCodes: make(map[string]string),
		owners:      make(map[Conn]string),
	}
}

// Register stores a session for userID and sends the resulting online
// snapshot to every registered session, the new one included.
func (r *Registry) Register(userID string, conn Conn, profile protocol.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.put(userID, conn, profile)
	slog.Debug("user registered", "userId", userID, "conn", conn.ID(), "online", len(r.sessions))
	r.broadcastOnlineUsersLocked()
}

// put overwrites any previous session for userID and points the profile's
// invite code at it. An earlier owner of the same code is shadowed, and an
// older code of this user keeps resolving to userID. If conn was
// registered under a different user, that session is retired first; the
// snapshot that follows no longer lists it. Must hold mu.
func (r *Registry) put(userID string, conn Conn, profile protocol.Profile) {
	if prev, ok := r.owners[conn]; ok && prev != userID {
		r.dropLocked(prev)
	}
	if old, ok := r.sessions[userID]; ok && old.Conn != conn {
		delete(r.owners, old.Conn)
	}

	r.sessions[userID] = &Session{
		UserID:  userID,
		Conn:    conn,
		Profile: profile,
	}
	r.owners[conn] = userID
	if profile.InviteCode != "" {
		r.inviteCodes[profile.InviteCode] = userID
	}
}

// dropLocked removes userID's session and every invite code still pointing
// at it. Codes another user has since claimed are left alone. Must hold mu.
func (r *Registry) dropLocked(userID string) {
	s, ok := r.sessions[userID]
	if !ok {
		return
	}
	delete(r.sessions, userID)
	if r.owners[s.Conn] == userID {
		delete(r.owners, s.Conn)
	}
	for code, owner := range r.inviteCodes {
		if owner == userID {
			delete(r.inviteCodes, code)
		}
	}
}

// Get returns the session registered under userID.
func (r *Registry) Get(userID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	return s, ok
}

// ResolveInviteCode returns the user ID the code currently points at.
func (r *Registry) ResolveInviteCode(code string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.inviteCodes[code]
	return userID, ok
}

// RemoveByConnection drops the session conn owns, along with the invite
// codes pointing at that user, and tells the remaining sessions the user
// went offline. A connection that never registered, or whose user has
// since registered from another connection, removes nothing and
// broadcasts nothing.
func (r *Registry) RemoveByConnection(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.owners[conn]
	if !ok {
		return "", false
	}
	r.dropLocked(userID)
	slog.Debug("user offline", "userId", userID, "conn", conn.ID(), "online", len(r.sessions))
	r.broadcastUserOfflineLocked(userID)
	return userID, true
}

func (r *Registry) snapshotLocked() map[string]protocol.Profile {
	users := make(map[string]protocol.Profile, len(r.sessions))
	for userID, s := range r.sessions {
		users[userID] = s.Profile
	}
	return users
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
