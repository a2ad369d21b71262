package presence

import (
	"log/slog"

	"github.com/christopherjohns/gorbrelay/internal/protocol"
)

// broadcastOnlineUsersLocked sends the full online snapshot to every
// registered session. Every session gets the whole map, so each register
// costs O(N) messages of O(N) size.
func (r *Registry) broadcastOnlineUsersLocked() {
	r.sendAllLocked(protocol.OnlineUsers{
		Type:  protocol.TypeOnlineUsers,
		Users: r.snapshotLocked(),
	})
}

func (r *Registry) broadcastUserOfflineLocked(userID string) {
	r.sendAllLocked(protocol.UserOffline{
		Type:   protocol.TypeUserOffline,
		UserID: userID,
	})
}

// sendAllLocked encodes msg once and queues it on every session.
// Conn.Send never blocks, so holding mu here cannot stall on a slow peer.
func (r *Registry) sendAllLocked(msg any) {
	data, err := protocol.Encode(msg)
	if err != nil {
		slog.Error("presence broadcast dropped", "error", err)
		return
	}
	for _, s := range r.sessions {
		s.Conn.Send(data)
	}
}
