package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/christopherjohns/gorbrelay/internal/activity"
	"github.com/christopherjohns/gorbrelay/internal/presence"
	"github.com/christopherjohns/gorbrelay/internal/protocol"
)

// ErrMalformed wraps every decode or validation failure of an inbound
// envelope. Malformed messages are dropped; the connection stays open.
var ErrMalformed = errors.New("malformed message")

type handlerFunc func(from presence.Conn, data []byte) error

// Router decodes inbound envelopes and dispatches them by type.
type Router struct {
	registry *presence.Registry
	events   activity.Store
	handlers map[protocol.Type]handlerFunc
}

// Option configures a Router.
type Option func(*Router)

// WithActivity records registrations, forwards and drops in store.
func WithActivity(store activity.Store) Option {
	return func(rt *Router) {
		rt.events = store
	}
}

// NewRouter creates a Router relaying between sessions in registry.
func NewRouter(registry *presence.Registry, opts ...Option) *Router {
	rt := &Router{registry: registry}
	for _, opt := range opts {
		opt(rt)
	}
	rt.handlers = map[protocol.Type]handlerFunc{
		protocol.TypeRegister:            rt.register,
		protocol.TypeSendFriendRequest:   rt.sendFriendRequest,
		protocol.TypeAcceptFriendRequest: rt.acceptFriendRequest,
		protocol.TypeRejectFriendRequest: rt.rejectFriendRequest,
		protocol.TypeSendGameInvite:      rt.sendGameInvite,
		protocol.TypeAcceptGameInvite:    rt.acceptGameInvite,
		protocol.TypeRejectGameInvite:    rt.rejectGameInvite,
	}
	return rt
}

// Dispatch handles one inbound message from conn. Unknown types are
// ignored. A target that cannot be resolved is not an error: the message
// is dropped without anything being sent to anyone.
func (rt *Router) Dispatch(from presence.Conn, data []byte) error {
	typ, err := protocol.Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	h, ok := rt.handlers[typ]
	if !ok {
		slog.Debug("ignoring unknown message type", "conn", from.ID(), "type", typ)
		return nil
	}
	return h(from, data)
}

func decodePayload(typ protocol.Type, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, typ, err)
	}
	return nil
}

func (rt *Router) register(from presence.Conn, data []byte) error {
	var msg protocol.Register
	if err := decodePayload(protocol.TypeRegister, data, &msg); err != nil {
		return err
	}
	if msg.User == nil || msg.User.ID == "" {
		return fmt.Errorf("%w: register requires user.id", ErrMalformed)
	}

	rt.registry.Register(msg.User.ID, from, *msg.User)

	ev := activity.NewEvent(activity.KindRegister, string(protocol.TypeRegister))
	ev.UserID = msg.User.ID
	ev.InviteCode = msg.User.InviteCode
	rt.record(ev)
	return nil
}

func (rt *Router) sendFriendRequest(from presence.Conn, data []byte) error {
	var msg protocol.SendFriendRequest
	if err := decodePayload(protocol.TypeSendFriendRequest, data, &msg); err != nil {
		return err
	}
	targetUserID, ok := rt.registry.ResolveInviteCode(msg.TargetInviteCode)
	if !ok {
		ev := activity.NewEvent(activity.KindDrop, string(protocol.TypeFriendRequest))
		ev.UserID = profileID(msg.From)
		ev.InviteCode = msg.TargetInviteCode
		rt.record(ev)
		return nil
	}
	return rt.forward(protocol.TypeFriendRequest, targetUserID, profileID(msg.From), protocol.FriendRequest{
		Type:      protocol.TypeFriendRequest,
		RequestID: newRequestID(),
		From:      msg.From,
	})
}

func (rt *Router) acceptFriendRequest(from presence.Conn, data []byte) error {
	var msg protocol.AcceptFriendRequest
	if err := decodePayload(protocol.TypeAcceptFriendRequest, data, &msg); err != nil {
		return err
	}
	return rt.forward(protocol.TypeFriendRequestAccepted, msg.TargetUserID, profileID(msg.User), protocol.FriendRequestAccepted{
		Type: protocol.TypeFriendRequestAccepted,
		User: msg.User,
	})
}

func (rt *Router) rejectFriendRequest(from presence.Conn, data []byte) error {
	var msg protocol.RejectFriendRequest
	if err := decodePayload(protocol.TypeRejectFriendRequest, data, &msg); err != nil {
		return err
	}
	return rt.forward(protocol.TypeFriendRequestRejected, msg.TargetUserID, "", protocol.FriendRequestRejected{
		Type: protocol.TypeFriendRequestRejected,
	})
}

func (rt *Router) sendGameInvite(from presence.Conn, data []byte) error {
	var msg protocol.SendGameInvite
	if err := decodePayload(protocol.TypeSendGameInvite, data, &msg); err != nil {
		return err
	}
	return rt.forward(protocol.TypeGameInvite, msg.TargetUserID, profileID(msg.From), protocol.GameInvite{
		Type:     protocol.TypeGameInvite,
		GameType: msg.GameType,
		Stake:    msg.Stake,
		From:     msg.From,
	})
}

func (rt *Router) acceptGameInvite(from presence.Conn, data []byte) error {
	var msg protocol.AcceptGameInvite
	if err := decodePayload(protocol.TypeAcceptGameInvite, data, &msg); err != nil {
		return err
	}
	return rt.forward(protocol.TypeGameInviteAccepted, msg.TargetUserID, profileID(msg.User), protocol.GameInviteAccepted{
		Type:     protocol.TypeGameInviteAccepted,
		RoomID:   newRoomID(),
		GameType: msg.GameType,
		Stake:    msg.Stake,
		User:     msg.User,
	})
}

func (rt *Router) rejectGameInvite(from presence.Conn, data []byte) error {
	var msg protocol.RejectGameInvite
	if err := decodePayload(protocol.TypeRejectGameInvite, data, &msg); err != nil {
		return err
	}
	return rt.forward(protocol.TypeGameInviteRejected, msg.TargetUserID, profileID(msg.User), protocol.GameInviteRejected{
		Type: protocol.TypeGameInviteRejected,
		User: msg.User,
	})
}

// forward queues msg on the session registered under targetUserID, or
// drops it silently when there is none.
func (rt *Router) forward(typ protocol.Type, targetUserID, senderID string, msg any) error {
	ev := activity.NewEvent(activity.KindForward, string(typ))
	ev.UserID = senderID
	ev.TargetUserID = targetUserID

	target, ok := rt.registry.Get(targetUserID)
	if !ok {
		ev.Kind = activity.KindDrop
		rt.record(ev)
		return nil
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if !target.Conn.Send(data) {
		ev.Kind = activity.KindDrop
	}
	rt.record(ev)
	return nil
}

func (rt *Router) record(ev *activity.Event) {
	if rt.events != nil {
		rt.events.Append(ev)
	}
}

func profileID(p *protocol.Profile) string {
	if p == nil {
		return ""
	}
	return p.ID
}
