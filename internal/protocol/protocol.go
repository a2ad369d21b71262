package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the discriminator carried in every envelope's "type" field.
type Type string

// Inbound envelope types.
const (
	TypeRegister            Type = "register"
	TypeSendFriendRequest   Type = "sendFriendRequest"
	TypeAcceptFriendRequest Type = "acceptFriendRequest"
	TypeRejectFriendRequest Type = "rejectFriendRequest"
	TypeSendGameInvite      Type = "sendGameInvite"
	TypeAcceptGameInvite    Type = "acceptGameInvite"
	TypeRejectGameInvite    Type = "rejectGameInvite"
)

// Outbound envelope types.
const (
	TypeOnlineUsers           Type = "onlineUsers"
	TypeUserOffline           Type = "userOffline"
	TypeFriendRequest         Type = "friendRequest"
	TypeFriendRequestAccepted Type = "friendRequestAccepted"
	TypeFriendRequestRejected Type = "friendRequestRejected"
	TypeGameInvite            Type = "gameInvite"
	TypeGameInviteAccepted    Type = "gameInviteAccepted"
	TypeGameInviteRejected    Type = "gameInviteRejected"
)

// ErrMissingType is returned by Decode for objects without a "type".
var ErrMissingType = errors.New("envelope has no type")

// envelope is the part of every message Decode looks at. The remaining
// fields are decoded by the handler for that type.
type envelope struct {
	Type Type `json:"type"`
}

// Decode returns the type of a raw envelope.
func Decode(data []byte) (Type, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return "", ErrMissingType
	}
	return env.Type, nil
}

// Encode marshals an outbound envelope.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}
