package protocol

import "encoding/json"

// Inbound payloads. Each is decoded from the whole envelope object.

type Register struct {
	User *Profile `json:"user"`
}

type SendFriendRequest struct {
	TargetInviteCode string   `json:"targetInviteCode"`
	From             *Profile `json:"from"`
}

type AcceptFriendRequest struct {
	TargetUserID string   `json:"targetUserId"`
	User         *Profile `json:"user"`
}

type RejectFriendRequest struct {
	TargetUserID string `json:"targetUserId"`
}

// Stake is passed through untouched so clients may use any JSON number.
type SendGameInvite struct {
	TargetUserID string          `json:"targetUserId"`
	GameType     string          `json:"gameType"`
	Stake        json.RawMessage `json:"stake"`
	From         *Profile        `json:"from"`
}

type AcceptGameInvite struct {
	TargetUserID string          `json:"targetUserId"`
	GameType     string          `json:"gameType"`
	Stake        json.RawMessage `json:"stake"`
	User         *Profile        `json:"user"`
}

type RejectGameInvite struct {
	TargetUserID string   `json:"targetUserId"`
	User         *Profile `json:"user"`
}

// Outbound envelopes. Fields the sender left out are omitted.

type OnlineUsers struct {
	Type  Type               `json:"type"`
	Users map[string]Profile `json:"users"`
}

type UserOffline struct {
	Type   Type   `json:"type"`
	UserID string `json:"userId"`
}

type FriendRequest struct {
	Type      Type     `json:"type"`
	RequestID string   `json:"requestId"`
	From      *Profile `json:"from,omitempty"`
}

type FriendRequestAccepted struct {
	Type Type     `json:"type"`
	User *Profile `json:"user,omitempty"`
}

type FriendRequestRejected struct {
	Type Type `json:"type"`
}

type GameInvite struct {
	Type     Type            `json:"type"`
	GameType string          `json:"gameType,omitempty"`
	Stake    json.RawMessage `json:"stake,omitempty"`
	From     *Profile        `json:"from,omitempty"`
}

type GameInviteAccepted struct {
	Type     Type            `json:"type"`
	RoomID   string          `json:"roomId"`
	GameType string          `json:"gameType,omitempty"`
	Stake    json.RawMessage `json:"stake,omitempty"`
	User     *Profile        `json:"user,omitempty"`
}

type GameInviteRejected struct {
	Type Type     `json:"type"`
	User *Profile `json:"user,omitempty"`
}
