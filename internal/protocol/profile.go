package protocol

import "encoding/json"

// Profile is a user record as supplied by the client. The relay reads the
// id, username and invite code and otherwise treats it as opaque: it is
// re-emitted with exactly the bytes it arrived with.
type Profile struct {
	ID         string
	Username   string
	InviteCode string

	raw json.RawMessage
}

// UnmarshalJSON keeps a copy of data alongside the fields the relay reads.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var fields struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		InviteCode string `json:"inviteCode"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	p.ID = fields.ID
	p.Username = fields.Username
	p.InviteCode = fields.InviteCode
	p.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes the original bytes, or the known fields for a Profile
// built in code.
func (p Profile) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	return json.Marshal(struct {
		ID         string `json:"id"`
		Username   string `json:"username,omitempty"`
		InviteCode string `json:"inviteCode,omitempty"`
	}{p.ID, p.Username, p.InviteCode})
}
