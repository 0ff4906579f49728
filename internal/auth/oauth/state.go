package oauth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidState is returned for a state parameter that does not decode.
var ErrInvalidState = errors.New("invalid oauth state")

// State travels through the provider redirect and tells the callback who
// started the connection.
type State struct {
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId,omitempty"`
	Nonce          string `json:"nonce,omitempty"`
}

// Encode returns the base64url JSON form of s.
func (s State) Encode() string {
	raw, _ := json.Marshal(s)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeState parses a state produced by Encode. Padded standard base64 is
// accepted too.
func DecodeState(v string) (State, error) {
	raw, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		if raw, err = base64.StdEncoding.DecodeString(v); err != nil {
			return State{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if s.UserID == "" {
		return State{}, fmt.Errorf("%w: missing user id", ErrInvalidState)
	}
	return s, nil
}
