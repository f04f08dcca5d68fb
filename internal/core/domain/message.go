package domain

import (
	"encoding/json"
	"fmt"
)

// MessageType discriminates data-channel messages. Event variants (hand,
// mute) announce a toggle as it happens; -sync variants carry current state
// and are sent once when a session opens, so a late joiner never misses
// standing state.
type MessageType string

const (
	MsgChat        MessageType = "chat"
	MsgHand        MessageType = "hand"
	MsgHandSync    MessageType = "hand-sync"
	MsgMute        MessageType = "mute"
	MsgMuteSync    MessageType = "mute-sync"
	MsgReaction    MessageType = "reaction"
	MsgGossip      MessageType = "gossip"
	MsgScreenEnded MessageType = "screen-ended"
)

// Envelope is the wire frame for every data-channel message.
type Envelope struct {
	Type    MessageType     `json:"type"`
	From    PeerID          `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type ChatPayload struct {
	Kind ChatKind `json:"kind"`
	Body string   `json:"body"`
}

// FlagPayload carries a boolean presence value for hand/mute events and
// their sync variants.
type FlagPayload struct {
	Value bool `json:"value"`
}

type ReactionPayload struct {
	Symbol string `json:"symbol"`
}

// ParticipantInfo is the gossip wire form of a participant record. All
// fields except the id are optional; an entry with only an id is a
// placeholder that the receiver resolves out of band.
type ParticipantInfo struct {
	ID          PeerID `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

func (i ParticipantInfo) Participant() Participant {
	return Participant{
		ID:          i.ID,
		DisplayName: i.DisplayName,
		FirstName:   i.FirstName,
		LastName:    i.LastName,
		AvatarURL:   i.AvatarURL,
	}
}

func InfoOf(p Participant) ParticipantInfo {
	return ParticipantInfo{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		AvatarURL:   p.AvatarURL,
	}
}

// GossipPayload is the directory snapshot exchanged on session open: the
// sender's own descriptor plus everything it knows about everyone else.
type GossipPayload struct {
	Self  ParticipantInfo            `json:"self"`
	Peers map[PeerID]ParticipantInfo `json:"peers,omitempty"`
}

// NewEnvelope marshals payload into a typed envelope.
func NewEnvelope(t MessageType, from PeerID, payload interface{}) (Envelope, error) {
	env := Envelope{Type: t, From: from}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	env.Payload = raw
	return env, nil
}

// Decode unmarshals the envelope payload into out.
func (e Envelope) Decode(out interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("empty %s payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
