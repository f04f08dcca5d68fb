package domain

import "time"

// PeerID is the authenticated user's id. It doubles as the transport
// addressing key and the membership-store participant key, so exactly one
// live endpoint may exist per id at a time.
type PeerID string

// MeetingID addresses one room session.
type MeetingID string

type Participant struct {
	ID           PeerID
	DisplayName  string
	FirstName    string
	LastName     string
	AvatarURL    string
	DiscoveredAt time.Time
}

// Placeholder reports whether this record carries only an id, i.e. it came
// from a minimal gossip entry and still needs a profile fetch.
func (p *Participant) Placeholder() bool {
	return p.DisplayName == "" && p.FirstName == "" && p.LastName == ""
}

// MergeFrom copies every non-empty field of other into p. Additive only:
// a gossip entry can enrich a record but never blank a field.
func (p *Participant) MergeFrom(other Participant) {
	if other.DisplayName != "" {
		p.DisplayName = other.DisplayName
	}
	if other.FirstName != "" {
		p.FirstName = other.FirstName
	}
	if other.LastName != "" {
		p.LastName = other.LastName
	}
	if other.AvatarURL != "" {
		p.AvatarURL = other.AvatarURL
	}
}

// PresenceState is the per-participant mutable presence. Hand and mute are
// peer-originated; Speaking is derived locally from inbound audio and never
// transmitted.
type PresenceState struct {
	HandRaised bool
	Muted      bool
	Speaking   bool
}

// Reaction is an ephemeral emoji broadcast. Receipt schedules a local
// auto-expiring entry; there is no delivery guarantee beyond the channel's.
type Reaction struct {
	From      PeerID
	Symbol    string
	ExpiresAt time.Time
}

type ChatKind string

const (
	ChatText  ChatKind = "text"
	ChatStats ChatKind = "stats"
)

type ChatMessage struct {
	From   PeerID
	Kind   ChatKind
	Body   string
	SentAt time.Time
}
