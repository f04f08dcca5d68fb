package domain

import "time"

// AdmissionStatus is the membership-store status for a meeting, as observed
// by polling. The store is eventually consistent: a brand-new meeting id may
// legitimately resolve to StatusNotFound for a poll cycle or two.
type AdmissionStatus string

const (
	StatusNotFound         AdmissionStatus = "not_found"
	StatusPending          AdmissionStatus = "pending"
	StatusPendingAdmission AdmissionStatus = "pending_admission"
	StatusAccepted         AdmissionStatus = "accepted"
	StatusDenied           AdmissionStatus = "denied"
)

// Meeting is the membership/admission record held by the external store.
type Meeting struct {
	ID            MeetingID
	HostID        PeerID
	InviteeID     PeerID // optional, set by the invite flow
	Status        AdmissionStatus
	KnockingUsers []PeerID
	CreatedAt     time.Time
}

// Knocking reports whether id is currently waiting for the host's answer.
func (m *Meeting) Knocking(id PeerID) bool {
	for _, u := range m.KnockingUsers {
		if u == id {
			return true
		}
	}
	return false
}

// RespondAction is a host decision on a knocking user.
type RespondAction string

const (
	ActionAdmit RespondAction = "admit"
	ActionDeny  RespondAction = "deny"
)

// AdmissionPhase is the local controller state, distinct from the store
// status it is derived from.
type AdmissionPhase string

const (
	PhaseNone     AdmissionPhase = "none"
	PhaseKnocking AdmissionPhase = "knocking"
	PhaseAccepted AdmissionPhase = "accepted"
	PhaseDenied   AdmissionPhase = "denied"
)
