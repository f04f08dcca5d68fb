package domain

import "errors"

var (
	ErrPeerNotFound     = errors.New("peer not found")
	ErrMeetingNotFound  = errors.New("meeting not found")
	ErrSessionNotOpen   = errors.New("no open session to peer")
	ErrAdmissionDenied  = errors.New("admission denied by host")
	ErrNotKnocking      = errors.New("user is not knocking")
	ErrEndpointReleased = errors.New("transport endpoint released")
	ErrStreamInactive   = errors.New("no active local stream of that kind")
)
