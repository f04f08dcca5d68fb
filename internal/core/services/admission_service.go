package services

import (
	"context"
	"errors"
	"sync"

	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Admission is the knock/admit/deny state machine over the polled membership
// store: none → knocking → {accepted, denied}. The store status is never
// cached as authoritative; every transition re-derives from the latest poll,
// so host and guest may be on different poll phases without drift.
type Admission struct {
	client  ports.MembershipClient
	self    domain.PeerID
	logger  *zap.SugaredLogger
	metrics ports.MeshMetrics

	mu      sync.Mutex
	meeting domain.MeetingID
	phase   domain.AdmissionPhase
	knocked bool
}

func NewAdmission(self domain.PeerID, client ports.MembershipClient, metrics ports.MeshMetrics, logger *zap.SugaredLogger) *Admission {
	return &Admission{
		client:  client,
		self:    self,
		logger:  logger,
		metrics: metrics,
		phase:   domain.PhaseNone,
	}
}

// Join runs one admission attempt for the given meeting id, synthesizing an
// id when none is supplied. Idempotent: re-invoking with the phase already
// accepted is a no-op, and re-invoking while knocking does not re-knock.
// A denied phase is terminal until Reset.
func (a *Admission) Join(ctx context.Context, id domain.MeetingID) (domain.AdmissionPhase, error) {
	a.mu.Lock()
	if a.phase == domain.PhaseDenied {
		a.mu.Unlock()
		return domain.PhaseDenied, domain.ErrAdmissionDenied
	}
	if a.phase == domain.PhaseAccepted {
		phase := a.phase
		a.mu.Unlock()
		return phase, nil
	}
	if id == "" {
		if a.meeting == "" {
			a.meeting = domain.MeetingID(uuid.NewString())
		}
		id = a.meeting
	} else {
		a.meeting = id
	}
	a.mu.Unlock()

	meeting, err := a.client.GetMeeting(ctx, id)
	status := domain.StatusNotFound
	var host domain.PeerID
	switch {
	case err == nil:
		status = meeting.Status
		host = meeting.HostID
	case errors.Is(err, domain.ErrMeetingNotFound):
		// Brand-new meeting ids legitimately have no record yet; an
		// expected race, not an error.
	default:
		a.metrics.PollFailed()
		a.logger.Warnw("membership poll failed", "meeting", id, "error", err)
		return a.Phase(), nil
	}

	switch {
	case status == domain.StatusDenied:
		a.setPhase(domain.PhaseDenied)
		return domain.PhaseDenied, domain.ErrAdmissionDenied

	case host == a.self || status == domain.StatusAccepted:
		a.setPhase(domain.PhaseAccepted)
		return domain.PhaseAccepted, nil

	case status == domain.StatusPendingAdmission && a.hasKnocked():
		// Already requested, awaiting the host.
		a.setPhase(domain.PhaseKnocking)
		return domain.PhaseKnocking, nil

	default:
		a.setPhase(domain.PhaseKnocking)
		if a.hasKnocked() {
			return domain.PhaseKnocking, nil
		}
		if err := a.client.Knock(ctx, id, a.self); err != nil {
			// Does not block waiting; the next poll cycle recovers.
			a.logger.Warnw("knock submission failed", "meeting", id, "error", err)
			return domain.PhaseKnocking, nil
		}
		a.markKnocked()
		a.metrics.KnockSubmitted()
		return domain.PhaseKnocking, nil
	}
}

// Reset returns the machine to none, the only way out of denied. Manual
// retry starts a fresh knock from scratch.
func (a *Admission) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.phase = domain.PhaseNone
	a.knocked = false
}

func (a *Admission) Phase() domain.AdmissionPhase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// Meeting returns the resolved (possibly synthesized) meeting id.
func (a *Admission) Meeting() domain.MeetingID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.meeting
}

// PendingKnocks returns the users currently knocking, for the host's
// admission prompt.
func (a *Admission) PendingKnocks(ctx context.Context) ([]domain.PeerID, error) {
	id := a.Meeting()
	if id == "" {
		return nil, nil
	}
	meeting, err := a.client.GetMeeting(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrMeetingNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return meeting.KnockingUsers, nil
}

// Respond submits the host's admit/deny decision; the guest's next poll
// observes the mutated status and self-transitions.
func (a *Admission) Respond(ctx context.Context, user domain.PeerID, action domain.RespondAction) error {
	return a.client.Respond(ctx, a.Meeting(), user, action)
}

func (a *Admission) setPhase(phase domain.AdmissionPhase) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.phase != phase {
		a.logger.Infow("admission transition", "from", a.phase, "to", phase)
	}
	a.phase = phase
}

func (a *Admission) hasKnocked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.knocked
}

func (a *Admission) markKnocked() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.knocked = true
}
