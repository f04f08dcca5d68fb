package monitoring

import (
	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports mesh and meeting state. It implements
// ports.MeshMetrics for the agent side; the meeting server records through
// the Record* methods directly.
type PrometheusCollector struct {
	// Mesh gauges and counters
	sessionsOpen       prometheus.Gauge
	sessionsTotal      prometheus.Counter
	callsActive        *prometheus.GaugeVec
	callsTotal         *prometheus.CounterVec
	gossipMergedTotal  prometheus.Counter
	gossipEntriesAdded prometheus.Counter
	knocksTotal        prometheus.Counter
	pollFailuresTotal  prometheus.Counter

	// Meeting server metrics
	meetingsActive  prometheus.Gauge
	admissionsTotal *prometheus.CounterVec
	participants    *prometheus.GaugeVec
}

var _ ports.MeshMetrics = (*PrometheusCollector)(nil)

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "roomnet_sessions_open",
			Help: "Number of currently open data sessions",
		}),

		sessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "roomnet_sessions_total",
			Help: "Total number of data sessions opened",
		}),

		callsActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomnet_calls_active",
			Help: "Number of currently active media calls",
		}, []string{"kind"}),

		callsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "roomnet_calls_total",
			Help: "Total number of media calls started",
		}, []string{"kind"}),

		gossipMergedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "roomnet_gossip_merges_total",
			Help: "Total number of gossip payloads merged",
		}),

		gossipEntriesAdded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "roomnet_gossip_entries_added_total",
			Help: "Total number of new directory entries learned from gossip",
		}),

		knocksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "roomnet_knocks_total",
			Help: "Total number of knocks submitted",
		}),

		pollFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "roomnet_poll_failures_total",
			Help: "Total number of failed membership polls",
		}),

		meetingsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "roomnet_meetings_active",
			Help: "Number of meetings currently held by the store",
		}),

		admissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "roomnet_admissions_total",
			Help: "Total number of host admission decisions",
		}, []string{"action"}),

		participants: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomnet_meeting_participants",
			Help: "Number of participants per meeting",
		}, []string{"meeting_id"}),
	}
}

func (p *PrometheusCollector) SessionOpened() {
	p.sessionsOpen.Inc()
	p.sessionsTotal.Inc()
}

func (p *PrometheusCollector) SessionClosed() {
	p.sessionsOpen.Dec()
}

func (p *PrometheusCollector) CallStarted(kind domain.StreamKind) {
	p.callsActive.WithLabelValues(string(kind)).Inc()
	p.callsTotal.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) CallEnded(kind domain.StreamKind) {
	p.callsActive.WithLabelValues(string(kind)).Dec()
}

func (p *PrometheusCollector) GossipMerged(entries int) {
	p.gossipMergedTotal.Inc()
	if entries > 0 {
		p.gossipEntriesAdded.Add(float64(entries))
	}
}

func (p *PrometheusCollector) KnockSubmitted() {
	p.knocksTotal.Inc()
}

func (p *PrometheusCollector) PollFailed() {
	p.pollFailuresTotal.Inc()
}

func (p *PrometheusCollector) RecordMeetingCreated() {
	p.meetingsActive.Inc()
}

func (p *PrometheusCollector) RecordMeetingDeleted(id domain.MeetingID) {
	p.meetingsActive.Dec()
	p.participants.DeleteLabelValues(string(id))
}

func (p *PrometheusCollector) RecordAdmission(action domain.RespondAction) {
	p.admissionsTotal.WithLabelValues(string(action)).Inc()
}

func (p *PrometheusCollector) SetParticipantCount(id domain.MeetingID, count int) {
	p.participants.WithLabelValues(string(id)).Set(float64(count))
}
