package monitoring

import (
	"roomnet/internal/core/domain"
	"roomnet/internal/core/ports"
)

// Nop discards every metric. Used when monitoring is disabled.
type Nop struct{}

var _ ports.MeshMetrics = Nop{}

func (Nop) SessionOpened()                {}
func (Nop) SessionClosed()                {}
func (Nop) CallStarted(domain.StreamKind) {}
func (Nop) CallEnded(domain.StreamKind)   {}
func (Nop) GossipMerged(int)              {}
func (Nop) KnockSubmitted()               {}
func (Nop) PollFailed()                   {}
