package core

import (
	"github.com/rs/zerolog"

	"github.com/vovakirdan/groupchat-server/internal/channel"
)

// Delivery summarizes one broadcast.
type Delivery struct {
	Delivered   int
	Unreachable []*Session
}

// Dispatcher fans frames out to the members of a channel.
type Dispatcher struct {
	registry *Registry
	log      *zerolog.Logger
}

// NewDispatcher builds a dispatcher over registry.
func NewDispatcher(registry *Registry, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, log: logger}
}

// Broadcast queues payload on every member of key. A member that cannot take
// the frame is removed from the channel and kicked; the remaining members
// are still served. Per-member order follows call order as long as callers
// serialize broadcasts for a key (see Registry.Sequence).
func (d *Dispatcher) Broadcast(key channel.Key, payload []byte) Delivery {
	var delivery Delivery
	for _, member := range d.registry.Members(key) {
		if err := member.Send(payload); err != nil {
			d.registry.Leave(key, member)
			member.Kick(err)
			delivery.Unreachable = append(delivery.Unreachable, member)
			d.log.Warn().
				Err(err).
				Str("channel", key.String()).
				Str("session_id", member.ID).
				Msg("dropping unreachable member")
			continue
		}
		delivery.Delivered++
	}
	return delivery
}
