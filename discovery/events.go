package discovery

import "lanchat/models"

const (
	// EventPeerUpserted is emitted when a peer appears or its name or address changes.
	EventPeerUpserted EventType = "peer_upserted"
)

// EventType identifies peer discovery updates.
type EventType string

// Event carries discovery updates for UI/network consumers.
type Event struct {
	Type EventType
	Peer models.Peer
}

func peersEqual(a, b models.Peer) bool {
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.IP == b.IP &&
		a.Port == b.Port
}

func emitEvent(events chan Event, event Event) {
	select {
	case events <- event:
	default:
	}
}
