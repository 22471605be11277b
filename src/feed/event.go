package feed

import "time"

// Position event types.
const (
	EventOpened        = "position.opened"
	EventClosed        = "position.closed"
	EventBlocked       = "position.blocked"
	EventStuck         = "position.stuck"
	EventOrphaned      = "position.orphaned"
	EventQuantityFixed = "position.quantity_fixed"
	EventTPUpdated     = "position.tp_updated"
	EventMarket        = "position.market"
	EventCycle         = "cycle.completed"
)

// Event is one change pushed to dashboard subscribers.
type Event struct {
	Type       string    `json:"type"`
	PositionID uint      `json:"positionId,omitempty"`
	Venue      string    `json:"venue,omitempty"`
	Symbol     string    `json:"symbol,omitempty"`
	Status     string    `json:"status,omitempty"`
	TPStatus   string    `json:"tpStatus,omitempty"`
	Price      float64   `json:"price,omitempty"`
	PnL        float64   `json:"pnl,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher fans position events out to subscribers. Publish never blocks.
type Publisher interface {
	Publish(Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}
