package eventlog

import (
	"context"
	"time"
)

// Event is one append-only row in the analytics event stream. The
// stream feeds offline analysis; the relational store remains the
// source of truth for everything the API serves.
type Event struct {
	Type       string // "visit" or "conversion"
	CampaignID string
	SessionID  string
	VisitID    string
	OrderID    string
	DeviceType string
	Country    string
	Revenue    float64
	OccurredAt time.Time
}

// Sink receives events. Implementations must be safe for concurrent
// use and must never block the request path on downstream latency.
type Sink interface {
	Publish(e Event)
	Close(ctx context.Context) error
}

// Noop discards everything. Used when no event store is configured.
type Noop struct{}

func (Noop) Publish(Event)                {}
func (Noop) Close(context.Context) error { return nil }
