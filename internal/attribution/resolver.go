package attribution

import (
	"context"
	"fmt"
	"time"

	"github.com/shoptrail/attribution/internal/metrics"
	"github.com/shoptrail/attribution/internal/storage"

	"github.com/shoptrail/attribution/internal/models"
)

// Resolver decides which visit gets the credit for an order. The
// policy is last-touch: among a session's visits still inside their
// attribution window, the most recent one wins. Credit always goes to
// the specific campaign that produced the visit; parent roll-ups are
// a reporting concern.
type Resolver struct {
	visits  storage.VisitStore
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewResolver(visits storage.VisitStore, m *metrics.Metrics) *Resolver {
	return &Resolver{
		visits:  visits,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns the credit-worthy visit for the session, or
// (nil, nil) when no visit is attributable. Converted visits are
// skipped so a visit another writer just converted cannot be credited
// with a second order.
func (r *Resolver) Resolve(ctx context.Context, sessionID string) (*models.Visit, error) {
	return r.ResolveAt(ctx, sessionID, r.now())
}

// ResolveAt is Resolve against an explicit instant.
func (r *Resolver) ResolveAt(ctx context.Context, sessionID string, now time.Time) (*models.Visit, error) {
	start := time.Now()
	v, err := r.visits.LastActiveVisit(ctx, sessionID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve attribution: %w", err)
	}
	if r.metrics != nil {
		outcome := "attributed"
		if v == nil {
			outcome = "none"
		}
		r.metrics.RecordResolve(outcome, time.Since(start))
	}
	return v, nil
}
