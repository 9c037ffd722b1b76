package attribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoptrail/attribution/internal/eventlog"
	"github.com/shoptrail/attribution/internal/metrics"
	"github.com/shoptrail/attribution/internal/models"
	"github.com/shoptrail/attribution/internal/storage"
)

// Recorder turns confirmed orders into conversions. The store's
// RecordConversion is the atomic unit; the recorder adds resolution,
// validation and the side channels.
type Recorder struct {
	visits   storage.VisitStore
	resolver *Resolver
	events   eventlog.Sink
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewRecorder(visits storage.VisitStore, resolver *Resolver, logger *zap.Logger) *Recorder {
	return &Recorder{
		visits:   visits,
		resolver: resolver,
		events:   eventlog.Noop{},
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithEventSink sets the analytics event sink.
func (r *Recorder) WithEventSink(s eventlog.Sink) *Recorder {
	r.events = s
	return r
}

// WithMetrics sets the prometheus metrics.
func (r *Recorder) WithMetrics(m *metrics.Metrics) *Recorder {
	r.metrics = m
	return r
}

// Record creates the conversion for a visit. Revenue is snapshotted
// as given and never recomputed from the order later. A visit can
// convert at most once: the second writer gets models.ErrConflict.
func (r *Recorder) Record(ctx context.Context, visitID, orderID, customerID string, revenue float64) (*models.Conversion, error) {
	if orderID == "" {
		return nil, fmt.Errorf("order_id is required")
	}
	if revenue < 0 {
		return nil, fmt.Errorf("revenue must be >= 0")
	}

	v, err := r.visits.GetVisit(ctx, visitID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up visit: %w", err)
	}
	if v == nil {
		return nil, fmt.Errorf("visit %s: %w", visitID, models.ErrNotFound)
	}

	conv := &models.Conversion{
		ID:          uuid.New().String(),
		CampaignID:  v.CampaignID,
		VisitID:     visitID,
		OrderID:     orderID,
		CustomerID:  customerID,
		Revenue:     revenue,
		ConvertedAt: r.now(),
	}
	if err := r.visits.RecordConversion(ctx, conv); err != nil {
		if errors.Is(err, models.ErrConflict) && r.metrics != nil {
			r.metrics.RecordConversionConflict()
		}
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.RecordConversion(conv.CampaignID, revenue)
	}
	r.events.Publish(eventlog.Event{
		Type:       "conversion",
		CampaignID: conv.CampaignID,
		SessionID:  v.SessionID,
		VisitID:    visitID,
		OrderID:    orderID,
		Revenue:    revenue,
		OccurredAt: conv.ConvertedAt,
	})
	r.logger.Info("conversion recorded",
		zap.String("conversion_id", conv.ID),
		zap.String("campaign_id", conv.CampaignID),
		zap.String("order_id", orderID),
		zap.Float64("revenue", revenue))
	return conv, nil
}

// AttributeOrder is the order-confirmation flow: resolve the session's
// credit-worthy visit and record the conversion against it. A session
// with nothing to attribute is a clean no-op returning (nil, nil);
// order placement must never fail because marketing attribution came
// up empty.
func (r *Recorder) AttributeOrder(ctx context.Context, sessionID, orderID, customerID string, orderTotal float64) (*models.Conversion, error) {
	if sessionID == "" {
		return nil, nil
	}
	v, err := r.resolver.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		r.logger.Debug("no attribution for order",
			zap.String("session_id", sessionID),
			zap.String("order_id", orderID))
		return nil, nil
	}
	return r.Record(ctx, v.ID, orderID, customerID, orderTotal)
}

// GetConversion returns a conversion by id, models.ErrNotFound when
// absent.
func (r *Recorder) GetConversion(ctx context.Context, id string) (*models.Conversion, error) {
	c, err := r.visits.GetConversion(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversion: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("conversion %s: %w", id, models.ErrNotFound)
	}
	return c, nil
}
