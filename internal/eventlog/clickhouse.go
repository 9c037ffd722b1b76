package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultMaxBatch      = 1000
	bufferCapacity       = 10000
)

const insertEvents = `
	INSERT INTO attribution_events (
		type, campaign_id, session_id, visit_id, order_id,
		device_type, country, revenue, occurred_at
	)`

// ClickHouseSink buffers events in memory and flushes them to
// ClickHouse in batches, either when the buffer fills or on a timer.
// Publish never blocks: if the buffer is full the event is dropped and
// counted, which is acceptable for an analytics side channel.
type ClickHouseSink struct {
	conn   driver.Conn
	logger *zap.Logger

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	dropped int64
}

func NewClickHouseSink(addr, database, username, password string, logger *zap.Logger) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	s := &ClickHouseSink{
		conn:   conn,
		logger: logger,
		events: make(chan Event, bufferCapacity),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (s *ClickHouseSink) Publish(e Event) {
	select {
	case s.events <- e:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Dropped reports how many events were discarded due to backpressure.
func (s *ClickHouseSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *ClickHouseSink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, defaultMaxBatch)
	for {
		select {
		case e := <-s.events:
			batch = append(batch, e)
			if len(batch) >= defaultMaxBatch {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-s.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case e := <-s.events:
					batch = append(batch, e)
				default:
					if len(batch) > 0 {
						s.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (s *ClickHouseSink) flush(events []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batch, err := s.conn.PrepareBatch(ctx, insertEvents)
	if err != nil {
		s.logger.Warn("failed to prepare event batch", zap.Error(err))
		return
	}
	for _, e := range events {
		if err := batch.Append(
			e.Type, e.CampaignID, e.SessionID, e.VisitID, e.OrderID,
			e.DeviceType, e.Country, e.Revenue, e.OccurredAt,
		); err != nil {
			s.logger.Warn("failed to append event", zap.Error(err))
			return
		}
	}
	if err := batch.Send(); err != nil {
		s.logger.Warn("failed to send event batch", zap.Error(err))
		return
	}
	s.logger.Debug("event batch flushed", zap.Int("events", len(events)))
}

func (s *ClickHouseSink) Close(ctx context.Context) error {
	close(s.done)

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.conn.Close()
}
