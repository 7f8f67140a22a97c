// Package analytics implements the Tiation analytics service client:
// event tracking with an offline spool, aggregation queries, and raw
// event exports.
package analytics

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	sdkerrors "github.com/tiation/sdk-go/pkg/errors"
	"github.com/tiation/sdk-go/pkg/logging"
	"github.com/tiation/sdk-go/pkg/telemetry"
	"github.com/tiation/sdk-go/pkg/transport"
)

const serviceName = "analytics"

// Options configures the analytics service.
type Options struct {
	// SpoolPath enables the offline event buffer when non-empty.
	SpoolPath     string
	SpoolMax      int
	FlushInterval time.Duration
	BatchSize     int
	Logger        *logging.Logger
}

// Service is the analytics API client.
type Service struct {
	client *transport.Client
	logger *logging.Logger

	spool     *Spool
	batchSize int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the analytics service. When opts.SpoolPath is set, a
// background flusher replays spooled events every opts.FlushInterval.
func New(client *transport.Client, opts Options) (*Service, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}

	s := &Service{
		client:    client,
		logger:    opts.Logger,
		batchSize: opts.BatchSize,
	}

	if opts.SpoolPath != "" {
		spool, err := OpenSpool(opts.SpoolPath, opts.SpoolMax)
		if err != nil {
			return nil, err
		}
		s.spool = spool

		interval := opts.FlushInterval
		if interval <= 0 {
			interval = 5 * time.Second
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.flushLoop(ctx, interval)
	}

	return s, nil
}

// Track sends a single event. The SDK assigns an ID and timestamp when
// missing. If delivery fails with a retryable error and the spool is
// enabled, the event is buffered for later replay instead of being lost.
func (s *Service) Track(ctx context.Context, event Event) error {
	if event.Name == "" {
		return sdkerrors.New(sdkerrors.ErrCodeInvalidInput, "event name is required")
	}
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	err := s.client.Post(ctx, serviceName, "track", "analytics/events", event, nil)
	if err == nil {
		return nil
	}

	if s.spool != nil && isSpoolable(err) {
		if spoolErr := s.spool.Enqueue(event); spoolErr == nil {
			s.logger.Warn(logging.CategorySpool, "event_spooled", "",
				map[string]any{"event_id": event.ID, "cause": err.Error()})
			return nil
		}
	}
	return err
}

// TrackBatch sends multiple events in one request.
func (s *Service) TrackBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if events[i].Name == "" {
			return sdkerrors.Newf(sdkerrors.ErrCodeInvalidInput, "event %d has no name", i)
		}
		if events[i].ID == "" {
			events[i].ID = ulid.Make().String()
		}
		if events[i].Timestamp.IsZero() {
			events[i].Timestamp = time.Now().UTC()
		}
	}

	body := map[string]any{"events": events}
	return s.client.Post(ctx, serviceName, "track_batch", "analytics/events/batch", body, nil)
}

// Query runs an aggregation query over tracked events.
func (s *Service) Query(ctx context.Context, q Query) (*Result, error) {
	if q.Metric == "" {
		return nil, sdkerrors.New(sdkerrors.ErrCodeInvalidInput, "query metric is required")
	}
	if !q.To.After(q.From) {
		return nil, sdkerrors.New(sdkerrors.ErrCodeInvalidInput, "query time range is empty")
	}

	var result Result
	if err := s.client.Post(ctx, serviceName, "query", "analytics/query", q, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateExport starts an asynchronous raw-event export job.
func (s *Service) CreateExport(ctx context.Context, from, to time.Time) (*Export, error) {
	body := map[string]any{"from": from, "to": to}
	var export Export
	if err := s.client.Post(ctx, serviceName, "create_export", "analytics/exports", body, &export); err != nil {
		return nil, err
	}
	return &export, nil
}

// GetExport fetches the state of an export job.
func (s *Service) GetExport(ctx context.Context, id string) (*Export, error) {
	var export Export
	if err := s.client.Get(ctx, serviceName, "get_export", "analytics/exports/"+url.PathEscape(id), nil, &export); err != nil {
		return nil, err
	}
	return &export, nil
}

// Flush synchronously replays spooled events until the spool is empty or
// an error occurs. A no-op when the spool is disabled.
func (s *Service) Flush(ctx context.Context) error {
	if s.spool == nil {
		return nil
	}

	for {
		events, err := s.spool.Peek(s.batchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			pending, err := s.spool.Count()
			if err != nil {
				return err
			}
			if pending == 0 {
				return nil
			}
			// Peek purged corrupt rows; go again for what remains.
			continue
		}

		if err := s.TrackBatch(ctx, events); err != nil {
			telemetry.SpoolFlushesTotal.WithLabelValues("error").Inc()
			return err
		}
		telemetry.SpoolFlushesTotal.WithLabelValues("ok").Inc()

		ids := make([]string, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		if err := s.spool.Remove(ids); err != nil {
			return err
		}

		s.logger.Info(logging.CategorySpool, "flushed", "",
			map[string]any{"count": len(events)})
	}
}

// SpoolCount returns the number of buffered events, or 0 when the spool
// is disabled.
func (s *Service) SpoolCount() int {
	if s.spool == nil {
		return 0
	}
	count, err := s.spool.Count()
	if err != nil {
		return 0
	}
	return count
}

// flushLoop periodically replays the spool until the service is closed.
func (s *Service) flushLoop(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Debug(logging.CategorySpool, "flush_failed", err.Error(), nil)
			}
		}
	}
}

// Close stops the background flusher and closes the spool.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
	if s.spool != nil {
		err := s.spool.Close()
		s.spool = nil
		return err
	}
	return nil
}

// isSpoolable reports whether a delivery failure should buffer the event
// instead of returning it to the caller. Validation failures are not
// spoolable; retrying them will never succeed.
func isSpoolable(err error) bool {
	if apiErr := (*transport.APIError)(nil); errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return sdkerrors.IsRetryable(err) ||
		sdkerrors.IsCode(err, sdkerrors.ErrCodeCircuitOpen) ||
		sdkerrors.IsCode(err, sdkerrors.ErrCodeTimeout)
}
