package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	sdkerrors "github.com/tiation/sdk-go/pkg/errors"
	"github.com/tiation/sdk-go/pkg/logging"
	"github.com/tiation/sdk-go/pkg/telemetry"
)

// maxDeliveryBody bounds how much of a delivery body is read.
const maxDeliveryBody = 1 << 20

// Handler processes one verified delivery. Returning an error makes the
// receiver respond 500 so the platform retries the delivery.
type Handler func(ctx context.Context, event Event) error

// Receiver verifies and dispatches incoming webhook deliveries. It
// implements http.Handler and can be mounted on any mux.
type Receiver struct {
	secret    []byte
	tolerance time.Duration
	logger    *logging.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// ReceiverOptions configure a Receiver.
type ReceiverOptions struct {
	// Tolerance bounds delivery timestamp drift. Zero means
	// DefaultTolerance.
	Tolerance time.Duration
	Logger    *logging.Logger
}

// NewReceiver creates a receiver that verifies deliveries against the
// endpoint's signing secret.
func NewReceiver(secret []byte, opts ReceiverOptions) (*Receiver, error) {
	if len(secret) == 0 {
		return nil, sdkerrors.New(sdkerrors.ErrCodeInvalidInput, "signing secret is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Receiver{
		secret:    secret,
		tolerance: opts.Tolerance,
		logger:    logger,
		handlers:  make(map[string]Handler),
	}, nil
}

// On registers a handler for an event type. "*" matches any type that
// has no dedicated handler. Registering twice replaces the handler.
func (rc *Receiver) On(eventType string, h Handler) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.handlers[eventType] = h
}

func (rc *Receiver) handlerFor(eventType string) Handler {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if h, ok := rc.handlers[eventType]; ok {
		return h
	}
	return rc.handlers["*"]
}

// ServeHTTP implements http.Handler.
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDeliveryBody))
	if err != nil {
		telemetry.WebhookDeliveries.WithLabelValues("read_error").Inc()
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	deliveryID := r.Header.Get(HeaderDelivery)
	if err := VerifyRequest(rc.secret, r, body, VerifyOptions{Tolerance: rc.tolerance}); err != nil {
		outcome := "invalid_signature"
		if sdkerrors.IsCode(err, sdkerrors.ErrCodeTimestampStale) {
			outcome = "stale_timestamp"
		}
		telemetry.WebhookDeliveries.WithLabelValues(outcome).Inc()
		rc.logger.Warn(logging.CategoryWebhook, "delivery_rejected", deliveryID,
			map[string]any{"cause": err.Error()})
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		telemetry.WebhookDeliveries.WithLabelValues("malformed").Inc()
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if event.Type == "" {
		event.Type = r.Header.Get(HeaderEventType)
	}

	handler := rc.handlerFor(event.Type)
	if handler == nil {
		// Acknowledge types we do not handle so the platform stops
		// retrying them.
		telemetry.WebhookDeliveries.WithLabelValues("unhandled").Inc()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := handler(r.Context(), event); err != nil {
		telemetry.WebhookDeliveries.WithLabelValues("handler_error").Inc()
		rc.logger.Error(logging.CategoryWebhook, "handler_failed", deliveryID,
			map[string]any{"event_type": event.Type, "cause": err.Error()})
		http.Error(w, "handler failed", http.StatusInternalServerError)
		return
	}

	telemetry.WebhookDeliveries.WithLabelValues("ok").Inc()
	rc.logger.Debug(logging.CategoryWebhook, "delivery_handled", deliveryID,
		map[string]any{"event_type": event.Type, "event_id": event.ID})
	w.WriteHeader(http.StatusNoContent)
}

// Router returns a chi router with the receiver mounted at path,
// wrapped in request-ID and panic-recovery middleware.
func (rc *Receiver) Router(path string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post(path, rc.ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// ListenAndServe runs an HTTP server for the receiver at path until the
// context is canceled, then shuts it down gracefully.
func (rc *Receiver) ListenAndServe(ctx context.Context, addr, path string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           rc.Router(path),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
