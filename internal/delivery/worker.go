package delivery

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/leadlineai/leadline/internal/config"
	"github.com/leadlineai/leadline/internal/tenant"
)

type queueStore interface {
	ClaimDue(ctx context.Context, limit int) ([]Delivery, error)
	RecordAttempt(ctx context.Context, deliveryID string, attempt, statusCode int, snippet, errText string) error
	Reschedule(ctx context.Context, deliveryID string, attempt int, nextRetryAt time.Time) error
	Delete(ctx context.Context, deliveryID string) error
}

type endpointStore interface {
	GetEndpoint(ctx context.Context, id string) (tenant.Endpoint, error)
}

// Worker drains due deliveries on a fixed schedule. Every attempt leaves an
// audit row; a delivery ends with deletion after success or exhaustion.
type Worker struct {
	queue        queueStore
	endpoints    endpointStore
	http         *http.Client
	backoffBase  time.Duration
	backoffCap   time.Duration
	allowPrivate bool
	logger       *slog.Logger
}

// NewWorker creates the delivery worker.
func NewWorker(log *slog.Logger, queue queueStore, endpoints endpointStore, cfg config.DeliveryConfig) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		queue:        queue,
		endpoints:    endpoints,
		http:         &http.Client{Timeout: cfg.Timeout()},
		backoffBase:  cfg.BackoffBase(),
		backoffCap:   cfg.BackoffCap(),
		allowPrivate: cfg.AllowPrivate,
		logger:       log.With(slog.String("service", "delivery_worker")),
	}
}

// RunOnce processes one batch of due deliveries.
func (w *Worker) RunOnce(ctx context.Context) error {
	due, err := w.queue.ClaimDue(ctx, 100)
	if err != nil {
		return err
	}
	for _, d := range due {
		w.attempt(ctx, d)
	}
	return nil
}

func (w *Worker) attempt(ctx context.Context, d Delivery) {
	attempt := d.Attempt + 1

	status, snippet, errText := w.send(ctx, d)

	if err := w.queue.RecordAttempt(ctx, d.ID, attempt, status, snippet, errText); err != nil {
		w.logger.Error("record attempt failed",
			slog.String("delivery_id", d.ID),
			slog.Any("error", err),
		)
	}

	if status >= 200 && status < 300 {
		if err := w.queue.Delete(ctx, d.ID); err != nil {
			w.logger.Error("delete delivered row failed",
				slog.String("delivery_id", d.ID),
				slog.Any("error", err),
			)
		}
		return
	}

	if attempt >= d.MaxAttempts {
		w.logger.Warn("delivery abandoned after final attempt",
			slog.String("delivery_id", d.ID),
			slog.String("event", d.Event),
			slog.Int("attempts", attempt),
			slog.Int("status", status),
			slog.String("error", errText),
		)
		if err := w.queue.Delete(ctx, d.ID); err != nil {
			w.logger.Error("delete exhausted row failed",
				slog.String("delivery_id", d.ID),
				slog.Any("error", err),
			)
		}
		return
	}

	next := time.Now().Add(Backoff(w.backoffBase, w.backoffCap, attempt))
	if err := w.queue.Reschedule(ctx, d.ID, attempt, next); err != nil {
		w.logger.Error("reschedule failed",
			slog.String("delivery_id", d.ID),
			slog.Any("error", err),
		)
	}
}

// send performs one HTTP attempt and reports (status, snippet, error text).
// A zero status means the request never reached the endpoint.
func (w *Worker) send(ctx context.Context, d Delivery) (int, string, string) {
	ep, err := w.endpoints.GetEndpoint(ctx, d.EndpointID)
	if err != nil {
		return 0, "", "load endpoint: " + err.Error()
	}
	if !ep.Accepts(d.Event) {
		return 0, "", "endpoint inactive or unsubscribed from event"
	}
	if err := ValidateTarget(ctx, ep.URL, w.allowPrivate); err != nil {
		return 0, "", err.Error()
	}

	method := strings.ToUpper(ep.Method)
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, ep.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return 0, "", "build request: " + err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(ep.Secret, d.Payload))
	for k, v := range ep.CustomHeaders {
		req.Header.Set(k, v)
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return 0, "", err.Error()
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return resp.StatusCode, string(snippet), ""
}
