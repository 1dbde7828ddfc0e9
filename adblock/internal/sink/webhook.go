package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/adsweep/adblock/dom"
)

// Headers set on every webhook request. The report id is stable across
// retries so receivers can drop duplicates.
const (
	HeaderReportID = "X-Adsweep-Report-Id"
	HeaderPageID   = "X-Adsweep-Page-Id"
)

// ErrRejected wraps a 4xx answer other than 408 and 429. Such reports are
// not retried.
var ErrRejected = errors.New("webhook: report rejected")

// Webhook POSTs each report envelope to a URL, retrying transport errors
// and 5xx answers with doubling backoff.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the number of retries after the first attempt.
// Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookBackoff sets the first retry delay. Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookLogger sets the logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook sink for url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Webhook) Send(ctx context.Context, rep dom.Report) error {
	body, err := json.Marshal(wrap(rep))
	if err != nil {
		return fmt.Errorf("webhook: marshal %s: %w", rep.ID, err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(w.backoff << uint(attempt-1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = w.post(ctx, rep, body)
		if lastErr == nil || errors.Is(lastErr, ErrRejected) {
			return lastErr
		}
		w.logger.Warn("webhook: delivery failed",
			"report_id", rep.ID, "attempt", attempt+1, "error", lastErr)
	}
	return fmt.Errorf("webhook: report %s undelivered after %d attempts: %w", rep.ID, w.maxRetries+1, lastErr)
}

func (w *Webhook) post(ctx context.Context, rep dom.Report, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderReportID, rep.ID)
	req.Header.Set(HeaderPageID, rep.PageID)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("webhook: status %d", code)
	default:
		return fmt.Errorf("%w: status %d", ErrRejected, code)
	}
}

func (w *Webhook) Close() error { return nil }
