package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"farmconnect/internal/config"
	"farmconnect/internal/messaging"
	"farmconnect/internal/models"
	"farmconnect/internal/worker"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Submitter queues background jobs. *worker.Dispatcher satisfies it.
type Submitter interface {
	Submit(job worker.Job) error
}

// Payload is the JSON body posted to the automation webhook.
type Payload struct {
	ConversationID int64   `json:"conversation_id"`
	Sender         string  `json:"sender"`
	SenderUsername string  `json:"sender_username"`
	FarmerID       int64   `json:"farmer_id"`
	FarmerUsername string  `json:"farmer_username"`
	ProductID      *int64  `json:"product_id"`
	ProductName    *string `json:"product_name"`
	Message        string  `json:"message"`
	Timestamp      string  `json:"timestamp"`
}

// BuildPayload describes a buyer message for the webhook.
func BuildPayload(conv *models.Conversation, msg *models.Message) Payload {
	p := Payload{
		ConversationID: conv.ID,
		Sender:         string(models.RoleBuyer),
		SenderUsername: conv.Buyer.Username,
		FarmerID:       conv.Farmer.ID,
		FarmerUsername: conv.Farmer.Username,
		Message:        msg.Content,
		Timestamp:      msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if conv.Product != nil {
		id, name := conv.Product.ID, conv.Product.Name
		p.ProductID = &id
		p.ProductName = &name
	}
	return p
}

// Notifier posts new buyer messages to the automation webhook from the
// worker pool, retrying transient failures.
type Notifier struct {
	cfg    config.WebhookConfig
	client *http.Client
	jobs   Submitter
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

type Option func(*Notifier)

func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(n *Notifier) { n.sleep = fn }
}

func New(cfg config.WebhookConfig, jobs Submitter, logger *slog.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Source == "" {
		cfg.Source = config.DefaultWebhookSource
	}
	if len(cfg.RetryStatuses) == 0 {
		cfg.RetryStatuses = config.DefaultRetryStatuses
	}
	n := &Notifier{
		cfg:    cfg,
		client: &http.Client{},
		jobs:   jobs,
		logger: logger.With("component", "webhook"),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enabled reports whether outbound notifications are switched on.
func (n *Notifier) Enabled() bool {
	return n.cfg.Enabled && n.cfg.URL != ""
}

// ShouldNotify holds only for human messages written by the buyer while
// notifications are enabled.
func (n *Notifier) ShouldNotify(conv *models.Conversation, msg *models.Message) bool {
	if conv == nil || msg == nil || msg.IsAutomated {
		return false
	}
	if !n.Enabled() {
		return false
	}
	return msg.IsFromBuyer(conv)
}

// HandleMessageAppended is subscribed to the messaging bus. It only
// enqueues; delivery happens on a worker.
func (n *Notifier) HandleMessageAppended(ev messaging.MessageAppended) {
	if !n.ShouldNotify(ev.Conversation, ev.Message) {
		return
	}
	payload := BuildPayload(ev.Conversation, ev.Message)
	err := n.jobs.Submit(worker.Job{
		Key:  payload.ConversationID,
		Name: "webhook",
		Run: func(ctx context.Context) {
			n.Deliver(ctx, payload)
		},
	})
	if err != nil {
		n.logger.Error("webhook not queued",
			"conversation_id", payload.ConversationID,
			"message_id", ev.Message.ID,
			"error", err,
		)
	}
}

// errStatus is a non-2xx webhook response.
type errStatus struct {
	code int
}

func (e *errStatus) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.code)
}

// Deliver posts payload, retrying connection failures and retryable statuses
// with exponential backoff. Every outcome is logged; the returned error is
// informational only.
func (n *Notifier) Deliver(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("webhook payload encoding failed", "conversation_id", payload.ConversationID, "error", err)
		return err
	}
	deliveryID := uuid.NewString()
	log := n.logger.With("conversation_id", payload.ConversationID, "delivery_id", deliveryID)
	schedule := n.schedule()

	for attempt := 1; ; attempt++ {
		err := n.post(ctx, body, deliveryID)
		if err == nil {
			log.Info("webhook delivered", "attempt", attempt)
			return nil
		}
		if !n.retryable(err) {
			log.Error("webhook delivery failed", "attempt", attempt, "error", err)
			return err
		}
		wait := schedule.NextBackOff()
		if wait == backoff.Stop {
			log.Error("webhook delivery failed, retries exhausted", "attempt", attempt, "error", err)
			return err
		}
		log.Warn("webhook attempt failed, retrying", "attempt", attempt, "backoff", wait, "error", err)
		if err := n.sleep(ctx, wait); err != nil {
			log.Error("webhook delivery abandoned", "attempt", attempt, "error", err)
			return err
		}
	}
}

// schedule yields factor, 2*factor, 4*factor... for at most Retries() waits.
func (n *Notifier) schedule() backoff.BackOff {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     n.cfg.Backoff(),
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Hour,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(n.cfg.Retries()))
}

func (n *Notifier) retryable(err error) bool {
	var status *errStatus
	if errors.As(err, &status) {
		return slices.Contains(n.cfg.RetryStatuses, status.code)
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	// parent context gone: the dispatcher is shutting down
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func (n *Notifier) post(ctx context.Context, body []byte, deliveryID string) error {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Source", n.cfg.Source)
	req.Header.Set("X-Delivery-ID", deliveryID)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &errStatus{code: resp.StatusCode}
	}
	return nil
}
