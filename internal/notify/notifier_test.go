package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"farmconnect/internal/config"
	"farmconnect/internal/messaging"
	"farmconnect/internal/models"
	"farmconnect/internal/worker"

	"github.com/google/uuid"
)

type recordingSubmitter struct {
	mu   sync.Mutex
	jobs []worker.Job
	err  error
}

func (r *recordingSubmitter) Submit(job worker.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, job)
	return nil
}

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func webhookConfig(url string, retries int) config.WebhookConfig {
	return config.WebhookConfig{
		URL:            url,
		Enabled:        true,
		TimeoutSeconds: 2,
		MaxRetries:     &retries,
		BackoffFactor:  0.5,
		RetryStatuses:  []int{500, 502, 503, 504},
		Source:         "localfarmconnect",
	}
}

func newTestNotifier(cfg config.WebhookConfig, jobs Submitter) (*Notifier, *bytes.Buffer, *sleepRecorder) {
	var logs bytes.Buffer
	sleeps := &sleepRecorder{}
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(cfg, jobs, logger, WithSleep(sleeps.sleep)), &logs, sleeps
}

func sampleConversation() *models.Conversation {
	return &models.Conversation{
		ID:      42,
		Buyer:   models.User{ID: 1, Username: "bea", Role: models.RoleBuyer},
		Farmer:  models.User{ID: 2, Username: "fred", Role: models.RoleFarmer},
		Product: &models.Product{ID: 7, FarmerID: 2, Name: "Heirloom tomatoes"},
	}
}

func statusSequence(t *testing.T, codes ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		code := codes[len(codes)-1]
		if n <= len(codes) {
			code = codes[n-1]
		}
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestDeliverRetriesServiceUnavailable(t *testing.T) {
	srv, calls := statusSequence(t, 503, 503, 200)
	n, logs, sleeps := newTestNotifier(webhookConfig(srv.URL, 2), &recordingSubmitter{})

	err := n.Deliver(context.Background(), BuildPayload(sampleConversation(), &models.Message{Content: "hi"}))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 requests, got %d", got)
	}
	if len(sleeps.waits) != 2 || sleeps.waits[0] != 500*time.Millisecond || sleeps.waits[1] != time.Second {
		t.Fatalf("unexpected backoff schedule: %v", sleeps.waits)
	}
	out := logs.String()
	if !strings.Contains(out, "webhook delivered") || !strings.Contains(out, "conversation_id=42") {
		t.Fatalf("success not logged: %s", out)
	}
}

func TestDeliverDoesNotRetryNotFound(t *testing.T) {
	srv, calls := statusSequence(t, 404)
	n, logs, sleeps := newTestNotifier(webhookConfig(srv.URL, 2), &recordingSubmitter{})

	if err := n.Deliver(context.Background(), BuildPayload(sampleConversation(), &models.Message{Content: "hi"})); err == nil {
		t.Fatalf("expected failure")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single request, got %d", got)
	}
	if len(sleeps.waits) != 0 {
		t.Fatalf("no backoff expected, got %v", sleeps.waits)
	}
	out := logs.String()
	if strings.Count(out, "webhook delivery failed") != 1 || !strings.Contains(out, "status 404") {
		t.Fatalf("failure should be logged exactly once: %s", out)
	}
	if !strings.Contains(out, "conversation_id=42") {
		t.Fatalf("failure log missing conversation id: %s", out)
	}
}

func TestDeliverStopsWhenRetriesExhausted(t *testing.T) {
	srv, calls := statusSequence(t, 502)
	n, logs, _ := newTestNotifier(webhookConfig(srv.URL, 2), &recordingSubmitter{})

	if err := n.Deliver(context.Background(), BuildPayload(sampleConversation(), &models.Message{Content: "hi"})); err == nil {
		t.Fatalf("expected failure")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 1 attempt plus 2 retries, got %d", got)
	}
	if !strings.Contains(logs.String(), "retries exhausted") {
		t.Fatalf("exhaustion not logged: %s", logs.String())
	}
}

func TestDeliverRetriesConnectionErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	n, logs, sleeps := newTestNotifier(webhookConfig(url, 1), &recordingSubmitter{})
	if err := n.Deliver(context.Background(), BuildPayload(sampleConversation(), &models.Message{Content: "hi"})); err == nil {
		t.Fatalf("expected connection failure")
	}
	if len(sleeps.waits) != 1 {
		t.Fatalf("connection errors should use the retry budget, waits=%v", sleeps.waits)
	}
	if !strings.Contains(logs.String(), "conversation_id=42") {
		t.Fatalf("failure log missing conversation id: %s", logs.String())
	}
}

func TestDeliverTimeoutCountsAsAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	cfg := webhookConfig(srv.URL, 1)
	cfg.TimeoutSeconds = 0.05
	n, _, _ := newTestNotifier(cfg, &recordingSubmitter{})
	if err := n.Deliver(context.Background(), BuildPayload(sampleConversation(), &models.Message{Content: "hi"})); err == nil {
		t.Fatalf("expected timeout failure")
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected timeout to be retried once, got %d requests", got)
	}
}

func TestDeliverSendsHeadersAndPayload(t *testing.T) {
	type captured struct {
		header http.Header
		body   map[string]any
	}
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)
		got <- captured{header: r.Header.Clone(), body: body}
	}))
	defer srv.Close()

	conv := sampleConversation()
	conv.Product = nil
	msg := &models.Message{ID: 9, ConversationID: 42, SenderID: 1, Content: "Is this available?",
		CreatedAt: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)}
	n, _, _ := newTestNotifier(webhookConfig(srv.URL, 0), &recordingSubmitter{})
	if err := n.Deliver(context.Background(), BuildPayload(conv, msg)); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	c := <-got
	if c.header.Get("Content-Type") != "application/json" || c.header.Get("X-Source") != "localfarmconnect" {
		t.Fatalf("unexpected headers: %v", c.header)
	}
	if _, err := uuid.Parse(c.header.Get("X-Delivery-ID")); err != nil {
		t.Fatalf("delivery id is not a uuid: %v", err)
	}
	want := map[string]any{
		"conversation_id": float64(42),
		"sender":          "buyer",
		"sender_username": "bea",
		"farmer_id":       float64(2),
		"farmer_username": "fred",
		"product_id":      nil,
		"product_name":    nil,
		"message":         "Is this available?",
		"timestamp":       "2024-05-01T09:30:00Z",
	}
	for k, v := range want {
		if c.body[k] != v {
			t.Fatalf("payload[%s] = %v, want %v", k, c.body[k], v)
		}
	}
}

func TestHandleMessageAppendedGuards(t *testing.T) {
	conv := sampleConversation()
	buyerMsg := &models.Message{ID: 1, ConversationID: conv.ID, SenderID: conv.Buyer.ID, Content: "hi"}

	cases := []struct {
		name    string
		enabled bool
		msg     *models.Message
		want    int
	}{
		{"buyer message", true, buyerMsg, 1},
		{"automated message", true, &models.Message{ID: 2, SenderID: conv.Farmer.ID, Content: "auto", IsAutomated: true}, 0},
		{"automated from buyer id", true, &models.Message{ID: 3, SenderID: conv.Buyer.ID, Content: "auto", IsAutomated: true}, 0},
		{"farmer message", true, &models.Message{ID: 4, SenderID: conv.Farmer.ID, Content: "reply"}, 0},
		{"disabled", false, buyerMsg, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			jobs := &recordingSubmitter{}
			cfg := webhookConfig("http://automation.invalid/hook", 2)
			cfg.Enabled = tc.enabled
			n, _, _ := newTestNotifier(cfg, jobs)
			n.HandleMessageAppended(messaging.MessageAppended{Conversation: conv, Message: tc.msg})
			if len(jobs.jobs) != tc.want {
				t.Fatalf("expected %d queued jobs, got %d", tc.want, len(jobs.jobs))
			}
			if tc.want == 1 && jobs.jobs[0].Key != conv.ID {
				t.Fatalf("job keyed by %d, want conversation id", jobs.jobs[0].Key)
			}
		})
	}
}

func TestHandleMessageAppendedRunsDeliveryOnWorker(t *testing.T) {
	srv, calls := statusSequence(t, 200)
	jobs := &recordingSubmitter{}
	n, _, _ := newTestNotifier(webhookConfig(srv.URL, 2), jobs)
	conv := sampleConversation()

	n.HandleMessageAppended(messaging.MessageAppended{
		Conversation: conv,
		Message:      &models.Message{ID: 1, SenderID: conv.Buyer.ID, Content: "hi"},
	})
	if calls.Load() != 0 {
		t.Fatalf("handler must not perform network I/O")
	}
	jobs.jobs[0].Run(context.Background())
	if calls.Load() != 1 {
		t.Fatalf("job should post once, got %d", calls.Load())
	}
}

func TestHandleMessageAppendedLogsQueueOverflow(t *testing.T) {
	jobs := &recordingSubmitter{err: worker.ErrDispatcherBusy}
	n, logs, _ := newTestNotifier(webhookConfig("http://automation.invalid/hook", 2), jobs)
	conv := sampleConversation()

	n.HandleMessageAppended(messaging.MessageAppended{
		Conversation: conv,
		Message:      &models.Message{ID: 1, SenderID: conv.Buyer.ID, Content: "hi"},
	})
	if !strings.Contains(logs.String(), "webhook not queued") || !strings.Contains(logs.String(), "conversation_id=42") {
		t.Fatalf("overflow not logged: %s", logs.String())
	}
}
