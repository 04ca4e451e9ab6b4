package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-deals/internal/jobs"
)

type fakeMailer struct {
	mu     sync.Mutex
	sent   []Message
	failTo string
}

func (m *fakeMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTo != "" && len(msg.To) > 0 && msg.To[0] == m.failTo {
		return errors.New("smtp: mailbox unavailable")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func newTestHandlers(m Mailer) *DealHandlers {
	return NewDealHandlers(m, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
}

func ratingTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := NewRatingHandoffTask(RatingHandoffPayload{
		DealID:        "0b8d6c1e-6a0e-4a53-9a52-4c3f3c1b0d11",
		DealNumber:    "DL-2024-0042",
		PropertyTitle: "Villa Kemang",
		Primary:       AgentContact{ID: 1, Name: "Rina", Email: "rina@agency-a.test"},
		Secondary:     AgentContact{ID: 2, Name: "Budi", Email: "budi@agency-b.test"},
		CompletedAt:   time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return task
}

func TestHandleRatingHandoffMailsBothAgents(t *testing.T) {
	mailer := &fakeMailer{}
	h := newTestHandlers(mailer)

	require.NoError(t, h.HandleRatingHandoff(context.Background(), ratingTask(t)))

	require.Len(t, mailer.sent, 2)
	assert.Equal(t, []string{"rina@agency-a.test"}, mailer.sent[0].To)
	assert.Contains(t, mailer.sent[0].HTML, "Budi")
	assert.Equal(t, []string{"budi@agency-b.test"}, mailer.sent[1].To)
	assert.Contains(t, mailer.sent[1].Subject, "DL-2024-0042")
}

func TestHandleRatingHandoffReportsFailureForRetry(t *testing.T) {
	mailer := &fakeMailer{failTo: "budi@agency-b.test"}
	h := newTestHandlers(mailer)

	err := h.HandleRatingHandoff(context.Background(), ratingTask(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	assert.Contains(t, err.Error(), "budi@agency-b.test")
}

func TestHandleRatingHandoffSkipsMalformedPayload(t *testing.T) {
	h := newTestHandlers(&fakeMailer{})
	err := h.HandleRatingHandoff(context.Background(), asynq.NewTask(TaskDealRatingHandoff, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleCommissionReceivedPrimaryOnly(t *testing.T) {
	mailer := &fakeMailer{}
	h := newTestHandlers(mailer)
	task, err := NewCommissionReceivedTask(CommissionReceivedPayload{
		DealID:        "0b8d6c1e-6a0e-4a53-9a52-4c3f3c1b0d11",
		DealNumber:    "DL-2024-0042",
		Total:         "200000.00",
		Primary:       AgentContact{ID: 1, Name: "Rina", Email: "rina@agency-a.test"},
		PrimaryAmount: "200000.00",
	})
	require.NoError(t, err)

	require.NoError(t, h.HandleCommissionReceived(context.Background(), task))
	require.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0].HTML, "200000.00")
}

func TestHandleSendEmailUsesMailer(t *testing.T) {
	mailer := &fakeMailer{}
	h := newTestHandlers(mailer)
	task, err := NewSendEmailTask(SendEmailPayload{To: "ops@odyssey.test", Subject: "hello", Body: "<p>hi</p>"})
	require.NoError(t, err)

	require.NoError(t, h.HandleSendEmail(context.Background(), task))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "hello", mailer.sent[0].Subject)
}

func TestRatingTaskCarriesDealPayload(t *testing.T) {
	task := ratingTask(t)
	assert.Equal(t, TaskDealRatingHandoff, task.Type())

	var payload RatingHandoffPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "DL-2024-0042", payload.DealNumber)
}

func TestBuildMessageRendersHeaders(t *testing.T) {
	msg := buildMessage("deals@odyssey.test", Message{
		To:      []string{"rina@agency-a.test"},
		Subject: "Deal completed",
		HTML:    "<p>done</p>",
	})
	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.True(t, strings.Contains(raw, "From: deals@odyssey.test"))
	assert.True(t, strings.Contains(raw, "Subject: Deal completed"))
	assert.True(t, strings.Contains(raw, "text/html"))
}

type stubCleaner struct {
	retention time.Duration
	err       error
}

func (c *stubCleaner) Cleanup(_ context.Context, olderThan time.Duration) error {
	c.retention = olderThan
	return c.err
}

func TestIdempotencyCleanupHandlerDefaultsRetention(t *testing.T) {
	cleaner := &stubCleaner{}
	th := IdempotencyCleanupHandler(cleaner, 0, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.Equal(t, TaskIdempotencyCleanup, th.Type)
	require.NoError(t, th.Handler(context.Background(), NewIdempotencyCleanupTask()))
	assert.Equal(t, 72*time.Hour, cleaner.retention)
}
