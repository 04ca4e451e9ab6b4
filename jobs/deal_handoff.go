package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-deals/internal/jobs"
)

// DealHandlers processes deal hand-off tasks.
type DealHandlers struct {
	mailer  Mailer
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewDealHandlers constructs the hand-off task handlers.
func NewDealHandlers(mailer Mailer, logger *slog.Logger, metrics *jobmetrics.Metrics) *DealHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &DealHandlers{mailer: mailer, logger: logger, metrics: metrics}
}

// TaskHandlers lists the handlers to register on the worker.
func (h *DealHandlers) TaskHandlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskTypeSendEmail, Handler: h.HandleSendEmail},
		{Type: TaskDealRatingHandoff, Handler: h.HandleRatingHandoff},
		{Type: TaskDealCommissionReceived, Handler: h.HandleCommissionReceived},
	}
}

// HandleSendEmail processes TaskTypeSendEmail tasks.
func (h *DealHandlers) HandleSendEmail(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.To == "" {
		return asynq.SkipRetry
	}
	tracker := h.metrics.Track(TaskTypeSendEmail)
	err := h.mailer.Send(ctx, Message{To: []string{payload.To}, Subject: payload.Subject, HTML: payload.Body})
	h.metrics.AddEmails("generic", err == nil, 1)
	return tracker.End(err)
}

// HandleRatingHandoff invites both agents of a completed deal to rate each other.
func (h *DealHandlers) HandleRatingHandoff(ctx context.Context, t *asynq.Task) error {
	var payload RatingHandoffPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.DealID == "" {
		h.logger.Warn("drop malformed rating hand-off", slog.Any("error", err))
		return asynq.SkipRetry
	}
	tracker := h.metrics.Track(TaskDealRatingHandoff)

	pairs := []struct{ to, other AgentContact }{
		{payload.Primary, payload.Secondary},
		{payload.Secondary, payload.Primary},
	}
	var failed []string
	for _, pair := range pairs {
		if pair.to.Email == "" {
			continue
		}
		msg := Message{
			To:      []string{pair.to.Email},
			Subject: fmt.Sprintf("Deal %s completed: rate your collaboration", payload.DealNumber),
			HTML:    ratingBody(payload, pair.to, pair.other),
		}
		if err := h.mailer.Send(ctx, msg); err != nil {
			h.metrics.AddEmails("rating_handoff", false, 1)
			failed = append(failed, pair.to.Email)
			continue
		}
		h.metrics.AddEmails("rating_handoff", true, 1)
	}
	if len(failed) > 0 {
		return tracker.End(fmt.Errorf("jobs: rating hand-off for deal %s failed for %s", payload.DealID, strings.Join(failed, ", ")))
	}
	h.logger.Info("rating hand-off sent", slog.String("deal_id", payload.DealID))
	return tracker.End(nil)
}

// HandleCommissionReceived tells each agent their share has been received.
func (h *DealHandlers) HandleCommissionReceived(ctx context.Context, t *asynq.Task) error {
	var payload CommissionReceivedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.DealID == "" {
		h.logger.Warn("drop malformed commission notice", slog.Any("error", err))
		return asynq.SkipRetry
	}
	tracker := h.metrics.Track(TaskDealCommissionReceived)

	type notice struct {
		agent  AgentContact
		amount string
	}
	notices := []notice{{payload.Primary, payload.PrimaryAmount}}
	if payload.Secondary != nil {
		notices = append(notices, notice{*payload.Secondary, payload.SecondaryAmount})
	}
	var firstErr error
	for _, n := range notices {
		if n.agent.Email == "" {
			continue
		}
		err := h.mailer.Send(ctx, Message{
			To:      []string{n.agent.Email},
			Subject: fmt.Sprintf("Commission received for deal %s", payload.DealNumber),
			HTML: fmt.Sprintf("<p>Hi %s,</p><p>The client paid the commission of %s on deal %s. Your share is %s.</p>",
				html.EscapeString(n.agent.Name), html.EscapeString(payload.Total),
				html.EscapeString(payload.DealNumber), html.EscapeString(n.amount)),
		})
		h.metrics.AddEmails("commission_received", err == nil, 1)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return tracker.End(firstErr)
}

func ratingBody(p RatingHandoffPayload, to, other AgentContact) string {
	property := p.PropertyTitle
	if property == "" {
		property = "the property"
	}
	return fmt.Sprintf("<p>Hi %s,</p><p>Deal %s for %s was completed on %s.</p><p>Please rate your collaboration with %s.</p>",
		html.EscapeString(to.Name), html.EscapeString(p.DealNumber), html.EscapeString(property),
		p.CompletedAt.Format("2 Jan 2006"), html.EscapeString(other.Name))
}
