package jobs

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-deals/internal/deals"
)

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DealNotifier turns engine hand-offs into queued tasks.
type DealNotifier struct {
	queue TaskEnqueuer
}

var _ deals.HandoffNotifier = (*DealNotifier)(nil)

// NewDealNotifier constructs a notifier backed by queue.
func NewDealNotifier(queue TaskEnqueuer) *DealNotifier {
	return &DealNotifier{queue: queue}
}

// RatingHandoff enqueues the rating hand-off of a completed cross-agent deal.
func (n *DealNotifier) RatingHandoff(ctx context.Context, d *deals.Deal) error {
	if !d.Agents.HasSecondary() {
		return nil
	}
	completedAt := time.Now().UTC()
	if d.Lifecycle.CompletedAt != nil {
		completedAt = *d.Lifecycle.CompletedAt
	}
	task, err := NewRatingHandoffTask(RatingHandoffPayload{
		DealID:        d.ID.String(),
		DealNumber:    d.DealNumber,
		PropertyTitle: d.Property.Title,
		Primary:       contact(d.Agents.Primary),
		Secondary:     contact(*d.Agents.Secondary),
		CompletedAt:   completedAt,
	})
	if err != nil {
		return err
	}
	_, err = n.queue.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// CommissionReceived enqueues the commission notice.
func (n *DealNotifier) CommissionReceived(ctx context.Context, d *deals.Deal) error {
	c := d.Financial.Commission
	payload := CommissionReceivedPayload{
		DealID:        d.ID.String(),
		DealNumber:    d.DealNumber,
		Total:         c.Total.StringFixed(2),
		Primary:       contact(d.Agents.Primary),
		PrimaryAmount: c.Split.Primary.Amount.StringFixed(2),
		ReceivedAt:    time.Now().UTC(),
	}
	if c.ReceivedAt != nil {
		payload.ReceivedAt = *c.ReceivedAt
	}
	if d.Agents.HasSecondary() && c.Split.Secondary != nil {
		sec := contact(*d.Agents.Secondary)
		payload.Secondary = &sec
		payload.SecondaryAmount = c.Split.Secondary.Amount.StringFixed(2)
	}
	task, err := NewCommissionReceivedTask(payload)
	if err != nil {
		return err
	}
	_, err = n.queue.EnqueueContext(ctx, task)
	return err
}

// MessageSent emails the recipient of a direct message.
func (n *DealNotifier) MessageSent(ctx context.Context, d *deals.Deal, msg deals.Message) error {
	from, to := d.Agents.Primary, d.Agents.Primary
	if d.Agents.HasSecondary() {
		if msg.SenderID == d.Agents.Primary.ID {
			to = *d.Agents.Secondary
		} else {
			from = *d.Agents.Secondary
		}
	}
	if to.Email == "" || to.ID == msg.SenderID {
		return nil
	}
	task, err := NewSendEmailTask(SendEmailPayload{
		To:      to.Email,
		Subject: fmt.Sprintf("New message on deal %s", d.DealNumber),
		Body: fmt.Sprintf("<p>Hi %s,</p><p>%s wrote on deal %s:</p><blockquote>%s</blockquote>",
			html.EscapeString(to.Name), html.EscapeString(from.Name),
			html.EscapeString(d.DealNumber), html.EscapeString(msg.Content)),
	})
	if err != nil {
		return err
	}
	_, err = n.queue.EnqueueContext(ctx, task, asynq.TaskID("deal-message:"+msg.ID.String()))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func contact(a deals.Agent) AgentContact {
	return AgentContact{ID: a.ID, Name: a.Name, Email: a.Email}
}
