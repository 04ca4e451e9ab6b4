package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskDealRatingHandoff asks both agents of a completed cross-agent deal to rate each other.
	TaskDealRatingHandoff = "deal:rating_handoff"
	// TaskDealCommissionReceived notifies agents that the client paid the commission.
	TaskDealCommissionReceived = "deal:commission_received"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// AgentContact is the part of an agent record the hand-off emails need.
type AgentContact struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RatingHandoffPayload identifies a completed deal and its two agents.
type RatingHandoffPayload struct {
	DealID        string       `json:"deal_id"`
	DealNumber    string       `json:"deal_number"`
	PropertyTitle string       `json:"property_title,omitempty"`
	Primary       AgentContact `json:"primary"`
	Secondary     AgentContact `json:"secondary"`
	CompletedAt   time.Time    `json:"completed_at"`
}

// CommissionReceivedPayload carries the commission figures to announce.
type CommissionReceivedPayload struct {
	DealID          string        `json:"deal_id"`
	DealNumber      string        `json:"deal_number"`
	Total           string        `json:"total"`
	Primary         AgentContact  `json:"primary"`
	PrimaryAmount   string        `json:"primary_amount"`
	Secondary       *AgentContact `json:"secondary,omitempty"`
	SecondaryAmount string        `json:"secondary_amount,omitempty"`
	ReceivedAt      time.Time     `json:"received_at"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.Queue(QueueDefault)), nil
}

// NewRatingHandoffTask constructs the rating hand-off task. The task id is
// derived from the deal so a deal is handed off once.
func NewRatingHandoffTask(payload RatingHandoffPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDealRatingHandoff, data,
		asynq.Queue(QueueDefault),
		asynq.TaskID("rating:"+payload.DealID),
		asynq.MaxRetry(10),
	), nil
}

// NewCommissionReceivedTask constructs the commission notice task.
func NewCommissionReceivedTask(payload CommissionReceivedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDealCommissionReceived, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
	), nil
}
