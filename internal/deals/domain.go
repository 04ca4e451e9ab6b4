package deals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================================
// DEAL
// ============================================================================

// Deal tracks a property transaction from accepted offer to closing.
type Deal struct {
	ID            uuid.UUID     `json:"id"`
	DealNumber    string        `json:"deal_number"`
	TenantID      int64         `json:"tenant_id"`
	AgencyID      int64         `json:"agency_id"`
	Notes         string        `json:"notes,omitempty"`
	Parties       Parties       `json:"parties"`
	Agents        Agents        `json:"agents"`
	Property      PropertyRef   `json:"property"`
	Financial     Financial     `json:"financial"`
	Lifecycle     Lifecycle     `json:"lifecycle"`
	Collaboration Collaboration `json:"collaboration"`
	Documents     []Document    `json:"documents,omitempty"`
	Audit         AuditMeta     `json:"audit"`
	Version       int64         `json:"version"`
}

// Party is one side of the sale.
type Party struct {
	Name    string `json:"name"`
	Contact string `json:"contact,omitempty"`
	Email   string `json:"email,omitempty"`
}

// Parties groups the seller and buyer.
type Parties struct {
	Seller Party `json:"seller"`
	Buyer  Party `json:"buyer"`
}

// Agent is a brokerage user attached to the deal.
type Agent struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	AgencyID int64  `json:"agency_id,omitempty"`
}

// Agents holds exactly one primary and at most one secondary agent.
type Agents struct {
	Primary   Agent  `json:"primary"`
	Secondary *Agent `json:"secondary,omitempty"`
}

// HasSecondary reports whether a cross-agent collaborator is attached.
func (a Agents) HasSecondary() bool {
	return a.Secondary != nil && a.Secondary.ID != 0
}

// PropertyRef points at the listing in the external catalog.
type PropertyRef struct {
	ID      int64  `json:"id"`
	Code    string `json:"code,omitempty"`
	Title   string `json:"title,omitempty"`
	Address string `json:"address,omitempty"`
}

// AuditMeta records who created and last touched the deal.
type AuditMeta struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy int64     `json:"created_by"`
	UpdatedBy int64     `json:"updated_by,omitempty"`
}

// ============================================================================
// FINANCIAL
// ============================================================================

// PaymentState summarises how much of the agreed price has been collected.
type PaymentState string

const (
	PaymentStateNoPlan        PaymentState = "NO_PLAN"
	PaymentStatePartiallyPaid PaymentState = "PARTIALLY_PAID"
	PaymentStateFullyPaid     PaymentState = "FULLY_PAID"
)

// Financial is the money block of a deal. TotalPaid, BalanceRemaining and
// PaymentState are derived and recomputed by Reconcile.
type Financial struct {
	AgreedPrice      decimal.Decimal `json:"agreed_price"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
	BalanceRemaining decimal.Decimal `json:"balance_remaining"`
	PaymentState     PaymentState    `json:"payment_state"`
	Plan             *PaymentPlan    `json:"plan,omitempty"`
	Payments         []Payment       `json:"payments,omitempty"`
	Commission       Commission      `json:"commission"`
}

// Frequency controls the spacing of generated installments.
type Frequency string

const (
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyQuarterly Frequency = "QUARTERLY"
)

// IsValid checks if the frequency is supported.
func (f Frequency) IsValid() bool {
	return f == FrequencyMonthly || f == FrequencyQuarterly
}

// Months returns the period length in months.
func (f Frequency) Months() int {
	if f == FrequencyQuarterly {
		return 3
	}
	return 1
}

// InstallmentStatus enumerates installment states.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentPaid    InstallmentStatus = "PAID"
)

// PaymentPlan is the single installment schedule of a deal.
type PaymentPlan struct {
	ID           uuid.UUID       `json:"id"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Frequency    Frequency       `json:"frequency"`
	Installments []Installment   `json:"installments"`
	CreatedAt    time.Time       `json:"created_at"`
	CreatedBy    int64           `json:"created_by"`
}

// Installment is one scheduled partial payment. Sequence 0 is the down payment.
type Installment struct {
	ID         uuid.UUID         `json:"id"`
	Sequence   int               `json:"sequence"`
	Amount     decimal.Decimal   `json:"amount"`
	DueDate    time.Time         `json:"due_date"`
	Status     InstallmentStatus `json:"status"`
	PaidAmount decimal.Decimal   `json:"paid_amount"`
	PaidAt     *time.Time        `json:"paid_at,omitempty"`
}

// Payment is a recorded receipt. InstallmentID is nil for ad-hoc payments.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentType   string          `json:"payment_type"`
	Method        string          `json:"method,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	PaidAt        time.Time       `json:"paid_at"`
	InstallmentID *uuid.UUID      `json:"installment_id,omitempty"`
	RecordedBy    int64           `json:"recorded_by"`
	RecordedAt    time.Time       `json:"recorded_at"`
}

// IsAdHoc reports whether the payment is not linked to any installment.
func (p Payment) IsAdHoc() bool {
	return p.InstallmentID == nil
}

// CommissionKind distinguishes rate-based from flat commissions.
type CommissionKind string

const (
	CommissionRate CommissionKind = "RATE"
	CommissionFlat CommissionKind = "FLAT"
)

// SplitStatus tracks whether an agent's share has been paid out.
type SplitStatus string

const (
	SplitPending SplitStatus = "PENDING"
	SplitPaid    SplitStatus = "PAID"
)

// SplitEntry is one agent's share of the commission.
type SplitEntry struct {
	Percentage decimal.Decimal `json:"percentage"`
	Amount     decimal.Decimal `json:"amount"`
	Status     SplitStatus     `json:"status"`
}

// CommissionSplit divides the commission among the roles present on the deal.
type CommissionSplit struct {
	Primary   SplitEntry  `json:"primary_agent"`
	Secondary *SplitEntry `json:"secondary_agent,omitempty"`
}

// Commission is the brokerage fee block.
type Commission struct {
	Kind               CommissionKind  `json:"kind,omitempty"`
	Rate               decimal.Decimal `json:"rate"`
	Total              decimal.Decimal `json:"total"`
	Split              CommissionSplit `json:"split"`
	ReceivedFromClient bool            `json:"received_from_client"`
	ReceivedAt         *time.Time      `json:"received_at,omitempty"`
	ReceivedBy         *int64          `json:"received_by,omitempty"`
}

// IsConfigured reports whether commission terms have been set.
func (c Commission) IsConfigured() bool {
	return c.Kind != ""
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Status is the overall deal status, orthogonal to the stage.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusOnHold    Status = "ON_HOLD"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

// IsValid checks if the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusOnHold, StatusCancelled, StatusCompleted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status blocks all further mutation.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

var statusTransitions = map[Status]map[Status]bool{
	StatusActive:    {StatusCompleted: true, StatusCancelled: true, StatusOnHold: true},
	StatusOnHold:    {StatusActive: true},
	StatusCancelled: {},
	StatusCompleted: {},
}

// CanTransition reports whether moving from s to next is part of the lifecycle graph.
func (s Status) CanTransition(next Status) bool {
	return statusTransitions[s][next]
}

// ProgressStatus tracks a single stage's progress.
type ProgressStatus string

const (
	ProgressNotStarted ProgressStatus = "not-started"
	ProgressInProgress ProgressStatus = "in-progress"
	ProgressCompleted  ProgressStatus = "completed"
)

// StageProgress is the per-stage progress record.
type StageProgress struct {
	Status               ProgressStatus `json:"status"`
	StartedAt            *time.Time     `json:"started_at,omitempty"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
	CompletionPercentage int            `json:"completion_percentage"`
}

// Lifecycle holds stage, status and per-stage progress.
type Lifecycle struct {
	Stage              Stage                   `json:"stage"`
	Status             Status                  `json:"status"`
	Progress           map[Stage]StageProgress `json:"progress"`
	CancellationReason string                  `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time              `json:"cancelled_at,omitempty"`
	CancelledBy        *int64                  `json:"cancelled_by,omitempty"`
	CompletedAt        *time.Time              `json:"completed_at,omitempty"`
	CompletedBy        *int64                  `json:"completed_by,omitempty"`
}

// ============================================================================
// COLLABORATION & DOCUMENTS
// ============================================================================

// Note is a free-text comment left by either agent.
type Note struct {
	ID        uuid.UUID `json:"id"`
	AuthorID  int64     `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a direct message from one agent on the deal to the other.
type Message struct {
	ID          uuid.UUID `json:"id"`
	SenderID    int64     `json:"sender_id"`
	RecipientID int64     `json:"recipient_id"`
	Content     string    `json:"content"`
	SentAt      time.Time `json:"sent_at"`
}

// Collaboration holds the shared workspace between agents.
type Collaboration struct {
	Notes    []Note    `json:"notes,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

// Document is an uploaded file reference; rendering lives elsewhere.
type Document struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Type       string    `json:"type"`
	Category   string    `json:"category"`
	UploadedBy int64     `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Clone returns a deep copy so callers can derive a new deal without touching the original.
func (d *Deal) Clone() *Deal {
	if d == nil {
		return nil
	}
	out := *d
	if d.Agents.Secondary != nil {
		sec := *d.Agents.Secondary
		out.Agents.Secondary = &sec
	}
	if d.Financial.Plan != nil {
		plan := *d.Financial.Plan
		plan.Installments = append([]Installment(nil), d.Financial.Plan.Installments...)
		out.Financial.Plan = &plan
	}
	out.Financial.Payments = append([]Payment(nil), d.Financial.Payments...)
	if d.Financial.Commission.Split.Secondary != nil {
		sec := *d.Financial.Commission.Split.Secondary
		out.Financial.Commission.Split.Secondary = &sec
	}
	if d.Lifecycle.Progress != nil {
		out.Lifecycle.Progress = make(map[Stage]StageProgress, len(d.Lifecycle.Progress))
		for k, v := range d.Lifecycle.Progress {
			out.Lifecycle.Progress[k] = v
		}
	}
	out.Collaboration.Notes = append([]Note(nil), d.Collaboration.Notes...)
	out.Collaboration.Messages = append([]Message(nil), d.Collaboration.Messages...)
	out.Documents = append([]Document(nil), d.Documents...)
	return &out
}
