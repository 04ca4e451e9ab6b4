package deals

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the external transactional store the engine delegates every write to.
// Implementations serialise conflicting writes and report them as ErrStaleOrConflicting.
type Store interface {
	FetchDeal(ctx context.Context, id uuid.UUID) (*Deal, error)
	UpdateDeal(ctx context.Context, id uuid.UUID, patch DealPatch) (*Deal, error)
	ProgressStage(ctx context.Context, id uuid.UUID, req StageRequest) (*Deal, error)
	RecordPayment(ctx context.Context, id uuid.UUID, req PaymentRequest) (*Deal, error)
	CreatePaymentSchedule(ctx context.Context, id uuid.UUID, req ScheduleRequest) error
	CreateNote(ctx context.Context, id uuid.UUID, req NoteRequest) error
	CreateDocument(ctx context.Context, id uuid.UUID, req DocumentRequest) error
	CompleteDeal(ctx context.Context, id uuid.UUID, req CompleteRequest) error
	CancelDeal(ctx context.Context, id uuid.UUID, req CancelRequest) error
}

// Mutation carries the actor, timestamp and optimistic version of a write.
// ExpectedVersion zero skips the version check.
type Mutation struct {
	ActorID         int64     `json:"actor_id"`
	At              time.Time `json:"at"`
	ExpectedVersion int64     `json:"expected_version,omitempty"`
}

// DealPatch lists the fields to change; nil fields are left untouched.
type DealPatch struct {
	Mutation
	Notes       *string          `json:"notes,omitempty"`
	Seller      *Party           `json:"seller,omitempty"`
	Buyer       *Party           `json:"buyer,omitempty"`
	Property    *PropertyRef     `json:"property,omitempty"`
	AgreedPrice *decimal.Decimal `json:"agreed_price,omitempty"`
	Status      *Status          `json:"status,omitempty"`
	Plan        *PaymentPlan     `json:"plan,omitempty"`
	Commission  *Commission      `json:"commission,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p DealPatch) IsEmpty() bool {
	return p.Notes == nil && p.Seller == nil && p.Buyer == nil && p.Property == nil &&
		p.AgreedPrice == nil && p.Status == nil && p.Plan == nil && p.Commission == nil
}

// StageRequest moves a deal from From to Stage.
type StageRequest struct {
	Mutation
	From  Stage  `json:"from"`
	Stage Stage  `json:"stage"`
	Notes string `json:"notes,omitempty"`
}

// PaymentRequest records a payment.
type PaymentRequest struct {
	Mutation
	Payment PaymentInput `json:"payment"`
}

// ScheduleRequest stores a generated payment plan.
type ScheduleRequest struct {
	Mutation
	Plan *PaymentPlan `json:"plan"`
}

// NoteRequest appends a note, or a direct message when RecipientID is set.
type NoteRequest struct {
	Mutation
	Content     string `json:"content"`
	RecipientID int64  `json:"recipient_id,omitempty"`
}

// DocumentRequest attaches a document reference.
type DocumentRequest struct {
	Mutation
	Name     string `json:"name"`
	URL      string `json:"url"`
	Type     string `json:"type"`
	Category string `json:"category"`
}

// CompleteRequest closes a deal successfully.
type CompleteRequest struct {
	Mutation
}

// CancelRequest closes a deal as cancelled.
type CancelRequest struct {
	Mutation
	Reason string `json:"reason"`
}

// ============================================================================
// Store-side application
// ============================================================================
//
// The Apply functions are the write semantics shared by every Store
// implementation. They run against the store's own copy of the deal, inside
// whatever isolation the store provides, and never touch the caller's value.

// CheckWritable rejects writes against terminal deals or stale versions.
func CheckWritable(d *Deal, m Mutation) error {
	if d.Lifecycle.Status.IsTerminal() {
		return wrapf(ErrAlreadyTerminal, "deal %s is %s", d.ID, lowerStatus(d.Lifecycle.Status))
	}
	if m.ExpectedVersion != 0 && m.ExpectedVersion != d.Version {
		return wrapf(ErrStaleOrConflicting, "deal %s at version %d, expected %d", d.ID, d.Version, m.ExpectedVersion)
	}
	return nil
}

func touch(d *Deal, m Mutation) {
	d.Audit.UpdatedAt = m.At
	d.Audit.UpdatedBy = m.ActorID
}

// ApplyPatch writes the patch fields onto d.
func ApplyPatch(d *Deal, p DealPatch) error {
	if err := CheckWritable(d, p.Mutation); err != nil {
		return err
	}
	if p.Status != nil && *p.Status != d.Lifecycle.Status {
		if !d.Lifecycle.Status.CanTransition(*p.Status) {
			return wrapf(ErrInvalidTransition, "%s -> %s", d.Lifecycle.Status, *p.Status)
		}
		d.Lifecycle.Status = *p.Status
	}
	if p.AgreedPrice != nil {
		if err := EnsureAgreedPriceMutable(d.Financial, *p.AgreedPrice); err != nil {
			return err
		}
		d.Financial.AgreedPrice = *p.AgreedPrice
	}
	if p.Notes != nil {
		d.Notes = *p.Notes
	}
	if p.Seller != nil {
		d.Parties.Seller = *p.Seller
	}
	if p.Buyer != nil {
		d.Parties.Buyer = *p.Buyer
	}
	if p.Property != nil {
		d.Property = *p.Property
	}
	if p.Plan != nil {
		plan := *p.Plan
		plan.Installments = append([]Installment(nil), p.Plan.Installments...)
		d.Financial.Plan = &plan
	}
	if p.Commission != nil {
		c := *p.Commission
		if p.Commission.Split.Secondary != nil {
			sec := *p.Commission.Split.Secondary
			c.Split.Secondary = &sec
		}
		d.Financial.Commission = c
	}
	touch(d, p.Mutation)
	Reconcile(&d.Financial)
	return nil
}

// ApplyStage advances d by one stage. A deal no longer at req.From was
// progressed concurrently.
func ApplyStage(d *Deal, req StageRequest) error {
	if err := CheckWritable(d, req.Mutation); err != nil {
		return err
	}
	if d.Lifecycle.Stage != req.From {
		return wrapf(ErrStaleOrConflicting, "deal %s moved to %s", d.ID, d.Lifecycle.Stage)
	}
	next, ok := req.From.Next()
	if !ok || next != req.Stage {
		return validationf("cannot move from %s to %s", req.From, req.Stage)
	}
	applyStageTransition(&d.Lifecycle, req.From, req.Stage, req.At)
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		d.Collaboration.Notes = append(d.Collaboration.Notes, Note{
			ID: uuid.New(), AuthorID: req.ActorID, Content: notes, CreatedAt: req.At,
		})
	}
	touch(d, req.Mutation)
	return nil
}

// ApplyPaymentRequest records the payment and reconciles the balance.
func ApplyPaymentRequest(d *Deal, req PaymentRequest) error {
	if err := CheckWritable(d, req.Mutation); err != nil {
		return err
	}
	if _, err := ApplyPayment(&d.Financial, req.Payment, req.ActorID, req.At); err != nil {
		return err
	}
	touch(d, req.Mutation)
	return nil
}

// ApplySchedule stores the plan. A deal holds at most one plan.
func ApplySchedule(d *Deal, req ScheduleRequest) error {
	if err := CheckWritable(d, req.Mutation); err != nil {
		return err
	}
	if req.Plan == nil {
		return wrapf(ErrInvalidPlan, "plan required")
	}
	if d.Financial.Plan != nil {
		return wrapf(ErrStaleOrConflicting, "deal %s already has a payment plan", d.ID)
	}
	plan := *req.Plan
	plan.Installments = append([]Installment(nil), req.Plan.Installments...)
	d.Financial.Plan = &plan
	touch(d, req.Mutation)
	Reconcile(&d.Financial)
	return nil
}

// ApplyNote appends a note. Requests addressed to an agent go to ApplyMessage.
func ApplyNote(d *Deal, req NoteRequest) error {
	if req.RecipientID != 0 {
		return ApplyMessage(d, req)
	}
	if err := CheckWritable(d, req.Mutation); err != nil {
		return err
	}
	d.Collaboration.Notes = append(d.Collaboration.Notes, Note{
		ID:        uuid.New(),
		AuthorID:  req.ActorID,
		Content:   req.Content,
		CreatedAt: req.At,
	})
	touch(d, req.Mutation)
	return nil
}

// ApplyMessage appends a direct message. Sender and recipient must be the
// two agents of the deal.
func ApplyMessage(d *Deal, req NoteRequest) error {
	if err := CheckWritable(d, req.Mutation); err != nil {
		return err
	}
	if !d.Agents.HasSecondary() {
		return validationf("deal has a single agent; nobody to message")
	}
	sender, recipient := RoleOf(req.ActorID, d), RoleOf(req.RecipientID, d)
	if sender == RoleNone || recipient == RoleNone || sender == recipient {
		return validationf("messages go between the two agents of the deal")
	}
	d.Collaboration.Messages = append(d.Collaboration.Messages, Message{
		ID:          uuid.New(),
		SenderID:    req.ActorID,
		RecipientID: req.RecipientID,
		Content:     req.Content,
		SentAt:      req.At,
	})
	touch(d, req.Mutation)
	return nil
}

// ApplyDocument attaches a document reference.
func ApplyDocument(d *Deal, req DocumentRequest) error {
	if err := CheckWritable(d, req.Mutation); err != nil {
		return err
	}
	d.Documents = append(d.Documents, Document{
		ID:         uuid.New(),
		Name:       req.Name,
		URL:        req.URL,
		Type:       req.Type,
		Category:   req.Category,
		UploadedBy: req.ActorID,
		UploadedAt: req.At,
	})
	touch(d, req.Mutation)
	return nil
}

// ApplyCompletion force-completes the remaining stages and closes the deal.
func ApplyCompletion(d *Deal, req CompleteRequest) error {
	if err := CheckWritable(d, req.Mutation); err != nil {
		return err
	}
	if !d.Lifecycle.Status.CanTransition(StatusCompleted) {
		return wrapf(ErrInvalidTransition, "%s -> %s", d.Lifecycle.Status, StatusCompleted)
	}
	completeRemainingStages(&d.Lifecycle, req.At)
	at, by := req.At, req.ActorID
	d.Lifecycle.Status = StatusCompleted
	d.Lifecycle.CompletedAt = &at
	d.Lifecycle.CompletedBy = &by
	touch(d, req.Mutation)
	return nil
}

// ApplyCancellation closes the deal as cancelled with the given reason.
func ApplyCancellation(d *Deal, req CancelRequest) error {
	if err := CheckWritable(d, req.Mutation); err != nil {
		return err
	}
	if strings.TrimSpace(req.Reason) == "" {
		return validationf("cancellation reason required")
	}
	if !d.Lifecycle.Status.CanTransition(StatusCancelled) {
		return wrapf(ErrInvalidTransition, "%s -> %s", d.Lifecycle.Status, StatusCancelled)
	}
	at, by := req.At, req.ActorID
	d.Lifecycle.Status = StatusCancelled
	d.Lifecycle.CancellationReason = strings.TrimSpace(req.Reason)
	d.Lifecycle.CancelledAt = &at
	d.Lifecycle.CancelledBy = &by
	touch(d, req.Mutation)
	return nil
}
