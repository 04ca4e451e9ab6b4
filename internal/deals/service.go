package deals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-deals/internal/shared"
)

// AuditRecorder persists who changed what on a deal.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// HandoffNotifier hands completed work to downstream collaborators.
type HandoffNotifier interface {
	RatingHandoff(ctx context.Context, d *Deal) error
	CommissionReceived(ctx context.Context, d *Deal) error
	MessageSent(ctx context.Context, d *Deal, msg Message) error
}

// MetricsRecorder receives engine counters.
type MetricsRecorder interface {
	StageTransition(from, to Stage)
	PaymentRecorded(adHoc bool)
	PermissionDenied(c Capability)
	DealClosed(status Status)
}

// Service runs every deal operation as gate, validate, store, then normalise.
// Operations never modify the deal passed in; on success they return the
// deal as confirmed by the store.
type Service struct {
	store    Store
	audit    AuditRecorder
	notifier HandoffNotifier
	metrics  MetricsRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a deal engine service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithNow overrides the clock used by the service (primarily for tests).
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// SetAuditRecorder wires the audit trail.
func (s *Service) SetAuditRecorder(a AuditRecorder) {
	s.audit = a
}

// SetNotifier wires the hand-off notifier used after completion and commission receipt.
func (s *Service) SetNotifier(n HandoffNotifier) {
	s.notifier = n
}

// SetMetrics wires the metrics recorder.
func (s *Service) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

// ============================================================================
// READS
// ============================================================================

// GetDeal fetches and normalises a deal the actor is allowed to view.
func (s *Service) GetDeal(ctx context.Context, actorID int64, id uuid.UUID) (*Deal, error) {
	d, err := s.store.FetchDeal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch deal: %w", err)
	}
	if err := s.authorize(actorID, d, CapViewAll); err != nil {
		return nil, err
	}
	Normalize(d)
	return d, nil
}

// Timeline returns the collaboration timeline of a deal.
func (s *Service) Timeline(ctx context.Context, actorID int64, id uuid.UUID) ([]TimelineEvent, error) {
	d, err := s.GetDeal(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	return BuildTimeline(d), nil
}

// Permissions derives the actor's capability set on a deal. Actors without a
// role still get a (fully denied) set.
func (s *Service) Permissions(ctx context.Context, actorID int64, id uuid.UUID) (PermissionSet, error) {
	d, err := s.store.FetchDeal(ctx, id)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("fetch deal: %w", err)
	}
	return Permissions(actorID, d), nil
}

// ============================================================================
// STAGE & STATUS
// ============================================================================

// ProgressStage advances the deal by exactly one stage. At final handover an
// active or completed deal is returned unchanged together with
// ErrAlreadyFinalStage, which is informational; the store is not called.
// Cancelled deals get the terminal denial.
func (s *Service) ProgressStage(ctx context.Context, actorID int64, d *Deal, notes string) (*Deal, error) {
	from := d.Lifecycle.Stage
	status := d.Lifecycle.Status
	if err := ValidatePermission(actorID, d, CapProgressStage); err != nil {
		var denied *PermissionDeniedError
		if !(errors.As(err, &denied) && denied.Terminal && status == StatusCompleted && from.IsFinal()) {
			s.countDenied(CapProgressStage)
			return nil, err
		}
	}
	if from.IsFinal() && (status == StatusActive || status == StatusCompleted) {
		return d, ErrAlreadyFinalStage
	}
	if status != StatusActive {
		return nil, validationf("deal is %s; resume it before progressing", lowerStatus(status))
	}
	next, ok := from.Next()
	if !ok {
		return nil, validationf("unknown stage %q", from)
	}

	m := s.mutation(actorID, d)
	updated, err := s.store.ProgressStage(ctx, d.ID, StageRequest{
		Mutation: m,
		From:     from,
		Stage:    next,
		Notes:    strings.TrimSpace(notes),
	})
	if err != nil {
		return nil, fmt.Errorf("progress stage: %w", err)
	}
	applyStageTransition(&updated.Lifecycle, from, next, m.At)
	Normalize(updated)

	if s.metrics != nil {
		s.metrics.StageTransition(from, next)
	}
	s.record(ctx, actorID, "deal.stage_progressed", d.ID, map[string]any{
		"from": from.Wire(),
		"to":   next.Wire(),
	})
	return updated, nil
}

// CompleteDeal force-completes every remaining stage and closes the deal.
// A deal with a secondary agent is handed off for rating; a failed hand-off
// is logged and never undoes the completion.
func (s *Service) CompleteDeal(ctx context.Context, actorID int64, d *Deal) (*Deal, error) {
	if err := s.authorize(actorID, d, CapCloseDeal); err != nil {
		return nil, err
	}
	if !d.Lifecycle.Status.CanTransition(StatusCompleted) {
		return nil, wrapf(ErrInvalidTransition, "%s -> %s", d.Lifecycle.Status, StatusCompleted)
	}

	m := s.mutation(actorID, d)
	if err := s.store.CompleteDeal(ctx, d.ID, CompleteRequest{Mutation: m}); err != nil {
		return nil, fmt.Errorf("complete deal: %w", err)
	}
	updated, err := s.refetch(ctx, d.ID, "complete deal")
	if err != nil {
		return nil, err
	}
	if updated.Lifecycle.Status == StatusCompleted {
		completeRemainingStages(&updated.Lifecycle, m.At)
	}

	if s.metrics != nil {
		s.metrics.DealClosed(StatusCompleted)
	}
	s.record(ctx, actorID, "deal.completed", d.ID, map[string]any{"from_stage": d.Lifecycle.Stage.Wire()})

	if updated.Agents.HasSecondary() && s.notifier != nil {
		if err := s.notifier.RatingHandoff(ctx, updated); err != nil {
			s.logger.Warn("rating hand-off failed", slog.String("deal_id", d.ID.String()), slog.Any("error", err))
		}
	}
	return updated, nil
}

// CancelDeal closes the deal as cancelled. The reason must be non-blank and
// the caller must have confirmed the action.
func (s *Service) CancelDeal(ctx context.Context, actorID int64, d *Deal, reason string, confirmed bool) (*Deal, error) {
	if err := s.authorize(actorID, d, CapCloseDeal); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationf("cancellation reason required")
	}
	if !d.Lifecycle.Status.CanTransition(StatusCancelled) {
		return nil, wrapf(ErrInvalidTransition, "%s -> %s", d.Lifecycle.Status, StatusCancelled)
	}
	if !confirmed {
		return nil, ErrConfirmationRequired
	}

	if err := s.store.CancelDeal(ctx, d.ID, CancelRequest{Mutation: s.mutation(actorID, d), Reason: reason}); err != nil {
		return nil, fmt.Errorf("cancel deal: %w", err)
	}
	updated, err := s.refetch(ctx, d.ID, "cancel deal")
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.DealClosed(StatusCancelled)
	}
	s.record(ctx, actorID, "deal.cancelled", d.ID, map[string]any{"reason": reason})
	return updated, nil
}

// PutOnHold pauses an active deal.
func (s *Service) PutOnHold(ctx context.Context, actorID int64, d *Deal) (*Deal, error) {
	return s.changeStatus(ctx, actorID, d, StatusOnHold, "deal.put_on_hold")
}

// Resume reactivates a deal that is on hold.
func (s *Service) Resume(ctx context.Context, actorID int64, d *Deal) (*Deal, error) {
	return s.changeStatus(ctx, actorID, d, StatusActive, "deal.resumed")
}

func (s *Service) changeStatus(ctx context.Context, actorID int64, d *Deal, next Status, action string) (*Deal, error) {
	if err := s.authorize(actorID, d, CapEditDeal); err != nil {
		return nil, err
	}
	if !d.Lifecycle.Status.CanTransition(next) {
		return nil, wrapf(ErrInvalidTransition, "%s -> %s", d.Lifecycle.Status, next)
	}
	status := next
	updated, err := s.store.UpdateDeal(ctx, d.ID, DealPatch{Mutation: s.mutation(actorID, d), Status: &status})
	if err != nil {
		return nil, fmt.Errorf("change status: %w", err)
	}
	Normalize(updated)
	s.record(ctx, actorID, action, d.ID, map[string]any{"from": string(d.Lifecycle.Status), "to": string(next)})
	return updated, nil
}

// ============================================================================
// DEAL FIELDS
// ============================================================================

// DealUpdate lists the editable deal fields; nil fields are left untouched.
type DealUpdate struct {
	Notes       *string          `json:"notes,omitempty"`
	Seller      *Party           `json:"seller,omitempty"`
	Buyer       *Party           `json:"buyer,omitempty"`
	Property    *PropertyRef     `json:"property,omitempty"`
	AgreedPrice *decimal.Decimal `json:"agreed_price,omitempty"`
}

// UpdateDeal edits deal fields. The agreed price is frozen once a payment plan exists.
func (s *Service) UpdateDeal(ctx context.Context, actorID int64, d *Deal, in DealUpdate) (*Deal, error) {
	if err := s.authorize(actorID, d, CapEditDeal); err != nil {
		return nil, err
	}
	patch := DealPatch{
		Notes:       in.Notes,
		Seller:      in.Seller,
		Buyer:       in.Buyer,
		Property:    in.Property,
		AgreedPrice: in.AgreedPrice,
	}
	if patch.IsEmpty() {
		return nil, validationf("nothing to update")
	}
	if in.AgreedPrice != nil {
		if err := EnsureAgreedPriceMutable(d.Financial, *in.AgreedPrice); err != nil {
			return nil, err
		}
	}
	if in.Seller != nil && strings.TrimSpace(in.Seller.Name) == "" {
		return nil, validationf("seller name required")
	}
	if in.Buyer != nil && strings.TrimSpace(in.Buyer.Name) == "" {
		return nil, validationf("buyer name required")
	}

	patch.Mutation = s.mutation(actorID, d)
	updated, err := s.store.UpdateDeal(ctx, d.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("update deal: %w", err)
	}
	Normalize(updated)
	s.record(ctx, actorID, "deal.updated", d.ID, nil)
	return updated, nil
}

// ============================================================================
// PAYMENTS
// ============================================================================

// CreatePaymentPlan generates and stores the deal's payment plan.
func (s *Service) CreatePaymentPlan(ctx context.Context, actorID int64, d *Deal, in PaymentPlanInput) (*Deal, error) {
	if err := s.authorize(actorID, d, CapUpdatePayments); err != nil {
		return nil, err
	}
	m := s.mutation(actorID, d)
	plan, err := BuildPaymentPlan(d.Financial, in, actorID, m.At)
	if err != nil {
		return nil, err
	}
	if !in.Confirmed {
		return nil, ErrConfirmationRequired
	}

	if err := s.store.CreatePaymentSchedule(ctx, d.ID, ScheduleRequest{Mutation: m, Plan: plan}); err != nil {
		return nil, fmt.Errorf("create payment schedule: %w", err)
	}
	updated, err := s.refetch(ctx, d.ID, "create payment schedule")
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "deal.payment_plan_created", d.ID, map[string]any{
		"total_amount": plan.TotalAmount.String(),
		"installments": len(plan.Installments),
		"frequency":    string(plan.Frequency),
	})
	return updated, nil
}

// AddInstallment appends an installment to the existing plan.
func (s *Service) AddInstallment(ctx context.Context, actorID int64, d *Deal, in InstallmentInput) (*Deal, error) {
	if err := s.authorize(actorID, d, CapUpdatePayments); err != nil {
		return nil, err
	}
	plan, err := AddInstallment(d.Financial.Plan, in)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateDeal(ctx, d.ID, DealPatch{Mutation: s.mutation(actorID, d), Plan: plan})
	if err != nil {
		return nil, fmt.Errorf("add installment: %w", err)
	}
	Normalize(updated)
	s.record(ctx, actorID, "deal.installment_added", d.ID, map[string]any{
		"amount":   in.Amount.String(),
		"due_date": in.DueDate.Format(time.DateOnly),
	})
	return updated, nil
}

// RecordPayment records a payment and returns the reconciled deal together
// with any non-blocking warnings.
func (s *Service) RecordPayment(ctx context.Context, actorID int64, d *Deal, in PaymentInput) (*Deal, []Warning, error) {
	if err := s.authorize(actorID, d, CapUpdatePayments); err != nil {
		return nil, nil, err
	}
	warnings, err := CheckPayment(d.Financial, in)
	if err != nil {
		return nil, nil, err
	}
	if !in.Confirmed {
		return nil, warnings, ErrConfirmationRequired
	}

	updated, err := s.store.RecordPayment(ctx, d.ID, PaymentRequest{Mutation: s.mutation(actorID, d), Payment: in})
	if err != nil {
		return nil, nil, fmt.Errorf("record payment: %w", err)
	}
	Normalize(updated)

	if s.metrics != nil {
		s.metrics.PaymentRecorded(in.InstallmentID == nil)
	}
	meta := map[string]any{
		"amount":       in.Amount.String(),
		"payment_type": in.PaymentType,
		"total_paid":   updated.Financial.TotalPaid.String(),
	}
	if in.InstallmentID != nil {
		meta["installment_id"] = in.InstallmentID.String()
	}
	s.record(ctx, actorID, "deal.payment_recorded", d.ID, meta)
	return updated, warnings, nil
}

// ============================================================================
// COMMISSION
// ============================================================================

// SetCommission configures the commission terms and split.
func (s *Service) SetCommission(ctx context.Context, actorID int64, d *Deal, terms CommissionTerms) (*Deal, error) {
	if err := s.authorize(actorID, d, CapEditDeal); err != nil {
		return nil, err
	}
	if d.Financial.Commission.ReceivedFromClient {
		return nil, validationf("commission already received; terms are frozen")
	}
	c, err := BuildCommission(d, terms)
	if err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateDeal(ctx, d.ID, DealPatch{Mutation: s.mutation(actorID, d), Commission: &c})
	if err != nil {
		return nil, fmt.Errorf("set commission: %w", err)
	}
	Normalize(updated)
	s.record(ctx, actorID, "deal.commission_set", d.ID, map[string]any{
		"kind":  string(c.Kind),
		"total": c.Total.String(),
	})
	return updated, nil
}

// MarkCommissionReceived marks every split entry paid and stamps the receipt.
// Repeat calls refresh the stamp.
func (s *Service) MarkCommissionReceived(ctx context.Context, actorID int64, d *Deal, confirmed bool) (*Deal, error) {
	if err := s.authorize(actorID, d, CapUpdatePayments); err != nil {
		return nil, err
	}
	m := s.mutation(actorID, d)
	c, err := MarkReceived(d.Financial.Commission, actorID, m.At)
	if err != nil {
		return nil, err
	}
	if !confirmed {
		return nil, ErrConfirmationRequired
	}

	updated, err := s.store.UpdateDeal(ctx, d.ID, DealPatch{Mutation: m, Commission: &c})
	if err != nil {
		return nil, fmt.Errorf("mark commission received: %w", err)
	}
	Normalize(updated)
	s.record(ctx, actorID, "deal.commission_received", d.ID, map[string]any{"total": c.Total.String()})

	if s.notifier != nil {
		if err := s.notifier.CommissionReceived(ctx, updated); err != nil {
			s.logger.Warn("commission notice failed", slog.String("deal_id", d.ID.String()), slog.Any("error", err))
		}
	}
	return updated, nil
}

// ============================================================================
// COLLABORATION
// ============================================================================

// maxNoteLength bounds a single note.
const maxNoteLength = 5000

// AddNote appends a note to the deal's collaboration workspace.
func (s *Service) AddNote(ctx context.Context, actorID int64, d *Deal, content string) (*Deal, error) {
	if err := s.authorize(actorID, d, CapAddNotes); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, validationf("note content required")
	}
	if len(content) > maxNoteLength {
		return nil, validationf("note exceeds %d characters", maxNoteLength)
	}
	if err := s.store.CreateNote(ctx, d.ID, NoteRequest{Mutation: s.mutation(actorID, d), Content: content}); err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	updated, err := s.refetch(ctx, d.ID, "create note")
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "deal.note_added", d.ID, nil)
	return updated, nil
}

// SendMessage delivers a direct message to the other agent on the deal. The
// recipient is notified through the hand-off notifier; a failed notice does
// not undo the message.
func (s *Service) SendMessage(ctx context.Context, actorID int64, d *Deal, content string) (*Deal, error) {
	if err := s.authorize(actorID, d, CapSendMessages); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, validationf("message content required")
	}
	if len(content) > maxNoteLength {
		return nil, validationf("message exceeds %d characters", maxNoteLength)
	}
	if !d.Agents.HasSecondary() {
		return nil, validationf("deal has a single agent; nobody to message")
	}
	recipient := d.Agents.Primary.ID
	if RoleOf(actorID, d) == RolePrimary {
		recipient = d.Agents.Secondary.ID
	}
	req := NoteRequest{Mutation: s.mutation(actorID, d), Content: content, RecipientID: recipient}
	if err := s.store.CreateNote(ctx, d.ID, req); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	updated, err := s.refetch(ctx, d.ID, "send message")
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "deal.message_sent", d.ID, map[string]any{"recipient_id": recipient})
	if s.notifier != nil {
		if msgs := updated.Collaboration.Messages; len(msgs) > 0 {
			if err := s.notifier.MessageSent(ctx, updated, msgs[len(msgs)-1]); err != nil {
				s.logger.Warn("message notice failed", slog.String("deal_id", d.ID.String()), slog.Any("error", err))
			}
		}
	}
	return updated, nil
}

// DocumentInput describes an uploaded document reference.
type DocumentInput struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Type     string `json:"type"`
	Category string `json:"category"`
}

// AttachDocument records a document reference on the deal.
func (s *Service) AttachDocument(ctx context.Context, actorID int64, d *Deal, in DocumentInput) (*Deal, error) {
	if err := s.authorize(actorID, d, CapUploadDocuments); err != nil {
		return nil, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.URL = strings.TrimSpace(in.URL)
	if in.Name == "" || in.URL == "" {
		return nil, validationf("document name and url required")
	}
	req := DocumentRequest{
		Mutation: s.mutation(actorID, d),
		Name:     in.Name,
		URL:      in.URL,
		Type:     strings.TrimSpace(in.Type),
		Category: strings.TrimSpace(in.Category),
	}
	if err := s.store.CreateDocument(ctx, d.ID, req); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	updated, err := s.refetch(ctx, d.ID, "create document")
	if err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "deal.document_attached", d.ID, map[string]any{"name": in.Name, "category": req.Category})
	return updated, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Service) authorize(actorID int64, d *Deal, c Capability) error {
	if err := ValidatePermission(actorID, d, c); err != nil {
		s.countDenied(c)
		return err
	}
	return nil
}

func (s *Service) countDenied(c Capability) {
	if s.metrics != nil {
		s.metrics.PermissionDenied(c)
	}
}

func (s *Service) mutation(actorID int64, d *Deal) Mutation {
	return Mutation{ActorID: actorID, At: s.now().UTC(), ExpectedVersion: d.Version}
}

// refetch loads the confirmed deal after a write whose store call returns nothing.
func (s *Service) refetch(ctx context.Context, id uuid.UUID, op string) (*Deal, error) {
	d, err := s.store.FetchDeal(ctx, id)
	if err != nil {
		s.logger.Warn("refetch after write failed", slog.String("op", op), slog.String("deal_id", id.String()), slog.Any("error", err))
		return nil, fmt.Errorf("%s: refetch: %w", op, err)
	}
	Normalize(d)
	return d, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "deal",
		EntityID: id.String(),
		Meta:     meta,
		At:       s.now().UTC(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
