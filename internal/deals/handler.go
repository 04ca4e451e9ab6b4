package deals

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-deals/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-deals/internal/shared"
)

const (
	idempotencyHeader = "Idempotency-Key"
	paymentModule     = "deals.payment"
)

type dealService interface {
	GetDeal(ctx context.Context, actorID int64, id uuid.UUID) (*Deal, error)
	Timeline(ctx context.Context, actorID int64, id uuid.UUID) ([]TimelineEvent, error)
	Permissions(ctx context.Context, actorID int64, id uuid.UUID) (PermissionSet, error)
	UpdateDeal(ctx context.Context, actorID int64, d *Deal, in DealUpdate) (*Deal, error)
	ProgressStage(ctx context.Context, actorID int64, d *Deal, notes string) (*Deal, error)
	CompleteDeal(ctx context.Context, actorID int64, d *Deal) (*Deal, error)
	CancelDeal(ctx context.Context, actorID int64, d *Deal, reason string, confirmed bool) (*Deal, error)
	PutOnHold(ctx context.Context, actorID int64, d *Deal) (*Deal, error)
	Resume(ctx context.Context, actorID int64, d *Deal) (*Deal, error)
	CreatePaymentPlan(ctx context.Context, actorID int64, d *Deal, in PaymentPlanInput) (*Deal, error)
	AddInstallment(ctx context.Context, actorID int64, d *Deal, in InstallmentInput) (*Deal, error)
	RecordPayment(ctx context.Context, actorID int64, d *Deal, in PaymentInput) (*Deal, []Warning, error)
	SetCommission(ctx context.Context, actorID int64, d *Deal, terms CommissionTerms) (*Deal, error)
	MarkCommissionReceived(ctx context.Context, actorID int64, d *Deal, confirmed bool) (*Deal, error)
	AddNote(ctx context.Context, actorID int64, d *Deal, content string) (*Deal, error)
	SendMessage(ctx context.Context, actorID int64, d *Deal, content string) (*Deal, error)
	AttachDocument(ctx context.Context, actorID int64, d *Deal, in DocumentInput) (*Deal, error)
}

// IdempotencyGuard claims request keys for financial writes.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditReader lists the audit trail of a deal.
type AuditReader interface {
	ListForEntity(ctx context.Context, entity, entityID string, limit int) ([]shared.AuditLog, error)
}

// Handler exposes the deal engine as a JSON API.
type Handler struct {
	logger      *slog.Logger
	service     dealService
	validator   *validator.Validate
	idempotency IdempotencyGuard
	auditReader AuditReader
}

// NewHandler constructs a deals HTTP handler.
func NewHandler(logger *slog.Logger, service dealService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// SetIdempotencyGuard enables Idempotency-Key handling on payment writes.
func (h *Handler) SetIdempotencyGuard(g IdempotencyGuard) {
	h.idempotency = g
}

// SetAuditReader enables the audit trail endpoint.
func (h *Handler) SetAuditReader(a AuditReader) {
	h.auditReader = a
}

// MountRoutes registers deal routes. Callers must place an actor middleware in front.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/deals/{id}", func(r chi.Router) {
		r.Get("/", h.getDeal)
		r.Get("/timeline", h.getTimeline)
		r.Get("/permissions", h.getPermissions)
		r.Get("/audit", h.getAudit)
		r.Patch("/", h.updateDeal)

		r.Post("/progress", h.progressStage)
		r.Post("/complete", h.completeDeal)
		r.Post("/cancel", h.cancelDeal)
		r.Post("/hold", h.putOnHold)
		r.Post("/resume", h.resume)

		r.Post("/payment-plan", h.createPaymentPlan)
		r.Post("/installments", h.addInstallment)
		r.Post("/payments", h.recordPayment)

		r.Put("/commission", h.setCommission)
		r.Post("/commission/received", h.markCommissionReceived)

		r.Post("/notes", h.addNote)
		r.Post("/messages", h.sendMessage)
		r.Post("/documents", h.attachDocument)
	})
}

// ============================================================================
// REQUEST / RESPONSE SHAPES
// ============================================================================

type dealResponse struct {
	Deal        *Deal           `json:"deal"`
	Permissions map[string]bool `json:"permissions"`
	Warnings    []Warning       `json:"warnings,omitempty"`
	Info        string          `json:"info,omitempty"`
}

type updateDealRequest struct {
	Notes       *string          `json:"notes" validate:"omitempty,max=2000"`
	Seller      *Party           `json:"seller"`
	Buyer       *Party           `json:"buyer"`
	Property    *PropertyRef     `json:"property"`
	AgreedPrice *decimal.Decimal `json:"agreed_price"`
}

type progressRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

type cancelRequest struct {
	Reason    string `json:"reason" validate:"max=500"`
	Confirmed bool   `json:"confirmed"`
}

type planRequest struct {
	TotalAmount          decimal.Decimal `json:"total_amount"`
	DownPaymentAmount    decimal.Decimal `json:"down_payment_amount"`
	DownPaymentDate      string          `json:"down_payment_date" validate:"omitempty,datetime=2006-01-02"`
	NumberOfInstallments int             `json:"number_of_installments" validate:"required,min=1,max=600"`
	Frequency            string          `json:"frequency" validate:"required,oneof=MONTHLY QUARTERLY monthly quarterly"`
	FirstInstallmentDate string          `json:"first_installment_date" validate:"required,datetime=2006-01-02"`
	Confirmed            bool            `json:"confirmed"`
}

type installmentRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	DueDate string          `json:"due_date" validate:"required,datetime=2006-01-02"`
}

type paymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentType   string          `json:"payment_type" validate:"required,max=64"`
	PaidAt        *time.Time      `json:"paid_at"`
	Method        string          `json:"method" validate:"max=64"`
	Reference     string          `json:"reference" validate:"max=128"`
	Notes         string          `json:"notes" validate:"max=2000"`
	InstallmentID *uuid.UUID      `json:"installment_id"`
	Confirmed     bool            `json:"confirmed"`
}

type commissionRequest struct {
	Kind                string           `json:"kind" validate:"required,oneof=RATE FLAT rate flat"`
	Rate                decimal.Decimal  `json:"rate"`
	FlatAmount          decimal.Decimal  `json:"flat_amount"`
	PrimaryPercentage   decimal.Decimal  `json:"primary_percentage"`
	SecondaryPercentage *decimal.Decimal `json:"secondary_percentage"`
}

type confirmRequest struct {
	Confirmed bool `json:"confirmed"`
}

type noteRequest struct {
	Content string `json:"content" validate:"required,max=5000"`
}

type messageRequest struct {
	Content string `json:"content" validate:"required,max=5000"`
}

type documentRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	URL      string `json:"url" validate:"required,url"`
	Type     string `json:"type" validate:"max=64"`
	Category string `json:"category" validate:"max=64"`
}

// ============================================================================
// READ HANDLERS
// ============================================================================

func (h *Handler) getDeal(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.requestScope(w, r)
	if !ok {
		return
	}
	d, err := h.service.GetDeal(r.Context(), actor.ID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.respondDeal(w, actor.ID, d, nil, "")
}

func (h *Handler) getTimeline(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.requestScope(w, r)
	if !ok {
		return
	}
	events, err := h.service.Timeline(r.Context(), actor.ID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []TimelineEvent{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) getPermissions(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.requestScope(w, r)
	if !ok {
		return
	}
	set, err := h.service.Permissions(r.Context(), actor.ID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"role":        set.Role.String(),
		"permissions": set.Names(),
	})
}

func (h *Handler) getAudit(w http.ResponseWriter, r *http.Request) {
	if h.auditReader == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "audit trail not available")
		return
	}
	actor, id, ok := h.requestScope(w, r)
	if !ok {
		return
	}
	if _, err := h.service.GetDeal(r.Context(), actor.ID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	entries, err := h.auditReader.ListForEntity(r.Context(), "deal", id.String(), limit)
	if err != nil {
		h.writeError(w, r, &TransportError{Op: "list audit", Err: err})
		return
	}
	if entries == nil {
		entries = []shared.AuditLog{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ============================================================================
// WRITE HANDLERS
// ============================================================================

func (h *Handler) updateDeal(w http.ResponseWriter, r *http.Request) {
	var req updateDealRequest
	h.mutate(w, r, &req, func(ctx context.Context, actorID int64, d *Deal) (*Deal, []Warning, error) {
		out, err := h.service.UpdateDeal(ctx, actorID, d, DealUpdate(req))
		return out, nil, err
	})
}

func (h *Handler) progressStage(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	h.mutate(w, r, &req, func(ctx context.Context, actorID int64, d *Deal) (*Deal, []Warning, error) {
		out, err := h.service.ProgressStage(ctx, actorID, d, req.Notes)
		return out, nil, err
	})
}

func (h *Handler) completeDeal(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(ctx context.Context, actorID int64, d *Deal) (*Deal, []Warning, error) {
		out, err := h.service.CompleteDeal(ctx, actorID, d)
		return out, nil, err
	})
}

func (h *Handler) cancelDeal(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	h.mutate(w, r, &req, func(ctx context.Context, actorID int64, d *Deal) (*Deal, []Warning, error) {
		out, err := h.service.CancelDeal(ctx, actorID, d, req.Reason, req.Confirmed)
		return out, nil, err
	})
}

func (h *Handler) putOnHold(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(ctx context.Context, actorID int64, d *Deal) (*Deal, []Warning, error) {
		out, err := h.service.PutOnHold(ctx, actorID, d)
		return out, nil, err
	})
}

func (h *Handler) resume(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, nil, func(ctx context.Context, actorID int64, d *Deal) (*Deal, []Warning, error) {
		out, err := h.service.Resume(ctx, actorID, d)
		return out, nil, err
	})
}

func (h *Handler) createPaymentPlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	h.mutate(w, r, &req, func(ctx context.Context, actorID int64, d *Deal) (*Deal, []Warning, error) {
		first, err := time.Parse(time.DateOnly, req.FirstInstallmentDate)
		if err != nil {
			return nil, nil, validationf("first_installment_date: %v", err)
		}
		in := PaymentPlanInput{
			TotalAmount:          req.TotalAmount,
			DownPayment:          DownPayment{Amount: req.DownPaymentAmount},
			NumberOfInstallments: req.NumberOfInstallments,
			Frequency:            Frequency(strings.ToUpper(req.Frequency)),
			FirstInstallmentDate: first,
			Confirmed:            req.Confirmed,
		}
		if req.DownPaymentDate != "" {
			dpDate, err := time.Parse(time.DateOnly, req.DownPaymentDate)
			if err != nil {
				return nil, nil, validationf("down_payment_date: %v", err)
			}
			in.DownPayment.Date = dpDate
		}
		out, err := h.service.CreatePaymentPlan(ctx, actorID, d, in)
		return out, nil, err
	})
}

func (h *Handler) addInstallment(w http.ResponseWriter, r *http.Request) {
	var req installmentRequest
	h.mutate(w, r, &req, func(ctx context.Context, actorID int64, d *Deal) (*Deal, []Warning, error) {
		due, err := time.Parse(time.DateOnly, req.DueDate)
		if err != nil {
			return nil, nil, validationf("due_date: %v", err)
		}
		out, err := h.service.AddInstallment(ctx, actorID, d, InstallmentInput{Amount: req.Amount, DueDate: due})
		return out, nil, err
	})
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	h.mutate(w, r, &req, func(ctx context.Context, actorID int64, d *Deal) (*Deal, []Warning, error) {
		in := PaymentInput{
			Amount:        req.Amount,
			PaymentType:   req.PaymentType,
			Method:        req.Method,
			Reference:     req.Reference,
			Notes:         req.Notes,
			InstallmentID: req.InstallmentID,
			Confirmed:     req.Confirmed,
		}
		if req.PaidAt != nil {
			in.PaidAt = *req.PaidAt
		}

		key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
		if key == "" || h.idempotency == nil || !in.Confirmed {
			return h.service.RecordPayment(ctx, actorID, d, in)
		}
		scoped := d.ID.String() + ":" + key
		if err := h.idempotency.CheckAndInsert(ctx, scoped, paymentModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return nil, nil, wrapf(ErrStaleOrConflicting, "payment with idempotency key %q already recorded", key)
			}
			return nil, nil, &TransportError{Op: "claim idempotency key", Err: err}
		}
		out, warnings, err := h.service.RecordPayment(ctx, actorID, d, in)
		if err != nil {
			if delErr := h.idempotency.Delete(ctx, scoped); delErr != nil {
				h.logger.Warn("release idempotency key", slog.String("key", scoped), slog.Any("error", delErr))
			}
		}
		return out, warnings, err
	})
}

func (h *Handler) setCommission(w http.ResponseWriter, r *http.Request) {
	var req commissionRequest
	h.mutate(w, r, &req, func(ctx context.Context, actorID int64, d *Deal) (*Deal, []Warning, error) {
		out, err := h.service.SetCommission(ctx, actorID, d, CommissionTerms{
			Kind:         CommissionKind(strings.ToUpper(req.Kind)),
			Rate:         req.Rate,
			FlatAmount:   req.FlatAmount,
			PrimaryPct:   req.PrimaryPercentage,
			SecondaryPct: req.SecondaryPercentage,
		})
		return out, nil, err
	})
}

func (h *Handler) markCommissionReceived(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	h.mutate(w, r, &req, func(ctx context.Context, actorID int64, d *Deal) (*Deal, []Warning, error) {
		out, err := h.service.MarkCommissionReceived(ctx, actorID, d, req.Confirmed)
		return out, nil, err
	})
}

func (h *Handler) addNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	h.mutate(w, r, &req, func(ctx context.Context, actorID int64, d *Deal) (*Deal, []Warning, error) {
		out, err := h.service.AddNote(ctx, actorID, d, req.Content)
		return out, nil, err
	})
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	h.mutate(w, r, &req, func(ctx context.Context, actorID int64, d *Deal) (*Deal, []Warning, error) {
		out, err := h.service.SendMessage(ctx, actorID, d, req.Content)
		return out, nil, err
	})
}

func (h *Handler) attachDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	h.mutate(w, r, &req, func(ctx context.Context, actorID int64, d *Deal) (*Deal, []Warning, error) {
		out, err := h.service.AttachDocument(ctx, actorID, d, DocumentInput(req))
		return out, nil, err
	})
}

// ============================================================================
// HELPERS
// ============================================================================

type mutationFunc func(ctx context.Context, actorID int64, d *Deal) (*Deal, []Warning, error)

// mutate decodes and validates the body (when req is non-nil), loads the deal,
// honours If-Match and runs fn.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, req any, fn mutationFunc) {
	actor, id, ok := h.requestScope(w, r)
	if !ok {
		return
	}
	if req != nil {
		if err := httpx.DecodeJSON(r, req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
			return
		}
		if err := h.validator.Struct(req); err != nil {
			httpx.WriteProblem(w, httpx.ProblemDetail{
				Title:  "Invalid Request",
				Status: http.StatusBadRequest,
				Detail: validationDetail(err),
				Code:   "validation",
			})
			return
		}
	}

	d, err := h.service.GetDeal(r.Context(), actor.ID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if match := strings.Trim(r.Header.Get("If-Match"), `" `); match != "" {
		version, convErr := strconv.ParseInt(match, 10, 64)
		if convErr != nil || version != d.Version {
			h.writeError(w, r, wrapf(ErrStaleOrConflicting, "deal is at version %d", d.Version))
			return
		}
	}

	updated, warnings, err := fn(r.Context(), actor.ID, d)
	if err != nil {
		if IsInformational(err) && updated != nil {
			h.respondDeal(w, actor.ID, updated, nil, "deal is already at final handover")
			return
		}
		p := h.problemFor(r, err)
		if errors.Is(err, ErrConfirmationRequired) && len(warnings) > 0 {
			p.Warnings = warnings
		}
		h.writeProblem(w, p)
		return
	}
	h.respondDeal(w, actor.ID, updated, warnings, "")
}

func (h *Handler) requestScope(w http.ResponseWriter, r *http.Request) (*shared.Actor, uuid.UUID, bool) {
	actor := shared.ActorFromContext(r.Context())
	if actor == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor required")
		return nil, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "deal id must be a UUID")
		return nil, uuid.Nil, false
	}
	return actor, id, true
}

func (h *Handler) respondDeal(w http.ResponseWriter, actorID int64, d *Deal, warnings []Warning, info string) {
	w.Header().Set("ETag", strconv.Quote(strconv.FormatInt(d.Version, 10)))
	httpx.JSON(w, http.StatusOK, dealResponse{
		Deal:        d,
		Permissions: Permissions(actorID, d).Names(),
		Warnings:    warnings,
		Info:        info,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.writeProblem(w, h.problemFor(r, err))
}

func (h *Handler) writeProblem(w http.ResponseWriter, p httpx.ProblemDetail) {
	if p.Status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	httpx.WriteProblem(w, p)
}

// problemFor maps engine error kinds onto problem documents.
func (h *Handler) problemFor(r *http.Request, err error) httpx.ProblemDetail {
	var denied *PermissionDeniedError
	p := httpx.ProblemDetail{Detail: err.Error()}
	switch {
	case errors.As(err, &denied) && denied.Terminal:
		p.Status, p.Title, p.Code, p.Detail = http.StatusConflict, "Deal Closed", "already_terminal", denied.Explanation
	case errors.As(err, &denied):
		p.Status, p.Title, p.Code, p.Detail = http.StatusForbidden, "Permission Denied", denied.Capability.String(), denied.Explanation
	case errors.Is(err, ErrNotFound):
		p.Status, p.Title, p.Code = http.StatusNotFound, "Not Found", "not_found"
	case errors.Is(err, ErrStaleOrConflicting):
		p.Status, p.Title, p.Code, p.Retryable = http.StatusConflict, "Conflict", "stale_or_conflicting", true
	case errors.Is(err, ErrAlreadyTerminal):
		p.Status, p.Title, p.Code = http.StatusConflict, "Deal Closed", "already_terminal"
	case errors.Is(err, ErrConfirmationRequired):
		p.Status, p.Title, p.Code = http.StatusUnprocessableEntity, "Confirmation Required", "confirmation_required"
	case errors.Is(err, ErrValidation):
		p.Status, p.Title, p.Code = http.StatusUnprocessableEntity, "Validation Failed", "validation"
	case errors.Is(err, ErrTransport):
		p.Status, p.Title, p.Code, p.Retryable = http.StatusServiceUnavailable, "Store Unavailable", "transport", true
		p.Detail = "deal store is temporarily unavailable"
		h.logger.Warn("deal store unavailable", slog.String("path", r.URL.Path), slog.Any("error", err))
	default:
		p.Status, p.Title, p.Detail = http.StatusInternalServerError, "Internal Error", ""
		h.logger.Error("deal request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	return p
}

func validationDetail(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, strings.ToLower(fe.Field())+": "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}
