package deals

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// moneyPlaces is the precision used for generated installment amounts.
const moneyPlaces = 2

// minInstallment is the smallest generated installment amount.
var minInstallment = decimal.New(1, -moneyPlaces)

// DownPayment is installment #0 of a plan.
type DownPayment struct {
	Amount decimal.Decimal `json:"amount"`
	Date   time.Time       `json:"date"`
}

// PaymentPlanInput describes a plan to generate.
type PaymentPlanInput struct {
	TotalAmount          decimal.Decimal `json:"total_amount"`
	DownPayment          DownPayment     `json:"down_payment"`
	NumberOfInstallments int             `json:"number_of_installments"`
	Frequency            Frequency       `json:"frequency"`
	FirstInstallmentDate time.Time       `json:"first_installment_date"`
	Confirmed            bool            `json:"confirmed"`
}

// Validate checks the plan against the deal's agreed price.
func (in PaymentPlanInput) Validate(agreedPrice decimal.Decimal) error {
	if !in.TotalAmount.IsPositive() {
		return wrapf(ErrInvalidPlan, "total amount must be positive")
	}
	if in.NumberOfInstallments <= 0 {
		return wrapf(ErrInvalidPlan, "number of installments must be positive")
	}
	if !in.TotalAmount.Equal(agreedPrice) {
		return wrapf(ErrInvalidPlan, "total amount %s does not match agreed price %s", in.TotalAmount.String(), agreedPrice.String())
	}
	if in.DownPayment.Amount.IsNegative() {
		return wrapf(ErrInvalidPlan, "down payment cannot be negative")
	}
	if in.DownPayment.Amount.GreaterThanOrEqual(in.TotalAmount) {
		return wrapf(ErrInvalidPlan, "down payment must be less than the total amount")
	}
	remaining := in.TotalAmount.Sub(in.DownPayment.Amount)
	if remaining.Div(decimal.NewFromInt(int64(in.NumberOfInstallments))).LessThan(minInstallment) {
		return wrapf(ErrInvalidPlan, "%s over %d installments is below %s per installment",
			remaining.String(), in.NumberOfInstallments, minInstallment.String())
	}
	if !in.Frequency.IsValid() {
		return wrapf(ErrInvalidPlan, "unsupported frequency %q", in.Frequency)
	}
	if in.FirstInstallmentDate.IsZero() {
		return wrapf(ErrInvalidPlan, "first installment date required")
	}
	return nil
}

// BuildPaymentPlan generates the installment sequence. The generated amounts
// plus the down payment always sum exactly to TotalAmount; the rounding
// remainder goes to the last installment.
func BuildPaymentPlan(fin Financial, in PaymentPlanInput, actorID int64, now time.Time) (*PaymentPlan, error) {
	if fin.Plan != nil {
		return nil, wrapf(ErrInvalidPlan, "deal already has a payment plan")
	}
	if err := in.Validate(fin.AgreedPrice); err != nil {
		return nil, err
	}

	plan := &PaymentPlan{
		ID:          uuid.New(),
		TotalAmount: in.TotalAmount,
		Frequency:   in.Frequency,
		CreatedAt:   now,
		CreatedBy:   actorID,
	}

	if in.DownPayment.Amount.IsPositive() {
		paidAt := in.DownPayment.Date
		if paidAt.IsZero() {
			paidAt = now
		}
		plan.Installments = append(plan.Installments, Installment{
			ID:         uuid.New(),
			Sequence:   0,
			Amount:     in.DownPayment.Amount,
			DueDate:    paidAt,
			Status:     InstallmentPaid,
			PaidAmount: in.DownPayment.Amount,
			PaidAt:     &paidAt,
		})
	}

	remaining := in.TotalAmount.Sub(in.DownPayment.Amount)
	count := decimal.NewFromInt(int64(in.NumberOfInstallments))
	share := remaining.Div(count).Truncate(moneyPlaces)
	allocated := decimal.Zero
	for i := 0; i < in.NumberOfInstallments; i++ {
		amount := share
		if i == in.NumberOfInstallments-1 {
			amount = remaining.Sub(allocated)
		}
		allocated = allocated.Add(amount)
		plan.Installments = append(plan.Installments, Installment{
			ID:         uuid.New(),
			Sequence:   i + 1,
			Amount:     amount,
			DueDate:    addMonths(in.FirstInstallmentDate, in.Frequency.Months()*i),
			Status:     InstallmentPending,
			PaidAmount: decimal.Zero,
		})
	}
	return plan, nil
}

// addMonths adds n months, clamping to the last day of the target month.
func addMonths(t time.Time, n int) time.Time {
	if n == 0 {
		return t
	}
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// InstallmentInput appends an installment to an existing plan.
type InstallmentInput struct {
	Amount  decimal.Decimal `json:"amount"`
	DueDate time.Time       `json:"due_date"`
}

// AddInstallment returns a copy of the plan with the new installment appended.
// The plan total grows by the installment amount.
func AddInstallment(plan *PaymentPlan, in InstallmentInput) (*PaymentPlan, error) {
	if plan == nil {
		return nil, wrapf(ErrNotFound, "deal has no payment plan")
	}
	if !in.Amount.IsPositive() {
		return nil, validationf("installment amount must be positive")
	}
	if in.DueDate.IsZero() {
		return nil, validationf("installment due date required")
	}
	last := lastInstallment(plan)
	if last != nil && in.DueDate.Before(last.DueDate) {
		return nil, wrapf(ErrInvalidSchedule, "due date %s is before the last installment due %s",
			in.DueDate.Format(time.DateOnly), last.DueDate.Format(time.DateOnly))
	}
	next := *plan
	next.Installments = append([]Installment(nil), plan.Installments...)
	seq := 1
	if last != nil {
		seq = last.Sequence + 1
	}
	next.Installments = append(next.Installments, Installment{
		ID:         uuid.New(),
		Sequence:   seq,
		Amount:     in.Amount,
		DueDate:    in.DueDate,
		Status:     InstallmentPending,
		PaidAmount: decimal.Zero,
	})
	next.TotalAmount = plan.TotalAmount.Add(in.Amount)
	return &next, nil
}

func lastInstallment(plan *PaymentPlan) *Installment {
	if plan == nil || len(plan.Installments) == 0 {
		return nil
	}
	last := &plan.Installments[0]
	for i := range plan.Installments {
		if plan.Installments[i].Sequence > last.Sequence {
			last = &plan.Installments[i]
		}
	}
	return last
}

// PaymentInput records money received against the deal.
type PaymentInput struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentType   string          `json:"payment_type"`
	PaidAt        time.Time       `json:"paid_at"`
	Method        string          `json:"method,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	InstallmentID *uuid.UUID      `json:"installment_id,omitempty"`
	Confirmed     bool            `json:"confirmed"`
}

// Warning is a non-blocking notice produced while recording a payment.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WarningAmountMismatch flags an installment paid with a different amount than scheduled.
const WarningAmountMismatch = "installment_amount_mismatch"

// CheckPayment validates a payment against the current financial block and
// reports non-blocking warnings.
func CheckPayment(fin Financial, in PaymentInput) ([]Warning, error) {
	if !in.Amount.IsPositive() {
		return nil, validationf("payment amount must be positive")
	}
	if strings.TrimSpace(in.PaymentType) == "" {
		return nil, validationf("payment type required")
	}
	if in.InstallmentID == nil {
		return nil, nil
	}
	inst, err := findInstallment(fin.Plan, *in.InstallmentID)
	if err != nil {
		return nil, err
	}
	if inst.Status == InstallmentPaid {
		return nil, validationf("installment #%d is already paid", inst.Sequence)
	}
	if !inst.Amount.Equal(in.Amount) {
		return []Warning{{
			Code: WarningAmountMismatch,
			Message: fmt.Sprintf("installment #%d expected %s, received %s",
				inst.Sequence, inst.Amount.StringFixed(moneyPlaces), in.Amount.StringFixed(moneyPlaces)),
		}}, nil
	}
	return nil, nil
}

func findInstallment(plan *PaymentPlan, id uuid.UUID) (*Installment, error) {
	if plan == nil {
		return nil, wrapf(ErrNotFound, "deal has no payment plan")
	}
	for i := range plan.Installments {
		if plan.Installments[i].ID == id {
			return &plan.Installments[i], nil
		}
	}
	return nil, wrapf(ErrNotFound, "installment %s", id)
}

// ApplyPayment records the payment on fin and reconciles it. fin must not be
// shared with callers that expect it unchanged.
func ApplyPayment(fin *Financial, in PaymentInput, actorID int64, now time.Time) (Payment, error) {
	if _, err := CheckPayment(*fin, in); err != nil {
		return Payment{}, err
	}
	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = now
	}
	payment := Payment{
		ID:          uuid.New(),
		Amount:      in.Amount,
		PaymentType: strings.TrimSpace(in.PaymentType),
		Method:      in.Method,
		Reference:   in.Reference,
		Notes:       in.Notes,
		PaidAt:      paidAt,
		RecordedBy:  actorID,
		RecordedAt:  now,
	}
	if in.InstallmentID != nil {
		inst, err := findInstallment(fin.Plan, *in.InstallmentID)
		if err != nil {
			return Payment{}, err
		}
		inst.Status = InstallmentPaid
		inst.PaidAmount = in.Amount
		inst.PaidAt = &paidAt
		id := *in.InstallmentID
		payment.InstallmentID = &id
	}
	fin.Payments = append(fin.Payments, payment)
	Reconcile(fin)
	return payment, nil
}

// Reconcile recomputes TotalPaid, BalanceRemaining and PaymentState.
// Installment receipts count through the installment's paid amount; the
// matching Payment records are not counted twice.
func Reconcile(fin *Financial) {
	total := decimal.Zero
	if fin.Plan != nil {
		for _, inst := range fin.Plan.Installments {
			if inst.Status == InstallmentPaid {
				total = total.Add(inst.PaidAmount)
			}
		}
	}
	for _, p := range fin.Payments {
		if p.IsAdHoc() {
			total = total.Add(p.Amount)
		}
	}
	fin.TotalPaid = total

	balance := fin.AgreedPrice.Sub(total)
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	fin.BalanceRemaining = balance

	switch {
	case fin.Plan == nil && len(fin.Payments) == 0:
		fin.PaymentState = PaymentStateNoPlan
	case total.GreaterThanOrEqual(fin.AgreedPrice):
		fin.PaymentState = PaymentStateFullyPaid
	default:
		fin.PaymentState = PaymentStatePartiallyPaid
	}
}

// EnsureAgreedPriceMutable rejects price changes once a plan exists.
func EnsureAgreedPriceMutable(fin Financial, price decimal.Decimal) error {
	if !price.IsPositive() {
		return validationf("agreed price must be positive")
	}
	if price.Equal(fin.AgreedPrice) {
		return nil
	}
	if fin.Plan != nil {
		return validationf("agreed price cannot change once a payment plan exists")
	}
	if fin.Commission.ReceivedFromClient {
		return validationf("agreed price cannot change once the commission was received")
	}
	return nil
}
