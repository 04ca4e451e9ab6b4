package deals

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func planInput(total, down string, n int) PaymentPlanInput {
	return PaymentPlanInput{
		TotalAmount:          dec(total),
		DownPayment:          DownPayment{Amount: dec(down), Date: fixtureTime},
		NumberOfInstallments: n,
		Frequency:            FrequencyMonthly,
		FirstInstallmentDate: time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC),
		Confirmed:            true,
	}
}

func TestBuildPaymentPlanMonthly(t *testing.T) {
	fin := Financial{AgreedPrice: dec("5000000")}
	plan, err := BuildPaymentPlan(fin, planInput("5000000", "500000", 9), primaryAgentID, fixtureTime)
	require.NoError(t, err)

	require.Len(t, plan.Installments, 10)
	down := plan.Installments[0]
	assert.Equal(t, 0, down.Sequence)
	assert.Equal(t, InstallmentPaid, down.Status)
	assert.True(t, down.Amount.Equal(dec("500000")))

	sum := decimal.Zero
	for i, inst := range plan.Installments[1:] {
		assert.Equal(t, i+1, inst.Sequence)
		assert.Equal(t, InstallmentPending, inst.Status)
		assert.True(t, inst.Amount.Equal(dec("500000")), inst.Amount.String())
		assert.Equal(t, time.Month(4+i), inst.DueDate.Month())
		sum = sum.Add(inst.Amount)
	}
	assert.True(t, sum.Equal(dec("4500000")))
}

func TestBuildPaymentPlanRoundingGoesToLastInstallment(t *testing.T) {
	fin := Financial{AgreedPrice: dec("1000")}
	in := planInput("1000", "0", 3)
	in.Frequency = FrequencyQuarterly
	plan, err := BuildPaymentPlan(fin, in, primaryAgentID, fixtureTime)
	require.NoError(t, err)

	require.Len(t, plan.Installments, 3)
	assert.Equal(t, "333.33", plan.Installments[0].Amount.String())
	assert.Equal(t, "333.33", plan.Installments[1].Amount.String())
	assert.Equal(t, "333.34", plan.Installments[2].Amount.String())
	assert.Equal(t, time.October, plan.Installments[2].DueDate.Month())

	sum := decimal.Zero
	for _, inst := range plan.Installments {
		sum = sum.Add(inst.Amount)
	}
	assert.True(t, sum.Equal(dec("1000")))
}

func TestBuildPaymentPlanRejects(t *testing.T) {
	fin := Financial{AgreedPrice: dec("5000000")}
	cases := map[string]PaymentPlanInput{
		"mismatched total":  planInput("4000000", "0", 4),
		"zero installments": planInput("5000000", "0", 0),
		"down equals total": planInput("5000000", "5000000", 3),
		"negative down":     planInput("5000000", "-1", 3),
		"sub-cent shares":   planInput("5000000", "4999999.95", 9),
	}
	bad := planInput("5000000", "0", 3)
	bad.Frequency = "WEEKLY"
	cases["bad frequency"] = bad
	noDate := planInput("5000000", "0", 3)
	noDate.FirstInstallmentDate = time.Time{}
	cases["missing first date"] = noDate

	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := BuildPaymentPlan(fin, in, primaryAgentID, fixtureTime)
			assert.ErrorIs(t, err, ErrInvalidPlan)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	existing := fin
	existing.Plan = &PaymentPlan{}
	_, err := BuildPaymentPlan(existing, planInput("5000000", "0", 3), primaryAgentID, fixtureTime)
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestBuildPaymentPlanMinimumInstallment(t *testing.T) {
	fin := Financial{AgreedPrice: dec("100.05")}
	_, err := BuildPaymentPlan(fin, planInput("100.05", "100", 9), primaryAgentID, fixtureTime)
	assert.ErrorIs(t, err, ErrInvalidPlan)

	fin.AgreedPrice = dec("100.09")
	plan, err := BuildPaymentPlan(fin, planInput("100.09", "100", 9), primaryAgentID, fixtureTime)
	require.NoError(t, err)
	for _, inst := range plan.Installments[1:] {
		assert.Equal(t, "0.01", inst.Amount.String())
	}
}

func TestAddMonthsClampsToMonthEnd(t *testing.T) {
	jan31 := time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC), addMonths(jan31, 1))
	assert.Equal(t, time.Date(2024, time.April, 30, 0, 0, 0, 0, time.UTC), addMonths(jan31, 3))
	assert.Equal(t, jan31, addMonths(jan31, 0))
}

func TestAddInstallment(t *testing.T) {
	fin := Financial{AgreedPrice: dec("1000")}
	plan, err := BuildPaymentPlan(fin, planInput("1000", "100", 2), primaryAgentID, fixtureTime)
	require.NoError(t, err)
	last := plan.Installments[len(plan.Installments)-1]

	next, err := AddInstallment(plan, InstallmentInput{Amount: dec("50"), DueDate: last.DueDate})
	require.NoError(t, err)
	assert.Len(t, next.Installments, 4)
	assert.Len(t, plan.Installments, 3, "input plan must be untouched")
	assert.Equal(t, 3, next.Installments[3].Sequence)
	assert.True(t, next.TotalAmount.Equal(dec("1050")))

	_, err = AddInstallment(plan, InstallmentInput{Amount: dec("50"), DueDate: last.DueDate.AddDate(0, 0, -1)})
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	_, err = AddInstallment(plan, InstallmentInput{Amount: dec("0"), DueDate: last.DueDate})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = AddInstallment(nil, InstallmentInput{Amount: dec("1"), DueDate: fixtureTime})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyPaymentReconciles(t *testing.T) {
	fin := Financial{AgreedPrice: dec("1000")}
	plan, err := BuildPaymentPlan(fin, planInput("1000", "100", 2), primaryAgentID, fixtureTime)
	require.NoError(t, err)
	fin.Plan = plan
	Reconcile(&fin)
	assert.Equal(t, PaymentStatePartiallyPaid, fin.PaymentState)
	assert.True(t, fin.TotalPaid.Equal(dec("100")))
	assert.True(t, fin.BalanceRemaining.Equal(dec("900")))

	first := plan.Installments[1].ID
	warnings, err := CheckPayment(fin, PaymentInput{Amount: dec("400"), PaymentType: "transfer", InstallmentID: &first})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, WarningAmountMismatch, warnings[0].Code)

	payment, err := ApplyPayment(&fin, PaymentInput{Amount: dec("450"), PaymentType: "transfer", InstallmentID: &first}, primaryAgentID, fixtureTime)
	require.NoError(t, err)
	assert.False(t, payment.IsAdHoc())
	assert.True(t, fin.TotalPaid.Equal(dec("550")))

	_, err = ApplyPayment(&fin, PaymentInput{Amount: dec("450"), PaymentType: "transfer", InstallmentID: &first}, primaryAgentID, fixtureTime)
	assert.ErrorIs(t, err, ErrValidation, "installment already paid")

	_, err = ApplyPayment(&fin, PaymentInput{Amount: dec("600"), PaymentType: "cash"}, primaryAgentID, fixtureTime)
	require.NoError(t, err)
	assert.True(t, fin.TotalPaid.Equal(dec("1150")))
	assert.True(t, fin.BalanceRemaining.IsZero(), "balance never goes negative")
	assert.Equal(t, PaymentStateFullyPaid, fin.PaymentState)
}

func TestCheckPaymentRejects(t *testing.T) {
	fin := Financial{AgreedPrice: dec("1000")}
	_, err := CheckPayment(fin, PaymentInput{Amount: dec("0"), PaymentType: "cash"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = CheckPayment(fin, PaymentInput{Amount: dec("10"), PaymentType: "  "})
	assert.ErrorIs(t, err, ErrValidation)
	missing := uuid.New()
	_, err = CheckPayment(fin, PaymentInput{Amount: dec("10"), PaymentType: "cash", InstallmentID: &missing})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureAgreedPriceMutable(t *testing.T) {
	fin := Financial{AgreedPrice: dec("1000")}
	assert.NoError(t, EnsureAgreedPriceMutable(fin, dec("1200")))
	assert.ErrorIs(t, EnsureAgreedPriceMutable(fin, dec("0")), ErrValidation)

	fin.Plan = &PaymentPlan{}
	assert.ErrorIs(t, EnsureAgreedPriceMutable(fin, dec("1200")), ErrValidation)
	assert.NoError(t, EnsureAgreedPriceMutable(fin, dec("1000")))

	received := Financial{AgreedPrice: dec("1000"), Commission: Commission{ReceivedFromClient: true}}
	assert.ErrorIs(t, EnsureAgreedPriceMutable(received, dec("1200")), ErrValidation)
	assert.NoError(t, EnsureAgreedPriceMutable(received, dec("1000")))
}
