package deals

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CommissionTerms configures how the commission is computed and split.
type CommissionTerms struct {
	Kind         CommissionKind   `json:"kind"`
	Rate         decimal.Decimal  `json:"rate"`
	FlatAmount   decimal.Decimal  `json:"flat_amount"`
	PrimaryPct   decimal.Decimal  `json:"primary_percentage"`
	SecondaryPct *decimal.Decimal `json:"secondary_percentage,omitempty"`
}

// ComputeCommission returns agreedPrice × rate / 100 for rate-based terms and
// the flat amount otherwise.
func ComputeCommission(agreedPrice decimal.Decimal, terms CommissionTerms) (decimal.Decimal, error) {
	switch terms.Kind {
	case CommissionRate:
		if terms.Rate.IsNegative() || terms.Rate.GreaterThan(hundred) {
			return decimal.Zero, validationf("commission rate must be between 0 and 100")
		}
		return agreedPrice.Mul(terms.Rate).Div(hundred).Round(moneyPlaces), nil
	case CommissionFlat:
		if terms.FlatAmount.IsNegative() {
			return decimal.Zero, validationf("flat commission cannot be negative")
		}
		return terms.FlatAmount, nil
	default:
		return decimal.Zero, validationf("unknown commission kind %q", terms.Kind)
	}
}

// SplitInput carries the per-role percentages.
type SplitInput struct {
	PrimaryPct   decimal.Decimal
	SecondaryPct *decimal.Decimal
}

// Split divides total between the roles present. Percentages must sum to 100;
// a secondary percentage is only accepted when the deal has a secondary agent.
// The secondary amount absorbs rounding so the amounts sum to total.
func Split(total decimal.Decimal, in SplitInput, hasSecondary bool) (CommissionSplit, error) {
	if in.PrimaryPct.IsNegative() || in.PrimaryPct.GreaterThan(hundred) {
		return CommissionSplit{}, wrapf(ErrInvalidSplit, "primary percentage must be between 0 and 100")
	}
	if !hasSecondary {
		if in.SecondaryPct != nil && !in.SecondaryPct.IsZero() {
			return CommissionSplit{}, wrapf(ErrInvalidSplit, "deal has no secondary agent")
		}
		if !in.PrimaryPct.Equal(hundred) {
			return CommissionSplit{}, wrapf(ErrInvalidSplit, "percentages sum to %s, want 100", in.PrimaryPct.String())
		}
		return CommissionSplit{
			Primary: SplitEntry{Percentage: hundred, Amount: total, Status: SplitPending},
		}, nil
	}
	if in.SecondaryPct == nil {
		return CommissionSplit{}, wrapf(ErrInvalidSplit, "secondary percentage required")
	}
	secondaryPct := *in.SecondaryPct
	if secondaryPct.IsNegative() {
		return CommissionSplit{}, wrapf(ErrInvalidSplit, "secondary percentage cannot be negative")
	}
	sum := in.PrimaryPct.Add(secondaryPct)
	if !sum.Equal(hundred) {
		return CommissionSplit{}, wrapf(ErrInvalidSplit, "percentages sum to %s, want 100", sum.String())
	}
	primaryAmount := total.Mul(in.PrimaryPct).Div(hundred).Round(moneyPlaces)
	return CommissionSplit{
		Primary: SplitEntry{Percentage: in.PrimaryPct, Amount: primaryAmount, Status: SplitPending},
		Secondary: &SplitEntry{
			Percentage: secondaryPct,
			Amount:     total.Sub(primaryAmount),
			Status:     SplitPending,
		},
	}, nil
}

// BuildCommission computes the total and split for a deal.
func BuildCommission(d *Deal, terms CommissionTerms) (Commission, error) {
	total, err := ComputeCommission(d.Financial.AgreedPrice, terms)
	if err != nil {
		return Commission{}, err
	}
	split, err := Split(total, SplitInput{PrimaryPct: terms.PrimaryPct, SecondaryPct: terms.SecondaryPct}, d.Agents.HasSecondary())
	if err != nil {
		return Commission{}, err
	}
	c := Commission{Kind: terms.Kind, Total: total, Split: split}
	if terms.Kind == CommissionRate {
		c.Rate = terms.Rate
	}
	return c, nil
}

// MarkReceived returns a copy of c with every split entry paid and the receipt
// stamped. Repeat calls refresh the stamp.
func MarkReceived(c Commission, actorID int64, at time.Time) (Commission, error) {
	if !c.IsConfigured() {
		return Commission{}, validationf("commission terms are not configured")
	}
	out := c
	out.Split.Primary.Status = SplitPaid
	if c.Split.Secondary != nil {
		sec := *c.Split.Secondary
		sec.Status = SplitPaid
		out.Split.Secondary = &sec
	}
	receivedAt := at
	receivedBy := actorID
	out.ReceivedFromClient = true
	out.ReceivedAt = &receivedAt
	out.ReceivedBy = &receivedBy
	return out, nil
}

// recomputeCommission keeps derived commission amounts consistent with the
// agreed price and the percentages stored on the deal. A received commission
// keeps the amounts that were paid out.
func recomputeCommission(c *Commission, agreedPrice decimal.Decimal, hasSecondary bool) {
	if !c.IsConfigured() || c.ReceivedFromClient {
		return
	}
	if c.Kind == CommissionRate {
		c.Total = agreedPrice.Mul(c.Rate).Div(hundred).Round(moneyPlaces)
	}
	if c.Split.Secondary != nil && hasSecondary {
		c.Split.Primary.Amount = c.Total.Mul(c.Split.Primary.Percentage).Div(hundred).Round(moneyPlaces)
		c.Split.Secondary.Amount = c.Total.Sub(c.Split.Primary.Amount)
		return
	}
	c.Split.Primary.Amount = c.Total.Mul(c.Split.Primary.Percentage).Div(hundred).Round(moneyPlaces)
}
