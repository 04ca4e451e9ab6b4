package deals

import (
	"strings"
	"time"
)

// stageTokens is the single source of the stage <-> wire token mapping.
var stageTokens = [...]struct {
	stage Stage
	token string
}{
	{StageOfferAccepted, "OFFER_ACCEPTED"},
	{StageAgreementSigning, "AGREEMENT_SIGNING"},
	{StageDocumentation, "DOCUMENTATION"},
	{StagePaymentProcessing, "PAYMENT_PROCESSING"},
	{StageHandoverPrep, "HANDOVER_PREP"},
	{StageTransferRegistration, "TRANSFER_REGISTRATION"},
	{StageFinalHandover, "FINAL_HANDOVER"},
}

var stageToWire, wireToStage = buildStageMaps()

func buildStageMaps() (map[Stage]string, map[string]Stage) {
	toWire := make(map[Stage]string, len(stageTokens))
	fromWire := make(map[string]Stage, len(stageTokens))
	for _, entry := range stageTokens {
		toWire[entry.stage] = entry.token
		fromWire[entry.token] = entry.stage
	}
	return toWire, fromWire
}

// Wire returns the upper-snake-case token exchanged with the store.
func (s Stage) Wire() string {
	return stageToWire[s]
}

// StageFromWire decodes a store token into a stage.
func StageFromWire(token string) (Stage, error) {
	st, ok := wireToStage[token]
	if !ok {
		return "", validationf("unknown stage token %q", token)
	}
	return st, nil
}

// ParseStage accepts either the human-readable name or the wire token, in any case.
func ParseStage(raw string) (Stage, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", validationf("stage required")
	}
	if st, ok := wireToStage[strings.ToUpper(value)]; ok {
		return st, nil
	}
	candidate := Stage(strings.ToLower(strings.ReplaceAll(value, " ", "-")))
	if candidate.IsValid() {
		return candidate, nil
	}
	return "", validationf("unknown stage %q", raw)
}

// ParseStatus decodes a status in any case, accepting "on-hold" style spellings.
func ParseStatus(raw string) (Status, error) {
	value := Status(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "_")))
	if !value.IsValid() {
		return "", validationf("unknown status %q", raw)
	}
	return value, nil
}

// Normalize recomputes every derived field of a deal returned by the store:
// balances and payment state, rate-based commission totals and split amounts,
// and the progress record of the current stage.
func Normalize(d *Deal) {
	if d == nil {
		return
	}
	if d.Lifecycle.Status == "" {
		d.Lifecycle.Status = StatusActive
	}
	if !d.Lifecycle.Stage.IsValid() {
		d.Lifecycle.Stage = StageOfferAccepted
	}
	initProgress(&d.Lifecycle)
	if d.Lifecycle.Status != StatusCompleted {
		at := d.Audit.CreatedAt
		if at.IsZero() {
			at = time.Now()
		}
		markStageStarted(&d.Lifecycle, d.Lifecycle.Stage, at)
	}
	Reconcile(&d.Financial)
	recomputeCommission(&d.Financial.Commission, d.Financial.AgreedPrice, d.Agents.HasSecondary())
}
