package deals

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Stage is one of the seven ordered lifecycle phases of a deal.
type Stage string

const (
	StageOfferAccepted        Stage = "offer-accepted"
	StageAgreementSigning     Stage = "agreement-signing"
	StageDocumentation        Stage = "documentation"
	StagePaymentProcessing    Stage = "payment-processing"
	StageHandoverPrep         Stage = "handover-prep"
	StageTransferRegistration Stage = "transfer-registration"
	StageFinalHandover        Stage = "final-handover"
)

var stageOrder = [...]Stage{
	StageOfferAccepted,
	StageAgreementSigning,
	StageDocumentation,
	StagePaymentProcessing,
	StageHandoverPrep,
	StageTransferRegistration,
	StageFinalHandover,
}

// Stages returns the ordered stage list.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder[:])
	return out
}

// Index returns the position of s in the ordered list, or -1 when unknown.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// IsValid checks if the stage is one of the seven known stages.
func (s Stage) IsValid() bool {
	return s.Index() >= 0
}

// IsFinal reports whether s is final-handover.
func (s Stage) IsFinal() bool {
	return s == StageFinalHandover
}

// Next returns the stage following s. ok is false at final-handover or for unknown stages.
func (s Stage) Next() (Stage, bool) {
	idx := s.Index()
	if idx < 0 || idx >= len(stageOrder)-1 {
		return "", false
	}
	return stageOrder[idx+1], true
}

// Label renders the stage for display, e.g. "Agreement Signing".
func (s Stage) Label() string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(s), "-", " "))
}

// initProgress makes sure every stage has a progress record.
func initProgress(lc *Lifecycle) {
	if lc.Progress == nil {
		lc.Progress = make(map[Stage]StageProgress, len(stageOrder))
	}
	for _, st := range stageOrder {
		if _, ok := lc.Progress[st]; !ok {
			lc.Progress[st] = StageProgress{Status: ProgressNotStarted}
		}
	}
}

// markStageCompleted completes a stage's record. Already completed records keep their timestamps.
func markStageCompleted(lc *Lifecycle, st Stage, at time.Time) {
	initProgress(lc)
	p := lc.Progress[st]
	if p.Status == ProgressCompleted {
		return
	}
	if p.StartedAt == nil {
		started := at
		p.StartedAt = &started
	}
	done := at
	p.Status = ProgressCompleted
	p.CompletedAt = &done
	p.CompletionPercentage = 100
	lc.Progress[st] = p
}

// markStageStarted flags a stage as in progress unless it has already started.
func markStageStarted(lc *Lifecycle, st Stage, at time.Time) {
	initProgress(lc)
	p := lc.Progress[st]
	if p.Status != ProgressNotStarted {
		return
	}
	started := at
	p.Status = ProgressInProgress
	p.StartedAt = &started
	lc.Progress[st] = p
}

// applyStageTransition moves the lifecycle one step from -> to and updates progress.
func applyStageTransition(lc *Lifecycle, from, to Stage, at time.Time) {
	markStageCompleted(lc, from, at)
	markStageStarted(lc, to, at)
	lc.Stage = to
}

// completeRemainingStages force-completes every stage from the current one onward.
func completeRemainingStages(lc *Lifecycle, at time.Time) {
	idx := lc.Stage.Index()
	if idx < 0 {
		idx = 0
	}
	for _, st := range stageOrder[idx:] {
		markStageCompleted(lc, st, at)
	}
	lc.Stage = StageFinalHandover
}
