package deals

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// EventKind tags a timeline entry for display.
type EventKind string

const (
	EventStage    EventKind = "stage"
	EventPayment  EventKind = "payment"
	EventNote     EventKind = "note"
	EventDocument EventKind = "document"
	EventStatus   EventKind = "status"
)

// kindOrder breaks ties between events sharing a timestamp.
var kindOrder = map[EventKind]int{
	EventStage:    0,
	EventPayment:  1,
	EventDocument: 2,
	EventNote:     3,
	EventStatus:   4,
}

// Label renders the kind for display.
func (k EventKind) Label() string {
	return cases.Title(language.English).String(string(k))
}

// TimelineEvent is one read-only entry of the collaboration timeline.
type TimelineEvent struct {
	At      time.Time        `json:"at"`
	Kind    EventKind        `json:"kind"`
	Title   string           `json:"title"`
	Detail  string           `json:"detail,omitempty"`
	ActorID int64            `json:"actor_id,omitempty"`
	RefID   uuid.UUID        `json:"ref_id,omitempty"`
	Stage   Stage            `json:"stage,omitempty"`
	Amount  *decimal.Decimal `json:"amount,omitempty"`
}

// BuildTimeline projects the deal's stage, payment, note and document records
// into one time-ordered view. It never mutates d and holds no state; rebuild
// it from the authoritative deal after every refetch.
func BuildTimeline(d *Deal) []TimelineEvent {
	if d == nil {
		return nil
	}
	var events []TimelineEvent

	for _, st := range stageOrder {
		p, ok := d.Lifecycle.Progress[st]
		if !ok {
			continue
		}
		if p.StartedAt != nil {
			events = append(events, TimelineEvent{
				At: *p.StartedAt, Kind: EventStage, Stage: st,
				Title: fmt.Sprintf("%s started", st.Label()),
			})
		}
		if p.CompletedAt != nil {
			events = append(events, TimelineEvent{
				At: *p.CompletedAt, Kind: EventStage, Stage: st,
				Title: fmt.Sprintf("%s completed", st.Label()),
			})
		}
	}

	if plan := d.Financial.Plan; plan != nil {
		total := plan.TotalAmount
		events = append(events, TimelineEvent{
			At: plan.CreatedAt, Kind: EventPayment, ActorID: plan.CreatedBy, RefID: plan.ID, Amount: &total,
			Title:  "Payment plan created",
			Detail: fmt.Sprintf("%d installments, %s", len(plan.Installments), lowerFrequency(plan.Frequency)),
		})
		for _, inst := range plan.Installments {
			if inst.Sequence != 0 || inst.PaidAt == nil {
				continue
			}
			amount := inst.PaidAmount
			events = append(events, TimelineEvent{
				At: *inst.PaidAt, Kind: EventPayment, RefID: inst.ID, Amount: &amount,
				Title: "Down payment received",
			})
		}
	}

	for _, p := range d.Financial.Payments {
		amount := p.Amount
		title := "Payment received"
		if !p.IsAdHoc() {
			title = "Installment payment received"
			if inst, err := findInstallment(d.Financial.Plan, *p.InstallmentID); err == nil {
				title = fmt.Sprintf("Installment #%d paid", inst.Sequence)
			}
		}
		events = append(events, TimelineEvent{
			At: p.RecordedAt, Kind: EventPayment, ActorID: p.RecordedBy, RefID: p.ID, Amount: &amount,
			Title: title, Detail: p.PaymentType,
		})
	}

	if c := d.Financial.Commission; c.ReceivedAt != nil {
		total := c.Total
		ev := TimelineEvent{At: *c.ReceivedAt, Kind: EventPayment, Amount: &total, Title: "Commission received from client"}
		if c.ReceivedBy != nil {
			ev.ActorID = *c.ReceivedBy
		}
		events = append(events, ev)
	}

	for _, n := range d.Collaboration.Notes {
		events = append(events, TimelineEvent{
			At: n.CreatedAt, Kind: EventNote, ActorID: n.AuthorID, RefID: n.ID,
			Title: "Note added", Detail: n.Content,
		})
	}

	for _, msg := range d.Collaboration.Messages {
		events = append(events, TimelineEvent{
			At: msg.SentAt, Kind: EventNote, ActorID: msg.SenderID, RefID: msg.ID,
			Title: "Message sent", Detail: msg.Content,
		})
	}

	for _, doc := range d.Documents {
		events = append(events, TimelineEvent{
			At: doc.UploadedAt, Kind: EventDocument, ActorID: doc.UploadedBy, RefID: doc.ID,
			Title: fmt.Sprintf("%s uploaded", doc.Name), Detail: doc.Category,
		})
	}

	if lc := d.Lifecycle; lc.CancelledAt != nil {
		ev := TimelineEvent{At: *lc.CancelledAt, Kind: EventStatus, Title: "Deal cancelled", Detail: lc.CancellationReason}
		if lc.CancelledBy != nil {
			ev.ActorID = *lc.CancelledBy
		}
		events = append(events, ev)
	}
	if lc := d.Lifecycle; lc.CompletedAt != nil {
		ev := TimelineEvent{At: *lc.CompletedAt, Kind: EventStatus, Title: "Deal completed"}
		if lc.CompletedBy != nil {
			ev.ActorID = *lc.CompletedBy
		}
		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].At.Equal(events[j].At) {
			return events[i].At.Before(events[j].At)
		}
		if kindOrder[events[i].Kind] != kindOrder[events[j].Kind] {
			return kindOrder[events[i].Kind] < kindOrder[events[j].Kind]
		}
		return events[i].Stage.Index() < events[j].Stage.Index()
	})
	return events
}

func lowerFrequency(f Frequency) string {
	if f == FrequencyQuarterly {
		return "quarterly"
	}
	return "monthly"
}
