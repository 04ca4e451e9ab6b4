package deals

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================================
// IN-MEMORY STORE
// ============================================================================

type memStore struct {
	mu    sync.Mutex
	deals map[uuid.UUID]*Deal
	calls map[string]int
	// failWith is returned by every call once set.
	failWith error
}

func newMemStore(seed ...*Deal) *memStore {
	s := &memStore{deals: make(map[uuid.UUID]*Deal), calls: make(map[string]int)}
	for _, d := range seed {
		s.put(d)
	}
	return s
}

func (m *memStore) put(d *Deal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := d.Clone()
	if cp.Version == 0 {
		cp.Version = 1
	}
	m.deals[cp.ID] = cp
}

func (m *memStore) get(id uuid.UUID) *Deal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deals[id].Clone()
}

func (m *memStore) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *memStore) writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for op, n := range m.calls {
		if op != "FetchDeal" {
			total += n
		}
	}
	return total
}

func (m *memStore) FetchDeal(ctx context.Context, id uuid.UUID) (*Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["FetchDeal"]++
	if m.failWith != nil {
		return nil, m.failWith
	}
	d, ok := m.deals[id]
	if !ok {
		return nil, wrapf(ErrNotFound, "deal %s", id)
	}
	return d.Clone(), nil
}

func (m *memStore) mutate(op string, id uuid.UUID, fn func(*Deal) error) (*Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	if m.failWith != nil {
		return nil, m.failWith
	}
	current, ok := m.deals[id]
	if !ok {
		return nil, wrapf(ErrNotFound, "deal %s", id)
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1
	m.deals[id] = next
	return next.Clone(), nil
}

func (m *memStore) UpdateDeal(ctx context.Context, id uuid.UUID, patch DealPatch) (*Deal, error) {
	return m.mutate("UpdateDeal", id, func(d *Deal) error { return ApplyPatch(d, patch) })
}

func (m *memStore) ProgressStage(ctx context.Context, id uuid.UUID, req StageRequest) (*Deal, error) {
	return m.mutate("ProgressStage", id, func(d *Deal) error { return ApplyStage(d, req) })
}

func (m *memStore) RecordPayment(ctx context.Context, id uuid.UUID, req PaymentRequest) (*Deal, error) {
	return m.mutate("RecordPayment", id, func(d *Deal) error { return ApplyPaymentRequest(d, req) })
}

func (m *memStore) CreatePaymentSchedule(ctx context.Context, id uuid.UUID, req ScheduleRequest) error {
	_, err := m.mutate("CreatePaymentSchedule", id, func(d *Deal) error { return ApplySchedule(d, req) })
	return err
}

func (m *memStore) CreateNote(ctx context.Context, id uuid.UUID, req NoteRequest) error {
	_, err := m.mutate("CreateNote", id, func(d *Deal) error { return ApplyNote(d, req) })
	return err
}

func (m *memStore) CreateDocument(ctx context.Context, id uuid.UUID, req DocumentRequest) error {
	_, err := m.mutate("CreateDocument", id, func(d *Deal) error { return ApplyDocument(d, req) })
	return err
}

func (m *memStore) CompleteDeal(ctx context.Context, id uuid.UUID, req CompleteRequest) error {
	_, err := m.mutate("CompleteDeal", id, func(d *Deal) error { return ApplyCompletion(d, req) })
	return err
}

func (m *memStore) CancelDeal(ctx context.Context, id uuid.UUID, req CancelRequest) error {
	_, err := m.mutate("CancelDeal", id, func(d *Deal) error { return ApplyCancellation(d, req) })
	return err
}

// ============================================================================
// FIXTURES
// ============================================================================

const (
	primaryAgentID   int64 = 1001
	secondaryAgentID int64 = 2002
	outsiderID       int64 = 3003
)

var fixtureTime = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	return func() time.Time { return fixtureTime }
}

func newTestDeal() *Deal {
	d := &Deal{
		ID:         uuid.New(),
		DealNumber: "DL-0001",
		TenantID:   1,
		AgencyID:   10,
		Parties: Parties{
			Seller: Party{Name: "Seller"},
			Buyer:  Party{Name: "Buyer"},
		},
		Agents: Agents{
			Primary:   Agent{ID: primaryAgentID, Name: "Primary", Email: "primary@example.com"},
			Secondary: &Agent{ID: secondaryAgentID, Name: "Secondary", Email: "secondary@example.com"},
		},
		Property:  PropertyRef{ID: 77, Title: "Villa"},
		Financial: Financial{AgreedPrice: decimal.NewFromInt(5_000_000)},
		Lifecycle: Lifecycle{Stage: StageOfferAccepted, Status: StatusActive},
		Audit:     AuditMeta{CreatedAt: fixtureTime.Add(-24 * time.Hour), CreatedBy: primaryAgentID},
		Version:   1,
	}
	Normalize(d)
	return d
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}
