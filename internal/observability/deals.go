package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/odyssey-deals/internal/deals"
)

// DealMetrics mencatat transisi tahap, pembayaran, penolakan izin dan penutupan deal.
type DealMetrics struct {
	stageTransitions  *prometheus.CounterVec
	paymentsRecorded  *prometheus.CounterVec
	permissionDenials *prometheus.CounterVec
	dealsClosed       *prometheus.CounterVec
}

var _ deals.MetricsRecorder = (*DealMetrics)(nil)

func newDealMetrics(registerer prometheus.Registerer) *DealMetrics {
	stages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_deal_stage_transitions_total",
		Help: "Jumlah perpindahan tahap deal.",
	}, []string{"from", "to"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_deal_payments_total",
		Help: "Jumlah pembayaran yang dicatat berdasarkan jenis.",
	}, []string{"kind"})
	denials := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_deal_permission_denials_total",
		Help: "Jumlah penolakan izin berdasarkan kapabilitas.",
	}, []string{"capability"})
	closed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_deals_closed_total",
		Help: "Jumlah deal yang selesai atau dibatalkan.",
	}, []string{"status"})
	registerer.MustRegister(stages, payments, denials, closed)
	return &DealMetrics{
		stageTransitions:  stages,
		paymentsRecorded:  payments,
		permissionDenials: denials,
		dealsClosed:       closed,
	}
}

// StageTransition mencatat satu perpindahan tahap.
func (m *DealMetrics) StageTransition(from, to deals.Stage) {
	if m == nil {
		return
	}
	m.stageTransitions.WithLabelValues(from.Wire(), to.Wire()).Inc()
}

// PaymentRecorded mencatat pembayaran cicilan atau ad-hoc.
func (m *DealMetrics) PaymentRecorded(adHoc bool) {
	if m == nil {
		return
	}
	kind := "installment"
	if adHoc {
		kind = "ad_hoc"
	}
	m.paymentsRecorded.WithLabelValues(kind).Inc()
}

// PermissionDenied mencatat penolakan izin.
func (m *DealMetrics) PermissionDenied(c deals.Capability) {
	if m == nil {
		return
	}
	m.permissionDenials.WithLabelValues(c.String()).Inc()
}

// DealClosed mencatat deal yang mencapai status akhir.
func (m *DealMetrics) DealClosed(status deals.Status) {
	if m == nil {
		return
	}
	m.dealsClosed.WithLabelValues(string(status)).Inc()
}
