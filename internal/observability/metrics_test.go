package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-deals/internal/deals"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, "odyssey_http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, "odyssey_http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}

func TestDealMetricsRecordEngineEvents(t *testing.T) {
	metrics := NewMetrics()
	dm := metrics.Deals()

	dm.StageTransition(deals.StageOfferAccepted, deals.StageAgreementSigning)
	dm.PaymentRecorded(true)
	dm.PaymentRecorded(false)
	dm.PermissionDenied(deals.CapProgressStage)
	dm.DealClosed(deals.StatusCancelled)

	body := scrape(t, metrics)
	for _, want := range []string{
		`odyssey_deal_stage_transitions_total{from="OFFER_ACCEPTED",to="AGREEMENT_SIGNING"} 1`,
		`odyssey_deal_payments_total{kind="ad_hoc"} 1`,
		`odyssey_deal_payments_total{kind="installment"} 1`,
		`odyssey_deal_permission_denials_total{capability="progress stage"} 1`,
		`odyssey_deals_closed_total{status="CANCELLED"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics, got: %s", want, body)
		}
	}
}

func TestNilDealMetricsAreSafe(t *testing.T) {
	var dm *DealMetrics
	dm.StageTransition(deals.StageOfferAccepted, deals.StageAgreementSigning)
	dm.PaymentRecorded(true)
	dm.PermissionDenied(deals.CapEditDeal)
	dm.DealClosed(deals.StatusCompleted)
}
