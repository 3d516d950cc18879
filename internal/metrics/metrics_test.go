package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dgnsrekt/optionvault/internal/oracle"
)

func TestLifecycleCounters(t *testing.T) {
	m := New()
	m.Filled("ETH")
	m.Filled("ETH")
	m.Exercised("ETH")
	m.Expired("BTC")
	m.Rejected("fill", "STALE_PRICE_DATA")

	if got := testutil.ToFloat64(m.OrdersFilled.WithLabelValues("ETH")); got != 2 {
		t.Errorf("expected 2 fills, got %v", got)
	}
	if got := testutil.ToFloat64(m.OptionsExpired.WithLabelValues("BTC")); got != 1 {
		t.Errorf("expected 1 expiry, got %v", got)
	}
	if got := testutil.ToFloat64(m.Rejections.WithLabelValues("fill", "STALE_PRICE_DATA")); got != 1 {
		t.Errorf("expected 1 rejection, got %v", got)
	}
}

func TestOracleGauges(t *testing.T) {
	m := New()
	m.SetOracleHealth(oracle.Health{TotalAssets: 4, ActiveAssets: 3, AvgConfidenceBps: 9100, StaleCount: 1})
	m.SetTripped(2)
	m.ObserveUpdate("ETH", oracle.StatusFresh, 20*time.Millisecond)

	if got := testutil.ToFloat64(m.OracleConfidence); got != 9100 {
		t.Errorf("expected confidence 9100, got %v", got)
	}
	if got := testutil.ToFloat64(m.TrippedAssets); got != 2 {
		t.Errorf("expected 2 tripped, got %v", got)
	}
	if got := testutil.ToFloat64(m.PriceUpdates.WithLabelValues("ETH", string(oracle.StatusFresh))); got != 1 {
		t.Errorf("expected 1 update, got %v", got)
	}
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.Filled("ETH")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if !strings.Contains(string(body), `optionvault_lifecycle_orders_filled_total{asset="ETH"} 1`) {
		t.Errorf("fill counter missing from exposition:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("runtime collector should be registered")
	}
}
