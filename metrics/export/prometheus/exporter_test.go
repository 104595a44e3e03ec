package prometheus

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/gateway"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	snapshot goSession.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goSession.MetricsSnapshot { return f.snapshot }
func (f fakeSource) EventsDropped() uint64                      { return f.dropped }

func TestCollectOnlyDroppedWhenMetricsDisabled(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters:   map[goSession.MetricID]uint64{},
			Histograms: map[goSession.MetricID][]uint64{},
		},
	})

	if n := testutil.CollectAndCount(c); n != 1 {
		t.Fatalf("expected only the dropped-events counter, got %d series", n)
	}
}

func TestCollectCountersAndHistogram(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters: map[goSession.MetricID]uint64{
				goSession.MetricLoginSuccess: 7,
				goSession.MetricLogout:       2,
			},
			Histograms: map[goSession.MetricID][]uint64{
				goSession.MetricRefreshLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	expected := `
# HELP gosession_login_success_total Successful logins.
# TYPE gosession_login_success_total counter
gosession_login_success_total 7
# HELP gosession_events_dropped_total Events dropped due to dispatcher backpressure.
# TYPE gosession_events_dropped_total counter
gosession_events_dropped_total 2
# HELP gosession_refresh_latency_seconds Refresh call latency.
# TYPE gosession_refresh_latency_seconds histogram
gosession_refresh_latency_seconds_bucket{le="0.05"} 1
gosession_refresh_latency_seconds_bucket{le="0.1"} 3
gosession_refresh_latency_seconds_bucket{le="0.25"} 6
gosession_refresh_latency_seconds_bucket{le="0.5"} 10
gosession_refresh_latency_seconds_bucket{le="1"} 15
gosession_refresh_latency_seconds_bucket{le="2.5"} 21
gosession_refresh_latency_seconds_bucket{le="5"} 28
gosession_refresh_latency_seconds_bucket{le="+Inf"} 36
gosession_refresh_latency_seconds_sum 0
gosession_refresh_latency_seconds_count 36
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"gosession_login_success_total",
		"gosession_events_dropped_total",
		"gosession_refresh_latency_seconds",
	)
	if err != nil {
		t.Fatal(err)
	}
}

func TestHandlerServesExposition(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: goSession.MetricsSnapshot{
			Counters: map[goSession.MetricID]uint64{goSession.MetricRefreshSuccess: 4},
		},
	})

	rec := httptest.NewRecorder()
	Handler(c).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "gosession_refresh_success_total 4") {
		t.Fatalf("expected refresh counter in output, got:\n%s", body)
	}
}

func TestCollectorWithEngine(t *testing.T) {
	e, err := goSession.New().WithGateway(nopGateway{}).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer e.Close()

	c := NewCollector(e)
	problems, err := testutil.CollectAndLint(c)
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	for _, p := range problems {
		t.Errorf("%s: %s", p.Metric, p.Text)
	}
}

type nopGateway struct{}

func (nopGateway) Login(context.Context, string, string) (gateway.Tokens, error) {
	return gateway.Tokens{}, gateway.ErrNetworkUnavailable
}

func (nopGateway) RefreshWithRotation(context.Context, string) (string, string, error) {
	return "", "", gateway.ErrNetworkUnavailable
}

func (nopGateway) Profile(context.Context, string) (gateway.Profile, error) {
	return gateway.Profile{}, gateway.ErrNetworkUnavailable
}
