package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fnndsc/plinst/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandler(t *testing.T) {
	before := testutil.ToFloat64(metrics.Dispatches.WithLabelValues("submitted"))
	metrics.Dispatches.WithLabelValues("submitted").Inc()
	if got := testutil.ToFloat64(metrics.Dispatches.WithLabelValues("submitted")); got != before+1 {
		t.Errorf("counter: (actual, expected) = (%v, %v)", got, before+1)
	}

	svr := httptest.NewServer(metrics.Handler())
	defer svr.Close()

	resp, err := http.Get(svr.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `plinst_dispatch_jobs_total{result="submitted"}`) {
		t.Errorf("metrics should be exposed:\n%s", body)
	}
}
