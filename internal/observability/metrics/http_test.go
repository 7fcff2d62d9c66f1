package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRenderExposesCountersAndHistograms(t *testing.T) {
	ObserveHTTPRequest("chat", "POST", 202, 30*time.Millisecond)
	ObserveHTTPRequest("chat", "POST", 202, 80*time.Millisecond)
	ObserveHTTPRequest("chat", "POST", 500, 10*time.Millisecond)
	ObserveExecution("completed")
	ObserveExecution("completed")
	ObserveExecution("failed")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type: %s", ct)
	}
	body := rec.Body.String()

	for _, want := range []string{
		"# TYPE h2k_http_requests_total counter",
		`h2k_http_requests_total{handler="chat",method="POST",code="202"} 2`,
		`h2k_http_requests_total{handler="chat",method="POST",code="500"} 1`,
		`h2k_http_request_errors_total{handler="chat",method="POST"} 1`,
		"# TYPE h2k_http_request_duration_seconds histogram",
		`h2k_http_request_duration_seconds_count{handler="chat",method="POST"} 3`,
		"# TYPE h2k_executions_total counter",
		`h2k_executions_total{status="completed"} 2`,
		`h2k_executions_total{status="failed"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metric output missing %q:\n%s", want, body)
		}
	}

	// The +Inf bucket must account for every observation.
	if !strings.Contains(body, `le="+Inf"} 3`) {
		t.Fatalf("+Inf bucket incomplete:\n%s", body)
	}
}

func TestEscapeLabelValues(t *testing.T) {
	if got := escape(`say "hi"` + "\n"); got != `say \"hi\"` {
		t.Fatalf("unexpected escaping: %q", got)
	}
	if got := escape(`back\slash`); got != `back\\slash` {
		t.Fatalf("unexpected escaping: %q", got)
	}
}
