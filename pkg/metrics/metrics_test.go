package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveUpstream(t *testing.T) {
	before := testutil.ToFloat64(UpstreamRequests.WithLabelValues("GET", "200"))
	ObserveUpstream("GET", 200)
	assert.Equal(t, before+1, testutil.ToFloat64(UpstreamRequests.WithLabelValues("GET", "200")))

	before = testutil.ToFloat64(UpstreamRequests.WithLabelValues("POST", "error"))
	ObserveUpstream("POST", 0)
	assert.Equal(t, before+1, testutil.ToFloat64(UpstreamRequests.WithLabelValues("POST", "error")))
}

func TestResult(t *testing.T) {
	assert.Equal(t, "ok", Result(nil))
	assert.Equal(t, "error", Result(errors.New("boom")))
}

func TestHandler(t *testing.T) {
	Commands.WithLabelValues("set_zone", "ok").Inc()

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "techbridge_commands_total")
}
