package httpclient

import (
	"net/http"
	"time"

	"github.com/Zhima-Mochi/diner/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// New returns a client whose transport propagates trace context and opens a client span per call.
// Every request is bounded by timeout.
func New(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Recorder records external_requests_total{peer,endpoint,outcome} and its duration histogram.
type Recorder struct {
	peer     string
	counter  observability.Counter
	duration observability.Histogram
}

func NewRecorder(peer string, metrics observability.Metrics) Recorder {
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return Recorder{
		peer:     peer,
		counter:  metrics.Counter(observability.MExternalRequests),
		duration: metrics.Histogram(observability.MExternalRequestDuration),
	}
}

func (r Recorder) Observe(endpoint string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.counter.Add(1,
		observability.L("peer", r.peer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	)
	r.duration.Observe(time.Since(start).Seconds(),
		observability.L("peer", r.peer),
		observability.L("endpoint", endpoint),
	)
}
