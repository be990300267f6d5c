// Package metrics exposes a side-car Prometheus metrics server and the
// counters tracked by the approval workflow.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	vmetrics "github.com/VictoriaMetrics/metrics"
)

// MetricsServer serves the /metrics endpoint on a dedicated listener, next to
// the main API server.
type MetricsServer struct {
	namespace string
	srv       *http.Server
}

// New creates a metrics server for the given namespace listening on listenAddr.
func New(namespace, listenAddr string) (*MetricsServer, error) {
	if listenAddr == "" {
		return &MetricsServer{namespace: namespace}, nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		vmetrics.WritePrometheus(w, true)
	})

	return &MetricsServer{
		namespace: namespace,
		srv: &http.Server{
			Addr:    listenAddr,
			Handler: mux,
		},
	}, nil
}

// ListenAndServe starts the metrics listener. Returns http.ErrServerClosed
// after Shutdown.
func (m *MetricsServer) ListenAndServe() error {
	if m.srv == nil {
		return nil
	}
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	if m.srv == nil {
		return nil
	}
	return m.srv.Shutdown(ctx)
}

// IncOperation counts one invocation of a workflow operation.
func IncOperation(op string) {
	vmetrics.GetOrCreateCounter(fmt.Sprintf(`approval_operations_total{op=%q}`, op)).Inc()
}

// IncOperationError counts one failed invocation of a workflow operation.
func IncOperationError(op string) {
	vmetrics.GetOrCreateCounter(fmt.Sprintf(`approval_operation_errors_total{op=%q}`, op)).Inc()
}

// IncAggregatorConflict counts one optimistic-concurrency retry in the
// decision aggregator.
func IncAggregatorConflict() {
	vmetrics.GetOrCreateCounter(`approval_aggregator_conflicts_total`).Inc()
}
