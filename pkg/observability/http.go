package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// MetricsServer exposes the Prometheus registry on its own listener, kept
// separate from the operation API so scrapes never pass through the agent
// token check.
type MetricsServer struct {
	logger *zap.Logger
	server *http.Server
}

// NewMetricsServer builds a metrics server bound to addr.
func NewMetricsServer(addr string, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})

	return &MetricsServer{
		logger: logger,
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start begins serving in the background. Listener errors are logged, not
// returned; a dead metrics endpoint must not take the agent down.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("Metrics listener starting", zap.String("addr", ms.server.Addr))

	go func() {
		if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ms.logger.Error("Metrics listener failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop drains the metrics listener.
func (ms *MetricsServer) Stop(ctx context.Context) error {
	ms.logger.Info("Metrics listener stopping")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := ms.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown metrics listener: %w", err)
	}

	return nil
}
