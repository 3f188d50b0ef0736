// SPDX-License-Identifier: MIT
package observe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	applog "pdmstream/internal/log"
)

// Exporter serves pipeline metrics for Prometheus scraping.
type Exporter struct {
	provider *sdkmetric.MeterProvider
	server   *http.Server
	Metrics  *Metrics
}

// NewExporter builds a MeterProvider bridged to a dedicated Prometheus
// registry and creates the pipeline instruments from it. The HTTP endpoint
// is not started until Serve is called.
func NewExporter(addr string) (*Exporter, error) {
	registry := prometheus.NewRegistry()
	promExp, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExp))
	met, err := NewMetrics(mp)
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Exporter{
		provider: mp,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		Metrics: met,
	}, nil
}

// Serve starts the /metrics endpoint in its own goroutine.
func (e *Exporter) Serve() {
	go func() {
		applog.Infof("Metrics: serving /metrics on %s", e.server.Addr)
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Errorf("Metrics: server error: %v", err)
		}
	}()
}

// Handler returns the HTTP handler serving /metrics.
func (e *Exporter) Handler() http.Handler { return e.server.Handler }

// Close stops the endpoint and flushes the provider.
func (e *Exporter) Close(ctx context.Context) error {
	return errors.Join(e.server.Shutdown(ctx), e.provider.Shutdown(ctx))
}
