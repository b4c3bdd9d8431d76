package service

import (
	"context"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer exposes the default prometheus registry on /metrics.
type MetricsServer struct {
	server *http.Server
}

func NewMetricsServer() *MetricsServer {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return &MetricsServer{server: &http.Server{Handler: r}}
}

// Serve blocks until the server is shut down.
func (m *MetricsServer) Serve(ln net.Listener) error {
	return m.server.Serve(ln)
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.server.Shutdown(ctx)
}
