package api

import (
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mailmindlin/MOEnet-2024/internal/link"
)

// Health reports link readiness over the standard gRPC health service. Each
// link is a service named after the link; the empty service name is the
// aggregate, serving only while every link is.
type Health struct {
	srv   *health.Server
	links []*link.Link

	mu   sync.Mutex
	last map[string]healthpb.HealthCheckResponse_ServingStatus
}

// NewHealth returns a health service with every link's status already set.
func NewHealth(links []*link.Link) *Health {
	h := &Health{
		srv:   health.NewServer(),
		links: links,
		last:  make(map[string]healthpb.HealthCheckResponse_ServingStatus),
	}
	h.Update()
	return h
}

// Register adds the health service to s.
func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Server returns the underlying health server.
func (h *Health) Server() healthpb.HealthServer { return h.srv }

// Update samples every link. A link is serving when the co-processor is
// connected and reports it is ready.
func (h *Health) Update() {
	h.mu.Lock()
	defer h.mu.Unlock()

	overall := healthpb.HealthCheckResponse_SERVING
	if len(h.links) == 0 {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	for _, l := range h.links {
		st := healthpb.HealthCheckResponse_NOT_SERVING
		if l.IsConnected() && l.State() == link.StateReady {
			st = healthpb.HealthCheckResponse_SERVING
		} else {
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
		h.set(l.Name(), st)
	}
	h.set("", overall)
}

// set only forwards changes, so watchers see transitions rather than one
// update per tick.
func (h *Health) set(service string, st healthpb.HealthCheckResponse_ServingStatus) {
	if prev, ok := h.last[service]; ok && prev == st {
		return
	}
	h.last[service] = st
	h.srv.SetServingStatus(service, st)
}

// Shutdown marks every service as not serving and ignores later updates.
func (h *Health) Shutdown() { h.srv.Shutdown() }
