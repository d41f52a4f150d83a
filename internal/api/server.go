// Package api serves the link state over HTTP and gRPC.
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mailmindlin/MOEnet-2024/internal/clock"
	"github.com/mailmindlin/MOEnet-2024/internal/geom"
	"github.com/mailmindlin/MOEnet-2024/internal/link"
	"github.com/mailmindlin/MOEnet-2024/internal/monitoring"
	"github.com/mailmindlin/MOEnet-2024/internal/vision"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	vision  *vision.Vision
	metrics http.Handler
}

// NewServer returns a server over v. Metrics are gathered from g, or from
// the default registry when g is nil.
func NewServer(v *vision.Vision, g prometheus.Gatherer) *Server {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return &Server{
		vision:  v,
		metrics: promhttp.HandlerFor(g, promhttp.HandlerOpts{}),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/link/status", s.showStatus)
	mux.HandleFunc("/api/link/config", s.handleConfig)
	mux.HandleFunc("/api/link/detections", s.listDetections)
	mux.HandleFunc("/api/pose", s.handlePose)
	mux.Handle("/metrics", s.metrics)
	return mux
}

// findLink resolves the ?link= parameter. It may be omitted when there is
// exactly one link.
func (s *Server) findLink(r *http.Request) (*link.Link, error) {
	links := s.vision.Links()
	name := r.URL.Query().Get("link")
	if name == "" {
		if len(links) == 1 {
			return links[0], nil
		}
		return nil, fmt.Errorf("'link' parameter required with %d links", len(links))
	}
	for _, l := range links {
		if l.Name() == name {
			return l, nil
		}
	}
	return nil, fmt.Errorf("unknown link %q", name)
}

type statusResponse struct {
	Name   string        `json:"name"`
	Status string        `json:"status"`
	Links  []link.Status `json:"links"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	resp := statusResponse{
		Name:   s.vision.Name(),
		Status: s.vision.Status().String(),
		Links:  []link.Status{},
	}
	for _, l := range s.vision.Links() {
		resp.Links = append(resp.Links, l.Status())
	}
	writeJSON(w, http.StatusOK, resp)
}

// configErrorHeader carries a decode error for a newer configuration when an
// older one is returned.
const configErrorHeader = "X-Config-Error"

// handleConfig returns the configuration the co-processor runs (GET) or
// requests a new one (PUT).
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	l, err := s.findLink(r)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		cfg, ok, err := l.Config()
		switch {
		case !ok && err != nil:
			writeJSONError(w, http.StatusBadGateway, err.Error())
			return
		case !ok:
			writeJSONError(w, http.StatusNotFound, "no configuration available")
			return
		case err != nil:
			// The previous configuration is still in effect.
			w.Header().Set(configErrorHeader, err.Error())
		}
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodPut:
		var cfg link.RemoteConfig
		if err := decodeBody(w, r, &cfg); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid configuration: %v", err))
			return
		}
		if err := l.SetConfig(&cfg); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

type detectionResponse struct {
	Label           string              `json:"label"`
	Confidence      float64             `json:"confidence"`
	TimestampMicros int64               `json:"timestamp_micros"`
	PositionField   *geom.Translation3D `json:"position_field,omitempty"`
	PositionRobot   *geom.Translation3D `json:"position_robot,omitempty"`
}

func (s *Server) listDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ds := s.vision.Detections()
	resp := make([]detectionResponse, 0, len(ds))
	for _, d := range ds {
		resp = append(resp, detectionResponse{
			Label:           d.Label,
			Confidence:      d.Confidence,
			TimestampMicros: d.Timestamp.Micros(),
			PositionField:   d.PositionField,
			PositionRobot:   d.PositionRobot,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type poseResponse struct {
	Pose       geom.Pose3D      `json:"pose"`
	Pose2D     geom.Pose2D      `json:"pose2d"`
	Relative   bool             `json:"relative"`
	Correction geom.Transform3D `json:"correction"`
	// EstimateAgeMillis is how long ago the last estimate was captured.
	EstimateAgeMillis *float64 `json:"estimate_age_ms,omitempty"`
}

// handlePose reports the fused pose (GET) or places the robot (PUT).
func (s *Server) handlePose(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		p := s.vision.Pose3D()
		resp := poseResponse{
			Pose:       p,
			Pose2D:     p.ToPose2D(),
			Relative:   s.vision.IsRelative(),
			Correction: s.vision.OdometryCorrection(),
		}
		if at, ok := s.vision.EstimateTime(); ok {
			age := float64(clock.Now(s.vision.Time()).Sub(at)) / float64(time.Millisecond)
			resp.EstimateAgeMillis = &age
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPut:
		var p geom.Pose3D
		if err := decodeBody(w, r, &p); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid pose: %v", err))
			return
		}
		if err := s.vision.SetPose(p); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}
