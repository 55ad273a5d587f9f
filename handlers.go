package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kwv/scanalign/align"
)

// maxBodyBytes caps request bodies; a dense scan is a few MB of floats.
const maxBodyBytes = 32 << 20

// pointsRequest carries plan-view points or a mesh URL.
type pointsRequest struct {
	Points  []float64 `json:"points,omitempty"`
	MeshURL string    `json:"meshUrl,omitempty"`
}

type autoAlignRequest struct {
	pointsRequest
	TargetAreaFt2 float64              `json:"targetAreaFt2"`
	Current       *align.SeedTransform `json:"currentTransform,omitempty"`
	ScanID        string               `json:"scanId,omitempty"`
}

type sessionRequest struct {
	align.AlignRequest
	pointsRequest
	ScanID string `json:"scanId,omitempty"`
	Stride int    `json:"stride,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Router builds the HTTP API.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(a.Logger))

	r.Get("/health", a.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/register", a.handleRegister)
		r.Post("/autoalign", a.handleAutoAlign)
		r.Post("/stats", a.handleStats)
		r.Get("/profile.geojson", a.handleProfile)

		r.Get("/alignments", a.handleListAlignments)
		r.Get("/alignments/{scanID}", a.handleGetAlignment)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", a.handleListSessions)
			r.Post("/", a.handleCreateSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.handleGetSession)
				r.Get("/overlay.svg", a.handleOverlay("svg"))
				r.Get("/overlay.png", a.handleOverlay("png"))
				r.Get("/snapshot.png", a.handleOverlay("snapshot"))
				r.Get("/residuals.html", a.handleOverlay("html"))
				r.Get("/footprint.geojson", a.handleOverlay("geojson"))
			})
		})
	})
	return r
}

// requestLogger logs each request at debug level.
func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	logger = logger.WithPrefix("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"elapsed", time.Since(start).Round(time.Microsecond),
				"remote", r.RemoteAddr)
		})
	}
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
		Sessions  int       `json:"sessions"`
		MQTT      bool      `json:"mqtt"`
	}{
		Status:    "ok",
		Timestamp: time.Now(),
		Sessions:  a.Outcomes.Len(),
		MQTT:      a.MQTT != nil && a.MQTT.IsConnected(),
	}
	a.respondJSON(w, http.StatusOK, status)
}

func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req align.RegistrationRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.respondError(w, err)
		return
	}
	a.Config.Engine.Defaults(&req)

	res, err := a.runner().Do(r.Context(), req)
	if err != nil && !res.Cancelled {
		a.respondError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, res)
}

func (a *App) handleAutoAlign(w http.ResponseWriter, r *http.Request) {
	var req autoAlignRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.respondError(w, err)
		return
	}
	if !(req.TargetAreaFt2 > 0) {
		a.respondError(w, fmt.Errorf("%w: targetAreaFt2 must be positive", align.ErrInvalidRequest))
		return
	}

	current := align.IdentitySeed()
	switch {
	case req.Current != nil:
		current = *req.Current
	case req.ScanID != "":
		current = a.Store.Current(req.ScanID)
	}

	if req.empty() {
		a.respondError(w, fmt.Errorf("%w: points or meshUrl is required", align.ErrInvalidRequest))
		return
	}
	src, err := req.source()
	if err != nil {
		a.respondError(w, err)
		return
	}
	seed, err := a.newSession(0).AutoAlignSource(r.Context(), src, req.TargetAreaFt2, current)
	if err != nil {
		a.respondError(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, seed.Rounded())
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	var req pointsRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.respondError(w, err)
		return
	}
	if req.empty() {
		a.respondError(w, fmt.Errorf("%w: points or meshUrl is required", align.ErrInvalidRequest))
		return
	}
	src, err := req.source()
	if err != nil {
		a.respondError(w, err)
		return
	}
	geoms, err := src.Geometries(r.Context())
	if err != nil {
		a.respondError(w, err)
		return
	}
	stride := align.DefaultStatsStride
	if len(req.Points) > 0 {
		stride = 1
	}
	a.respondJSON(w, http.StatusOK, align.ComputeMeshStats(align.SampleGeometries(geoms, stride)))
}

func (a *App) handleProfile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind, err := align.ParseProfileKind(q.Get("kind"))
	if err != nil {
		a.respondError(w, fmt.Errorf("%w: %w", align.ErrInvalidRequest, err))
		return
	}
	width, errW := strconv.ParseFloat(q.Get("width"), 64)
	depth, errD := strconv.ParseFloat(q.Get("depth"), 64)
	if errW != nil || errD != nil || width <= 0 || depth <= 0 {
		a.respondError(w, fmt.Errorf("%w: width and depth must be positive numbers", align.ErrInvalidRequest))
		return
	}
	count := 0
	if c := q.Get("count"); c != "" {
		if count, err = strconv.Atoi(c); err != nil || count < 0 {
			a.respondError(w, fmt.Errorf("%w: count must be a non-negative integer", align.ErrInvalidRequest))
			return
		}
	}

	profile := align.NewTargetProfile(kind, align.Dims{Width: width, Depth: depth}, count)
	w.Header().Set("Content-Type", "application/geo+json")
	a.respondJSON(w, http.StatusOK, align.ProfileFeatureCollection(profile, count > 0))
}

func (a *App) handleListAlignments(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, http.StatusOK, map[string][]string{"scans": a.Store.IDs()})
}

func (a *App) handleGetAlignment(w http.ResponseWriter, r *http.Request) {
	saved, ok := a.Store.Get(chi.URLParam(r, "scanID"))
	if !ok {
		http.Error(w, "alignment not found", http.StatusNotFound)
		return
	}
	a.respondJSON(w, http.StatusOK, saved)
}

func (a *App) handleListSessions(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, http.StatusOK, map[string][]string{"sessions": a.Outcomes.IDs()})
}

// handleCreateSession runs one alignment session synchronously and keeps the
// outcome for the render endpoints.
func (a *App) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.respondError(w, err)
		return
	}
	src, err := req.source()
	if err != nil {
		a.respondError(w, err)
		return
	}
	req.Eps = a.epsOrDefault(req.Eps)
	if req.ScanID != "" && req.Current == nil {
		current := a.Store.Current(req.ScanID)
		req.Current = &current
	}

	// posted points are already sampled
	stride := req.Stride
	if stride == 0 && len(req.Points) > 0 {
		stride = 1
	}
	out, err := a.newSession(stride).AlignSource(r.Context(), src, req.AlignRequest)
	if out == nil {
		a.respondError(w, err)
		return
	}
	a.Outcomes.Put(out)
	if err != nil {
		// cancelled: keep the partial outcome but do not store it
		a.Logger.Warn("session cancelled", "session", out.SessionID, "err", err)
	} else if req.ScanID != "" {
		if err := a.recordAlignment(req.ScanID, out); err != nil {
			a.Logger.Error("recording alignment", "scan", req.ScanID, "err", err)
		}
	}

	w.Header().Set("Location", "/v1/sessions/"+out.SessionID)
	a.respondJSON(w, http.StatusCreated, out)
}

// latestSession is the session id alias for the most recent outcome.
const latestSession = "latest"

// lookupSession resolves the {id} route parameter, accepting "latest".
func (a *App) lookupSession(r *http.Request) (*align.AlignOutcome, bool) {
	id := chi.URLParam(r, "id")
	if id == latestSession {
		return a.Outcomes.Latest()
	}
	return a.Outcomes.Get(id)
}

func (a *App) handleGetSession(w http.ResponseWriter, r *http.Request) {
	out, ok := a.lookupSession(r)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	a.respondJSON(w, http.StatusOK, out)
}

var renderContentTypes = map[string]string{
	"svg":      "image/svg+xml",
	"png":      "image/png",
	"snapshot": "image/png",
	"html":     "text/html; charset=utf-8",
	"geojson":  "application/geo+json",
}

func (a *App) handleOverlay(format string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, ok := a.lookupSession(r)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", renderContentTypes[format])
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderOutcome(w, format, out); err != nil {
			a.Logger.Error("rendering session", "session", out.SessionID, "format", format, "err", err)
		}
	}
}

func (p pointsRequest) empty() bool {
	return len(p.Points) == 0 && p.MeshURL == ""
}

// source resolves the request to a MeshSource. Local paths are not accepted
// over HTTP.
func (p pointsRequest) source() (align.MeshSource, error) {
	switch {
	case len(p.Points) > 0:
		points, err := align.UnflattenPoints(p.Points)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", align.ErrInvalidRequest, err)
		}
		return align.PointsSource{Points: points}, nil
	case p.MeshURL != "":
		return align.URLSource{URL: p.MeshURL}, nil
	default:
		return align.PointsSource{}, nil
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decoding body: %w", align.ErrInvalidRequest, err)
	}
	return nil
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, align.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, align.ErrQueueFull), errors.Is(err, align.ErrPoolClosed), errors.Is(err, align.ErrSessionBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, align.ErrMeshUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.Logger.Error("request failed", "status", status, "err", err)
	}
	a.respondJSON(w, status, errorResponse{Error: err.Error()})
}

func (a *App) respondJSON(w http.ResponseWriter, status int, v any) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.Logger.Error("encoding response", "err", err)
	}
}
