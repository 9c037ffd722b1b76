package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shoptrail/attribution/internal/attribution"
	"github.com/shoptrail/attribution/internal/config"
	"github.com/shoptrail/attribution/internal/database"
	"github.com/shoptrail/attribution/internal/eventlog"
	"github.com/shoptrail/attribution/internal/geo"
	"github.com/shoptrail/attribution/internal/metrics"
	"github.com/shoptrail/attribution/internal/models"
	"github.com/shoptrail/attribution/internal/storage"
)

// Dependencies holds all external dependencies for the server. The
// stores are built once by the caller so background workers operate on
// the same data the handlers see.
type Dependencies struct {
	Campaigns storage.CampaignRepo
	Visits    storage.VisitStore
	Snapshots storage.SnapshotRepo
	Redis     *database.RedisDB
	Events    eventlog.Sink
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Server wraps HTTP handlers around the attribution services.
type Server struct {
	registry    *attribution.Registry
	tracker     *attribution.Tracker
	resolver    *attribution.Resolver
	recorder    *attribution.Recorder
	analytics   *attribution.Analytics
	hierarchy   *attribution.Hierarchy
	leaderboard *attribution.Leaderboard
	snapshotter *attribution.Snapshotter
	logger      *zap.Logger
	config      *config.Config
	metrics     *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	campaigns := deps.Campaigns
	visits := deps.Visits
	snapshots := deps.Snapshots

	events := deps.Events
	if events == nil {
		events = eventlog.Noop{}
	}

	trackerOpts := []attribution.TrackerOption{
		attribution.WithEventSink(events),
		attribution.WithTrackerMetrics(deps.Metrics),
	}
	if deps.Config.Geo.Enabled {
		provider, err := geo.NewMaxMindProvider(deps.Config.Geo.DatabasePath)
		if err != nil {
			deps.Logger.Warn("failed to initialize geo provider", zap.Error(err))
		} else {
			trackerOpts = append(trackerOpts, attribution.WithGeoProvider(provider))
		}
	}

	registry := attribution.NewRegistry(campaigns, visits, snapshots, deps.Logger)
	tracker := attribution.NewTracker(campaigns, visits, deps.Config.Attribution.Window, deps.Logger, trackerOpts...)
	resolver := attribution.NewResolver(visits, deps.Metrics)
	recorder := attribution.NewRecorder(visits, resolver, deps.Logger).
		WithEventSink(events).
		WithMetrics(deps.Metrics)
	analytics := attribution.NewAnalytics(campaigns, visits, deps.Logger).
		WithMetrics(deps.Metrics)
	leaderboard := attribution.NewLeaderboard(campaigns, visits, deps.Logger).
		WithMetrics(deps.Metrics)
	if deps.Redis != nil {
		analytics = analytics.WithCache(deps.Redis.Client)
		leaderboard = leaderboard.WithCache(deps.Redis.Client)
	}
	hierarchy := attribution.NewHierarchy(campaigns, visits, analytics)
	snapshotter := attribution.NewSnapshotter(campaigns, visits, snapshots, deps.Logger)

	s := &Server{
		registry:    registry,
		tracker:     tracker,
		resolver:    resolver,
		recorder:    recorder,
		analytics:   analytics,
		hierarchy:   hierarchy,
		leaderboard: leaderboard,
		snapshotter: snapshotter,
		logger:      deps.Logger,
		config:      deps.Config,
		metrics:     deps.Metrics,
	}

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", s.handleHealth)

	// Prometheus metrics
	mux.Handle("/metrics", metrics.Handler())

	// Tracking
	mux.HandleFunc("/track/visit", s.handleTrackVisit)
	mux.HandleFunc("/track/activity", s.handleTrackActivity)

	// Order attribution
	mux.HandleFunc("/orders/attribution", s.handleAttributeOrder)

	// Campaign management and reporting
	mux.HandleFunc("/campaigns", s.handleCampaigns)
	mux.HandleFunc("/campaigns/", s.handleCampaignSubtree)

	// Leaderboard
	mux.HandleFunc("/leaderboard", s.handleLeaderboard)

	// Session inspection
	mux.HandleFunc("/sessions/", s.handleSessionVisits)

	return mux
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ---- Tracking ----

func (s *Server) handleTrackVisit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TrackingCode string `json:"tracking_code"`
		SessionID    string `json:"session_id"`
		LandingPage  string `json:"landing_page"`
		Referrer     string `json:"referrer"`
		UserAgent    string `json:"user_agent"`
		DeviceType   string `json:"device_type"`
		IP           string `json:"ip"`
		Country      string `json:"country"`
		City         string `json:"city"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	v, err := s.tracker.Track(r.Context(), attribution.TrackInput{
		TrackingCode: req.TrackingCode,
		SessionID:    req.SessionID,
		LandingPage:  req.LandingPage,
		Referrer:     req.Referrer,
		UserAgent:    req.UserAgent,
		DeviceType:   req.DeviceType,
		IP:           req.IP,
		Country:      req.Country,
		City:         req.City,
	})
	if err != nil {
		s.serviceError(w, err, "failed to track visit")
		return
	}
	s.createdResponse(w, v)
}

func (s *Server) handleTrackActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		VisitID   string `json:"visit_id"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}

	var v *models.Visit
	var err error
	switch {
	case req.VisitID != "":
		v, err = s.tracker.RecordActivity(r.Context(), req.VisitID)
	case req.SessionID != "":
		v, err = s.tracker.RecordSessionActivity(r.Context(), req.SessionID)
	default:
		s.errorResponse(w, "visit_id or session_id required", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.serviceError(w, err, "failed to record activity")
		return
	}
	s.jsonResponse(w, v)
}

// ---- Order attribution ----

func (s *Server) handleAttributeOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		SessionID  string  `json:"session_id"`
		VisitID    string  `json:"visit_id"`
		OrderID    string  `json:"order_id"`
		CustomerID string  `json:"customer_id"`
		OrderTotal float64 `json:"order_total"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.OrderID == "" {
		s.errorResponse(w, "order_id required", http.StatusBadRequest)
		return
	}

	var conv *models.Conversion
	var err error
	if req.VisitID != "" {
		conv, err = s.recorder.Record(r.Context(), req.VisitID, req.OrderID, req.CustomerID, req.OrderTotal)
	} else {
		conv, err = s.recorder.AttributeOrder(r.Context(), req.SessionID, req.OrderID, req.CustomerID, req.OrderTotal)
	}
	if err != nil {
		s.serviceError(w, err, "failed to attribute order")
		return
	}
	if conv == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.createdResponse(w, conv)
}

// ---- Campaigns CRUD ----

func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.registry.List(r.Context())
		if err != nil {
			s.serviceError(w, err, "failed to list campaigns")
			return
		}
		s.jsonResponse(w, list)

	case http.MethodPost:
		var req createCampaignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		c, err := s.registry.Create(r.Context(), attribution.CreateCampaignInput{
			Name:         req.Name,
			Platform:     models.Platform(req.Platform),
			Type:         models.CampaignType(req.Type),
			ParentID:     req.ParentID,
			TrackingCode: req.TrackingCode,
			Cost:         req.Cost,
			Budget:       req.Budget,
			StartsAt:     req.StartsAt,
			EndsAt:       req.EndsAt,
			Metadata:     req.Metadata,
		})
		if err != nil {
			s.serviceError(w, err, "failed to create campaign")
			return
		}
		s.createdResponse(w, c)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type createCampaignRequest struct {
	Name         string            `json:"name"`
	Platform     string            `json:"platform"`
	Type         string            `json:"type"`
	ParentID     string            `json:"parent_id"`
	TrackingCode string            `json:"tracking_code"`
	Cost         float64           `json:"cost"`
	Budget       float64           `json:"budget"`
	StartsAt     *time.Time        `json:"starts_at"`
	EndsAt       *time.Time        `json:"ends_at"`
	Metadata     map[string]string `json:"metadata"`
}

type updateCampaignRequest struct {
	Name     *string           `json:"name"`
	Cost     *float64          `json:"cost"`
	Budget   *float64          `json:"budget"`
	IsActive *bool             `json:"is_active"`
	ParentID *string           `json:"parent_id"`
	StartsAt *time.Time        `json:"starts_at"`
	EndsAt   *time.Time        `json:"ends_at"`
	Metadata map[string]string `json:"metadata"`
}

// handleCampaignSubtree dispatches /campaigns/{id} and its
// sub-resources.
func (s *Server) handleCampaignSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/campaigns/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}

	id, sub := rest, ""
	if idx := strings.Index(rest, "/"); idx != -1 {
		id, sub = rest[:idx], rest[idx+1:]
	}

	switch sub {
	case "":
		s.handleCampaignByID(w, r, id)
	case "children":
		s.handleChildren(w, r, id)
	case "metrics":
		s.handleCampaignMetrics(w, r, id)
	case "timeline":
		s.handleTimeline(w, r, id)
	case "devices":
		s.handleDevices(w, r, id)
	case "geo":
		s.handleGeo(w, r, id)
	case "parent-analytics":
		s.handleParentAnalytics(w, r, id)
	case "snapshots":
		s.handleSnapshots(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleCampaignByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		c, err := s.registry.Get(r.Context(), id)
		if err != nil {
			s.serviceError(w, err, "failed to get campaign")
			return
		}
		s.jsonResponse(w, c)

	case http.MethodPut:
		var req updateCampaignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		c, err := s.registry.Update(r.Context(), id, attribution.UpdateCampaignInput{
			Name:     req.Name,
			Cost:     req.Cost,
			Budget:   req.Budget,
			IsActive: req.IsActive,
			ParentID: req.ParentID,
			StartsAt: req.StartsAt,
			EndsAt:   req.EndsAt,
			Metadata: req.Metadata,
		})
		if err != nil {
			s.serviceError(w, err, "failed to update campaign")
			return
		}
		s.jsonResponse(w, c)

	case http.MethodDelete:
		if err := s.registry.Delete(r.Context(), id); err != nil {
			s.serviceError(w, err, "failed to delete campaign")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleChildren(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	children, err := s.registry.ListChildren(r.Context(), id)
	if err != nil {
		s.serviceError(w, err, "failed to list children")
		return
	}
	s.jsonResponse(w, children)
}

// ---- Reporting ----

func (s *Server) handleCampaignMetrics(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rng, err := parseDateRange(r)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, err := s.analytics.CampaignMetrics(r.Context(), id, rng)
	if err != nil {
		s.serviceError(w, err, "failed to compute metrics")
		return
	}
	s.jsonResponse(w, m)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rng, err := parseDateRange(r)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	days, err := s.analytics.Timeline(r.Context(), id, rng)
	if err != nil {
		s.serviceError(w, err, "failed to compute timeline")
		return
	}
	s.jsonResponse(w, days)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rng, err := parseDateRange(r)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := s.analytics.DeviceBreakdown(r.Context(), id, rng)
	if err != nil {
		s.serviceError(w, err, "failed to compute device breakdown")
		return
	}
	s.jsonResponse(w, rows)
}

func (s *Server) handleGeo(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rng, err := parseDateRange(r)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := s.analytics.GeographicBreakdown(r.Context(), id, rng)
	if err != nil {
		s.serviceError(w, err, "failed to compute geo breakdown")
		return
	}
	s.jsonResponse(w, rows)
}

func (s *Server) handleParentAnalytics(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rng, err := parseDateRange(r)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := s.hierarchy.ParentAnalytics(r.Context(), id, rng)
	if err != nil {
		s.serviceError(w, err, "failed to compute parent analytics")
		return
	}
	s.jsonResponse(w, report)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		rng, err := parseDateRange(r)
		if err != nil {
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		snaps, err := s.snapshotter.List(r.Context(), id, rng)
		if err != nil {
			s.serviceError(w, err, "failed to list snapshots")
			return
		}
		s.jsonResponse(w, snaps)

	case http.MethodPost:
		var req struct {
			Date string `json:"date"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, "invalid json", http.StatusBadRequest)
			return
		}
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			s.errorResponse(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		snap, err := s.snapshotter.BuildDaily(r.Context(), id, date)
		if err != nil {
			s.serviceError(w, err, "failed to build snapshot")
			return
		}
		s.createdResponse(w, snap)

	default:
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// ---- Leaderboard ----

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = attribution.MetricRevenue
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.errorResponse(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.leaderboard.Rank(r.Context(), metric, limit)
	if err != nil {
		if errors.Is(err, attribution.ErrUnknownMetric) {
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.serviceError(w, err, "failed to rank campaigns")
		return
	}
	s.jsonResponse(w, entries)
}

// ---- Sessions ----

func (s *Server) handleSessionVisits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	sessionID := strings.TrimSuffix(rest, "/visits")
	if sessionID == "" || !strings.HasSuffix(rest, "/visits") {
		http.NotFound(w, r)
		return
	}
	visits, err := s.tracker.ListSessionVisits(r.Context(), sessionID)
	if err != nil {
		s.serviceError(w, err, "failed to list session visits")
		return
	}
	s.jsonResponse(w, visits)
}

// ---- Helpers ----

// parseDateRange reads optional start/end query parameters. A bare
// date for end means "through that day", so it becomes the following
// midnight (the range end is exclusive).
func parseDateRange(r *http.Request) (models.DateRange, error) {
	var rng models.DateRange
	q := r.URL.Query()

	if v := q.Get("start"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			return rng, err
		}
		rng.Start = &t
	}
	if v := q.Get("end"); v != "" {
		t, err := parseTimeParam(v)
		if err != nil {
			return rng, err
		}
		if len(v) == len("2006-01-02") {
			t = t.Add(24 * time.Hour)
		}
		rng.End = &t
	}
	return rng, nil
}

func parseTimeParam(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, errors.New("invalid time, expected YYYY-MM-DD or RFC3339")
}

// serviceError maps service errors onto HTTP status codes.
func (s *Server) serviceError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		s.errorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrConflict):
		s.errorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrInvalidHierarchy):
		s.errorResponse(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		s.logger.Error(logMsg, zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) createdResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
