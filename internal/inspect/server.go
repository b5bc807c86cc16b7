// Package inspect exposes a running simulation over HTTP: read-only
// snapshots for observers, plus the interactive operations a user would
// perform on a topology view (adding and removing nodes and links,
// dragging nodes, selecting them) and clock control.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/signalsfoundry/topology-simulator/core"
	"github.com/signalsfoundry/topology-simulator/internal/journal"
	"github.com/signalsfoundry/topology-simulator/internal/logging"
	"github.com/signalsfoundry/topology-simulator/timectrl"
)

// Clock is the subset of timectrl.Clock the server drives.
type Clock interface {
	State() timectrl.State
	Tick() uint64
	Pause() error
	Resume() error
	Step(ctx context.Context) (uint64, error)
}

// Server serves the inspection API for one topology.
type Server struct {
	topo    *core.Topology
	clock   Clock
	events  *journal.Journal
	log     logging.Logger
	metrics http.Handler
	reqs    RequestMetrics
	origins []string

	drags dragSet
}

type Option func(*Server)

func WithClock(c Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithJournal serves j at /api/v1/events.
func WithJournal(j *journal.Journal) Option {
	return func(s *Server) { s.events = j }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithRequestMetrics reports every handled request to m.
func WithRequestMetrics(m RequestMetrics) Option {
	return func(s *Server) { s.reqs = m }
}

// WithAllowedOrigins enables CORS for the given browser origins.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// NewServer returns a server for topo.
func NewServer(topo *core.Topology, opts ...Option) *Server {
	s := &Server{topo: topo, log: logging.Noop()}
	for _, opt := range opts {
		opt(s)
	}
	topo.AddListener(&core.ListenerFuncs{
		NodeRemoved: func(*core.Node) { s.drags.nodeRemoved(topo) },
	})
	return s
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(instrument(s.log, s.reqs))
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/topology", s.getTopology)
		r.Put("/settings", s.putSettings)
		r.Get("/events", s.getEvents)

		r.Route("/nodes", func(r chi.Router) {
			r.Post("/", s.createNode)
			r.Get("/{nodeID}", s.getNode)
			r.Delete("/{nodeID}", s.deleteNode)
			r.Put("/{nodeID}/location", s.moveNode)
			r.Post("/{nodeID}/select", s.selectNode)
			r.Post("/{nodeID}/drag", s.startDrag)
			r.Put("/{nodeID}/drag", s.dragNode)
			r.Delete("/{nodeID}/drag", s.endDrag)
		})

		r.Route("/links", func(r chi.Router) {
			r.Post("/", s.createLink)
			r.Delete("/", s.deleteLink)
		})

		r.Route("/clock", func(r chi.Router) {
			r.Get("/", s.getClock)
			r.Post("/pause", s.pauseClock)
			r.Post("/resume", s.resumeClock)
			r.Post("/step", s.stepClock)
		})
	})
	return r
}

//
// ---------- Requests ----------
//

type nodeRequest struct {
	X          float64        `json:"x"`
	Y          float64        `json:"y"`
	Z          float64        `json:"z"`
	Properties map[string]any `json:"properties"`
}

type locationRequest struct {
	X float64  `json:"x"`
	Y float64  `json:"y"`
	Z *float64 `json:"z"`
}

type linkRequest struct {
	Source      *int64 `json:"source" validate:"required"`
	Destination *int64 `json:"destination" validate:"required"`
	Type        string `json:"type" validate:"omitempty,oneof=directed undirected"`
}

type settingsRequest struct {
	WirelessRange      *float64 `json:"wireless_range" validate:"omitempty,gte=0"`
	DefaultOrientation string   `json:"default_orientation" validate:"omitempty,oneof=directed undirected"`
	RefreshMode        string   `json:"refresh_mode" validate:"omitempty,oneof=clockbased eventbased"`
}

type eventsResponse struct {
	Last    uint64          `json:"last"`
	Entries []journal.Entry `json:"entries"`
}

type clockResponse struct {
	State string `json:"state"`
	Tick  uint64 `json:"tick"`
}

var validate = validator.New()

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return validate.Struct(v)
}

//
// ---------- Topology ----------
//

func (s *Server) getTopology(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.topo.Snapshot())
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.WirelessRange != nil {
		s.topo.SetWirelessRange(*req.WirelessRange)
	}
	if req.DefaultOrientation != "" {
		s.topo.SetDefaultOrientation(parseLinkType(req.DefaultOrientation, s.topo.DefaultOrientation()))
	}
	if req.RefreshMode != "" {
		mode := core.ClockBased
		if req.RefreshMode == core.EventBased.String() {
			mode = core.EventBased
		}
		s.topo.SetRefreshMode(mode)
	}
	s.log.Info(r.Context(), "topology settings updated",
		logging.Float64("wireless_range", s.topo.WirelessRange()),
		logging.String("refresh_mode", s.topo.RefreshMode().String()),
	)
	writeJSON(w, http.StatusOK, s.topo.Snapshot())
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no event journal attached"))
		return
	}
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid since: %w", err))
			return
		}
		since = n
	}
	entries := s.events.Since(since)
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Last: s.events.LastSeq(), Entries: entries})
}

//
// ---------- Nodes ----------
//

func (s *Server) nodeFromPath(w http.ResponseWriter, r *http.Request) (*core.Node, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "nodeID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid node id: %w", err))
		return nil, false
	}
	n, ok := s.topo.Node(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("node %d not found", id))
		return nil, false
	}
	return n, true
}

func (s *Server) createNode(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n := s.topo.AddNode(req.X, req.Y, req.Z, req.Properties)
	writeJSON(w, http.StatusCreated, nodeSnapshot(n))
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	n, ok := s.nodeFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, nodeSnapshot(n))
}

func (s *Server) deleteNode(w http.ResponseWriter, r *http.Request) {
	n, ok := s.nodeFromPath(w, r)
	if !ok {
		return
	}
	if !s.topo.RemoveNode(n) {
		writeError(w, http.StatusNotFound, fmt.Errorf("node %v already removed", n))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) moveNode(w http.ResponseWriter, r *http.Request) {
	n, ok := s.nodeFromPath(w, r)
	if !ok {
		return
	}
	var req locationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	z := n.Z()
	if req.Z != nil {
		z = *req.Z
	}
	if err := n.SetLocation(req.X, req.Y, z); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, nodeSnapshot(n))
}

func (s *Server) selectNode(w http.ResponseWriter, r *http.Request) {
	n, ok := s.nodeFromPath(w, r)
	if !ok {
		return
	}
	if !s.topo.SelectNode(n) {
		writeError(w, http.StatusConflict, fmt.Errorf("node %v cannot be selected", n))
		return
	}
	writeJSON(w, http.StatusOK, nodeSnapshot(n))
}

func (s *Server) startDrag(w http.ResponseWriter, r *http.Request) {
	n, ok := s.nodeFromPath(w, r)
	if !ok {
		return
	}
	s.drags.start(s.topo, n)

	s.log.Debug(r.Context(), "drag started", logging.Int64("node", n.ID()))
	writeJSON(w, http.StatusOK, nodeSnapshot(n))
}

func (s *Server) dragNode(w http.ResponseWriter, r *http.Request) {
	n, ok := s.nodeFromPath(w, r)
	if !ok {
		return
	}
	if !s.drags.dragging(s.topo, n) {
		writeError(w, http.StatusConflict, fmt.Errorf("node %v is not being dragged", n))
		return
	}
	s.moveNode(w, r)
}

func (s *Server) endDrag(w http.ResponseWriter, r *http.Request) {
	n, ok := s.nodeFromPath(w, r)
	if !ok {
		return
	}
	if err := s.drags.end(s.topo, n); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.log.Debug(r.Context(), "drag ended", logging.Int64("node", n.ID()))
	writeJSON(w, http.StatusOK, nodeSnapshot(n))
}

//
// ---------- Links ----------
//

func (s *Server) linkFromRequest(w http.ResponseWriter, r *http.Request) (*core.Link, bool) {
	var req linkRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	src, ok := s.topo.Node(*req.Source)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("node %d not found", *req.Source))
		return nil, false
	}
	dst, ok := s.topo.Node(*req.Destination)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("node %d not found", *req.Destination))
		return nil, false
	}
	typ := parseLinkType(req.Type, s.topo.DefaultOrientation())
	return core.NewLink(src, dst, typ, core.Wired), true
}

func (s *Server) createLink(w http.ResponseWriter, r *http.Request) {
	l, ok := s.linkFromRequest(w, r)
	if !ok {
		return
	}
	if err := s.topo.AddLink(l); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, core.ErrLinkExists) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, linkSnapshot(l))
}

func (s *Server) deleteLink(w http.ResponseWriter, r *http.Request) {
	l, ok := s.linkFromRequest(w, r)
	if !ok {
		return
	}
	if !s.topo.RemoveLink(l) {
		writeError(w, http.StatusNotFound, fmt.Errorf("no removable link %v", l))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

//
// ---------- Clock ----------
//

func (s *Server) clockState() clockResponse {
	return clockResponse{State: s.clock.State().String(), Tick: s.clock.Tick()}
}

func (s *Server) requireClock(w http.ResponseWriter) bool {
	if s.clock == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no clock attached"))
		return false
	}
	return true
}

func (s *Server) getClock(w http.ResponseWriter, _ *http.Request) {
	if !s.requireClock(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.clockState())
}

func (s *Server) pauseClock(w http.ResponseWriter, _ *http.Request) {
	if !s.requireClock(w) {
		return
	}
	if err := s.clock.Pause(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.clockState())
}

func (s *Server) resumeClock(w http.ResponseWriter, _ *http.Request) {
	if !s.requireClock(w) {
		return
	}
	if err := s.clock.Resume(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.clockState())
}

func (s *Server) stepClock(w http.ResponseWriter, r *http.Request) {
	if !s.requireClock(w) {
		return
	}
	if _, err := s.clock.Step(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.clockState())
}

//
// ---------- Helpers ----------
//

func parseLinkType(v string, def core.LinkType) core.LinkType {
	switch v {
	case core.Directed.String():
		return core.Directed
	case core.Undirected.String():
		return core.Undirected
	default:
		return def
	}
}

func nodeSnapshot(n *core.Node) core.NodeSnapshot {
	ns := core.NodeSnapshot{
		ID:         n.ID(),
		Position:   n.Location(),
		Properties: n.Properties(),
	}
	if n.HasDirection() {
		d := n.Direction()
		ns.Direction = &d
	}
	return ns
}

func linkSnapshot(l *core.Link) core.LinkSnapshot {
	return core.LinkSnapshot{
		Source:      l.Source().ID(),
		Destination: l.Destination().ID(),
		Type:        l.Type().String(),
		Mode:        l.Mode().String(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
