// Package trafficapi implements the HTTP read/write surface: zone
// geometry as GeoJSON, finalized per-zone statistics, live occupancy,
// liveness, and the zone-mutation endpoints.
package trafficapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/roadlens/roadlens/internal/api"
	"github.com/roadlens/roadlens/internal/config"
	"github.com/roadlens/roadlens/internal/database"
	"github.com/roadlens/roadlens/internal/geo"
	"github.com/roadlens/roadlens/internal/logging"
	"github.com/roadlens/roadlens/internal/store"
	"github.com/roadlens/roadlens/internal/zone"
	"github.com/roadlens/roadlens/internal/zoneconfig"
)

// GridRebuilder is implemented by the pipeline: the mutation endpoints
// call it after any zone-set change so the spatial grid stays in sync.
type GridRebuilder interface {
	RebuildGrid()
}

// Counters is the minimal view of pipeline.Counters the debug endpoint
// reports, kept as an interface so trafficapi does not import pipeline
// (avoiding a dependency cycle back from pipeline's own tests).
type Counters struct {
	FramesDropped   uint64
	DetectorErrors  uint64
	DecodeFailures  uint64
	FramesProcessed uint64
}

// HistoryReader serves persisted window history for one zone, newest
// first; implemented by persistence.Store.
type HistoryReader interface {
	History(ctx context.Context, zoneID string, limit int) ([]zone.Stats, error)
}

// Server implements the traffic HTTP surface over a SharedStore and the
// live configuration document.
type Server struct {
	store     *store.SharedStore
	cfg       *config.Config
	grid      GridRebuilder
	counters  func() Counters
	stream    http.HandlerFunc
	log       *slog.Logger
	db        *database.DB
	history   HistoryReader
	logRing   *logging.Ring
	busHealth func(context.Context) error
}

// New builds a Server. grid and counters may be nil (grid rebuilds and
// the debug counters endpoint become no-ops/zeros).
func New(st *store.SharedStore, cfg *config.Config, grid GridRebuilder, counters func() Counters, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: st, cfg: cfg, grid: grid, counters: counters, log: log.With("component", "trafficapi")}
}

// WithDatabase binds the persistence layer's SQLite handle so
// /api/debug/database and the maintenance mutation below can report on
// and operate against it. Must be called before Routes.
func (s *Server) WithDatabase(db *database.DB) *Server {
	s.db = db
	return s
}

// WithStream mounts output.enable's MJPEG fan-out under
// /api/stream.mjpeg. Must be called before Routes.
func (s *Server) WithStream(handler http.HandlerFunc) *Server {
	s.stream = handler
	return s
}

// WithHistory binds the persisted window history reader serving
// /api/stats/history. Must be called before Routes.
func (s *Server) WithHistory(h HistoryReader) *Server {
	s.history = h
	return s
}

// WithLogRing binds the log capture ring serving /api/debug/logs. Must
// be called before Routes.
func (s *Server) WithLogRing(r *logging.Ring) *Server {
	s.logRing = r
	return s
}

// WithBusHealth binds the event bus health probe folded into /api/ping.
// Must be called before Routes.
func (s *Server) WithBusHealth(probe func(context.Context) error) *Server {
	s.busHealth = probe
	return s
}

// Routes builds the chi router for the traffic API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/api/ping", s.handlePing)
	r.Get("/api/polygons/geojson", s.handlePolygonsGeoJSON)
	r.Get("/api/stats/all", s.handleStatsAll)
	r.Get("/api/stats/history", s.handleStatsHistory)
	r.Get("/api/realtime/occupancy", s.handleOccupancy)
	r.Get("/api/debug/counters", s.handleDebugCounters)
	r.Get("/api/debug/database", s.handleDebugDatabase)
	r.Get("/api/debug/logs", s.handleDebugLogs)

	if s.stream != nil {
		r.Get("/api/stream.mjpeg", s.stream)
	}

	r.Route("/api/mutations", func(r chi.Router) {
		r.Post("/zones/create", s.handleZoneCreate)
		r.Post("/zones/update", s.handleZoneUpdate)
		r.Post("/zones/delete", s.handleZoneDelete)
		r.Post("/replace_all", s.handleReplaceAll)
		r.Get("/save_toml", s.handleSaveTOML)
		r.Post("/database/checkpoint", s.handleDatabaseCheckpoint)
	})

	return r
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	out := map[string]string{"status": "ok"}
	if s.busHealth != nil {
		if err := s.busHealth(r.Context()); err != nil {
			out["bus"] = err.Error()
		} else {
			out["bus"] = "ok"
		}
	}
	api.OK(w, out)
}

// handleDebugLogs serves the most recent captured log entries; ?n=
// bounds the count (default 100).
func (s *Server) handleDebugLogs(w http.ResponseWriter, r *http.Request) {
	if s.logRing == nil {
		api.OK(w, []logging.Entry{})
		return
	}
	n := 100
	if q := r.URL.Query().Get("n"); q != "" {
		parsed, err := strconv.Atoi(q)
		if err != nil || parsed <= 0 {
			api.BadRequest(w, "n must be a positive integer")
			return
		}
		n = parsed
	}
	api.OK(w, s.logRing.Recent(n))
}

// handleStatsHistory serves the persisted finalized windows for one
// zone, newest first: ?zone_id= selects the zone, ?limit= bounds the
// count (default 50).
func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		api.InternalError(w, "no history store bound")
		return
	}

	zoneID := r.URL.Query().Get("zone_id")
	if zoneID == "" {
		api.ValidationErrorResponse(w, api.ValidationErrors{{Field: "zone_id", Message: "is required"}})
		return
	}
	if _, err := s.store.Zone(zoneID); err != nil {
		api.FailedDependency(w, "zone not found")
		return
	}

	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		parsed, err := strconv.Atoi(q)
		if err != nil || parsed <= 0 {
			api.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	windows, err := s.history.History(r.Context(), zoneID, limit)
	if err != nil {
		api.InternalError(w, err.Error())
		return
	}
	api.OK(w, windows)
}

func (s *Server) handleDebugCounters(w http.ResponseWriter, r *http.Request) {
	var c Counters
	if s.counters != nil {
		c = s.counters()
	}
	api.OK(w, c)
}

type databaseStatus struct {
	Healthy    bool   `json:"healthy"`
	Path       string `json:"path,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	OpenConns  int    `json:"open_connections"`
	InUseConns int    `json:"in_use_connections"`
	IdleConns  int    `json:"idle_connections"`
	WaitCount  int64  `json:"wait_count"`
	Error      string `json:"error,omitempty"`
}

// handleDebugDatabase reports the persistence layer's connection
// health, file size, and pool stats.
func (s *Server) handleDebugDatabase(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		api.OK(w, databaseStatus{Healthy: false, Error: "no database bound"})
		return
	}

	status := databaseStatus{Path: s.db.Path()}
	if err := s.db.Health(r.Context()); err != nil {
		status.Error = err.Error()
	} else {
		status.Healthy = true
	}

	if size, err := s.db.GetSize(); err == nil {
		status.SizeBytes = size
	}

	dbStats := s.db.Stats()
	status.OpenConns = dbStats.OpenConnections
	status.InUseConns = dbStats.InUse
	status.IdleConns = dbStats.Idle
	status.WaitCount = dbStats.WaitCount

	api.OK(w, status)
}

// handleDatabaseCheckpoint forces a WAL checkpoint, a maintenance action
// operators can invoke alongside /save_toml rather than waiting for
// SQLite's automatic checkpoint cadence.
func (s *Server) handleDatabaseCheckpoint(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		api.InternalError(w, "no database bound")
		return
	}
	if err := s.db.Checkpoint(r.Context()); err != nil {
		api.InternalError(w, err.Error())
		return
	}
	api.OK(w, map[string]string{"status": "checkpointed"})
}

type geoJSONFeatureCollection struct {
	Type     string           `json:"type"`
	Features []geoJSONFeature `json:"features"`
}

type geoJSONFeature struct {
	Type       string                 `json:"type"`
	Geometry   geoJSONPolygon         `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type geoJSONPolygon struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

func (s *Server) handlePolygonsGeoJSON(w http.ResponseWriter, r *http.Request) {
	zones := s.store.Zones()
	fc := geoJSONFeatureCollection{Type: "FeatureCollection", Features: make([]geoJSONFeature, 0, len(zones))}

	for _, z := range zones {
		ring := make([][2]float64, 0, 5)
		if z.HasWGS84 {
			for _, ll := range z.WGS84Vertices {
				ring = append(ring, [2]float64{ll.Lon, ll.Lat})
			}
			ring = append(ring, ring[0])
		} else {
			for _, p := range z.PixelVertices {
				ring = append(ring, [2]float64{p.X, p.Y})
			}
			ring = append(ring, ring[0])
		}

		fc.Features = append(fc.Features, geoJSONFeature{
			Type:     "Feature",
			Geometry: geoJSONPolygon{Type: "Polygon", Coordinates: [][][2]float64{ring}},
			Properties: map[string]interface{}{
				"id":              z.ID,
				"color":           z.Color,
				"lane_number":     z.LaneNumber,
				"lane_direction":  z.LaneDirection,
				"ill_conditioned": z.IllConditioned,
			},
		})
	}

	api.OK(w, fc)
}

type statsAllEntry struct {
	ZoneID string     `json:"zone_id"`
	Stats  zone.Stats `json:"stats"`
}

func (s *Server) handleStatsAll(w http.ResponseWriter, r *http.Request) {
	zones := s.store.Zones()
	out := make([]statsAllEntry, 0, len(zones))
	for _, z := range zones {
		out = append(out, statsAllEntry{ZoneID: z.ID, Stats: z.CurrentWindowStats()})
	}
	api.OK(w, out)
}

type occupancyEntry struct {
	ZoneID    string   `json:"zone_id"`
	LastTime  string   `json:"last_time"`
	Occupancy []string `json:"occupancy"`
}

func (s *Server) handleOccupancy(w http.ResponseWriter, r *http.Request) {
	zones := s.store.Zones()
	_, periodEnd := s.store.Window()
	out := make([]occupancyEntry, 0, len(zones))
	for _, z := range zones {
		out = append(out, occupancyEntry{
			ZoneID:    z.ID,
			LastTime:  periodEnd.Format(time.RFC3339),
			Occupancy: z.Occupancy(),
		})
	}
	api.OK(w, out)
}

type zoneRequest struct {
	ID            string              `json:"id,omitempty"`
	PixelVertices [4][2]float64       `json:"pixel_vertices"`
	WGS84Vertices *[4][2]float64      `json:"wgs84_vertices,omitempty"`
	Color         string              `json:"color,omitempty"`
	LaneNumber    int                 `json:"lane_number"`
	LaneDirection string              `json:"lane_direction"`
	VirtualLine   *virtualLineRequest `json:"virtual_line,omitempty"`
}

type virtualLineRequest struct {
	A         [2]float64 `json:"a"`
	B         [2]float64 `json:"b"`
	Direction string     `json:"direction"`
}

func (req zoneRequest) toSpec() (zone.Spec, error) {
	var spec zone.Spec
	for i, p := range req.PixelVertices {
		spec.PixelVertices[i] = geo.Pt{X: p[0], Y: p[1]}
	}
	if req.WGS84Vertices != nil {
		var ll [4]geo.LatLon
		for i, p := range req.WGS84Vertices {
			ll[i] = geo.LatLon{Lon: p[0], Lat: p[1]}
		}
		spec.WGS84Vertices = &ll
	}
	spec.Color = req.Color
	spec.LaneNumber = req.LaneNumber
	spec.LaneDirection = req.LaneDirection

	if req.VirtualLine != nil {
		a := geo.Pt{X: req.VirtualLine.A[0], Y: req.VirtualLine.A[1]}
		b := geo.Pt{X: req.VirtualLine.B[0], Y: req.VirtualLine.B[1]}
		line, err := zone.NewVirtualLine(a, b, zone.LineDirection(req.VirtualLine.Direction))
		if err != nil {
			return zone.Spec{}, err
		}
		spec.Line = line
	}

	if err := zone.Validate(spec); err != nil {
		return zone.Spec{}, err
	}
	return spec, nil
}

// zoneUpdateRequest carries a partial zone update: every field but the
// id is optional, and an absent field leaves the corresponding zone
// property untouched.
type zoneUpdateRequest struct {
	ID            string              `json:"id"`
	PixelVertices *[4][2]float64      `json:"pixel_vertices,omitempty"`
	WGS84Vertices *[4][2]float64      `json:"wgs84_vertices,omitempty"`
	Color         *string             `json:"color,omitempty"`
	LaneNumber    *int                `json:"lane_number,omitempty"`
	LaneDirection *string             `json:"lane_direction,omitempty"`
	VirtualLine   *virtualLineRequest `json:"virtual_line,omitempty"`
}

func (req zoneUpdateRequest) toPatch() (zone.Patch, error) {
	var patch zone.Patch

	if req.PixelVertices != nil {
		var pv [4]geo.Pt
		for i, p := range req.PixelVertices {
			pv[i] = geo.Pt{X: p[0], Y: p[1]}
		}
		patch.PixelVertices = &pv
	}
	if req.WGS84Vertices != nil {
		var ll [4]geo.LatLon
		for i, p := range req.WGS84Vertices {
			ll[i] = geo.LatLon{Lon: p[0], Lat: p[1]}
		}
		patch.WGS84Vertices = &ll
	}
	patch.Color = req.Color
	patch.LaneNumber = req.LaneNumber
	patch.LaneDirection = req.LaneDirection

	if req.VirtualLine != nil {
		a := geo.Pt{X: req.VirtualLine.A[0], Y: req.VirtualLine.A[1]}
		b := geo.Pt{X: req.VirtualLine.B[0], Y: req.VirtualLine.B[1]}
		line, err := zone.NewVirtualLine(a, b, zone.LineDirection(req.VirtualLine.Direction))
		if err != nil {
			return zone.Patch{}, err
		}
		patch.Line = line
	}

	return patch, nil
}

func (s *Server) rebuildGrid() {
	if s.grid != nil {
		s.grid.RebuildGrid()
	}
}

func (s *Server) handleZoneCreate(w http.ResponseWriter, r *http.Request) {
	var req zoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.BadRequest(w, "invalid request body")
		return
	}

	spec, err := req.toSpec()
	if err != nil {
		api.BadRequest(w, err.Error())
		return
	}

	z, err := zone.New(spec)
	if err != nil {
		api.InternalError(w, err.Error())
		return
	}

	s.store.AddZone(z)
	s.rebuildGrid()
	api.Created(w, map[string]string{"id": z.ID})
}

// handleZoneUpdate applies a partial update to an existing zone: any
// subset of the creatable fields may be present, and only those fields
// are changed, atomically under the zone's own lock.
func (s *Server) handleZoneUpdate(w http.ResponseWriter, r *http.Request) {
	var req zoneUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.BadRequest(w, "invalid request body")
		return
	}
	if req.ID == "" {
		api.ValidationErrorResponse(w, api.ValidationErrors{{Field: "id", Message: "is required"}})
		return
	}

	z, err := s.store.Zone(req.ID)
	if err != nil {
		api.FailedDependency(w, "zone not found")
		return
	}

	patch, err := req.toPatch()
	if err != nil {
		api.BadRequest(w, err.Error())
		return
	}

	if err := z.Update(patch); err != nil {
		api.BadRequest(w, err.Error())
		return
	}

	if patch.PixelVertices != nil || patch.WGS84Vertices != nil {
		s.rebuildGrid()
	}
	api.OK(w, map[string]string{"id": z.ID})
}

type zoneDeleteRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleZoneDelete(w http.ResponseWriter, r *http.Request) {
	var req zoneDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.BadRequest(w, "invalid request body")
		return
	}

	if err := s.store.RemoveZone(req.ID); err != nil {
		api.FailedDependency(w, "zone not found")
		return
	}

	s.rebuildGrid()
	api.NoContent(w)
}

type replaceAllRequest struct {
	Zones []zoneRequest `json:"zones"`
}

func (s *Server) handleReplaceAll(w http.ResponseWriter, r *http.Request) {
	var req replaceAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.BadRequest(w, "invalid request body")
		return
	}
	if len(req.Zones) == 0 {
		api.BadRequest(w, "replace_all requires at least one zone")
		return
	}

	zones := make([]*zone.Zone, 0, len(req.Zones))
	for _, zr := range req.Zones {
		spec, err := zr.toSpec()
		if err != nil {
			api.BadRequest(w, err.Error())
			return
		}
		z, err := zone.New(spec)
		if err != nil {
			api.InternalError(w, err.Error())
			return
		}
		zones = append(zones, z)
	}

	if err := s.store.ReplaceAll(zones); err != nil {
		api.BadRequest(w, err.Error())
		return
	}

	s.rebuildGrid()
	api.Created(w, map[string]int{"count": len(zones)})
}

func (s *Server) handleSaveTOML(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil {
		api.InternalError(w, "no configuration document bound")
		return
	}

	zones := s.store.Zones()
	lanes := make([]config.RoadLane, 0, len(zones))
	for _, z := range zones {
		lanes = append(lanes, zoneconfig.FromZone(z))
	}

	if err := s.cfg.ReplaceLanes(lanes); err != nil {
		api.InternalError(w, err.Error())
		return
	}

	api.OK(w, map[string]int{"saved": len(lanes)})
}
