package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/smallsmt/internal/db"
	"github.com/banshee-data/smallsmt/internal/driver"
	"github.com/banshee-data/smallsmt/internal/httputil"
	"github.com/banshee-data/smallsmt/internal/monitoring"
	"github.com/banshee-data/smallsmt/internal/position"
	"github.com/banshee-data/smallsmt/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// DefaultHead is used when a request does not name a head.
const DefaultHead = "H1"

// Server exposes the driver over HTTP. The settings store is optional; without
// it feed rate changes are not persisted and the mountable registry is empty.
type Server struct {
	drv      *driver.Driver
	db       *db.DB
	activity *ActivityCounter
}

func NewServer(d *driver.Driver, store *db.DB, activity *ActivityCounter) *Server {
	if activity == nil {
		activity = NewActivityCounter()
	}
	return &Server{
		drv:      d,
		db:       store,
		activity: activity,
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
	mux.HandleFunc("/api/enable", s.handleEnable(true))
	mux.HandleFunc("/api/disable", s.handleEnable(false))
	mux.HandleFunc("/api/home", s.handleHome)
	mux.HandleFunc("/api/move", s.handleMove)
	mux.HandleFunc("/api/pick", s.handleNozzle("pick", s.drv.Pick))
	mux.HandleFunc("/api/place", s.handleNozzle("place", s.drv.Place))
	mux.HandleFunc("/api/actuate", s.handleActuate)
	mux.HandleFunc("/api/location", s.handleLocation)
	mux.HandleFunc("/api/feedrate", s.handleFeedRate)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/mountables", s.handleMountables)
	return mux
}

// writeDriverError maps driver failures onto HTTP status codes.
func writeDriverError(w http.ResponseWriter, err error) {
	msg := err.Error()
	switch {
	case errors.Is(err, driver.ErrNotEnabled):
		httputil.Conflict(w, msg)
	case errors.Is(err, driver.ErrConnect), errors.Is(err, driver.ErrEnable):
		httputil.ServiceUnavailable(w, msg)
	case errors.Is(err, driver.ErrTimeout):
		httputil.GatewayTimeout(w, msg)
	case errors.Is(err, driver.ErrFatalProtocol), errors.Is(err, driver.ErrSend):
		httputil.BadGateway(w, msg)
	default:
		httputil.InternalServerError(w, msg)
	}
}

type stateResponse struct {
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) currentState() stateResponse {
	return stateResponse{State: s.drv.State().String(), SessionID: s.drv.SessionID()}
}

func (s *Server) handleEnable(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		if err := s.drv.SetEnabled(enabled); err != nil {
			writeDriverError(w, err)
			return
		}
		httputil.WriteJSONOK(w, s.currentState())
	}
}

func headParam(r *http.Request) string {
	if head := r.URL.Query().Get("head"); head != "" {
		return head
	}
	return DefaultHead
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	head := headParam(r)
	if err := s.drv.Home(head); err != nil {
		writeDriverError(w, err)
		return
	}
	httputil.WriteJSONOK(w, locationResponse{Head: head, Location: s.drv.HeadLocation(head)})
}

// moveRequest names a registered mountable, or describes one inline with head
// and offset. A null or missing axis is left where it is.
type moveRequest struct {
	Mountable string             `json:"mountable"`
	Head      string             `json:"head,omitempty"`
	Offset    *position.Location `json:"offset,omitempty"`
	X         *float64           `json:"x"`
	Y         *float64           `json:"y"`
	Z         *float64           `json:"z"`
	Rotation  *float64           `json:"rotation"`
	Speed     *float64           `json:"speed,omitempty"`
	Units     string             `json:"units,omitempty"` // linear axes unit, default mm
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func (s *Server) resolveMountable(req moveRequest) (position.Mountable, error) {
	if req.Mountable == "" {
		return position.Mountable{}, errors.New("mountable is required")
	}
	if s.db != nil && req.Head == "" {
		m, err := s.db.GetMountable(req.Mountable)
		if err != nil {
			return position.Mountable{}, err
		}
		if m != nil {
			return *m, nil
		}
	}
	m := position.Mountable{Name: req.Mountable, Head: req.Head}
	if m.Head == "" {
		m.Head = DefaultHead
	}
	if req.Offset != nil {
		m.Offset = *req.Offset
	}
	return m, nil
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req moveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	m, err := s.resolveMountable(req)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	speed := 1.0
	if req.Speed != nil {
		speed = *req.Speed
	}
	if math.IsNaN(speed) || speed <= 0 || speed > 1 {
		httputil.BadRequest(w, "speed must be in (0, 1]")
		return
	}

	unit := req.Units
	if unit == "" {
		unit = units.MM
	}
	loc, err := position.FromUnits(orNaN(req.X), orNaN(req.Y), orNaN(req.Z), orNaN(req.Rotation), unit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.drv.MoveTo(m, loc, speed); err != nil {
		writeDriverError(w, err)
		return
	}
	httputil.WriteJSONOK(w, locationResponse{Head: m.Head, Mountable: m.Name, Location: s.drv.Location(m)})
}

func (s *Server) handleNozzle(verb string, op func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		nozzle := r.URL.Query().Get("nozzle")
		if nozzle == "" {
			httputil.BadRequest(w, "nozzle is required")
			return
		}
		if err := op(nozzle); err != nil {
			writeDriverError(w, err)
			return
		}
		httputil.WriteJSONOK(w, map[string]string{"status": "ok", "command": verb, "nozzle": nozzle})
	}
}

type actuateRequest struct {
	Name  string   `json:"name"`
	Value *float64 `json:"value,omitempty"`
	On    *bool    `json:"on,omitempty"`
}

type actuateResponse struct {
	Name  string   `json:"name"`
	Value *float64 `json:"value"`
}

// optFloat turns NaN into a JSON null.
func optFloat(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func (s *Server) handleActuate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		name := r.URL.Query().Get("name")
		if name == "" {
			httputil.BadRequest(w, "name is required")
			return
		}
		v, err := s.drv.ActuateRead(name)
		if err != nil {
			writeDriverError(w, err)
			return
		}
		httputil.WriteJSONOK(w, actuateResponse{Name: name, Value: optFloat(v)})
	case http.MethodPost:
		var req actuateRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if req.Name == "" || (req.Value == nil) == (req.On == nil) {
			httputil.BadRequest(w, "name and exactly one of value or on are required")
			return
		}
		var err error
		if req.On != nil {
			err = s.drv.ActuateBool(req.Name, *req.On)
		} else {
			err = s.drv.Actuate(req.Name, *req.Value)
		}
		if err != nil {
			writeDriverError(w, err)
			return
		}
		httputil.WriteJSONOK(w, map[string]string{"status": "ok", "name": req.Name})
	default:
		httputil.MethodNotAllowed(w)
	}
}

type locationResponse struct {
	Head      string            `json:"head"`
	Mountable string            `json:"mountable,omitempty"`
	Location  position.Location `json:"location"`
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	name := r.URL.Query().Get("mountable")
	if name == "" {
		head := headParam(r)
		httputil.WriteJSONOK(w, locationResponse{Head: head, Location: s.drv.HeadLocation(head)})
		return
	}
	if s.db == nil {
		httputil.NotFound(w, "no mountable registry")
		return
	}
	m, err := s.db.GetMountable(name)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if m == nil {
		httputil.NotFound(w, "unknown mountable "+name)
		return
	}
	httputil.WriteJSONOK(w, locationResponse{Head: m.Head, Mountable: m.Name, Location: s.drv.Location(*m)})
}

type feedRateBody struct {
	FeedRate *float64 `json:"feed_rate_mm_per_minute"`
}

func (s *Server) handleFeedRate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		v := s.drv.FeedRate()
		httputil.WriteJSONOK(w, feedRateBody{FeedRate: &v})
	case http.MethodPut:
		var body feedRateBody
		if err := httputil.DecodeJSON(r, &body); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if body.FeedRate == nil {
			httputil.BadRequest(w, "feed_rate_mm_per_minute is required")
			return
		}
		if err := s.drv.SetFeedRate(*body.FeedRate); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if s.db != nil {
			if err := s.db.SetFeedRate(*body.FeedRate); err != nil {
				httputil.InternalServerError(w, err.Error())
				return
			}
		}
		httputil.WriteJSONOK(w, body)
	default:
		httputil.MethodNotAllowed(w)
	}
}

type lastResponseJSON struct {
	PacketID    uint32              `json:"packet_id"`
	Status      int                 `json:"status"`
	Provisional bool                `json:"provisional"`
	Value       *float64            `json:"value"`
	Axes        map[string]*float64 `json:"axes,omitempty"`
}

type statusResponse struct {
	stateResponse
	PacketID     uint32                       `json:"packet_id"`
	FeedRate     float64                      `json:"feed_rate_mm_per_minute"`
	Heads        map[string]position.Location `json:"heads"`
	Activity     map[string]int64             `json:"activity"`
	Stats        driver.StatsSnapshot         `json:"stats"`
	LastResponse *lastResponseJSON            `json:"last_response,omitempty"`
}

func (s *Server) status() statusResponse {
	resp := statusResponse{
		stateResponse: s.currentState(),
		PacketID:      s.drv.PacketID(),
		FeedRate:      s.drv.FeedRate(),
		Heads:         s.drv.Tracker().Heads(),
		Activity:      s.activity.Counts(),
		Stats:         s.drv.Stats().Snapshot(),
	}
	if last, ok := s.drv.LastResponse(); ok {
		lr := &lastResponseJSON{
			PacketID:    last.PacketID,
			Status:      last.Status,
			Provisional: last.Provisional,
			Value:       optFloat(last.Value),
		}
		if !last.Provisional {
			a := last.Axes
			lr.Axes = map[string]*float64{
				"x": optFloat(a.X), "y": optFloat(a.Y),
				"z1": optFloat(a.Z1), "c1": optFloat(a.C1),
				"z2": optFloat(a.Z2), "c2": optFloat(a.C2),
				"z3": optFloat(a.Z3), "c3": optFloat(a.C3),
				"z4": optFloat(a.Z4), "c4": optFloat(a.C4),
			}
		}
		resp.LastResponse = lr
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.status())
}

func (s *Server) handleMountables(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		httputil.ServiceUnavailable(w, "no settings database configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		ms, err := s.db.Mountables()
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if ms == nil {
			ms = []position.Mountable{}
		}
		httputil.WriteJSONOK(w, ms)
	case http.MethodPut:
		var m position.Mountable
		if err := httputil.DecodeJSON(r, &m); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := s.db.SaveMountable(m); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, m)
	case http.MethodDelete:
		name := r.URL.Query().Get("name")
		if name == "" {
			httputil.BadRequest(w, "name is required")
			return
		}
		if err := s.db.DeleteMountable(name); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.MethodNotAllowed(w)
	}
}
