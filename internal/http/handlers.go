package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/commute-pool/internal/assign"
	"github.com/example/commute-pool/internal/dispatch"
	"github.com/example/commute-pool/internal/matcher"
	"github.com/example/commute-pool/internal/models"
	"github.com/example/commute-pool/internal/report"
	"github.com/example/commute-pool/internal/storage"
)

const defaultHistoryLimit = 50

type Server struct {
	Engine  *assign.Engine
	Journal *report.Journal
	Store   storage.EventStore
	WSReg   *dispatch.WSRegistry
	logger  *slog.Logger
	mux     *mux.Router
}

func NewServer(engine *assign.Engine, journal *report.Journal, store storage.EventStore, wsreg *dispatch.WSRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Engine: engine, Journal: journal, Store: store, WSReg: wsreg, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/workplaces", s.handleWorkplaces).Methods("GET")
	api.HandleFunc("/drivers", s.handleCreateDriver).Methods("POST")
	api.HandleFunc("/drivers/batch", s.handleCreateDrivers).Methods("POST")
	api.HandleFunc("/drivers", s.handleListDrivers).Methods("GET")
	api.HandleFunc("/riders", s.handleCreateRider).Methods("POST")
	api.HandleFunc("/riders/batch", s.handleCreateRiders).Methods("POST")
	api.HandleFunc("/riders", s.handleListRiders).Methods("GET")
	api.HandleFunc("/riders/{rider_id}", s.handleUnregisterRider).Methods("DELETE")
	api.HandleFunc("/drivers/{driver_id}/candidates", s.handleCandidates).Methods("GET")
	api.HandleFunc("/drivers/{driver_id}/candidates/{rider_id}", s.handleScore).Methods("GET")
	api.HandleFunc("/drivers/{driver_id}/riders", s.handleAddRider).Methods("POST")
	api.HandleFunc("/drivers/{driver_id}/riders/{rider_id}", s.handleRemoveRider).Methods("DELETE")
	api.HandleFunc("/drivers/{driver_id}/ride", s.handleRide).Methods("GET")
	api.HandleFunc("/drivers/{driver_id}/history", s.handleHistory).Methods("GET")

	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func statusFor(err error) (int, errorBody) {
	if d, ok := assign.AsDecline(err); ok {
		body := errorBody{Error: d.Reason, Kind: d.Kind.String()}
		switch d.Kind {
		case assign.KindRouteUnavailable, assign.KindDataInconsistency:
			return http.StatusBadGateway, body
		case assign.KindConstructionFailure:
			return http.StatusUnprocessableEntity, body
		case assign.KindInvalidInput:
			return http.StatusBadRequest, body
		default:
			return http.StatusConflict, body
		}
	}
	switch {
	case errors.Is(err, assign.ErrDriverNotFound), errors.Is(err, assign.ErrRiderNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error()}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal error"}
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := statusFor(err)
	if status == http.StatusInternalServerError {
		s.loggerFor(r).Error("request failed", "route", routeTemplate(r), "error", err)
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") == "1" {
		if err := s.Engine.CheckInvariants(); err != nil {
			s.loggerFor(r).Error("invariant check failed", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type workplaceView struct {
	Name  string       `json:"name"`
	Coord models.Coord `json:"coord"`
}

func (s *Server) handleWorkplaces(w http.ResponseWriter, r *http.Request) {
	reg := s.Engine.Workplaces()
	out := make([]workplaceView, 0, len(reg))
	for _, name := range reg.Names() {
		out = append(out, workplaceView{Name: name, Coord: reg[name]})
	}
	writeJSON(w, http.StatusOK, out)
}

type failureView struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

func failureViews(fs []assign.Failure) []failureView {
	out := make([]failureView, len(fs))
	for i, f := range fs {
		out[i] = failureView{Index: f.Index, Name: f.Name, Reason: f.Err.Error()}
	}
	return out
}

func (s *Server) handleCreateDriver(w http.ResponseWriter, r *http.Request) {
	var in assign.DriverInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, err.Error())
		return
	}
	ride, err := s.Engine.RegisterDriver(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, report.Build(ride, nil))
}

func (s *Server) handleCreateDrivers(w http.ResponseWriter, r *http.Request) {
	var in []assign.DriverInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, err.Error())
		return
	}
	res := s.Engine.RegisterDrivers(r.Context(), in)
	created := make([]report.Record, len(res.Rides))
	for i, ride := range res.Rides {
		created[i] = report.Build(ride, nil)
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": created, "failures": failureViews(res.Failures)})
}

func (s *Server) handleListDrivers(w http.ResponseWriter, r *http.Request) {
	rides := s.Engine.Rides()
	out := make([]report.Record, len(rides))
	for i, ride := range rides {
		out[i] = report.Build(ride, nil)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateRider(w http.ResponseWriter, r *http.Request) {
	var in assign.RiderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, err.Error())
		return
	}
	u, err := s.Engine.RegisterRider(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleCreateRiders(w http.ResponseWriter, r *http.Request) {
	var in []assign.RiderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, err.Error())
		return
	}
	res := s.Engine.RegisterRiders(r.Context(), in)
	created := res.Riders
	if created == nil {
		created = []models.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": created, "failures": failureViews(res.Failures)})
}

type riderView struct {
	models.User
	DriverID string `json:"driver_id,omitempty"`
}

func (s *Server) handleListRiders(w http.ResponseWriter, r *http.Request) {
	riders := s.Engine.Riders()
	out := make([]riderView, len(riders))
	for i, u := range riders {
		out[i] = riderView{User: u}
		if ride, ok, _ := s.Engine.CurrentRide(u.ID); ok {
			out[i].DriverID = ride.Driver.ID
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUnregisterRider(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.UnregisterRider(r.Context(), mux.Vars(r)["rider_id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type candidateView struct {
	RiderID   string            `json:"rider_id"`
	Name      string            `json:"name"`
	InRide    bool              `json:"in_ride"`
	Score     float64           `json:"score"`
	Breakdown matcher.Breakdown `json:"breakdown"`
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	cands, err := s.Engine.Candidates(r.Context(), mux.Vars(r)["driver_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]candidateView, len(cands))
	for i, c := range cands {
		out[i] = candidateView{RiderID: c.Rider.ID, Name: c.Rider.Name, InRide: c.InRide, Score: c.Score(), Breakdown: c.Breakdown}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	b, err := s.Engine.Evaluate(r.Context(), vars["driver_id"], vars["rider_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type addRiderRequest struct {
	RiderID string `json:"rider_id"`
}

func (s *Server) handleAddRider(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	var req addRiderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.RiderID == "" {
		badRequest(w, "rider_id is required")
		return
	}
	ride, err := s.Engine.AddRider(r.Context(), driverID, req.RiderID)
	if err != nil {
		s.journal(driverID, err)
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report.Build(ride, nil))
}

func (s *Server) handleRemoveRider(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ride, err := s.Engine.RemoveRider(r.Context(), vars["driver_id"], vars["rider_id"])
	if err != nil {
		s.journal(vars["driver_id"], err)
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report.Build(ride, nil))
}

// journal keeps decline reasons until the driver's ride is next viewed.
func (s *Server) journal(driverID string, err error) {
	if d, ok := assign.AsDecline(err); ok && s.Journal != nil {
		s.Journal.Add(driverID, d.Reason)
	}
}

func (s *Server) handleRide(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	ride, err := s.Engine.Ride(driverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var declines []string
	if s.Journal != nil {
		declines = s.Journal.Drain(driverID)
	}
	rec := report.Build(ride, declines)
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := report.WriteText(w, rec); err != nil {
			s.loggerFor(r).Warn("write ride summary failed", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	if _, err := s.Engine.Driver(driverID); err != nil {
		s.writeError(w, r, err)
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	events, err := s.Store.History(r.Context(), driverID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []models.RideEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

var upgrader = websocket.Upgrader{}

// handleWS streams the driver's ride events until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	if _, err := s.Engine.Driver(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.loggerFor(r).Warn("ws upgrade failed", "error", err)
		return
	}
	s.WSReg.Add(id, conn)
	defer func() {
		s.WSReg.Remove(id, conn)
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
