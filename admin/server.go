// Package admin serves the peer's HTTP diagnostic API: health, status, counters,
// recent deliveries and logs, plus endpoints that start floods from this peer.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/adamgarcia4/goLearning/floodnet/flood"
	"github.com/adamgarcia4/goLearning/floodnet/logger"
	"github.com/adamgarcia4/goLearning/floodnet/node"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
	maxBodyBytes = 64 << 10
)

// Peer is what the API needs from a running node.
type Peer interface {
	Status() node.Status
	Stats() node.Stats
	Deliveries(count int) []node.DeliveryRecord
	NewText(body string) flood.Text

	BroadcastToAll(ctx context.Context, payload flood.Payload) (flood.Result, error)
	BroadcastToDepth(ctx context.Context, depth int, payload flood.Payload) (flood.Result, error)
	BroadcastToRandomDepth(ctx context.Context, min, max int, payload flood.Payload) (flood.Result, error)
	SendToNeighbors(ctx context.Context, payload flood.Payload) (flood.Result, error)
	SendDirect(ctx context.Context, peer flood.PeerID, payload flood.Payload) (flood.Result, error)
	StartPoll(ctx context.Context) (map[flood.PeerID]bool, error)
	DiscoverTopology(ctx context.Context) (map[flood.PeerID][]flood.PeerID, error)
}

var _ Peer = (*node.Node)(nil)

// Server represents the HTTP admin server
type Server struct {
	peer   Peer
	addr   string
	router *mux.Router
	server *http.Server
	logs   *logger.LogBuffer
	logf   func(format string, args ...interface{})
}

// NewServer creates a new admin server for peer on addr.
func NewServer(peer Peer, addr string) *Server {
	s := &Server{
		peer: peer,
		addr: addr,
		logs: logger.GetGlobalLogBuffer(),
		logf: logger.ForPeerAt(string(peer.Status().PeerID), logger.LevelDebug),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Status endpoints
	api.HandleFunc("/health", s.getHealth).Methods("GET")
	api.HandleFunc("/status", s.getStatus).Methods("GET")
	api.HandleFunc("/stats", s.getStats).Methods("GET")
	api.HandleFunc("/deliveries", s.getDeliveries).Methods("GET")
	api.HandleFunc("/logs", s.getLogs).Methods("GET")

	// Flood endpoints
	api.HandleFunc("/broadcast", s.postBroadcast).Methods("POST")
	api.HandleFunc("/broadcast/depth", s.postBroadcastDepth).Methods("POST")
	api.HandleFunc("/broadcast/random", s.postBroadcastRandom).Methods("POST")
	api.HandleFunc("/broadcast/neighbors", s.postBroadcastNeighbors).Methods("POST")
	api.HandleFunc("/send/{peer}", s.postSendDirect).Methods("POST")
	api.HandleFunc("/poll", s.postPoll).Methods("POST")
	api.HandleFunc("/topology", s.postTopology).Methods("POST")

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	s.router.Use(c.Handler)
	s.router.Use(s.loggingMiddleware)
}

// Handler exposes the routes, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds addr and serves in the background. Binding errors are returned.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // floods may wait for their full timeout
		IdleTimeout:  60 * time.Second,
	}
	logger.Infof("admin API listening on http://%s/api/v1", lis.Addr())
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("admin API stopped: %v", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Status endpoints

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	st := s.peer.Status()
	health := "healthy"
	if !st.Started {
		health = "stopped"
	}
	s.writeJSON(w, map[string]interface{}{
		"status":    health,
		"peer_id":   st.PeerID,
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.peer.Status())
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.peer.Stats())
}

func (s *Server) getDeliveries(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"deliveries": s.peer.Deliveries(parseLimit(r)),
	})
}

func (s *Server) getLogs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"entries": s.logs.GetRecent(parseLimit(r)),
	})
}

func parseLimit(r *http.Request) int {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= maxLimit {
			limit = parsed
		}
	}
	return limit
}

// Flood endpoints

type floodRequest struct {
	Text  string `json:"text"`
	Depth int    `json:"depth"`
	Min   int    `json:"min"`
	Max   int    `json:"max"`
}

type resultResponse struct {
	ID       flood.BroadcastID `json:"id"`
	Depth    int               `json:"depth,omitempty"`
	Expected int               `json:"expected"`
	Received int               `json:"received"`
	Invalid  int               `json:"invalid"`
	Shed     int               `json:"shed"`
}

func newResultResponse(res flood.Result) resultResponse {
	return resultResponse{
		ID:       res.ID,
		Depth:    res.Depth,
		Expected: res.Expected,
		Received: res.Received,
		Invalid:  res.Invalid,
		Shed:     res.Shed,
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (floodRequest, bool) {
	var req floodRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return req, false
	}
	if req.Text == "" {
		s.writeError(w, "text is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (s *Server) postBroadcast(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	res, err := s.peer.BroadcastToAll(r.Context(), s.peer.NewText(req.Text))
	s.writeResult(w, res, err)
}

func (s *Server) postBroadcastDepth(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	res, err := s.peer.BroadcastToDepth(r.Context(), req.Depth, s.peer.NewText(req.Text))
	s.writeResult(w, res, err)
}

func (s *Server) postBroadcastRandom(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	res, err := s.peer.BroadcastToRandomDepth(r.Context(), req.Min, req.Max, s.peer.NewText(req.Text))
	s.writeResult(w, res, err)
}

func (s *Server) postBroadcastNeighbors(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	res, err := s.peer.SendToNeighbors(r.Context(), s.peer.NewText(req.Text))
	s.writeResult(w, res, err)
}

func (s *Server) postSendDirect(w http.ResponseWriter, r *http.Request) {
	target := flood.PeerID(mux.Vars(r)["peer"])
	req, ok := s.decode(w, r)
	if !ok {
		return
	}
	res, err := s.peer.SendDirect(r.Context(), target, s.peer.NewText(req.Text))
	s.writeResult(w, res, err)
}

func (s *Server) postPoll(w http.ResponseWriter, r *http.Request) {
	votes, err := s.peer.StartPoll(r.Context())
	if err != nil {
		s.writeFloodError(w, err)
		return
	}
	yes := 0
	for _, v := range votes {
		if v {
			yes++
		}
	}
	s.writeJSON(w, map[string]interface{}{
		"votes": votes,
		"yes":   yes,
		"no":    len(votes) - yes,
	})
}

func (s *Server) postTopology(w http.ResponseWriter, r *http.Request) {
	adj, err := s.peer.DiscoverTopology(r.Context())
	if err != nil {
		s.writeFloodError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"peers":     len(adj),
		"adjacency": adj,
	})
}

func (s *Server) writeResult(w http.ResponseWriter, res flood.Result, err error) {
	if err != nil {
		s.writeFloodError(w, err)
		return
	}
	s.writeJSON(w, newResultResponse(res))
}

// Helper methods

// statusFor maps flood and node errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, flood.ErrUnknownPeer):
		return http.StatusNotFound
	case errors.Is(err, flood.ErrInvalidDepth), errors.Is(err, flood.ErrUnknownPayload):
		return http.StatusBadRequest
	case errors.Is(err, flood.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, flood.ErrClosed), errors.Is(err, node.ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.Is(err, flood.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeFloodError(w http.ResponseWriter, err error) {
	s.writeError(w, err.Error(), statusFor(err))
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("Error encoding JSON: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":     message,
		"status":    statusCode,
		"timestamp": time.Now().Unix(),
	})
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Capture the status code for the log line
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lrw, r)

		s.logf("%s %s %d %v", r.Method, r.URL.Path, lrw.statusCode, time.Since(start))
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}
