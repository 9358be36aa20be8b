// Package server exposes a raft node over HTTP: the key-value API for clients and
// JSON forms of the two consensus RPCs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jmsadair/raftkv"
	"github.com/jmsadair/raftkv/logging"
)

const (
	readHeaderTimeout = 5 * time.Second
)

// Node is the consensus node served over HTTP. It is implemented by *raft.Raft.
type Node interface {
	SubmitCommand(command raft.Command) raft.Future[raft.CommandResponse]
	Read(key string) (string, bool)
	Status() raft.Status
	Leader() (string, string)
	AppendEntries(request *raft.AppendEntriesRequest, response *raft.AppendEntriesResponse) error
	RequestVote(request *raft.RequestVoteRequest, response *raft.RequestVoteResponse) error
}

// KeyLister lists the keys of the local store in ascending order.
type KeyLister interface {
	Keys() []string
}

type options struct {
	// Maps member IDs to their HTTP addresses, used to redirect clients to the leader.
	httpAddresses map[string]string

	// Logs requests and failures.
	logger raft.Logger
}

// Option is a function that updates the options associated with Server.
type Option func(options *options) error

// WithHTTPAddresses sets the HTTP address of every member of the cluster by ID.
func WithHTTPAddresses(addresses map[string]string) Option {
	return func(options *options) error {
		options.httpAddresses = make(map[string]string, len(addresses))
		for id, address := range addresses {
			options.httpAddresses[id] = address
		}
		return nil
	}
}

// WithLogger sets the logger used by the server.
func WithLogger(logger raft.Logger) Option {
	return func(options *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		options.logger = logger
		return nil
	}
}

// Server serves the HTTP API of a raft node.
type Server struct {
	node       Node
	keys       KeyLister
	options    options
	httpServer *http.Server
	mu         sync.Mutex
}

// New creates a new HTTP server for node. keys lists the contents of the node's store.
func New(node Node, keys KeyLister, opts ...Option) (*Server, error) {
	var options options
	for _, opt := range opts {
		if err := opt(&options); err != nil {
			return nil, fmt.Errorf("failed to create server: %w", err)
		}
	}
	if options.logger == nil {
		logger, err := logging.NewLogger()
		if err != nil {
			return nil, fmt.Errorf("failed to create server: %w", err)
		}
		options.logger = logger
	}
	return &Server{node: node, keys: keys, options: options}, nil
}

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/", s.Get)
	r.Post("/", s.Put)
	r.Delete("/", s.Delete)
	r.Get("/keys", s.ListKeys)
	r.Get("/status", s.Status)
	r.Get("/healthz", s.Healthz)
	r.Route("/rpc", func(r chi.Router) {
		r.Post("/append", s.AppendEntries)
		r.Post("/vote", s.RequestVote)
	})

	return r
}

// Serve accepts HTTP connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("server is already serving")
	}
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: readHeaderTimeout}
	httpServer := s.httpServer
	s.mu.Unlock()

	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on address and serves HTTP until Shutdown is called.
func (s *Server) ListenAndServe(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("could not create listener: %w", err)
	}
	return s.Serve(listener)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}

func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Status())
}

func (s *Server) ListKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"keys": s.keys.Keys()})
}

// Get reads a key from the local store. The value may be stale on a follower.
func (s *Server) Get(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "key is required")
		return
	}
	value, ok := s.node.Read(key)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"value": value})
}

// Put writes a key through the leader.
func (s *Server) Put(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	key := query.Get("key")
	value := query.Get("value")
	if key == "" || value == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "key and value are required")
		return
	}
	if s.submit(w, r, raft.Command{Op: raft.Write, Key: key, Value: value}) {
		writeJSON(w, http.StatusCreated, map[string]string{"key": key, "value": value})
	}
}

// Delete removes a key through the leader.
func (s *Server) Delete(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "key is required")
		return
	}
	if s.submit(w, r, raft.Command{Op: raft.Delete, Key: key}) {
		w.WriteHeader(http.StatusNoContent)
	}
}

// submit replicates command and writes an error response if it was not applied.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, command raft.Command) bool {
	err := s.node.SubmitCommand(command).Await().Error()
	if err == nil {
		return true
	}

	var notLeader *raft.NotLeaderError
	switch {
	case errors.As(err, &notLeader):
		s.redirectToLeader(w, r, notLeader)
	case errors.Is(err, raft.ErrInvalidOperation):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, raft.ErrTimeout), errors.Is(err, raft.ErrShutdown), errors.Is(err, raft.ErrLostLeadership):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		s.options.logger.Errorf("server failed to submit command: command = %+v, error = %s", command, err.Error())
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
	return false
}

// redirectToLeader responds with 307 pointing at the leader's HTTP address. If no leader is
// known it responds 503 no_leader; if the leader is known but its HTTP address is not, it
// responds 503 leader_unreachable with the leader's raft address.
func (s *Server) redirectToLeader(w http.ResponseWriter, r *http.Request, notLeader *raft.NotLeaderError) {
	if notLeader.LeaderID == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no_leader"})
		return
	}
	leaderAddress, ok := s.options.httpAddresses[notLeader.LeaderID]
	if !ok || leaderAddress == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":               "leader_unreachable",
			"leader_id":           notLeader.LeaderID,
			"leader_raft_address": notLeader.LeaderAddress,
		})
		return
	}

	location := fmt.Sprintf("http://%s%s", leaderAddress, r.URL.RequestURI())
	w.Header().Set("Location", location)
	writeJSON(w, http.StatusTemporaryRedirect, map[string]string{
		"error":          "not_leader",
		"leader_id":      notLeader.LeaderID,
		"leader_address": leaderAddress,
	})
}

// AppendEntries handles the JSON form of the AppendEntries RPC.
func (s *Server) AppendEntries(w http.ResponseWriter, r *http.Request) {
	var request raft.AppendEntriesRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}
	if err := request.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	var response raft.AppendEntriesResponse
	if err := s.node.AppendEntries(&request, &response); err != nil {
		s.options.logger.Errorf("server failed to handle AppendEntries: leaderID = %s, error = %s", request.LeaderID, err.Error())
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// RequestVote handles the JSON form of the RequestVote RPC.
func (s *Server) RequestVote(w http.ResponseWriter, r *http.Request) {
	var request raft.RequestVoteRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return
	}

	var response raft.RequestVoteResponse
	if err := s.node.RequestVote(&request, &response); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
