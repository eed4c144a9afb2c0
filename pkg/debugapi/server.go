// Package debugapi exposes a read-only HTTP+WebSocket introspection surface
// over a running node's consensus state: round agreements and proofs, the
// delegated channel's chain view bitmaps, and peer misbehaviour counters.
// It never accepts a write: enrollment, distribute, and publish traffic all
// flow over the wire protocol in pkg/channel, not through this API. This is
// the Go shape of the teacher's pkg/api, re-pointed from a perp-exchange
// REST surface at the PVSS round state this module actually owns.
package debugapi

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/dpvss/consensus/pkg/channel"
	"github.com/dpvss/consensus/pkg/consensus"
)

// Server serves the debug introspection API over an already-running
// ConsensusDriver, ChainView, and PeerScheduler.
type Server struct {
	driver *consensus.ConsensusDriver
	view   *channel.ChainView
	sched  *channel.PeerScheduler
	log    *zap.Logger

	router *mux.Router
	hub    *Hub
}

// NewServer wires the read-only routes over the given node components.
func NewServer(driver *consensus.ConsensusDriver, view *channel.ChainView, sched *channel.PeerScheduler, log *zap.Logger) *Server {
	s := &Server{
		driver: driver,
		view:   view,
		sched:  sched,
		log:    log,
		router: mux.NewRouter(),
		hub:    newHub(log),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/agreement", s.handleAgreement).Methods("GET")
	api.HandleFunc("/proof", s.handleProof).Methods("GET")
	api.HandleFunc("/chainview", s.handleChainView).Methods("GET")
	api.HandleFunc("/peers/{nonce}", s.handlePeerStatus).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the HTTP server on addr, wrapped in permissive localhost CORS
// (this API is meant for a sibling debug UI, not public consumption).
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		AllowedMethods: []string{"GET"},
	})
	s.log.Info("debug api starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// NotifyRoundCompleted pushes a round-completed event to every connected
// debug client. Called by cmd/pvssnode wiring whenever HandlePublish
// reports a round is complete.
func (s *Server) NotifyRoundCompleted(ev RoundCompletedEvent) {
	s.hub.PublishRoundCompleted(ev)
}

func parseTargetAndAnchor(r *http.Request) (uint64, consensus.Hash256, error) {
	target, err := strconv.ParseUint(r.URL.Query().Get("target"), 10, 64)
	if err != nil {
		return 0, consensus.Hash256{}, err
	}
	raw, err := hex.DecodeString(r.URL.Query().Get("anchor"))
	if err != nil || len(raw) != 32 {
		return 0, consensus.Hash256{}, err
	}
	var anchor consensus.Hash256
	copy(anchor[:], raw)
	return target, anchor, nil
}

func (s *Server) handleAgreement(w http.ResponseWriter, r *http.Request) {
	target, anchor, err := parseTargetAndAnchor(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid target/anchor", err.Error())
		return
	}
	agreement, weight, ballot, err := s.driver.GetAgreement(target, anchor)
	if err != nil {
		respondError(w, http.StatusNotFound, "agreement not available", err.Error())
		return
	}
	resp := AgreementResponse{
		TargetHeight: target,
		Anchor:       hex.EncodeToString(anchor[:]),
		Agreement:    hex.EncodeToString(agreement[:]),
		Weight:       weight,
		Ballot:       make(map[string]uint32, len(ballot)),
	}
	for id, weight := range ballot {
		resp.Ballot[hex.EncodeToString(id[:])] = weight
	}
	respondJSON(w, resp)
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	target, anchor, err := parseTargetAndAnchor(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid target/anchor", err.Error())
		return
	}
	proof, err := s.driver.GetProof(target, anchor)
	if err != nil {
		respondError(w, http.StatusNotFound, "proof not available", err.Error())
		return
	}
	resp := ProofResponse{
		TargetHeight: target,
		Anchor:       hex.EncodeToString(anchor[:]),
		Entries:      make([]ProofEntry, 0, len(proof)),
	}
	for _, d := range proof {
		count := 0
		for _, shares := range d.Shares {
			count += len(shares)
		}
		resp.Entries = append(resp.Entries, ProofEntry{
			IdentFrom:  hex.EncodeToString(d.IdentFrom[:]),
			ShareCount: count,
		})
	}
	respondJSON(w, resp)
}

func (s *Server) handleChainView(w http.ResponseWriter, r *http.Request) {
	rawAnchor := r.URL.Query().Get("anchor")
	var anchor consensus.Hash256
	if rawAnchor != "" {
		raw, err := hex.DecodeString(rawAnchor)
		if err != nil || len(raw) != 32 {
			respondError(w, http.StatusBadRequest, "invalid anchor", "")
			return
		}
		copy(anchor[:], raw)
	} else {
		back, ok := s.view.BackAnchor()
		if !ok {
			respondError(w, http.StatusNotFound, "chain view is empty", "")
			return
		}
		anchor = back
	}

	resp := ChainViewStatus{
		BackAnchor:   hex.EncodeToString(anchor[:]),
		InWindow:     s.view.InWindow(anchor),
		Distribute:   s.view.DistributeBitmap(anchor),
		Publish:      s.view.PublishBitmap(anchor),
		EnrolledSize: len(s.view.EnrolledList(anchor)),
	}
	respondJSON(w, resp)
}

func (s *Server) handlePeerStatus(w http.ResponseWriter, r *http.Request) {
	nonce, err := strconv.ParseUint(mux.Vars(r)["nonce"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid nonce", err.Error())
		return
	}
	resp := PeerStatus{
		Nonce:       nonce,
		Misbehavior: s.sched.MisbehaviorCount(channel.PeerNonce(nonce)),
	}
	respondJSON(w, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg, Details: details})
}
