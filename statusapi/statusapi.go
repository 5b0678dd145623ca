// Package statusapi exposes a read-only HTTP view of the most recent
// bootstrap journal entries, served by `puppetssl bootstrap --status-addr`
// for an operator checking on a node that may be mid-poll. It never drives the state machine
// and never accepts writes; it exists entirely outside the scope spec.md
// places on the bootstrap run itself.
package statusapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kboghdady/puppet/journal"
)

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EntryResponse mirrors journal.Entry for the wire, so the journal package
// is never required to carry a json-for-HTTP concern of its own.
type EntryResponse struct {
	AttemptID string `json:"attempt_id"`
	State     string `json:"state"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
	Time      string `json:"time"`
}

// Server serves the status endpoint from a Journal; it only reads from it.
type Server struct {
	journal *journal.Journal
}

// New returns a Server reading from j.
func New(j *journal.Journal) *Server {
	return &Server{journal: j}
}

// Router returns a chi.Router exposing GET /status, intended to be bound
// to a loopback listener only.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status", s.handleStatus)
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	entries, err := s.journal.Recent(20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]EntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = EntryResponse{
			AttemptID: e.AttemptID,
			State:     e.State,
			Outcome:   e.Outcome,
			Detail:    e.Detail,
			Time:      e.Time.Format(http.TimeFormat),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
