package api

import (
	"net/http"

	"github.com/aisu-os/core/pkg/apperr"
	"github.com/aisu-os/core/pkg/auth"
	"github.com/aisu-os/core/pkg/types"
)

// handleContainerStatus reconciles and returns the container status.
func (s *Server) handleContainerStatus(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	status, err := s.manager.LiveStatus(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleContainerStart starts (or provisions) the user's container.
func (s *Server) handleContainerStart(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	result, err := s.manager.Start(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleContainerStop stops the user's container.
func (s *Server) handleContainerStop(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	result, err := s.manager.Stop(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleContainerRestart is stop-then-start.
func (s *Server) handleContainerRestart(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	result, err := s.manager.Restart(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleContainerEvents returns the tail of the user's audit trail (the
// latest 100 events), newest last.
func (s *Server) handleContainerEvents(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFrom(r.Context())

	events, err := s.store.ListContainerEvents(user.ID, 0)
	if err != nil {
		writeError(w, apperr.Wrap(err, apperr.Internal, "Failed to load events"))
		return
	}
	if len(events) > 100 {
		events = events[len(events)-100:]
	}
	if events == nil {
		events = []*types.ContainerEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
