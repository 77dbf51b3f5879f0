// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/holostream/archivist/internal/store"
)

// handleListStatus is GET /api/status?include_done=0|1, grounded on
// original_source/internals/routes/status.py's list endpoint. include_done
// defaults to false: done jobs drop out of the default listing once the
// Lifecycle Engine has finished with them.
func (s *Server) handleListStatus(w http.ResponseWriter, r *http.Request) {
	includeDone := r.URL.Query().Get("include_done") == "1"

	jobs, err := s.Store.ListJobs(r.Context(), includeDone)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	out := make([]jobDTO, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, newJobDTO(j))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetStatus is GET /api/status/{id}.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	j, err := s.Store.GetJob(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, newJobDTO(j))
}
