// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import "net/http"

// handleRecords is GET /api/records, grounded on
// original_source/internals/routes/records.py's stream_records: the
// cached tree is served as-is, and a 404 with an empty data object is
// returned until the first background build completes.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.Records.Snapshot()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"data": map[string]any{}, "total_size": 0})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": snap.Root, "total_size": snap.TotalSize})
}
