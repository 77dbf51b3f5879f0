// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/holostream/archivist/internal/audit"
	"github.com/holostream/archivist/internal/discovery"
	"github.com/holostream/archivist/internal/log"
	"github.com/holostream/archivist/internal/model"
	"github.com/holostream/archivist/internal/store"
)

type scheduleRequest struct {
	ID string `json:"id"`
}

// handlePostSchedule is POST /api/schedule, grounded on
// original_source/internals/routes/schedule.py's add_new_jobs. Scheduling
// the same id twice is idempotent on identity (spec.md §8): an existing
// job is refreshed in place rather than rejected.
func (s *Server) handlePostSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "missing `id` in request")
		return
	}

	video, found, err := discovery.Resolve(r.Context(), s.Discovery, req.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "discovery lookup failed")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}

	filename := model.ComputeFilename(video.ID, video.Title, video.StartTime, video.Platform)

	job := &model.Job{
		ID:         video.ID,
		Title:      video.Title,
		Filename:   filename,
		ChannelID:  video.ChannelID,
		MemberOnly: video.IsMember,
		StartTime:  video.StartTime,
		Platform:   video.Platform,
		Status:     model.StatusWaiting,
	}

	created, err := s.Store.UpsertJob(r.Context(), job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to schedule job")
		return
	}

	saved, err := s.Store.GetJob(r.Context(), job.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load scheduled job")
		return
	}

	event := "job_update"
	if created {
		event = "job_scheduled"
		s.Notifier.NotifySchedule(r.Context(), saved)
	}
	dto := newJobDTO(saved)
	s.Hub.Emit(event, dto, "")
	if err := s.Bus.Publish(r.Context(), jobUpdatesTopic, saved); err != nil {
		log.L().Warn().Err(err).Str("id", saved.ID).Msg("api: failed to publish job update")
	}

	log.L().Info().Str("id", saved.ID).Bool("created", created).Msg("api: job scheduled")
	if s.Audit != nil {
		s.Audit.Log(audit.Event{
			Type:     audit.EventAPIAccess,
			Actor:    r.RemoteAddr,
			Action:   event,
			Resource: "job:" + saved.ID,
			Result:   "success",
		})
	}
	writeJSON(w, http.StatusOK, dto)
}

// handleDeleteSchedule is DELETE /api/schedule/{id}?force=1, grounded on
// original_source/internals/routes/schedule.py's delete_job. spec.md §6
// widens the original's deletable-status set {cleaning, done, waiting}
// to also allow {error, cancelled}, since both are terminal/abandoned
// states a user may legitimately want to clear without ?force=1.
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	force := r.URL.Query().Get("force") == "1"

	job, err := s.Store.GetJob(r.Context(), id)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "video not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	if !force && !deletableStatus(job.Status) {
		writeError(w, http.StatusNotAcceptable, "current video status does not allow you to delete video")
		return
	}

	if err := s.Store.DeleteJob(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}

	s.Hub.Emit("job_delete", map[string]string{"id": id}, "")
	log.L().Info().Str("id", id).Bool("force", force).Msg("api: job deleted")
	if s.Audit != nil {
		s.Audit.Log(audit.Event{
			Type:     audit.EventAPIAccess,
			Actor:    r.RemoteAddr,
			Action:   "job_delete",
			Resource: "job:" + id,
			Result:   "success",
			Details:  map[string]string{"force": fmt.Sprintf("%v", force)},
		})
	}
	writeJSON(w, http.StatusOK, newJobDTO(job))
}

func deletableStatus(st model.Status) bool {
	switch st {
	case model.StatusCleaning, model.StatusDone, model.StatusWaiting, model.StatusError, model.StatusCancelled:
		return true
	default:
		return false
	}
}

// jobUpdatesTopic mirrors wshub's unexported constant of the same name;
// see wshub/hub.go's comment on why the string is duplicated rather than
// exported.
const jobUpdatesTopic = "job_updates"
