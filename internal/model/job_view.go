// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// JobView is the wire shape for a Job, grounded on
// original_source/internals/routes/status.py's response dict. Job
// itself carries no json tags (internal structs stay tag-free; this is
// the one exported, tagged exception), so every component that puts a
// Job on the wire — the HTTP API and the websocket hub's job_update
// broadcast alike — converts through here rather than marshaling Job
// directly, keeping both surfaces on the same field names.
type JobView struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Filename   string `json:"filename,omitempty"`
	StartTime  int64  `json:"start_time"`
	ChannelID  string `json:"channel_id"`
	IsMember   bool   `json:"is_member"`
	Status     string `json:"status"`
	LastStatus string `json:"last_status,omitempty"`
	Platform   string `json:"platform"`
	Resolution string `json:"resolution,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewJobView converts a Job into its wire shape.
func NewJobView(j *Job) JobView {
	return JobView{
		ID:         j.ID,
		Title:      j.Title,
		Filename:   j.Filename,
		StartTime:  j.StartTime.Unix(),
		ChannelID:  j.ChannelID,
		IsMember:   j.MemberOnly,
		Status:     string(j.Status),
		LastStatus: string(j.LastStatus),
		Platform:   string(j.Platform),
		Resolution: j.Resolution,
		Error:      j.Error,
	}
}
