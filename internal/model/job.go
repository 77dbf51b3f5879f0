// Package model holds the data types shared across every archivist
// component: Job, AutoRule, PendingChatCapture, Video, and the sentinel
// error kinds that drive lifecycle and error-handling decisions.
package model

import "time"

// Platform identifies which upstream service a Job belongs to. The id
// prefix (see Job.ID) is authoritative for routing; Platform is carried
// alongside it so components never need to re-derive it from the prefix.
type Platform string

const (
	PlatformYouTube     Platform = "youtube"
	PlatformTwitch      Platform = "twitch"
	PlatformTwitcasting Platform = "twitcasting"
	PlatformTwitter     Platform = "twitter"
	PlatformMildom      Platform = "mildom"
)

// Status is a Job's lifecycle state. Terminal states are StatusDone and
// StatusCancelled; the lifecycle engine never re-dispatches either.
type Status string

const (
	StatusWaiting     Status = "waiting"
	StatusPreparing   Status = "preparing"
	StatusDownloading Status = "downloading"
	StatusMuxing      Status = "muxing"
	StatusUploading   Status = "uploading"
	StatusCleaning    Status = "cleaning"
	StatusDone        Status = "done"
	StatusError       Status = "error"
	StatusCancelled   Status = "cancelled"
)

// IsTerminal reports whether the scheduler should stop considering this
// status for further work.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// IsInFlight reports whether a job in this status was mid-pipeline, i.e.
// a process crash while in this state leaves on-disk artifacts that a
// restart must either resume or clean up (see store's startup recovery
// pass, DESIGN.md Open Question 2).
func (s Status) IsInFlight() bool {
	switch s {
	case StatusPreparing, StatusDownloading, StatusMuxing, StatusUploading, StatusCleaning:
		return true
	default:
		return false
	}
}

// Job is one broadcast to archive.
type Job struct {
	ID       string
	Title    string
	Filename string

	Resolution string // opaque label, e.g. "1080p60", "Unknown", "XXXp"; empty until set.
	ChannelID  string
	MemberOnly bool

	StartTime time.Time
	Platform  Platform
	Status    Status

	// LastStatus is the stage the job was in when it transitioned to
	// StatusError; nil (empty) on any other status. Recovery resumes
	// from this stage. Invariant: LastStatus != "" iff Status == StatusError.
	LastStatus Status
	Error      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recoverable reports the store invariant ``last_status = nil iff status != error``.
func (j *Job) Recoverable() bool {
	return j.Status == StatusError && j.LastStatus != ""
}

// AutoRuleType selects what field of a Video an AutoRule matches against.
type AutoRuleType string

const (
	RuleTypeChannel    AutoRuleType = "channel"
	RuleTypeGroup      AutoRuleType = "group"
	RuleTypeWord       AutoRuleType = "word"
	RuleTypeRegexWord  AutoRuleType = "regex_word"
)

// ChainEntry is one link of an AutoRule's match chain: every entry must
// also match for the owning rule to fire (chains are an intersection;
// the outer rule set is a union).
type ChainEntry struct {
	Type AutoRuleType
	Data string
}

// AutoRule is one filter row consumed by the autoscheduler.
type AutoRule struct {
	ID      string
	Type    AutoRuleType
	Data    string
	Include bool
	Chains  []ChainEntry
}

// PendingChatCapture is a chat job outliving the broadcast it was
// started from; it survives a process crash as a resume marker.
type PendingChatCapture struct {
	ID         string // = the owning Job's ID
	Filename   string
	ChannelID  string
	MemberOnly bool
	CreatedAt  time.Time
}

// Video is the normalized shape every discovery client produces,
// regardless of upstream API (spec.md §4.2).
type Video struct {
	ID        string
	Title     string
	StartTime time.Time
	ChannelID string
	Org       string // nullable; empty if unknown
	Status    VideoStatus
	Platform  Platform
	IsMember  bool
}

// VideoStatus is the upstream-reported lifecycle of a discovered video.
type VideoStatus string

const (
	VideoLive     VideoStatus = "live"
	VideoUpcoming VideoStatus = "upcoming"
	VideoPast     VideoStatus = "past"
)
