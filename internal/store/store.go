// Package store is the Job Store (C1): the persistent table of jobs,
// autoscheduler rules, and pending chat captures. The interface shape —
// a closure-based UpdateJob instead of read-modify-write at the call
// site — is grounded on the teacher's pipeline/store.StateStore
// (UpdateSession(ctx, id, fn)), adapted from session/lease semantics to
// the job domain described in spec.md §3.
package store

import (
	"context"
	"errors"

	"github.com/holostream/archivist/internal/model"
)

// ErrNotFound is returned when a lookup by id finds nothing.
var ErrNotFound = errors.New("store: not found")

// ErrNoOpUpdate is returned by UpdateAutoRule when an update would not
// change anything; internal/api translates this into a 400 per spec.md
// §6 "reject no-op".
var ErrNoOpUpdate = errors.New("store: no-op update rejected")

// UpdateFn mutates a Job in place and returns an error to abort the
// update (the store rolls back and returns the error unchanged).
type UpdateFn func(j *model.Job) error

// Store is the persistence interface every component depends on. The
// Lifecycle Engine and Autoscheduler write only from the leader process
// (gated one level up, by the leader-election bridge); the HTTP API's
// mutating handlers write from whichever process serves the request.
// All processes may read.
type Store interface {
	// Jobs

	// UpsertJob inserts a new job or merges into an existing one with
	// the same ID (spec.md §8: "scheduling the same id twice is
	// idempotent on identity"). Returns true if a new row was created.
	UpsertJob(ctx context.Context, j *model.Job) (created bool, err error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	// ListJobs returns jobs; includeDone also returns status=done rows.
	// status=cancelled rows are always included (spec.md is silent on
	// excluding cancelled from listings; only `done` is gated by the flag).
	ListJobs(ctx context.Context, includeDone bool) ([]*model.Job, error)
	UpdateJob(ctx context.Context, id string, fn UpdateFn) (*model.Job, error)
	DeleteJob(ctx context.Context, id string) error

	// AutoRules

	ListAutoRules(ctx context.Context) ([]*model.AutoRule, error)
	InsertAutoRule(ctx context.Context, r *model.AutoRule) error
	UpdateAutoRule(ctx context.Context, id string, fn func(r *model.AutoRule) error) (*model.AutoRule, error)
	DeleteAutoRule(ctx context.Context, id string) error

	// PendingChatCaptures

	PutPendingChatCapture(ctx context.Context, p *model.PendingChatCapture) error
	GetPendingChatCapture(ctx context.Context, id string) (*model.PendingChatCapture, error)
	ListPendingChatCaptures(ctx context.Context) ([]*model.PendingChatCapture, error)
	DeletePendingChatCapture(ctx context.Context, id string) error

	// RecoverStaleJobs runs once at startup. Per DESIGN.md Open Question
	// 2, it demotes any job left in an in-flight stage (preparing,
	// downloading, muxing, uploading, cleaning) to status=error with
	// last_status set to that stage, so the lifecycle engine's next tick
	// resumes it instead of stalling forever. Returns the
	// number of jobs demoted.
	RecoverStaleJobs(ctx context.Context) (int, error)

	Close() error
}
