package model

import "errors"

// Sentinel error kinds (spec.md §7). Each is a distinct design-level
// kind, not a concrete type — components wrap a descriptive error with
// one of these via fmt.Errorf("...: %w", ErrKind) and inspect with
// errors.Is.
var (
	// ErrRecoverableStage marks a subprocess exit that did not match a
	// cancel pattern: stored as status=error and retried next tick.
	ErrRecoverableStage = errors.New("recoverable stage error")

	// ErrUnrecoverableCancel marks private/members-only-without-cookies/
	// login-required/geo-restricted/captcha failures. Terminal: cancelled.
	ErrUnrecoverableCancel = errors.New("unrecoverable cancel")

	// ErrSpawnFailed means the child binary could not be launched.
	// Treated as recoverable but carries a specific diagnostic.
	ErrSpawnFailed = errors.New("spawn failure")

	// ErrExtractorEmpty means no streams were available. Recoverable.
	ErrExtractorEmpty = errors.New("extractor returned no streams")

	// ErrChatDisabled is non-fatal on an upcoming video (retry loop);
	// fatal on live/past.
	ErrChatDisabled = errors.New("chat disabled")

	// ErrRemoteDisconnect marks a dropped IPC or websocket peer. A
	// local-only side effect; never surfaced to a job.
	ErrRemoteDisconnect = errors.New("remote disconnected")

	// ErrDatasetParse marks a dataset snapshot that failed to parse;
	// the previous snapshot is retained.
	ErrDatasetParse = errors.New("dataset parse error")
)

// ExtractorErrorKind classifies why an Extractor failed to resolve a URL.
type ExtractorErrorKind string

const (
	ExtractorGeoRestricted  ExtractorErrorKind = "geo-restricted"
	ExtractorLoginRequired  ExtractorErrorKind = "login-required"
	ExtractorMembersOnly    ExtractorErrorKind = "members-only"
)

// ExtractorError is returned by Extractor.Process when a stream cannot
// be produced. The lifecycle engine cancels the job on any
// ExtractorError, whatever its Kind.
type ExtractorError struct {
	Kind    ExtractorErrorKind
	Message string
}

func (e *ExtractorError) Error() string {
	return string(e.Kind) + ": " + e.Message
}
