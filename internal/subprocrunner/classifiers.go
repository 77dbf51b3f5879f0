package subprocrunner

import "strings"

// YoutubeRecorderClassifier matches spec.md §4.1's "youtube recorder" row:
// resolution-selection and download-start are progress/announce markers;
// "error"/"unable to retrieve"/"could not find"/"unable to download" is
// fatal and, per the table, stops the drain early (see Runner.StopOnFatal);
// "livestream" co-occurring with "process" is also fatal and additionally
// eligible for the caller to fall back to a generic extractor.
func YoutubeRecorderClassifier(stream Stream, line string) (Outcome, string) {
	switch {
	case strings.Contains(line, "selected quality"):
		return Progress, ""
	case strings.Contains(line, "starting download"), strings.Contains(line, "total downloaded"):
		return Announce, ""
	case strings.Contains(line, "livestream") && strings.Contains(line, "process"):
		return ErrorFatal, line
	case strings.Contains(line, "error"),
		strings.Contains(line, "unable to retrieve"),
		strings.Contains(line, "could not find"),
		strings.Contains(line, "unable to download"):
		return ErrorFatal, line
	default:
		return Ignore, ""
	}
}

// IsFallbackEligible reports whether a youtube-recorder diagnostic line
// matches the "livestream"+"process" case, which the lifecycle engine may
// retry against a generic extractor rather than treating as final.
func IsFallbackEligible(diagnostic string) bool {
	l := strings.ToLower(diagnostic)
	return strings.Contains(l, "livestream") && strings.Contains(l, "process")
}

// IsRecorderCancellation reports whether recorder stderr output carries
// one of the two substrings spec.md §4.1 maps to a post-classification of
// cancelled rather than error, regardless of which Outcome the line-level
// classifier assigned it.
func IsRecorderCancellation(line string) bool {
	l := strings.ToLower(line)
	return strings.Contains(l, "private") || strings.Contains(l, "members only")
}

// FFmpegClassifier matches spec.md §4.1's "ffmpeg" row: the interactive
// "press [q] to stop" progress banner is the one-time announce signal that
// muxing/remuxing has started; "io error" is fatal.
func FFmpegClassifier(stream Stream, line string) (Outcome, string) {
	switch {
	case strings.Contains(line, "press [q] to stop"), strings.Contains(line, "press") && strings.Contains(line, "stop"):
		return Announce, ""
	case strings.Contains(line, "io error"):
		return ErrorFatal, line
	default:
		return Progress, ""
	}
}

// RcloneClassifier matches spec.md §4.1's "rclone" row: "error" and
// "failed to copy" are captured as the diagnostic but never abort the
// upload read loop — rclone logs per-file errors while the overall
// transfer continues, so the runner reports ErrorRetryable rather than
// ErrorFatal (never StopOnFatal) and the caller decides at exit.
func RcloneClassifier(stream Stream, line string) (Outcome, string) {
	if strings.Contains(line, "error") || strings.Contains(line, "failed to copy") {
		return ErrorRetryable, line
	}
	return Progress, ""
}

// MkvmergeClassifier matches spec.md §4.1's "mkvmerge" row: mkvmerge's
// exit code is the authority on success/failure, so every line is captured
// for diagnostics (both stdout and stderr must be scanned with
// ScanStream: Both) and nothing here is classified fatal mid-stream.
func MkvmergeClassifier(stream Stream, line string) (Outcome, string) {
	return Progress, ""
}
